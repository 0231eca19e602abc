/**
 * @description
 * This file defines the core domain models for the order-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Amounts are stored as `int64` to represent the value in the smallest currency
 *   unit (cents), which avoids floating-point inaccuracies with financial data.
 * - Order status is a closed string type with an explicit transition graph so
 *   illegal states never round-trip through the database as free-form text.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderStatus is the closed set of order lifecycle states.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// Valid reports whether s is one of the known order statuses.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusCompleted, OrderStatusFailed, OrderStatusRefunded:
		return true
	}
	return false
}

// Terminal reports whether no further transition may leave this status.
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusFailed || s == OrderStatusRefunded
}

// Order is the local record of a single purchase attempt and its lifecycle.
// This struct maps directly to the `orders` table in the database.
//
// ExternalSessionID is assigned by the payment gateway at checkout creation and
// correlates gateway notifications back to this row. ExternalPaymentID is set
// exactly once, when the order first reaches `completed`, and is required for
// refund eligibility. Version is the optimistic-concurrency token: every status
// write is conditional on the version the writer read.
type Order struct {
	ID                uuid.UUID   `json:"id"`
	ExternalSessionID string      `json:"external_session_id"`
	ExternalPaymentID string      `json:"external_payment_id,omitempty"`
	ProductID         string      `json:"product_id"`
	CustomerEmail     string      `json:"customer_email"`
	Amount            int64       `json:"amount"` // in cents
	Status            OrderStatus `json:"status"`
	DownloadToken     string      `json:"download_token,omitempty"`
	DownloadCount     int         `json:"download_count"`
	MaxDownloads      int         `json:"max_downloads"`
	Version           int64       `json:"version"`
	CompletedAt       *time.Time  `json:"completed_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// EmailCapture is a side record of an email address observed during checkout or
// lead capture. At most one row exists per (email, external_session_id) pair.
type EmailCapture struct {
	ID                uuid.UUID  `json:"id"`
	Email             string     `json:"email"`
	Source            string     `json:"source"` // e.g., 'checkout', 'lead_magnet'
	OrderID           *uuid.UUID `json:"order_id,omitempty"`
	ExternalSessionID string     `json:"external_session_id"`
	ProductID         string     `json:"product_id,omitempty"`
	CreatedAt         time.Time  `json:"created_at"`
}

// AuditAction enumerates the state-changing actions recorded in the audit log.
type AuditAction string

const (
	AuditActionCreate AuditAction = "CREATE"
	AuditActionUpdate AuditAction = "UPDATE"
	AuditActionDelete AuditAction = "DELETE"
	AuditActionRefund AuditAction = "REFUND"
)

// AuditLogEntry is an immutable who/what/when record. Rows are appended as part
// of each state transition and never mutated or deleted.
type AuditLogEntry struct {
	ID         uuid.UUID   `json:"id"`
	Actor      string      `json:"actor"` // 'system' or an admin user id
	Action     AuditAction `json:"action"`
	EntityType string      `json:"entity_type"`
	EntityID   string      `json:"entity_id"`
	Detail     string      `json:"detail"`
	CreatedAt  time.Time   `json:"created_at"`
}

// ActorSystem is the audit actor used for gateway-driven transitions.
const ActorSystem = "system"

// Product is the catalog collaborator's view of a purchasable item. The catalog
// itself is owned by another service; the order-service only reads it.
type Product struct {
	ID       string `json:"id"`
	Title    string `json:"title"`
	Category string `json:"category"`
	Amount   int64  `json:"amount"` // in cents; 0 means free
}

// CreateCheckoutRequest is the DTO for incoming checkout initiation requests.
type CreateCheckoutRequest struct {
	ProductID     string `json:"product_id"`
	CustomerEmail string `json:"customer_email,omitempty"`
}

// CheckoutResponse is returned after an order has been created. Paid products
// carry a gateway redirect URL; free products complete inline and are flagged
// so the client can skip the gateway entirely.
type CheckoutResponse struct {
	OrderID     uuid.UUID `json:"order_id"`
	SessionID   string    `json:"session_id"`
	RedirectURL string    `json:"redirect_url,omitempty"`
	Free        bool      `json:"free,omitempty"`
}

// OrderDetails is the read-only projection served to the post-checkout landing
// experience. It never exposes internal bookkeeping such as the version column.
type OrderDetails struct {
	ID            uuid.UUID   `json:"id"`
	Status        OrderStatus `json:"status"`
	Amount        int64       `json:"amount"`
	ProductID     string      `json:"product_id"`
	CustomerEmail string      `json:"customer_email"`
	DownloadToken string      `json:"download_token,omitempty"`
	DownloadCount int         `json:"download_count"`
	MaxDownloads  int         `json:"max_downloads"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DownloadGrant is the result of a successful entitlement consumption.
type DownloadGrant struct {
	OrderID   uuid.UUID
	ProductID string
	AssetURL  string
	Remaining int
}

// AdminStatusUpdateRequest is the DTO for the admin order mutation endpoint.
type AdminStatusUpdateRequest struct {
	Status OrderStatus `json:"status"`
}

// LeadCaptureRequest is the DTO for the public lead-magnet endpoint.
type LeadCaptureRequest struct {
	Email     string `json:"email"`
	Source    string `json:"source,omitempty"`
	ProductID string `json:"product_id,omitempty"`
}

// OrderListOptions controls filtering and pagination for the admin order list.
type OrderListOptions struct {
	Status OrderStatus
	Search string // matches customer email or product id
	Limit  int
	Offset int
}

// AuditLogListOptions controls pagination for the admin audit log list.
type AuditLogListOptions struct {
	EntityID string
	Limit    int
	Offset   int
}
