/**
 * @description
 * This file defines the `Repository` interface, which specifies the contract for all
 * data access operations required by the order-service. By defining an interface,
 * we decouple the application's business logic from the specific database implementation
 * (e.g., PostgreSQL), making the code more modular and easier to test.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
// The orders table is the single serialization point of the service: status
// writes are conditional on the version the caller read, and download-count
// increments are a single compare-and-increment statement.
type Repository interface {
	// Order methods
	CreateOrder(ctx context.Context, order *domain.Order) error
	FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	FindOrderBySessionID(ctx context.Context, sessionID string) (*domain.Order, error)
	FindOrderByDownloadToken(ctx context.Context, token string) (*domain.Order, error)
	ListOrders(ctx context.Context, opts domain.OrderListOptions) ([]domain.Order, error)

	// UpdateOrderStatus performs the conditional status write. The update only
	// applies when the stored version equals expectedVersion; a lost race
	// returns ErrVersionConflict and the caller re-reads before retrying.
	UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, expectedVersion int64, params UpdateOrderStatusParams) (*domain.Order, error)

	// Entitlement methods
	// AttachEntitlement binds a download token and quota to an order that does
	// not have one yet. Returns false without error when a token is already
	// attached, which makes retried effect execution a no-op.
	AttachEntitlement(ctx context.Context, orderID uuid.UUID, token string, maxDownloads int) (bool, error)
	// ConsumeDownload atomically increments the download count while it is
	// below the quota and returns the updated order. ErrQuotaExhausted when the
	// quota is spent, ErrEntitlementNotFound for unknown tokens.
	ConsumeDownload(ctx context.Context, token string) (*domain.Order, error)

	// Email capture methods
	// CreateEmailCapture inserts a capture row; returns false without error
	// when the (email, session) pair has already been recorded.
	CreateEmailCapture(ctx context.Context, capture *domain.EmailCapture) (bool, error)

	// Audit log methods
	AppendAuditLog(ctx context.Context, entry domain.AuditLogEntry) error
	ListAuditLogs(ctx context.Context, opts domain.AuditLogListOptions) ([]domain.AuditLogEntry, error)
}

// UpdateOrderStatusParams carries the fields written alongside a status
// transition. Nil pointers leave the stored value untouched.
type UpdateOrderStatusParams struct {
	Status            domain.OrderStatus
	ExternalPaymentID *string
	CompletedAt       *time.Time
}
