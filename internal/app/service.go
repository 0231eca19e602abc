/**
 * @description
 * This file contains the core business logic for the order-service. The `Service`
 * struct orchestrates the order lifecycle, coordinating between the database
 * repository, the payment gateway client, the catalog client, and the message broker.
 *
 * Key features:
 * - Implements checkout initiation for paid and free products.
 * - Owns the reconciliation engine (reconcile.go), entitlement manager
 *   (entitlement.go), and refund coordinator (refund.go).
 * - Publishes committed lifecycle transitions to RabbitMQ for asynchronous
 *   processing by other services.
 *
 * @dependencies
 * - context, errors, fmt, log, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store: For domain models and data access.
 * - pkg/catalogclient, pkg/paymentgateway, pkg/rabbitmq: For external service communication.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/internal/store"
	"github.com/packlane/order-service/pkg/catalogclient"
	"github.com/packlane/order-service/pkg/paymentgateway"
	"github.com/packlane/order-service/pkg/rabbitmq"
)

var (
	ErrInvalidProduct      = errors.New("product id is required")
	ErrProductNotFound     = errors.New("product not found")
	ErrInvalidEmail        = errors.New("a valid email address is required")
	ErrInvalidStatusChange = errors.New("requested status change is not allowed")
)

// PaymentGateway is the subset of gateway operations the service depends on.
type PaymentGateway interface {
	CreateCheckoutSession(ctx context.Context, params paymentgateway.CheckoutSessionParams) (*paymentgateway.CheckoutSession, error)
	RefundPayment(ctx context.Context, paymentID string) (*paymentgateway.Refund, error)
}

// Catalog is the read-only view of the product catalog collaborator.
type Catalog interface {
	GetProduct(ctx context.Context, productID string) (*catalogclient.ProductResponse, error)
}

// Policy carries the operational defaults the service applies to new orders.
type Policy struct {
	MaxDownloads               int
	DownloadLinkTTL            time.Duration // zero disables expiry
	RefundTimeout              time.Duration
	Currency                   string
	AssetBaseURL               string
	CheckoutSuccessURL         string
	CheckoutCancelURL          string
	OrderEventExchange         string
	DownloadRateLimitPerMinute int
}

// Service provides the core business logic for orders.
type Service struct {
	repo          store.Repository
	gateway       PaymentGateway
	catalog       Catalog
	eventProducer rabbitmq.Publisher
	policy        Policy
	rateLimiter   RateLimiter
}

// NewService creates a new order service instance.
func NewService(repo store.Repository, gateway PaymentGateway, catalog Catalog, producer rabbitmq.Publisher, policy Policy) *Service {
	if policy.MaxDownloads <= 0 {
		policy.MaxDownloads = 5
	}
	if policy.RefundTimeout <= 0 {
		policy.RefundTimeout = 8 * time.Second
	}
	if policy.Currency == "" {
		policy.Currency = "usd"
	}
	if policy.OrderEventExchange == "" {
		policy.OrderEventExchange = "order_events"
	}
	return &Service{
		repo:          repo,
		gateway:       gateway,
		catalog:       catalog,
		eventProducer: producer,
		policy:        policy,
	}
}

// SetRateLimiter installs the distributed rate limiter. Nil leaves limiting disabled.
func (s *Service) SetRateLimiter(limiter RateLimiter) {
	s.rateLimiter = limiter
}

// CreateCheckout initiates a purchase: it prices the product via the catalog,
// creates a gateway checkout session for paid products, and records a pending
// order bound to that session. Zero-amount products skip the gateway but still
// flow through the same transition function, so entitlement issuance and audit
// logging stay uniform with the paid path.
func (s *Service) CreateCheckout(ctx context.Context, req domain.CreateCheckoutRequest) (*domain.CheckoutResponse, error) {
	productID := strings.TrimSpace(req.ProductID)
	if productID == "" {
		return nil, ErrInvalidProduct
	}

	product, err := s.catalog.GetProduct(ctx, productID)
	if err != nil {
		if errors.Is(err, catalogclient.ErrProductNotFound) {
			return nil, ErrProductNotFound
		}
		return nil, fmt.Errorf("catalog lookup failed: %w", err)
	}

	orderID := uuid.New()
	customerEmail := strings.TrimSpace(strings.ToLower(req.CustomerEmail))

	if product.Amount == 0 {
		return s.createFreeOrder(ctx, orderID, product, customerEmail)
	}

	session, err := s.gateway.CreateCheckoutSession(ctx, paymentgateway.CheckoutSessionParams{
		ProductID:     product.ID,
		Amount:        product.Amount,
		Currency:      s.policy.Currency,
		CustomerEmail: customerEmail,
		SuccessURL:    s.policy.CheckoutSuccessURL,
		CancelURL:     s.policy.CheckoutCancelURL,
		Metadata: map[string]string{
			"order_id":   orderID.String(),
			"product_id": product.ID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gateway session creation failed: %w", err)
	}

	order := &domain.Order{
		ID:                orderID,
		ExternalSessionID: session.ID,
		ProductID:         product.ID,
		CustomerEmail:     customerEmail,
		Amount:            product.Amount,
		Status:            domain.OrderStatusPending,
		MaxDownloads:      s.policy.MaxDownloads,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("order creation failed: %w", err)
	}
	s.audit(ctx, domain.ActorSystem, domain.AuditActionCreate, "order", order.ID.String(),
		fmt.Sprintf("checkout initiated for product %s, amount %d", product.ID, product.Amount))

	return &domain.CheckoutResponse{
		OrderID:     order.ID,
		SessionID:   session.ID,
		RedirectURL: session.URL,
	}, nil
}

// createFreeOrder completes a zero-amount purchase inline by synthesizing the
// same payment-completed event the gateway would have delivered.
func (s *Service) createFreeOrder(ctx context.Context, orderID uuid.UUID, product *catalogclient.ProductResponse, customerEmail string) (*domain.CheckoutResponse, error) {
	sessionID := "free_" + orderID.String()

	order := &domain.Order{
		ID:                orderID,
		ExternalSessionID: sessionID,
		ProductID:         product.ID,
		CustomerEmail:     customerEmail,
		Amount:            0,
		Status:            domain.OrderStatusPending,
		MaxDownloads:      s.policy.MaxDownloads,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("order creation failed: %w", err)
	}
	s.audit(ctx, domain.ActorSystem, domain.AuditActionCreate, "order", order.ID.String(),
		fmt.Sprintf("free checkout initiated for product %s", product.ID))

	if _, err := s.ApplyOrderEvent(ctx, domain.OrderEvent{
		Kind:          domain.OrderEventPaymentCompleted,
		SessionID:     sessionID,
		CustomerEmail: customerEmail,
		Actor:         domain.ActorSystem,
	}); err != nil {
		return nil, fmt.Errorf("free order completion failed: %w", err)
	}

	return &domain.CheckoutResponse{
		OrderID:   orderID,
		SessionID: sessionID,
		Free:      true,
	}, nil
}

// GetOrderDetailsBySession returns the read-only projection for the
// post-checkout landing page. It never mutates state.
func (s *Service) GetOrderDetailsBySession(ctx context.Context, sessionID string) (*domain.OrderDetails, error) {
	order, err := s.repo.FindOrderBySessionID(ctx, strings.TrimSpace(sessionID))
	if err != nil {
		return nil, err
	}
	return &domain.OrderDetails{
		ID:            order.ID,
		Status:        order.Status,
		Amount:        order.Amount,
		ProductID:     order.ProductID,
		CustomerEmail: order.CustomerEmail,
		DownloadToken: order.DownloadToken,
		DownloadCount: order.DownloadCount,
		MaxDownloads:  order.MaxDownloads,
		CreatedAt:     order.CreatedAt,
	}, nil
}

// CaptureLead records an email address observed outside of checkout (e.g., the
// lead-magnet form). Duplicate submissions of the same email are absorbed by
// the store's uniqueness guarantee.
func (s *Service) CaptureLead(ctx context.Context, req domain.LeadCaptureRequest) error {
	email := strings.TrimSpace(strings.ToLower(req.Email))
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	source := strings.TrimSpace(req.Source)
	if source == "" {
		source = "lead_magnet"
	}

	capture := &domain.EmailCapture{
		ID:        uuid.New(),
		Email:     email,
		Source:    source,
		ProductID: strings.TrimSpace(req.ProductID),
	}
	created, err := s.repo.CreateEmailCapture(ctx, capture)
	if err != nil {
		return fmt.Errorf("lead capture failed: %w", err)
	}
	if !created {
		log.Printf("level=info component=service msg=\"duplicate lead ignored\" email=%s source=%s", email, source)
	}
	return nil
}

// AdminUpdateOrderStatus applies an operator-requested status change. The
// request is mapped onto the same transition function gateway events use;
// refunds are rejected here because they must go through the refund
// coordinator, which talks to the gateway first.
func (s *Service) AdminUpdateOrderStatus(ctx context.Context, orderID uuid.UUID, status domain.OrderStatus, actor string) (*domain.Order, error) {
	var kind domain.OrderEventKind
	switch status {
	case domain.OrderStatusCompleted:
		kind = domain.OrderEventPaymentCompleted
	case domain.OrderStatusFailed:
		kind = domain.OrderEventPaymentFailed
	default:
		return nil, ErrInvalidStatusChange
	}

	return s.ApplyOrderEvent(ctx, domain.OrderEvent{
		Kind:    kind,
		OrderID: orderID,
		Actor:   actor,
	})
}

// ListOrders returns orders for the admin view.
func (s *Service) ListOrders(ctx context.Context, opts domain.OrderListOptions) ([]domain.Order, error) {
	return s.repo.ListOrders(ctx, opts)
}

// ListAuditLogs returns audit entries for the admin view.
func (s *Service) ListAuditLogs(ctx context.Context, opts domain.AuditLogListOptions) ([]domain.AuditLogEntry, error) {
	return s.repo.ListAuditLogs(ctx, opts)
}

// publishLifecycle emits a committed transition to the order events exchange.
// Publish failures are reported and swallowed: the order row is authoritative
// and a missed event must not fail the transition that already committed.
func (s *Service) publishLifecycle(ctx context.Context, order *domain.Order, routingKey string) {
	if s.eventProducer == nil {
		return
	}
	event := domain.OrderLifecycleEvent{
		OrderID:       order.ID,
		Status:        order.Status,
		ProductID:     order.ProductID,
		CustomerEmail: order.CustomerEmail,
		Amount:        order.Amount,
		OccurredAt:    time.Now().UTC(),
	}
	if err := s.eventProducer.Publish(ctx, s.policy.OrderEventExchange, routingKey, event); err != nil {
		log.Printf("level=warn component=service msg=\"lifecycle publish failed\" order_id=%s routing_key=%s err=%v", order.ID, routingKey, err)
	}
}
