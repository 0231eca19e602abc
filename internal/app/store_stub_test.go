package app

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/internal/store"
	"github.com/packlane/order-service/pkg/catalogclient"
	"github.com/packlane/order-service/pkg/paymentgateway"
	"github.com/packlane/order-service/pkg/rabbitmq"
)

// memoryRepo is an in-memory store.Repository with the same conditional-write
// semantics as the Postgres implementation: status updates are gated on the
// version the caller read, entitlement attach refuses to overwrite a token,
// and download consumption is a compare-and-increment under one lock.
type memoryRepo struct {
	mu       sync.Mutex
	orders   map[uuid.UUID]*domain.Order
	captures []domain.EmailCapture
	audit    []domain.AuditLogEntry

	updateCalls int
	attachCalls int
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{orders: make(map[uuid.UUID]*domain.Order)}
}

func (m *memoryRepo) putOrder(order *domain.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()
	clone := *order
	m.orders[order.ID] = &clone
}

func (m *memoryRepo) getOrder(orderID uuid.UUID) *domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	if o, ok := m.orders[orderID]; ok {
		clone := *o
		return &clone
	}
	return nil
}

func (m *memoryRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ExternalSessionID == order.ExternalSessionID {
			return store.ErrDuplicateSession
		}
	}
	now := time.Now().UTC()
	order.CreatedAt = now
	order.UpdatedAt = now
	clone := *order
	m.orders[order.ID] = &clone
	return nil
}

func (m *memoryRepo) FindOrderByID(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	if o := m.getOrder(orderID); o != nil {
		return o, nil
	}
	return nil, store.ErrOrderNotFound
}

func (m *memoryRepo) FindOrderBySessionID(ctx context.Context, sessionID string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.ExternalSessionID == sessionID {
			clone := *o
			return &clone, nil
		}
	}
	return nil, store.ErrOrderNotFound
}

func (m *memoryRepo) FindOrderByDownloadToken(ctx context.Context, token string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.DownloadToken != "" && o.DownloadToken == token {
			clone := *o
			return &clone, nil
		}
	}
	return nil, store.ErrEntitlementNotFound
}

func (m *memoryRepo) ListOrders(ctx context.Context, opts domain.OrderListOptions) ([]domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Order
	for _, o := range m.orders {
		if opts.Status != "" && o.Status != opts.Status {
			continue
		}
		if opts.Search != "" && !strings.Contains(o.CustomerEmail, opts.Search) && !strings.Contains(o.ProductID, opts.Search) {
			continue
		}
		out = append(out, *o)
	}
	return out, nil
}

func (m *memoryRepo) UpdateOrderStatus(ctx context.Context, orderID uuid.UUID, expectedVersion int64, params store.UpdateOrderStatusParams) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updateCalls++

	o, ok := m.orders[orderID]
	if !ok {
		return nil, store.ErrOrderNotFound
	}
	if o.Version != expectedVersion {
		return nil, store.ErrVersionConflict
	}
	o.Status = params.Status
	if params.ExternalPaymentID != nil {
		o.ExternalPaymentID = *params.ExternalPaymentID
	}
	if params.CompletedAt != nil && o.CompletedAt == nil {
		completedAt := *params.CompletedAt
		o.CompletedAt = &completedAt
	}
	o.Version++
	o.UpdatedAt = time.Now().UTC()
	clone := *o
	return &clone, nil
}

func (m *memoryRepo) AttachEntitlement(ctx context.Context, orderID uuid.UUID, token string, maxDownloads int) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.attachCalls++

	o, ok := m.orders[orderID]
	if !ok {
		return false, store.ErrOrderNotFound
	}
	if o.DownloadToken != "" {
		return false, nil
	}
	o.DownloadToken = token
	o.MaxDownloads = maxDownloads
	o.DownloadCount = 0
	o.Version++
	return true, nil
}

func (m *memoryRepo) ConsumeDownload(ctx context.Context, token string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.orders {
		if o.DownloadToken == "" || o.DownloadToken != token {
			continue
		}
		if o.DownloadCount >= o.MaxDownloads {
			return nil, store.ErrQuotaExhausted
		}
		o.DownloadCount++
		o.Version++
		clone := *o
		return &clone, nil
	}
	return nil, store.ErrEntitlementNotFound
}

func (m *memoryRepo) CreateEmailCapture(ctx context.Context, capture *domain.EmailCapture) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.captures {
		if c.Email == capture.Email && c.ExternalSessionID == capture.ExternalSessionID {
			return false, nil
		}
	}
	capture.CreatedAt = time.Now().UTC()
	m.captures = append(m.captures, *capture)
	return true, nil
}

func (m *memoryRepo) AppendAuditLog(ctx context.Context, entry domain.AuditLogEntry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.audit = append(m.audit, entry)
	return nil
}

func (m *memoryRepo) ListAuditLogs(ctx context.Context, opts domain.AuditLogListOptions) ([]domain.AuditLogEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.AuditLogEntry
	for _, e := range m.audit {
		if opts.EntityID != "" && e.EntityID != opts.EntityID {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (m *memoryRepo) auditEntries() []domain.AuditLogEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.AuditLogEntry(nil), m.audit...)
}

func (m *memoryRepo) captureCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.captures)
}

// gatewayStub records calls to the payment gateway collaborator.
type gatewayStub struct {
	session      *paymentgateway.CheckoutSession
	sessionErr   error
	refund       *paymentgateway.Refund
	refundErr    error
	refundCalls  int
	sessionCalls int
}

func (g *gatewayStub) CreateCheckoutSession(ctx context.Context, params paymentgateway.CheckoutSessionParams) (*paymentgateway.CheckoutSession, error) {
	g.sessionCalls++
	if g.sessionErr != nil {
		return nil, g.sessionErr
	}
	return g.session, nil
}

func (g *gatewayStub) RefundPayment(ctx context.Context, paymentID string) (*paymentgateway.Refund, error) {
	g.refundCalls++
	if g.refundErr != nil {
		return nil, g.refundErr
	}
	return g.refund, nil
}

// catalogStub serves a fixed product set.
type catalogStub struct {
	products map[string]*catalogclient.ProductResponse
}

func (c *catalogStub) GetProduct(ctx context.Context, productID string) (*catalogclient.ProductResponse, error) {
	if p, ok := c.products[productID]; ok {
		return p, nil
	}
	return nil, catalogclient.ErrProductNotFound
}

// publisherStub records lifecycle events handed to the broker.
type publisherStub struct {
	mu     sync.Mutex
	events []string
}

func (p *publisherStub) Publish(ctx context.Context, exchange, routingKey string, payload interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, routingKey)
	return nil
}

func (p *publisherStub) Close() {}

func (p *publisherStub) routingKeys() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.events...)
}

func newTestService(repo *memoryRepo, gateway *gatewayStub, catalog *catalogStub, publisher *publisherStub) *Service {
	var pub rabbitmq.Publisher
	if publisher != nil {
		pub = publisher
	}
	return NewService(repo, gateway, catalog, pub, Policy{
		MaxDownloads:       3,
		DownloadLinkTTL:    30 * 24 * time.Hour,
		RefundTimeout:      time.Second,
		AssetBaseURL:       "https://assets.example.com/files",
		CheckoutSuccessURL: "https://shop.example.com/success",
		CheckoutCancelURL:  "https://shop.example.com/cancel",
	})
}
