package app

import (
	"context"
	"errors"
	"testing"

	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/pkg/catalogclient"
	"github.com/packlane/order-service/pkg/paymentgateway"
)

func testCatalog() *catalogStub {
	return &catalogStub{products: map[string]*catalogclient.ProductResponse{
		"prod_paid": {ID: "prod_paid", Title: "Advanced Templates", Category: "templates", Amount: 2999, Active: true},
		"prod_free": {ID: "prod_free", Title: "Starter Checklist", Category: "guides", Amount: 0, Active: true},
	}}
}

func TestCreateCheckout_PaidProductCreatesPendingOrder(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &gatewayStub{session: &paymentgateway.CheckoutSession{ID: "cs_new", URL: "https://gateway.example.com/pay/cs_new"}}
	svc := newTestService(repo, gateway, testCatalog(), nil)

	resp, err := svc.CreateCheckout(context.Background(), domain.CreateCheckoutRequest{
		ProductID:     "prod_paid",
		CustomerEmail: "Buyer@Example.com",
	})
	if err != nil {
		t.Fatalf("expected checkout to succeed, got %v", err)
	}
	if resp.SessionID != "cs_new" {
		t.Fatalf("expected gateway session id, got %q", resp.SessionID)
	}
	if resp.RedirectURL == "" || resp.Free {
		t.Fatalf("expected paid redirect response, got %+v", resp)
	}
	if gateway.sessionCalls != 1 {
		t.Fatalf("expected one gateway session call, got %d", gateway.sessionCalls)
	}

	stored, err := repo.FindOrderBySessionID(context.Background(), "cs_new")
	if err != nil {
		t.Fatalf("expected order stored under session id: %v", err)
	}
	if stored.Status != domain.OrderStatusPending {
		t.Fatalf("expected pending order, got %s", stored.Status)
	}
	if stored.CustomerEmail != "buyer@example.com" {
		t.Fatalf("expected normalized email, got %q", stored.CustomerEmail)
	}
	if stored.Amount != 2999 {
		t.Fatalf("expected catalog amount 2999, got %d", stored.Amount)
	}
}

func TestCreateCheckout_FreeProductCompletesInline(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &gatewayStub{}
	svc := newTestService(repo, gateway, testCatalog(), nil)

	resp, err := svc.CreateCheckout(context.Background(), domain.CreateCheckoutRequest{
		ProductID:     "prod_free",
		CustomerEmail: "reader@example.com",
	})
	if err != nil {
		t.Fatalf("expected free checkout to succeed, got %v", err)
	}
	if !resp.Free {
		t.Fatal("expected response flagged as free")
	}
	if gateway.sessionCalls != 0 {
		t.Fatalf("expected no gateway calls for free product, got %d", gateway.sessionCalls)
	}

	stored := repo.getOrder(resp.OrderID)
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected inline completion, got %s", stored.Status)
	}
	if stored.DownloadToken == "" {
		t.Fatal("expected download token minted for free order")
	}
	if stored.ExternalPaymentID != "" {
		t.Fatalf("expected no payment id on free order, got %q", stored.ExternalPaymentID)
	}
}

func TestCreateCheckout_UnknownProduct(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &gatewayStub{}, testCatalog(), nil)

	if _, err := svc.CreateCheckout(context.Background(), domain.CreateCheckoutRequest{ProductID: "prod_missing"}); !errors.Is(err, ErrProductNotFound) {
		t.Fatalf("expected ErrProductNotFound, got %v", err)
	}
	if _, err := svc.CreateCheckout(context.Background(), domain.CreateCheckoutRequest{ProductID: "  "}); !errors.Is(err, ErrInvalidProduct) {
		t.Fatalf("expected ErrInvalidProduct, got %v", err)
	}
}

func TestAdminUpdateOrderStatus_MapsOntoTransitions(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &gatewayStub{}, testCatalog(), nil)

	order := pendingOrder("cs_admin")
	repo.putOrder(order)

	updated, err := svc.AdminUpdateOrderStatus(context.Background(), order.ID, domain.OrderStatusCompleted, "admin_7")
	if err != nil {
		t.Fatalf("expected admin completion to succeed, got %v", err)
	}
	if updated.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected completed, got %s", updated.Status)
	}

	entries := repo.auditEntries()
	if len(entries) != 1 || entries[0].Actor != "admin_7" {
		t.Fatalf("expected transition attributed to admin_7, got %+v", entries)
	}

	if _, err := svc.AdminUpdateOrderStatus(context.Background(), order.ID, domain.OrderStatusRefunded, "admin_7"); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("expected refund via status change to be rejected, got %v", err)
	}
	if _, err := svc.AdminUpdateOrderStatus(context.Background(), order.ID, domain.OrderStatusPending, "admin_7"); !errors.Is(err, ErrInvalidStatusChange) {
		t.Fatalf("expected pending target to be rejected, got %v", err)
	}
}

func TestCaptureLead_ValidatesAndDeduplicates(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo, &gatewayStub{}, testCatalog(), nil)

	if err := svc.CaptureLead(context.Background(), domain.LeadCaptureRequest{Email: "not-an-email"}); !errors.Is(err, ErrInvalidEmail) {
		t.Fatalf("expected ErrInvalidEmail, got %v", err)
	}

	req := domain.LeadCaptureRequest{Email: "Lead@Example.com"}
	if err := svc.CaptureLead(context.Background(), req); err != nil {
		t.Fatalf("expected lead capture to succeed, got %v", err)
	}
	if err := svc.CaptureLead(context.Background(), req); err != nil {
		t.Fatalf("expected duplicate lead to be absorbed, got %v", err)
	}
	if repo.captureCount() != 1 {
		t.Fatalf("expected one capture row, got %d", repo.captureCount())
	}
}
