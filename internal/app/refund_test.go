package app

import (
	"context"
	"errors"
	"testing"

	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/pkg/paymentgateway"
)

func TestRefundOrder_CompletesHappyPath(t *testing.T) {
	repo := newMemoryRepo()
	publisher := &publisherStub{}
	gateway := &gatewayStub{refund: &paymentgateway.Refund{ID: "re_1", PaymentID: "pi_refundable", Status: "succeeded"}}
	svc := newTestService(repo, gateway, &catalogStub{}, publisher)

	order := pendingOrder("cs_refundable")
	order.Status = domain.OrderStatusCompleted
	order.ExternalPaymentID = "pi_refundable"
	repo.putOrder(order)

	refunded, err := svc.RefundOrder(context.Background(), order.ID, "admin_42")
	if err != nil {
		t.Fatalf("expected refund to succeed, got %v", err)
	}
	if refunded.Status != domain.OrderStatusRefunded {
		t.Fatalf("expected refunded status, got %s", refunded.Status)
	}
	if gateway.refundCalls != 1 {
		t.Fatalf("expected one gateway refund call, got %d", gateway.refundCalls)
	}

	entries := repo.auditEntries()
	if len(entries) != 1 {
		t.Fatalf("expected one audit entry, got %d", len(entries))
	}
	if entries[0].Action != domain.AuditActionRefund {
		t.Fatalf("expected REFUND audit action, got %s", entries[0].Action)
	}
	if entries[0].Actor != "admin_42" {
		t.Fatalf("expected refund attributed to admin, got %q", entries[0].Actor)
	}
	keys := publisher.routingKeys()
	if len(keys) != 1 || keys[0] != "order.refunded" {
		t.Fatalf("expected order.refunded lifecycle event, got %v", keys)
	}
}

func TestRefundOrder_RejectsIneligibleWithoutGatewayCall(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &gatewayStub{}
	svc := newTestService(repo, gateway, &catalogStub{}, nil)

	pending := pendingOrder("cs_pending")
	repo.putOrder(pending)

	missingPayment := pendingOrder("cs_no_payment_id")
	missingPayment.Status = domain.OrderStatusCompleted
	repo.putOrder(missingPayment)

	for _, order := range []*domain.Order{pending, missingPayment} {
		if _, err := svc.RefundOrder(context.Background(), order.ID, "admin_42"); !errors.Is(err, ErrNotEligible) {
			t.Fatalf("order %s: expected ErrNotEligible, got %v", order.ID, err)
		}
	}
	if gateway.refundCalls != 0 {
		t.Fatalf("expected no gateway calls for ineligible orders, got %d", gateway.refundCalls)
	}
}

func TestRefundOrder_GatewayFailureLeavesOrderUntouched(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &gatewayStub{refundErr: errors.New("gateway timeout")}
	svc := newTestService(repo, gateway, &catalogStub{}, nil)

	order := pendingOrder("cs_gateway_down")
	order.Status = domain.OrderStatusCompleted
	order.ExternalPaymentID = "pi_gateway_down"
	repo.putOrder(order)

	if _, err := svc.RefundOrder(context.Background(), order.ID, "admin_42"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable, got %v", err)
	}

	stored := repo.getOrder(order.ID)
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected order to stay completed after failed refund, got %s", stored.Status)
	}
	if len(repo.auditEntries()) != 0 {
		t.Fatalf("expected no audit entries for failed refund, got %d", len(repo.auditEntries()))
	}
}

func TestRefundOrder_UnconfirmedRefundDoesNotTransition(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &gatewayStub{refund: &paymentgateway.Refund{ID: "re_2", Status: "pending"}}
	svc := newTestService(repo, gateway, &catalogStub{}, nil)

	order := pendingOrder("cs_refund_pending")
	order.Status = domain.OrderStatusCompleted
	order.ExternalPaymentID = "pi_refund_pending"
	repo.putOrder(order)

	if _, err := svc.RefundOrder(context.Background(), order.ID, "admin_42"); !errors.Is(err, ErrGatewayUnavailable) {
		t.Fatalf("expected ErrGatewayUnavailable for unconfirmed refund, got %v", err)
	}

	stored := repo.getOrder(order.ID)
	if stored.Status != domain.OrderStatusCompleted {
		t.Fatalf("expected order to stay completed, got %s", stored.Status)
	}
}

func TestRefundOrder_ReplayIsIdempotent(t *testing.T) {
	repo := newMemoryRepo()
	gateway := &gatewayStub{refund: &paymentgateway.Refund{ID: "re_3", Status: "succeeded"}}
	svc := newTestService(repo, gateway, &catalogStub{}, nil)

	order := pendingOrder("cs_refund_replay")
	order.Status = domain.OrderStatusCompleted
	order.ExternalPaymentID = "pi_refund_replay"
	repo.putOrder(order)

	if _, err := svc.RefundOrder(context.Background(), order.ID, "admin_42"); err != nil {
		t.Fatalf("first refund failed: %v", err)
	}

	// A second trigger fails eligibility: the order is no longer completed.
	if _, err := svc.RefundOrder(context.Background(), order.ID, "admin_42"); !errors.Is(err, ErrNotEligible) {
		t.Fatalf("expected replayed refund to be rejected, got %v", err)
	}
	if gateway.refundCalls != 1 {
		t.Fatalf("expected one gateway refund call, got %d", gateway.refundCalls)
	}
}
