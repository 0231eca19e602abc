/**
 * @description
 * This file implements the refund coordinator. A refund is a two-step
 * operation: ask the gateway to move the money back, and only after the
 * gateway confirms, run the completed -> refunded transition through the
 * reconciliation engine. The order must never show `refunded` unless the
 * gateway actually confirmed it.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/domain"
)

var (
	// ErrNotEligible means the order is not in a refundable state. Eligibility
	// requires a completed order with a recorded gateway payment id, which
	// structurally excludes unpaid, failed, and free orders.
	ErrNotEligible = errors.New("order is not eligible for refund")

	// ErrGatewayUnavailable means the gateway refund call failed or did not
	// confirm. The order is untouched, so an operator retry is always safe.
	ErrGatewayUnavailable = errors.New("gateway refund request failed")
)

// RefundOrder issues a refund for a completed order. There is no automatic
// retry loop: refund volume is low and a failed call is surfaced to the
// operator, who can safely trigger it again.
func (s *Service) RefundOrder(ctx context.Context, orderID uuid.UUID, actor string) (*domain.Order, error) {
	order, err := s.repo.FindOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if order.Status != domain.OrderStatusCompleted || order.ExternalPaymentID == "" {
		return nil, fmt.Errorf("%w: status=%s payment_id_set=%t", ErrNotEligible, order.Status, order.ExternalPaymentID != "")
	}

	refundCtx, cancel := context.WithTimeout(ctx, s.policy.RefundTimeout)
	defer cancel()

	refund, err := s.gateway.RefundPayment(refundCtx, order.ExternalPaymentID)
	if err != nil {
		log.Printf("level=warn component=refund msg=\"gateway refund call failed\" order_id=%s payment_id=%s err=%v", order.ID, order.ExternalPaymentID, err)
		return nil, fmt.Errorf("%w: %v", ErrGatewayUnavailable, err)
	}
	if !strings.EqualFold(refund.Status, "succeeded") {
		log.Printf("level=warn component=refund msg=\"gateway did not confirm refund\" order_id=%s refund_status=%s", order.ID, refund.Status)
		return nil, fmt.Errorf("%w: refund status %q", ErrGatewayUnavailable, refund.Status)
	}

	return s.ApplyOrderEvent(ctx, domain.OrderEvent{
		Kind:    domain.OrderEventRefundConfirmed,
		OrderID: order.ID,
		Actor:   actor,
	})
}
