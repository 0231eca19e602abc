/**
 * @description
 * This file implements the reconciliation engine: the state machine that maps a
 * verified gateway event or an admin command onto a valid order transition.
 *
 * The engine treats every event as a request to reach a state, not a command to
 * run code. It reads the order, computes the target status purely from
 * (currentStatus, eventKind), and writes back with a conditional update gated
 * on the version it read. A duplicate delivery whose target equals the current
 * status performs no write and triggers no effects, which is what keeps
 * entitlement minting, email capture, and audit entries from double-firing
 * under at-least-once webhook delivery.
 *
 * Effects run strictly after the conditional write commits. A crash between
 * the write and effect execution leaves the order in a valid, already-advanced
 * state, and every effect is individually idempotent (entitlement keyed by
 * order id, email capture keyed by (email, session), audit log append-only).
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/packlane/order-service/internal/domain"
	"github.com/packlane/order-service/internal/store"
)

// ErrConflict is returned for illegal transitions (e.g., completing a failed
// order) and for version races that persist after an internal retry.
var ErrConflict = errors.New("conflicting order status transition")

// transitionRetries bounds how many times the engine re-reads and re-decides
// after losing a conditional write.
const transitionRetries = 1

// nextStatus is the transition table. The second return reports whether the
// pair is legal at all; a legal pair whose target equals current is an
// idempotent duplicate and results in no write.
func nextStatus(current domain.OrderStatus, kind domain.OrderEventKind) (domain.OrderStatus, bool) {
	switch kind {
	case domain.OrderEventPaymentCompleted:
		switch current {
		case domain.OrderStatusPending, domain.OrderStatusCompleted:
			return domain.OrderStatusCompleted, true
		}
	case domain.OrderEventPaymentFailed:
		switch current {
		case domain.OrderStatusPending, domain.OrderStatusFailed:
			return domain.OrderStatusFailed, true
		}
	case domain.OrderEventRefundConfirmed:
		switch current {
		case domain.OrderStatusCompleted, domain.OrderStatusRefunded:
			return domain.OrderStatusRefunded, true
		}
	}
	return "", false
}

// ApplyOrderEvent runs one event through the transition function. It returns
// the order as stored after the call: advanced if the event caused a
// transition, unchanged if the event was an idempotent duplicate.
//
// Errors: store.ErrOrderNotFound when no order matches the lookup key,
// ErrConflict for illegal transitions or persistent version races.
func (s *Service) ApplyOrderEvent(ctx context.Context, event domain.OrderEvent) (*domain.Order, error) {
	for attempt := 0; ; attempt++ {
		order, err := s.lookupOrder(ctx, event)
		if err != nil {
			return nil, err
		}

		target, legal := nextStatus(order.Status, event.Kind)
		if !legal {
			return nil, fmt.Errorf("%w: %s does not accept %s", ErrConflict, order.Status, event.Kind)
		}
		if target == order.Status {
			// Duplicate delivery: no write, no effects.
			log.Printf("level=info component=reconcile msg=\"duplicate event ignored\" order_id=%s status=%s event=%s", order.ID, order.Status, event.Kind)
			return order, nil
		}

		params := store.UpdateOrderStatusParams{Status: target}
		if target == domain.OrderStatusCompleted {
			now := time.Now().UTC()
			params.CompletedAt = &now
			if event.PaymentID != "" {
				paymentID := event.PaymentID
				params.ExternalPaymentID = &paymentID
			}
		}

		updated, err := s.repo.UpdateOrderStatus(ctx, order.ID, order.Version, params)
		if err != nil {
			if errors.Is(err, store.ErrVersionConflict) {
				if attempt < transitionRetries {
					// Another writer advanced the order first; re-read and
					// re-decide. The retry typically resolves to a no-op.
					continue
				}
				return nil, fmt.Errorf("%w: lost conditional update race for order %s", ErrConflict, order.ID)
			}
			return nil, fmt.Errorf("conditional status update failed: %w", err)
		}

		s.runTransitionEffects(ctx, order.Status, updated, event)
		return updated, nil
	}
}

// lookupOrder resolves the event's addressing: payment events carry the
// gateway session id, admin and refund commands carry the local order id.
func (s *Service) lookupOrder(ctx context.Context, event domain.OrderEvent) (*domain.Order, error) {
	if event.SessionID != "" {
		return s.repo.FindOrderBySessionID(ctx, event.SessionID)
	}
	if event.OrderID != uuid.Nil {
		return s.repo.FindOrderByID(ctx, event.OrderID)
	}
	return nil, store.ErrOrderNotFound
}

// runTransitionEffects executes the side effects tied to a committed
// transition. Each effect is idempotent on its own key, so a supervising retry
// after a crash cannot double-apply anything. Effect failures are reported and
// never unwind the transition: the order row is the authority.
func (s *Service) runTransitionEffects(ctx context.Context, from domain.OrderStatus, order *domain.Order, event domain.OrderEvent) {
	actor := event.Actor
	if actor == "" {
		actor = domain.ActorSystem
	}
	detail := fmt.Sprintf("status %s -> %s (%s)", from, order.Status, event.Kind)

	switch order.Status {
	case domain.OrderStatusCompleted:
		if err := s.mintEntitlement(ctx, order); err != nil {
			log.Printf("level=error component=reconcile msg=\"entitlement mint failed\" order_id=%s err=%v", order.ID, err)
		}
		s.captureCheckoutEmail(ctx, order, event)
		s.audit(ctx, actor, domain.AuditActionUpdate, "order", order.ID.String(), detail)
		s.publishLifecycle(ctx, order, "order.completed")
	case domain.OrderStatusFailed:
		s.audit(ctx, actor, domain.AuditActionUpdate, "order", order.ID.String(), detail)
		s.publishLifecycle(ctx, order, "order.failed")
	case domain.OrderStatusRefunded:
		s.audit(ctx, actor, domain.AuditActionRefund, "order", order.ID.String(), detail)
		s.publishLifecycle(ctx, order, "order.refunded")
	}
}

// captureCheckoutEmail records the email observed on a completed checkout.
// Keyed by (email, session id), so replayed completions insert nothing.
func (s *Service) captureCheckoutEmail(ctx context.Context, order *domain.Order, event domain.OrderEvent) {
	email := event.CustomerEmail
	if email == "" {
		email = order.CustomerEmail
	}
	if email == "" {
		return
	}

	orderID := order.ID
	capture := &domain.EmailCapture{
		ID:                uuid.New(),
		Email:             email,
		Source:            "checkout",
		OrderID:           &orderID,
		ExternalSessionID: order.ExternalSessionID,
		ProductID:         order.ProductID,
	}
	created, err := s.repo.CreateEmailCapture(ctx, capture)
	if err != nil {
		log.Printf("level=error component=reconcile msg=\"email capture failed\" order_id=%s err=%v", order.ID, err)
		return
	}
	if !created {
		log.Printf("level=info component=reconcile msg=\"email already captured\" order_id=%s", order.ID)
	}
}
