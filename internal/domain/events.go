package domain

import (
	"time"

	"github.com/google/uuid"
)

// OrderEventKind identifies the real-world occurrence an order transition is
// reacting to. Gateway notifications and admin commands are both expressed as
// OrderEvents so every status change flows through the same transition table.
type OrderEventKind string

const (
	OrderEventPaymentCompleted OrderEventKind = "payment_completed"
	OrderEventPaymentFailed    OrderEventKind = "payment_failed"
	OrderEventRefundConfirmed  OrderEventKind = "refund_confirmed"
)

// OrderEvent is a request to bring an order into agreement with an observed
// payment outcome. Payment events address the order by SessionID; admin and
// refund commands address it by OrderID.
type OrderEvent struct {
	Kind          OrderEventKind
	SessionID     string
	OrderID       uuid.UUID
	PaymentID     string
	CustomerEmail string
	Actor         string // ActorSystem for gateway events, admin user id otherwise
}

// OrderLifecycleEvent is the message published to the order events exchange
// after a committed transition. Downstream consumers (e.g., the mailer that
// delivers download links) react to these instead of the raw gateway payloads,
// so retried webhooks can never fan out twice.
type OrderLifecycleEvent struct {
	OrderID       uuid.UUID   `json:"order_id"`
	Status        OrderStatus `json:"status"`
	ProductID     string      `json:"product_id"`
	CustomerEmail string      `json:"customer_email,omitempty"`
	Amount        int64       `json:"amount"`
	OccurredAt    time.Time   `json:"occurred_at"`
}
