package contracts

import "time"

// Event is the envelope written to the outbox and published on the order
// events topic.
type Event struct {
	EventID   string         `json:"event_id"`
	OrderID   int64          `json:"order_id"`
	Type      string         `json:"type"`
	CreatedAt time.Time      `json:"created_at"`
	Payload   map[string]any `json:"payload"`
}

const (
	EventOrderCreated       = "order.created"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderPaid          = "order.paid"
)
