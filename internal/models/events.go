package models

import "time"

// Event types carried on the notification topic.
const (
	EventTypeOrderPlaced     = "ORDER_PLACED"
	EventTypeOrderDispatched = "ORDER_DISPATCHED"
	EventTypeOrderCancelled  = "ORDER_CANCELLED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// OrderLineData represents line data carried in events
type OrderLineData struct {
	ProductID int64  `json:"product_id"`
	Variant   string `json:"variant"`
	Quantity  int    `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
}

// OrderPlacedEvent published after a successful payment capture.
type OrderPlacedEvent struct {
	BaseEvent
	OrderID    int64           `json:"order_id"`
	UserID     int64           `json:"user_id"`
	UserEmail  string          `json:"user_email"`
	Total      int64           `json:"total"`
	ChargeRef  string          `json:"charge_ref"`
	Lines      []OrderLineData `json:"lines"`
	ShippingID int64           `json:"shipping_id"`
}

// OrderDispatchedEvent published when the time-based check moves a placed
// order to dispatched.
type OrderDispatchedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	UserEmail string `json:"user_email"`
}

// OrderCancelledEvent published when a user cancels a placed order.
type OrderCancelledEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	UserID    int64  `json:"user_id"`
	UserEmail string `json:"user_email"`
	Reason    string `json:"reason"`
}
