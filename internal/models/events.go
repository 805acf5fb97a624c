package models

import "time"

// Event types
const (
	EventTypeStockReserved  = "STOCK_RESERVED"
	EventTypeStockReleased  = "STOCK_RELEASED"
	EventTypeSaleConfirmed  = "SALE_CONFIRMED"
	EventTypeOrderExpired   = "ORDER_EXPIRED"
	EventTypePaymentSuccess = "PAYMENT_SUCCESS"
	EventTypePaymentFailed  = "PAYMENT_FAILED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// StockEvent published after a successful stock mutation
type StockEvent struct {
	BaseEvent
	ProductID int64 `json:"product_id"`
	OptionID  int64 `json:"option_id,omitempty"`
	Quantity  int   `json:"quantity"`
	Available int   `json:"available"`
	Reserved  int   `json:"reserved"`
	Sold      int   `json:"sold"`
}

// OrderExpiredEvent published when the sweeper cancels an expired order
type OrderExpiredEvent struct {
	BaseEvent
	OrderID int64 `json:"order_id"`
}

// PaymentSuccessEvent published by the payment service; consuming it
// drives sale confirmation for the order's line items.
type PaymentSuccessEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Amount    int64  `json:"amount"`
	TxID      string `json:"tx_id"`
}

// PaymentFailedEvent published by the payment service; consuming it
// releases the order's reservations.
type PaymentFailedEvent struct {
	BaseEvent
	OrderID   int64  `json:"order_id"`
	PaymentID int64  `json:"payment_id"`
	Reason    string `json:"reason"`
}
