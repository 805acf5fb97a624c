package models

import (
	"database/sql"
	"time"
)

// Inventory represents the stock counters for a product option.
// OptionID is null for option-less products. The counters satisfy
// available + reserved + sold <= total at all times.
type Inventory struct {
	ID        int64         `db:"id" json:"id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	OptionID  sql.NullInt64 `db:"option_id" json:"option_id,omitempty"`
	Total     int           `db:"total_quantity" json:"total_quantity"`
	Available int           `db:"available_quantity" json:"available_quantity"`
	Reserved  int           `db:"reserved_quantity" json:"reserved_quantity"`
	Sold      int           `db:"sold_quantity" json:"sold_quantity"`
	UpdatedAt time.Time     `db:"updated_at" json:"updated_at"`
}

// Order represents a customer order holding stock reservations.
// ReservationExpiresAt bounds how long a pending order may keep
// its line items reserved before the sweeper reclaims them.
type Order struct {
	ID                   int64     `db:"id" json:"id"`
	UserID               int64     `db:"user_id" json:"user_id"`
	TotalAmount          int64     `db:"total_amount" json:"total_amount"`
	Status               string    `db:"status" json:"status"`
	ReservationExpiresAt time.Time `db:"reservation_expires_at" json:"reservation_expires_at"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}

// OrderItem represents a reserved line item in an order
type OrderItem struct {
	ID        int64         `db:"id" json:"id"`
	OrderID   int64         `db:"order_id" json:"order_id"`
	ProductID int64         `db:"product_id" json:"product_id"`
	OptionID  sql.NullInt64 `db:"option_id" json:"option_id,omitempty"`
	Quantity  int           `db:"quantity" json:"quantity"`
	UnitPrice int64         `db:"unit_price" json:"unit_price"`
}

// Option wraps an option ID into its nullable column form.
// Zero means the product has no options.
func Option(id int64) sql.NullInt64 {
	return sql.NullInt64{Int64: id, Valid: id != 0}
}

// Order statuses
const (
	OrderStatusPending   = "PENDING"
	OrderStatusConfirmed = "CONFIRMED"
	OrderStatusCancelled = "CANCELLED"
)

// ProcessedEvent for consumer idempotency
type ProcessedEvent struct {
	EventID     string    `db:"event_id"`
	EventType   string    `db:"event_type"`
	ProcessedAt time.Time `db:"processed_at"`
}
