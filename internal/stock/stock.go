package stock

import (
	"errors"
	"fmt"
)

// Stock statuses
const (
	StatusInStock    = "IN_STOCK"
	StatusOutOfStock = "OUT_OF_STOCK"
)

var (
	// ErrInvalidQuantity is returned when an operation is called with qty <= 0.
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// ErrInsufficientStock is returned when a reservation exceeds available units.
	ErrInsufficientStock = errors.New("insufficient stock")

	// ErrOverRelease is returned when a release exceeds reserved units.
	ErrOverRelease = errors.New("release exceeds reserved quantity")

	// ErrOverSell is returned when a sale exceeds reserved units.
	ErrOverSell = errors.New("sale exceeds reserved quantity")

	// ErrInvariantViolation is returned when counters do not satisfy
	// available + reserved + sold <= total with all fields non-negative.
	ErrInvariantViolation = errors.New("stock invariant violation")
)

// Stock is the in-memory stock state machine for a single inventory record.
// It carries no I/O and no locking; callers serialize access via the
// distributed lock and the database row lock before applying transitions.
type Stock struct {
	Total     int
	Available int
	Reserved  int
	Sold      int
}

// New constructs a Stock and validates the counter invariant.
func New(total, available, reserved, sold int) (*Stock, error) {
	s := &Stock{
		Total:     total,
		Available: available,
		Reserved:  reserved,
		Sold:      sold,
	}
	if err := s.check(); err != nil {
		return nil, err
	}
	return s, nil
}

// check verifies the invariant: all counters non-negative and
// available + reserved + sold never exceeding total.
func (s *Stock) check() error {
	if s.Total < 0 || s.Available < 0 || s.Reserved < 0 || s.Sold < 0 {
		return fmt.Errorf("%w: negative counter (total=%d available=%d reserved=%d sold=%d)",
			ErrInvariantViolation, s.Total, s.Available, s.Reserved, s.Sold)
	}
	if s.Available+s.Reserved+s.Sold > s.Total {
		return fmt.Errorf("%w: available=%d + reserved=%d + sold=%d exceeds total=%d",
			ErrInvariantViolation, s.Available, s.Reserved, s.Sold, s.Total)
	}
	return nil
}

// Reserve moves qty units from available to reserved.
func (s *Stock) Reserve(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.Available < qty {
		return fmt.Errorf("%w: available=%d, requested=%d", ErrInsufficientStock, s.Available, qty)
	}
	s.Available -= qty
	s.Reserved += qty
	return s.check()
}

// RestoreReserved moves qty units from reserved back to available.
func (s *Stock) RestoreReserved(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.Reserved < qty {
		return fmt.Errorf("%w: reserved=%d, requested=%d", ErrOverRelease, s.Reserved, qty)
	}
	s.Reserved -= qty
	s.Available += qty
	return s.check()
}

// Sell moves qty units from reserved to sold. Available is unchanged:
// the units already left available at reservation time.
func (s *Stock) Sell(qty int) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if s.Reserved < qty {
		return fmt.Errorf("%w: reserved=%d, requested=%d", ErrOverSell, s.Reserved, qty)
	}
	s.Reserved -= qty
	s.Sold += qty
	return s.check()
}

// IsAvailable reports whether at least qty units can be reserved.
func (s *Stock) IsAvailable(qty int) bool {
	return qty > 0 && s.Available >= qty
}

// Status returns IN_STOCK when any unit is available, OUT_OF_STOCK otherwise.
func (s *Stock) Status() string {
	if s.Available > 0 {
		return StatusInStock
	}
	return StatusOutOfStock
}
