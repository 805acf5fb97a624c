package stock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidatesInvariant(t *testing.T) {
	s, err := New(100, 100, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 100, s.Available)

	_, err = New(10, 8, 2, 1)
	assert.ErrorIs(t, err, ErrInvariantViolation)

	_, err = New(10, -1, 0, 0)
	assert.ErrorIs(t, err, ErrInvariantViolation)
}

func TestReserve(t *testing.T) {
	s, err := New(100, 100, 0, 0)
	require.NoError(t, err)

	require.NoError(t, s.Reserve(30))
	assert.Equal(t, 70, s.Available)
	assert.Equal(t, 30, s.Reserved)

	err = s.Reserve(71)
	assert.ErrorIs(t, err, ErrInsufficientStock)
	assert.Equal(t, 70, s.Available)
	assert.Equal(t, 30, s.Reserved)

	assert.ErrorIs(t, s.Reserve(0), ErrInvalidQuantity)
	assert.ErrorIs(t, s.Reserve(-5), ErrInvalidQuantity)
}

func TestRestoreReserved(t *testing.T) {
	s, err := New(100, 90, 10, 0)
	require.NoError(t, err)

	require.NoError(t, s.RestoreReserved(4))
	assert.Equal(t, 94, s.Available)
	assert.Equal(t, 6, s.Reserved)

	err = s.RestoreReserved(7)
	assert.ErrorIs(t, err, ErrOverRelease)
	assert.Equal(t, 94, s.Available)
	assert.Equal(t, 6, s.Reserved)
}

func TestSell(t *testing.T) {
	s, err := New(100, 90, 10, 0)
	require.NoError(t, err)

	require.NoError(t, s.Sell(10))
	assert.Equal(t, 90, s.Available)
	assert.Equal(t, 0, s.Reserved)
	assert.Equal(t, 10, s.Sold)

	assert.ErrorIs(t, s.Sell(1), ErrOverSell)
}

func TestReserveSellRoundTrip(t *testing.T) {
	s, err := New(50, 40, 5, 5)
	require.NoError(t, err)

	require.NoError(t, s.Reserve(3))
	require.NoError(t, s.Sell(3))

	assert.Equal(t, 37, s.Available)
	assert.Equal(t, 5, s.Reserved)
	assert.Equal(t, 8, s.Sold)
}

func TestReserveReleaseRoundTrip(t *testing.T) {
	s, err := New(50, 40, 5, 5)
	require.NoError(t, err)

	require.NoError(t, s.Reserve(3))
	require.NoError(t, s.RestoreReserved(3))

	assert.Equal(t, 40, s.Available)
	assert.Equal(t, 5, s.Reserved)
	assert.Equal(t, 5, s.Sold)
}

func TestInvariantHoldsAcrossSequences(t *testing.T) {
	s, err := New(20, 20, 0, 0)
	require.NoError(t, err)

	ops := []func() error{
		func() error { return s.Reserve(5) },
		func() error { return s.Sell(2) },
		func() error { return s.RestoreReserved(3) },
		func() error { return s.Reserve(10) },
		func() error { return s.Sell(10) },
		func() error { return s.Reserve(25) },        // fails
		func() error { return s.RestoreReserved(1) }, // fails, nothing reserved
	}

	for _, op := range ops {
		_ = op()
		assert.GreaterOrEqual(t, s.Available, 0)
		assert.GreaterOrEqual(t, s.Reserved, 0)
		assert.GreaterOrEqual(t, s.Sold, 0)
		assert.LessOrEqual(t, s.Available+s.Reserved+s.Sold, s.Total)
	}

	assert.Equal(t, 8, s.Available)
	assert.Equal(t, 0, s.Reserved)
	assert.Equal(t, 12, s.Sold)
}

func TestStatus(t *testing.T) {
	s, err := New(2, 1, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, StatusInStock, s.Status())
	assert.True(t, s.IsAvailable(1))
	assert.False(t, s.IsAvailable(2))
	assert.False(t, s.IsAvailable(0))

	require.NoError(t, s.Reserve(1))
	assert.Equal(t, StatusOutOfStock, s.Status())
}
