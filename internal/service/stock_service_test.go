package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"stock-service/internal/lock"
	"stock-service/internal/models"
	"stock-service/internal/stock"
	"stock-service/internal/store"

	"github.com/go-redis/redis/v8"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeLockStore gives the real lock service in-memory Redis semantics so
// the use-cases run under genuine distributed-lock coordination.
type fakeLockStore struct {
	mu      sync.Mutex
	entries map[string]fakeLockEntry
	subs    map[string][]chan string
}

type fakeLockEntry struct {
	value     string
	expiresAt time.Time
}

func newFakeLockStore() *fakeLockStore {
	return &fakeLockStore{
		entries: make(map[string]fakeLockEntry),
		subs:    make(map[string][]chan string),
	}
}

func (f *fakeLockStore) SetIfAbsent(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if e, ok := f.entries[key]; ok && time.Now().Before(e.expiresAt) {
		return false, nil
	}
	f.entries[key] = fakeLockEntry{value: value, expiresAt: time.Now().Add(ttl)}
	return true, nil
}

func (f *fakeLockStore) CompareAndDelete(_ context.Context, key, value string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.value != value {
		return false, nil
	}
	delete(f.entries, key)
	return true, nil
}

func (f *fakeLockStore) CompareAndExtend(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	if !ok || e.value != value {
		return false, nil
	}
	e.expiresAt = time.Now().Add(ttl)
	f.entries[key] = e
	return true, nil
}

func (f *fakeLockStore) Publish(_ context.Context, channel, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs[channel] {
		select {
		case ch <- "released":
		default:
		}
	}
	return nil
}

func (f *fakeLockStore) Subscribe(_ context.Context, channel string) (<-chan string, func() error, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan string, 8)
	f.subs[channel] = append(f.subs[channel], ch)
	return ch, func() error { return nil }, nil
}

// fakeInventoryStore keeps inventory rows in memory. Its mutex stands in
// for the database row lock: WithTx holds it for the whole transaction.
type fakeInventoryStore struct {
	mu        sync.Mutex
	rows      map[string]*models.Inventory
	saves     int
	loadCalls int
}

func newFakeInventoryStore() *fakeInventoryStore {
	return &fakeInventoryStore{rows: make(map[string]*models.Inventory)}
}

func invKey(productID, optionID int64) string {
	return fmt.Sprintf("%d:%d", productID, optionID)
}

func (f *fakeInventoryStore) put(inv *models.Inventory) {
	f.rows[invKey(inv.ProductID, inv.OptionID.Int64)] = inv
}

func (f *fakeInventoryStore) WithTx(_ context.Context, fn func(tx *sqlx.Tx) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return fn(nil)
}

func (f *fakeInventoryStore) GetInventoryForUpdate(_ context.Context, _ *sqlx.Tx, productID, optionID int64) (*models.Inventory, error) {
	inv, ok := f.rows[invKey(productID, optionID)]
	if !ok {
		return nil, fmt.Errorf("%w: product=%d option=%d", store.ErrInventoryNotFound, productID, optionID)
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInventoryStore) SaveInventory(_ context.Context, _ *sqlx.Tx, inv *models.Inventory) error {
	f.saves++
	cp := *inv
	f.rows[invKey(inv.ProductID, inv.OptionID.Int64)] = &cp
	return nil
}

func (f *fakeInventoryStore) GetInventory(_ context.Context, productID, optionID int64) (*models.Inventory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.loadCalls++
	inv, ok := f.rows[invKey(productID, optionID)]
	if !ok {
		return nil, fmt.Errorf("%w: product=%d option=%d", store.ErrInventoryNotFound, productID, optionID)
	}
	cp := *inv
	return &cp, nil
}

func (f *fakeInventoryStore) get(productID, optionID int64) *models.Inventory {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rows[invKey(productID, optionID)]
}

type fakeInvalidator struct {
	mu       sync.Mutex
	patterns []string
}

func (f *fakeInvalidator) Invalidate(_ context.Context, pattern string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.patterns = append(f.patterns, pattern)
	return nil
}

type fakeCache struct {
	mu   sync.Mutex
	data map[string]string
}

func (f *fakeCache) Get(_ context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (f *fakeCache) Set(_ context.Context, key, value string, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.data == nil {
		f.data = make(map[string]string)
	}
	f.data[key] = value
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []*models.StockEvent
}

func (f *fakePublisher) PublishStockEvent(_ context.Context, event *models.StockEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

type fixture struct {
	svc         *StockService
	inventory   *fakeInventoryStore
	locks       *lock.Service
	invalidator *fakeInvalidator
	publisher   *fakePublisher
}

func newFixture() *fixture {
	inventory := newFakeInventoryStore()
	locks := lock.NewService(newFakeLockStore())
	invalidator := &fakeInvalidator{}
	publisher := &fakePublisher{}
	cache := &fakeCache{}

	svc := NewStockService(inventory, locks, invalidator, cache, publisher, Config{
		LockTTL:         2 * time.Second,
		LockWaitTimeout: 5 * time.Second,
		CacheTTL:        time.Minute,
	})

	return &fixture{
		svc:         svc,
		inventory:   inventory,
		locks:       locks,
		invalidator: invalidator,
		publisher:   publisher,
	}
}

func seedInventory(f *fixture, productID, optionID int64, total, available, reserved, sold int) {
	f.inventory.put(&models.Inventory{
		ID:        1,
		ProductID: productID,
		OptionID:  models.Option(optionID),
		Total:     total,
		Available: available,
		Reserved:  reserved,
		Sold:      sold,
	})
}

func TestLockKeyFormat(t *testing.T) {
	assert.Equal(t, "stock:42:7", LockKey(42, 7))
	assert.Equal(t, "stock:42:0", LockKey(42, 0))
	assert.Equal(t, "product:42:*", InvalidationPattern(42))
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	f := newFixture()
	const available, callers = 3, 10
	seedInventory(f, 1, 0, 100, available, 0, 0)

	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.ReserveStock(context.Background(), 1, 0, 1)
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		} else {
			assert.ErrorIs(t, err, stock.ErrInsufficientStock)
		}
	}
	assert.Equal(t, available, successes)

	inv := f.inventory.get(1, 0)
	assert.Equal(t, 0, inv.Available)
	assert.Equal(t, available, inv.Reserved)
	assert.Equal(t, 0, inv.Sold)
	assert.LessOrEqual(t, inv.Available+inv.Reserved+inv.Sold, inv.Total)
}

func TestTwoConcurrentReservesLastUnit(t *testing.T) {
	f := newFixture()
	seedInventory(f, 7, 3, 100, 1, 0, 0)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = f.svc.ReserveStock(context.Background(), 7, 3, 1)
		}(i)
	}
	wg.Wait()

	if errs[0] == nil {
		assert.ErrorIs(t, errs[1], stock.ErrInsufficientStock)
	} else {
		assert.ErrorIs(t, errs[0], stock.ErrInsufficientStock)
		assert.NoError(t, errs[1])
	}

	inv := f.inventory.get(7, 3)
	assert.Equal(t, 0, inv.Available)
	assert.Equal(t, 1, inv.Reserved)
	assert.Equal(t, 0, inv.Sold)
}

func TestReserveThenConfirm(t *testing.T) {
	f := newFixture()
	seedInventory(f, 1, 0, 50, 40, 0, 10)
	ctx := context.Background()

	require.NoError(t, f.svc.ReserveStock(ctx, 1, 0, 5))
	require.NoError(t, f.svc.ConfirmSale(ctx, 1, 0, 5))

	inv := f.inventory.get(1, 0)
	assert.Equal(t, 35, inv.Available)
	assert.Equal(t, 0, inv.Reserved)
	assert.Equal(t, 15, inv.Sold)

	assert.Len(t, f.publisher.events, 2)
	assert.Equal(t, models.EventTypeStockReserved, f.publisher.events[0].EventType)
	assert.Equal(t, models.EventTypeSaleConfirmed, f.publisher.events[1].EventType)
	assert.Contains(t, f.invalidator.patterns, "product:1:*")
}

func TestReserveThenRelease(t *testing.T) {
	f := newFixture()
	seedInventory(f, 1, 0, 50, 40, 2, 8)
	ctx := context.Background()

	require.NoError(t, f.svc.ReserveStock(ctx, 1, 0, 5))
	f.svc.ReleaseStock(ctx, 1, 0, 5)

	inv := f.inventory.get(1, 0)
	assert.Equal(t, 40, inv.Available)
	assert.Equal(t, 2, inv.Reserved)
	assert.Equal(t, 8, inv.Sold)
}

func TestReserveNotFoundPropagates(t *testing.T) {
	f := newFixture()
	err := f.svc.ReserveStock(context.Background(), 404, 0, 1)
	assert.ErrorIs(t, err, store.ErrInventoryNotFound)
}

func TestReleaseNotFoundIsSwallowed(t *testing.T) {
	f := newFixture()

	f.svc.ReleaseStock(context.Background(), 404, 0, 1)

	assert.Zero(t, f.inventory.saves)
	assert.Empty(t, f.publisher.events)
	assert.Empty(t, f.invalidator.patterns)
}

func TestOverReleaseFailsClosed(t *testing.T) {
	f := newFixture()
	seedInventory(f, 1, 0, 10, 5, 2, 3)

	f.svc.ReleaseStock(context.Background(), 1, 0, 3)

	inv := f.inventory.get(1, 0)
	assert.Equal(t, 5, inv.Available)
	assert.Equal(t, 2, inv.Reserved)
	assert.Equal(t, 3, inv.Sold)
}

func TestReserveContendedLockFailsAfterWait(t *testing.T) {
	f := newFixture()
	seedInventory(f, 1, 0, 10, 10, 0, 0)

	lease, err := f.locks.Acquire(context.Background(), LockKey(1, 0), time.Minute, lock.Options{})
	require.NoError(t, err)
	defer func() {
		_, _ = f.locks.Release(context.Background(), lease)
	}()

	f.svc.cfg.LockWaitTimeout = 100 * time.Millisecond
	err = f.svc.ReserveStock(context.Background(), 1, 0, 1)
	assert.ErrorIs(t, err, lock.ErrLockUnavailable)

	inv := f.inventory.get(1, 0)
	assert.Equal(t, 10, inv.Available)
}

func TestValidateAvailability(t *testing.T) {
	f := newFixture()
	seedInventory(f, 1, 0, 10, 4, 3, 3)
	ctx := context.Background()

	assert.NoError(t, f.svc.ValidateAvailability(ctx, 1, 0, 4))
	assert.ErrorIs(t, f.svc.ValidateAvailability(ctx, 1, 0, 5), stock.ErrInsufficientStock)
	assert.ErrorIs(t, f.svc.ValidateAvailability(ctx, 1, 0, 0), stock.ErrInvalidQuantity)
	assert.ErrorIs(t, f.svc.ValidateAvailability(ctx, 404, 0, 1), store.ErrInventoryNotFound)
}

func TestGetStockStatusCachesReads(t *testing.T) {
	f := newFixture()
	seedInventory(f, 1, 0, 10, 4, 3, 3)
	ctx := context.Background()

	status, err := f.svc.GetStockStatus(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, stock.StatusInStock, status.Status)
	assert.Equal(t, 4, status.Available)

	loadsAfterFirst := f.inventory.loadCalls
	status, err = f.svc.GetStockStatus(ctx, 1, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, status.Available)
	assert.Equal(t, loadsAfterFirst, f.inventory.loadCalls, "second read must come from cache")
}
