package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"stock-service/internal/lock"
	"stock-service/internal/models"
	"stock-service/internal/redisclient"
	"stock-service/internal/stock"
	"stock-service/internal/util"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
)

// InventoryStore is the transactional inventory access the use-cases
// need. *store.Store satisfies it.
type InventoryStore interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
	GetInventoryForUpdate(ctx context.Context, tx *sqlx.Tx, productID, optionID int64) (*models.Inventory, error)
	SaveInventory(ctx context.Context, tx *sqlx.Tx, inv *models.Inventory) error
	GetInventory(ctx context.Context, productID, optionID int64) (*models.Inventory, error)
}

// Locker serializes stock mutations per inventory key across instances.
// *lock.Service satisfies it.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, opts lock.Options, fn func(ctx context.Context) error) error
}

// CacheInvalidator evicts read caches locally and on peer instances.
// *cache.Invalidator satisfies it.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, pattern string) error
}

// StatusCache is the read-cache surface for stock status lookups.
// *redisclient.Client satisfies it; a miss surfaces as redis.Nil.
type StatusCache interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
}

// EventPublisher publishes stock domain events after mutations.
// *broker.EventPublisher satisfies it.
type EventPublisher interface {
	PublishStockEvent(ctx context.Context, event *models.StockEvent) error
}

// LockKey derives the distributed lock key for an inventory record.
// The format is shared across instances and must not change.
func LockKey(productID, optionID int64) string {
	return fmt.Sprintf("stock:%d:%d", productID, optionID)
}

// InvalidationPattern covers a product's list and detail read caches.
func InvalidationPattern(productID int64) string {
	return fmt.Sprintf("product:%d:*", productID)
}

func statusCacheKey(productID, optionID int64) string {
	return fmt.Sprintf("product:%d:status:%d", productID, optionID)
}

// Config carries the use-case tuning knobs.
type Config struct {
	LockTTL         time.Duration
	LockWaitTimeout time.Duration
	CacheTTL        time.Duration
}

// StockService composes the distributed lock, the transactional row
// lock, and the stock state machine into the reserve / release / confirm
// use-cases, and keeps read caches coherent across instances.
type StockService struct {
	store       InventoryStore
	locker      Locker
	invalidator CacheInvalidator
	cache       StatusCache
	publisher   EventPublisher
	cfg         Config
	logger      *zap.Logger
}

// NewStockService creates a new stock service
func NewStockService(
	store InventoryStore,
	locker Locker,
	invalidator CacheInvalidator,
	cache StatusCache,
	publisher EventPublisher,
	cfg Config,
) *StockService {
	return &StockService{
		store:       store,
		locker:      locker,
		invalidator: invalidator,
		cache:       cache,
		publisher:   publisher,
		cfg:         cfg,
		logger:      util.NamedLogger("stock"),
	}
}

// ReserveStock moves qty units from available to reserved for a product
// option. Contention, insufficient stock and missing records all
// propagate so the order flow fails before the order is created.
func (s *StockService) ReserveStock(ctx context.Context, productID, optionID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockService.ReserveStock")
	defer span.End()

	inv, err := s.mutate(ctx, "reserve", productID, optionID, func(st *stock.Stock) error {
		return st.Reserve(qty)
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, models.EventTypeStockReserved, inv, qty)
	return nil
}

// ReleaseStock returns qty reserved units to available. It is a
// best-effort compensating action: missing records and transition
// failures are logged, never propagated, so cancellation and expiry
// cleanup are never blocked by a failed release.
func (s *StockService) ReleaseStock(ctx context.Context, productID, optionID int64, qty int) {
	ctx, span := util.StartSpan(ctx, "StockService.ReleaseStock")
	defer span.End()

	inv, err := s.mutate(ctx, "release", productID, optionID, func(st *stock.Stock) error {
		return st.RestoreReserved(qty)
	})
	if err != nil {
		s.logger.Warn("Stock release skipped",
			zap.Int64("product_id", productID),
			zap.Int64("option_id", optionID),
			zap.Int("quantity", qty),
			zap.Error(err))
		return
	}

	s.afterMutation(ctx, models.EventTypeStockReleased, inv, qty)
}

// ConfirmSale moves qty units from reserved to sold after payment
// success. Missing records propagate; available stock is untouched.
func (s *StockService) ConfirmSale(ctx context.Context, productID, optionID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockService.ConfirmSale")
	defer span.End()

	inv, err := s.mutate(ctx, "confirm", productID, optionID, func(st *stock.Stock) error {
		return st.Sell(qty)
	})
	if err != nil {
		return err
	}

	s.afterMutation(ctx, models.EventTypeSaleConfirmed, inv, qty)
	return nil
}

// ValidateAvailability checks, without locking, whether qty units could
// currently be reserved.
func (s *StockService) ValidateAvailability(ctx context.Context, productID, optionID int64, qty int) error {
	ctx, span := util.StartSpan(ctx, "StockService.ValidateAvailability")
	defer span.End()

	inv, err := s.store.GetInventory(ctx, productID, optionID)
	if err != nil {
		return err
	}

	st, err := stock.New(inv.Total, inv.Available, inv.Reserved, inv.Sold)
	if err != nil {
		return err
	}

	if !st.IsAvailable(qty) {
		if qty <= 0 {
			return stock.ErrInvalidQuantity
		}
		return fmt.Errorf("%w: available=%d, requested=%d", stock.ErrInsufficientStock, st.Available, qty)
	}
	return nil
}

// StockStatus is the cached read model for a product option's stock.
type StockStatus struct {
	ProductID int64  `json:"product_id"`
	OptionID  int64  `json:"option_id"`
	Status    string `json:"status"`
	Available int    `json:"available"`
}

// GetStockStatus serves the read path through the shared cache,
// falling back to the database and repopulating on a miss.
func (s *StockService) GetStockStatus(ctx context.Context, productID, optionID int64) (*StockStatus, error) {
	ctx, span := util.StartSpan(ctx, "StockService.GetStockStatus")
	defer span.End()

	key := statusCacheKey(productID, optionID)
	if cached, err := s.cache.Get(ctx, key); err == nil {
		var status StockStatus
		if err := json.Unmarshal([]byte(cached), &status); err == nil {
			return &status, nil
		}
		s.logger.Warn("Dropping malformed cached status", zap.String("key", key))
	} else if !redisclient.IsNotFound(err) {
		s.logger.Warn("Status cache read failed", zap.String("key", key), zap.Error(err))
	}

	inv, err := s.store.GetInventory(ctx, productID, optionID)
	if err != nil {
		return nil, err
	}

	st, err := stock.New(inv.Total, inv.Available, inv.Reserved, inv.Sold)
	if err != nil {
		return nil, err
	}

	status := &StockStatus{
		ProductID: productID,
		OptionID:  optionID,
		Status:    st.Status(),
		Available: st.Available,
	}

	if payload, err := json.Marshal(status); err == nil {
		if err := s.cache.Set(ctx, key, string(payload), s.cfg.CacheTTL); err != nil {
			s.logger.Warn("Status cache write failed", zap.String("key", key), zap.Error(err))
		}
	}

	return status, nil
}

// mutate runs one stock transition under the full exclusion stack:
// distributed lock on the inventory key, then a database transaction
// holding the row lock while the state machine applies the transition.
func (s *StockService) mutate(ctx context.Context, op string, productID, optionID int64, transition func(*stock.Stock) error) (*models.Inventory, error) {
	start := time.Now()
	defer func() {
		util.StockOperationLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	}()

	var result *models.Inventory

	opts := lock.Options{
		WaitTimeout: s.cfg.LockWaitTimeout,
		AutoExtend:  true,
	}

	err := s.locker.WithLock(ctx, LockKey(productID, optionID), s.cfg.LockTTL, opts, func(ctx context.Context) error {
		return s.store.WithTx(ctx, func(tx *sqlx.Tx) error {
			inv, err := s.store.GetInventoryForUpdate(ctx, tx, productID, optionID)
			if err != nil {
				return err
			}

			st, err := stock.New(inv.Total, inv.Available, inv.Reserved, inv.Sold)
			if err != nil {
				return err
			}

			if err := transition(st); err != nil {
				return err
			}

			inv.Available = st.Available
			inv.Reserved = st.Reserved
			inv.Sold = st.Sold

			if err := s.store.SaveInventory(ctx, tx, inv); err != nil {
				return err
			}

			result = inv
			return nil
		})
	})
	if err != nil {
		util.StockOperationsTotal.WithLabelValues(op, "failure").Inc()
		return nil, err
	}

	util.StockOperationsTotal.WithLabelValues(op, "success").Inc()
	return result, nil
}

// afterMutation runs the post-commit side effects of a successful
// mutation: cache invalidation (local and broadcast) and the domain
// event. Neither failure rolls back the committed mutation.
func (s *StockService) afterMutation(ctx context.Context, eventType string, inv *models.Inventory, qty int) {
	if err := s.invalidator.Invalidate(ctx, InvalidationPattern(inv.ProductID)); err != nil {
		s.logger.Error("Cache invalidation failed after stock mutation",
			zap.Int64("product_id", inv.ProductID),
			zap.Error(err))
	}

	event := &models.StockEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: eventType,
			Timestamp: time.Now(),
		},
		ProductID: inv.ProductID,
		OptionID:  inv.OptionID.Int64,
		Quantity:  qty,
		Available: inv.Available,
		Reserved:  inv.Reserved,
		Sold:      inv.Sold,
	}

	if err := s.publisher.PublishStockEvent(ctx, event); err != nil {
		s.logger.Error("Failed to publish stock event",
			zap.String("event_type", eventType),
			zap.Error(err))
	}
}
