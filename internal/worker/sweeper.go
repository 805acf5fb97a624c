package worker

import (
	"context"
	"fmt"
	"time"

	"stock-service/internal/models"
	"stock-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// StockReleaser releases reserved units back to available, best-effort.
// *service.StockService satisfies it.
type StockReleaser interface {
	ReleaseStock(ctx context.Context, productID, optionID int64, qty int)
}

// OrderStore is the order access the sweeper needs. *store.Store
// satisfies it.
type OrderStore interface {
	FindExpiredPendingOrders(ctx context.Context, limit int) ([]models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
}

// ExpiryPublisher announces orders cancelled by the sweep.
// *broker.EventPublisher satisfies it.
type ExpiryPublisher interface {
	PublishOrderExpired(ctx context.Context, event *models.OrderExpiredEvent) error
}

// ReservationSweeper periodically reclaims reservations held by pending
// orders whose reservation window has lapsed: it releases every line
// item and cancels the order. Orders are processed independently so one
// failure never blocks the rest of the batch.
type ReservationSweeper struct {
	store     OrderStore
	stocks    StockReleaser
	publisher ExpiryPublisher
	interval  time.Duration
	batchSize int
	logger    *zap.Logger
}

// NewReservationSweeper creates a new sweeper
func NewReservationSweeper(
	store OrderStore,
	stocks StockReleaser,
	publisher ExpiryPublisher,
	interval time.Duration,
	batchSize int,
) *ReservationSweeper {
	return &ReservationSweeper{
		store:     store,
		stocks:    stocks,
		publisher: publisher,
		interval:  interval,
		batchSize: batchSize,
		logger:    util.NamedLogger("sweeper"),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *ReservationSweeper) Start(ctx context.Context) error {
	s.logger.Info("Starting reservation sweeper",
		zap.Duration("interval", s.interval),
		zap.Int("batch_size", s.batchSize))

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Reservation sweeper stopping")
			return ctx.Err()
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep over expired pending orders.
func (s *ReservationSweeper) RunOnce(ctx context.Context) {
	ctx, span := util.StartSpan(ctx, "ReservationSweeper.RunOnce")
	defer span.End()

	util.SweepRunsTotal.Inc()

	orders, err := s.store.FindExpiredPendingOrders(ctx, s.batchSize)
	if err != nil {
		s.logger.Error("Failed to query expired pending orders", zap.Error(err))
		return
	}
	if len(orders) == 0 {
		return
	}

	s.logger.Info("Sweeping expired reservations", zap.Int("count", len(orders)))

	for _, order := range orders {
		if err := s.processOrder(ctx, order); err != nil {
			util.SweepOrderFailuresTotal.Inc()
			s.logger.Error("Failed to process expired order, continuing",
				zap.Int64("order_id", order.ID),
				zap.Error(err))
			continue
		}
		util.SweepOrdersExpiredTotal.Inc()
	}
}

// processOrder releases one expired order's reservations and cancels it.
// Panics are contained here so a pathological order cannot kill the loop.
func (s *ReservationSweeper) processOrder(ctx context.Context, order models.Order) (err error) {
	defer func() {
		if p := recover(); p != nil {
			s.logger.Error("Panic while processing expired order",
				zap.Int64("order_id", order.ID),
				zap.Any("panic", p))
			err = fmt.Errorf("panic processing order %d: %v", order.ID, p)
		}
	}()

	items, err := s.store.GetOrderItemsByOrderID(ctx, order.ID)
	if err != nil {
		return err
	}

	for _, item := range items {
		s.stocks.ReleaseStock(ctx, item.ProductID, item.OptionID.Int64, item.Quantity)
	}

	if err := s.store.UpdateOrderStatus(ctx, order.ID, models.OrderStatusCancelled); err != nil {
		return err
	}

	event := &models.OrderExpiredEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeOrderExpired,
			Timestamp: time.Now(),
		},
		OrderID: order.ID,
	}
	if err := s.publisher.PublishOrderExpired(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderExpired event",
			zap.Int64("order_id", order.ID),
			zap.Error(err))
	}

	s.logger.Info("Expired order cancelled and reservations released",
		zap.Int64("order_id", order.ID),
		zap.Int("items", len(items)))
	return nil
}
