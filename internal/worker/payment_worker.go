package worker

import (
	"context"
	"fmt"

	"stock-service/internal/broker"
	"stock-service/internal/models"
	"stock-service/internal/util"

	"go.uber.org/zap"
)

// SaleConfirmer converts reserved units to sold. *service.StockService
// satisfies it.
type SaleConfirmer interface {
	ConfirmSale(ctx context.Context, productID, optionID int64, qty int) error
	ReleaseStock(ctx context.Context, productID, optionID int64, qty int)
}

// PaymentOrderStore is the order access the payment handler needs.
// *store.Store satisfies it.
type PaymentOrderStore interface {
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrderItemsByOrderID(ctx context.Context, orderID int64) ([]models.OrderItem, error)
	UpdateOrderStatus(ctx context.Context, orderID int64, status string) error
	IsEventProcessed(ctx context.Context, eventID string) (bool, error)
	MarkEventProcessed(ctx context.Context, eventID, eventType string) error
}

// PaymentHandler applies payment outcomes to stock: success confirms the
// sale per line item, failure releases the reservations. Events are
// deduplicated through the processed_events table.
type PaymentHandler struct {
	store  PaymentOrderStore
	stocks SaleConfirmer
	logger *zap.Logger
}

// NewPaymentHandler creates a new payment handler
func NewPaymentHandler(store PaymentOrderStore, stocks SaleConfirmer) *PaymentHandler {
	return &PaymentHandler{
		store:  store,
		stocks: stocks,
		logger: util.NamedLogger("payments"),
	}
}

// HandlePaymentSuccess confirms the sale for every line item of the paid
// order, then marks the order confirmed.
func (h *PaymentHandler) HandlePaymentSuccess(ctx context.Context, event *models.PaymentSuccessEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentHandler.HandlePaymentSuccess")
	defer span.End()

	processed, err := h.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		h.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	order, err := h.store.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusPending {
		// The sweeper may have cancelled the order and released its
		// reservations already; confirming now would corrupt counters.
		h.logger.Warn("Ignoring payment success for non-pending order",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", order.Status))
		return nil
	}

	h.logger.Info("Handling payment success",
		zap.Int64("order_id", event.OrderID),
		zap.String("tx_id", event.TxID))

	items, err := h.store.GetOrderItemsByOrderID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}

	for i, item := range items {
		if err := h.stocks.ConfirmSale(ctx, item.ProductID, item.OptionID.Int64, item.Quantity); err != nil {
			if i > 0 {
				// The order stays PENDING and the sweeper will cancel
				// it; the items confirmed so far remain sold.
				h.logger.Warn("Partial sale confirmation, earlier line items stay sold",
					zap.Int64("order_id", event.OrderID),
					zap.Int("confirmed_items", i),
					zap.Int("total_items", len(items)))
			}
			return fmt.Errorf("failed to confirm sale for product %d: %w", item.ProductID, err)
		}
	}

	if err := h.store.UpdateOrderStatus(ctx, event.OrderID, models.OrderStatusConfirmed); err != nil {
		return fmt.Errorf("failed to confirm order: %w", err)
	}

	if err := h.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		h.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	h.logger.Info("Order confirmed", zap.Int64("order_id", event.OrderID))
	return nil
}

// HandlePaymentFailed releases the order's reservations and cancels it.
func (h *PaymentHandler) HandlePaymentFailed(ctx context.Context, event *models.PaymentFailedEvent) error {
	ctx, span := util.StartSpan(ctx, "PaymentHandler.HandlePaymentFailed")
	defer span.End()

	processed, err := h.store.IsEventProcessed(ctx, event.EventID)
	if err != nil {
		return fmt.Errorf("failed to check event processed: %w", err)
	}
	if processed {
		h.logger.Info("Event already processed", zap.String("event_id", event.EventID))
		return nil
	}

	order, err := h.store.GetOrderByID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to load order: %w", err)
	}
	if order.Status != models.OrderStatusPending {
		h.logger.Info("Ignoring payment failure for non-pending order",
			zap.Int64("order_id", event.OrderID),
			zap.String("status", order.Status))
		return nil
	}

	h.logger.Warn("Handling payment failure, releasing reservations",
		zap.Int64("order_id", event.OrderID),
		zap.String("reason", event.Reason))

	items, err := h.store.GetOrderItemsByOrderID(ctx, event.OrderID)
	if err != nil {
		return fmt.Errorf("failed to get order items: %w", err)
	}

	for _, item := range items {
		h.stocks.ReleaseStock(ctx, item.ProductID, item.OptionID.Int64, item.Quantity)
	}

	if err := h.store.UpdateOrderStatus(ctx, event.OrderID, models.OrderStatusCancelled); err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}

	if err := h.store.MarkEventProcessed(ctx, event.EventID, event.EventType); err != nil {
		h.logger.Error("Failed to mark event processed", zap.Error(err))
	}

	h.logger.Info("Order cancelled after failed payment", zap.Int64("order_id", event.OrderID))
	return nil
}

// PaymentWorker consumes payment events from Kafka and drives the
// payment handler.
type PaymentWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
}

// NewPaymentWorker creates a new payment worker
func NewPaymentWorker(consumer *broker.Consumer, handler *PaymentHandler) *PaymentWorker {
	eventHandler := broker.NewEventHandler()
	eventHandler.OnPaymentSuccess(handler.HandlePaymentSuccess)
	eventHandler.OnPaymentFailed(handler.HandlePaymentFailed)

	return &PaymentWorker{
		consumer:     consumer,
		eventHandler: eventHandler,
	}
}

// Start starts the worker
func (w *PaymentWorker) Start(ctx context.Context) error {
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *PaymentWorker) Stop() error {
	return w.consumer.Close()
}
