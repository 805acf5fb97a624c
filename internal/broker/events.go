package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"stock-service/internal/models"
	"stock-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishStockEvent publishes a stock mutation event, keyed by product
// so all events for one product land on one partition in order.
func (ep *EventPublisher) PublishStockEvent(ctx context.Context, event *models.StockEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishOrderExpired publishes an OrderExpired event
func (ep *EventPublisher) PublishOrderExpired(ctx context.Context, event *models.OrderExpiredEvent) error {
	key := fmt.Sprintf("order-%d", event.OrderID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler routes incoming payment events to registered handlers
type EventHandler struct {
	onPaymentSuccess func(context.Context, *models.PaymentSuccessEvent) error
	onPaymentFailed  func(context.Context, *models.PaymentFailedEvent) error
	logger           *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.NamedLogger("broker")}
}

// OnPaymentSuccess registers a handler for PaymentSuccess events
func (eh *EventHandler) OnPaymentSuccess(handler func(context.Context, *models.PaymentSuccessEvent) error) {
	eh.onPaymentSuccess = handler
}

// OnPaymentFailed registers a handler for PaymentFailed events
func (eh *EventHandler) OnPaymentFailed(handler func(context.Context, *models.PaymentFailedEvent) error) {
	eh.onPaymentFailed = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypePaymentSuccess:
		if eh.onPaymentSuccess != nil {
			var event models.PaymentSuccessEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentSuccess event: %w", err)
			}
			return eh.onPaymentSuccess(ctx, &event)
		}

	case models.EventTypePaymentFailed:
		if eh.onPaymentFailed != nil {
			var event models.PaymentFailedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal PaymentFailed event: %w", err)
			}
			return eh.onPaymentFailed(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
