package worker

import (
	"context"
	"fmt"

	"storefront-service/internal/broker"
	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// Notifier delivers customer notifications. Delivery is best-effort: a
// failure is logged and never affects order state.
type Notifier interface {
	Notify(ctx context.Context, template, recipient string, data map[string]interface{}) error
}

// LogNotifier is a Notifier that records the notification instead of
// delivering it. Stands in for an SMTP-backed implementation.
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a new log-backed notifier
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{logger: util.GetLogger()}
}

// Notify logs the notification.
func (n *LogNotifier) Notify(ctx context.Context, template, recipient string, data map[string]interface{}) error {
	n.logger.Info("Notification",
		zap.String("template", template),
		zap.String("recipient", recipient),
		zap.Any("data", data))
	return nil
}

// NotificationWorker consumes order lifecycle events and sends the matching
// customer notifications.
type NotificationWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	notifier     Notifier
	logger       *zap.Logger
}

// NewNotificationWorker creates a new notification worker
func NewNotificationWorker(consumer *broker.Consumer, notifier Notifier) *NotificationWorker {
	w := &NotificationWorker{
		consumer: consumer,
		notifier: notifier,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnOrderPlaced(w.handleOrderPlaced)
	eventHandler.OnOrderDispatched(w.handleOrderDispatched)
	eventHandler.OnOrderCancelled(w.handleOrderCancelled)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *NotificationWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting notification worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *NotificationWorker) Stop() error {
	w.logger.Info("Stopping notification worker")
	return w.consumer.Close()
}

func (w *NotificationWorker) handleOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error {
	if event.UserEmail == "" {
		w.logger.Warn("OrderPlaced event without recipient", zap.Int64("order_id", event.OrderID))
		return nil
	}

	return w.notify(ctx, "order_confirmation", event.UserEmail, map[string]interface{}{
		"order_id": event.OrderID,
		"total":    event.Total,
	})
}

func (w *NotificationWorker) handleOrderDispatched(ctx context.Context, event *models.OrderDispatchedEvent) error {
	if event.UserEmail == "" {
		return nil
	}

	return w.notify(ctx, "order_dispatched", event.UserEmail, map[string]interface{}{
		"order_id": event.OrderID,
	})
}

func (w *NotificationWorker) handleOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error {
	if event.UserEmail == "" {
		return nil
	}

	return w.notify(ctx, "order_cancelled", event.UserEmail, map[string]interface{}{
		"order_id": event.OrderID,
		"reason":   event.Reason,
	})
}

// notify swallows delivery errors after logging them; a failed notification
// must not surface as a consumer failure and trigger redelivery loops.
func (w *NotificationWorker) notify(ctx context.Context, template, recipient string, data map[string]interface{}) error {
	if err := w.notifier.Notify(ctx, template, recipient, data); err != nil {
		w.logger.Error(fmt.Sprintf("Failed to send %s notification", template),
			zap.String("recipient", recipient),
			zap.Error(err))
	}
	return nil
}
