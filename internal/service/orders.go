package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UserGetter loads users for notification events.
type UserGetter interface {
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// ShippingGetter loads shipping reference data.
type ShippingGetter interface {
	GetShippingOption(ctx context.Context, id int64) (*models.ShippingOption, error)
	GetShippingOptions(ctx context.Context) ([]models.ShippingOption, error)
}

// EventPublisher publishes order lifecycle events. Failures are logged and
// never affect order state.
type EventPublisher interface {
	PublishOrderPlaced(ctx context.Context, event *models.OrderPlacedEvent) error
	PublishOrderDispatched(ctx context.Context, event *models.OrderDispatchedEvent) error
	PublishOrderCancelled(ctx context.Context, event *models.OrderCancelledEvent) error
}

// OrderService drives the order status state machine:
// open -> placed -> dispatched -> complete, with open|placed -> cancelled.
// Dispatch and completion are time-based, checked lazily on request entry.
type OrderService struct {
	orders        OrderStore
	products      ProductGetter
	users         UserGetter
	shipping      ShippingGetter
	ledger        *Ledger
	charger       Charger
	events        EventPublisher
	locks         Locker
	cache         BasketCache
	dispatchAfter time.Duration
	completeAfter time.Duration
	logger        *zap.Logger
	now           func() time.Time
}

// NewOrderService creates a new order service
func NewOrderService(
	orders OrderStore,
	products ProductGetter,
	users UserGetter,
	shipping ShippingGetter,
	ledger *Ledger,
	charger Charger,
	events EventPublisher,
	locks Locker,
	cache BasketCache,
	dispatchAfter, completeAfter time.Duration,
) *OrderService {
	return &OrderService{
		orders:        orders,
		products:      products,
		users:         users,
		shipping:      shipping,
		ledger:        ledger,
		charger:       charger,
		events:        events,
		locks:         locks,
		cache:         cache,
		dispatchAfter: dispatchAfter,
		completeAfter: completeAfter,
		logger:        util.GetLogger(),
		now:           time.Now,
	}
}

// GetOrder retrieves an order with its lines, folding foreign ownership into
// ErrNotFound.
func (s *OrderService) GetOrder(ctx context.Context, userID, orderID int64) (*models.Order, []models.OrderLine, error) {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, nil, err
	}

	lines, err := s.orders.GetOrderLines(ctx, orderID)
	if err != nil {
		return nil, nil, err
	}
	return order, lines, nil
}

// ListOrders retrieves all of a user's orders, newest placed first.
func (s *OrderService) ListOrders(ctx context.Context, userID int64) ([]models.Order, error) {
	return s.orders.GetOrdersByUser(ctx, userID)
}

// Place performs checkout on the user's open order: the external charge is
// captured first and only a successful capture commits the transition to
// placed. On a declined charge the order and its stock reservations are left
// exactly as they were.
func (s *OrderService) Place(ctx context.Context, userID int64, paymentToken, idempotencyKey string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.Place")
	defer span.End()

	if idempotencyKey != "" {
		existing, err := s.orders.GetOrderByCheckoutKey(ctx, idempotencyKey)
		if err != nil {
			return nil, fmt.Errorf("failed to check idempotency: %w", err)
		}
		if existing != nil {
			s.logger.Info("Duplicate checkout request",
				zap.String("idempotency_key", idempotencyKey),
				zap.Int64("order_id", existing.ID))
			return existing, nil
		}
	}

	order, err := s.orders.GetOpenOrderByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up open order: %w", err)
	}
	if order == nil {
		return nil, ErrNotFound
	}

	err = s.locks.WithLock(ctx, orderLockKey(order.ID), func(ctx context.Context) error {
		lines, err := s.orders.GetOrderLines(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyOrder
		}
		if order.AddressID == nil {
			return ErrNoAddress
		}

		total, err := s.orders.RecomputeOrderTotal(ctx, order.ID)
		if err != nil {
			return err
		}
		order.Total = total

		option, err := s.shipping.GetShippingOption(ctx, order.ShippingID)
		if err != nil {
			return err
		}
		if option == nil {
			return fmt.Errorf("shipping option %d missing", order.ShippingID)
		}

		result, err := s.charge(ctx, total+option.Cost, paymentToken)
		if err != nil {
			return err
		}

		placedAt := s.now()
		if err := s.orders.MarkOrderPlaced(ctx, order.ID, placedAt); err != nil {
			return fmt.Errorf("failed to mark order placed: %w", err)
		}
		order.Status = models.OrderStatusPlaced
		order.PlacedOn = &placedAt

		if idempotencyKey != "" {
			if err := s.orders.SaveCheckoutKey(ctx, idempotencyKey, order.ID); err != nil {
				s.logger.Error("Failed to record checkout key", zap.Error(err))
			}
		}

		util.OrdersPlacedTotal.Inc()
		s.logger.Info("Order placed",
			zap.Int64("order_id", order.ID),
			zap.Int64("amount", total+option.Cost),
			zap.String("charge_ref", result.Reference))

		s.publishPlaced(ctx, order, lines, result.Reference)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.invalidateCount(ctx, userID)
	return order, nil
}

// Cancel cancels an open or placed order, releasing the reserved stock of
// every line. Once dispatched the order has progressed too far and
// cancellation is refused.
func (s *OrderService) Cancel(ctx context.Context, userID, orderID int64) error {
	ctx, span := util.StartSpan(ctx, "OrderService.Cancel")
	defer span.End()

	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}

	// Time may have moved the order past the point of cancellation since it
	// was loaded; advance before deciding.
	if err := s.AdvanceByTime(ctx, order, s.now()); err != nil {
		return err
	}

	if order.Status != models.OrderStatusOpen && order.Status != models.OrderStatusPlaced {
		return ErrInvalidTransition
	}

	err = s.locks.WithLock(ctx, orderLockKey(order.ID), func(ctx context.Context) error {
		if err := s.releaseOrderStock(ctx, order.ID); err != nil {
			return err
		}

		cancelledAt := s.now()
		if err := s.orders.MarkOrderCancelled(ctx, order.ID, cancelledAt); err != nil {
			return fmt.Errorf("failed to mark order cancelled: %w", err)
		}
		order.Status = models.OrderStatusCancelled
		order.PlacedOn = nil
		order.CancelledOn = &cancelledAt
		return nil
	})
	if err != nil {
		return err
	}

	util.OrdersCancelledTotal.WithLabelValues("user").Inc()
	s.invalidateCount(ctx, userID)
	s.publishCancelled(ctx, order, "cancelled_by_user")
	return nil
}

// ContinueOrder re-places a previously cancelled order. Its reservations
// were released at cancellation, so every line is re-reserved first; the
// stock may have been sold in the interim, in which case the order stays
// cancelled and the caller gets ErrStockInsufficient. Payment is captured
// again before the transition commits.
func (s *OrderService) ContinueOrder(ctx context.Context, userID, orderID int64, paymentToken string) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "OrderService.ContinueOrder")
	defer span.End()

	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	if order.Status != models.OrderStatusCancelled {
		return nil, ErrInvalidTransition
	}

	err = s.locks.WithLock(ctx, orderLockKey(order.ID), func(ctx context.Context) error {
		lines, err := s.orders.GetOrderLines(ctx, order.ID)
		if err != nil {
			return err
		}
		if len(lines) == 0 {
			return ErrEmptyOrder
		}

		reserved, err := s.reserveOrderStock(ctx, lines)
		if err != nil {
			s.rollbackReservations(ctx, reserved)
			return err
		}

		option, err := s.shipping.GetShippingOption(ctx, order.ShippingID)
		if err != nil {
			s.rollbackReservations(ctx, reserved)
			return err
		}
		if option == nil {
			s.rollbackReservations(ctx, reserved)
			return fmt.Errorf("shipping option %d missing", order.ShippingID)
		}

		result, err := s.charge(ctx, order.Total+option.Cost, paymentToken)
		if err != nil {
			s.rollbackReservations(ctx, reserved)
			return err
		}

		placedAt := s.now()
		if err := s.orders.MarkOrderPlaced(ctx, order.ID, placedAt); err != nil {
			return fmt.Errorf("failed to mark order placed: %w", err)
		}
		order.Status = models.OrderStatusPlaced
		order.PlacedOn = &placedAt
		order.CancelledOn = nil

		util.OrdersPlacedTotal.Inc()
		s.logger.Info("Cancelled order re-placed", zap.Int64("order_id", order.ID))
		s.publishPlaced(ctx, order, lines, result.Reference)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// AdvanceByTime applies the time-based transitions to one order: placed
// orders dispatch after the dispatch window, dispatched orders complete
// after the completion window, both measured from placed_on. The check is
// idempotent; repeating it with the same now never double-stamps. One call
// may advance two steps when both windows have elapsed.
func (s *OrderService) AdvanceByTime(ctx context.Context, order *models.Order, now time.Time) error {
	if order.Status == models.OrderStatusPlaced && order.PlacedOn != nil &&
		now.Sub(*order.PlacedOn) >= s.dispatchAfter {
		if err := s.orders.MarkOrderDispatched(ctx, order.ID, now); err != nil {
			return fmt.Errorf("failed to dispatch order: %w", err)
		}
		order.Status = models.OrderStatusDispatched
		order.DispatchedOn = &now

		util.OrdersDispatchedTotal.Inc()
		s.logger.Info("Order dispatched", zap.Int64("order_id", order.ID))
		s.publishDispatched(ctx, order)
	}

	if order.Status == models.OrderStatusDispatched && order.PlacedOn != nil &&
		now.Sub(*order.PlacedOn) >= s.completeAfter {
		if err := s.orders.MarkOrderCompleted(ctx, order.ID, now); err != nil {
			return fmt.Errorf("failed to complete order: %w", err)
		}
		order.Status = models.OrderStatusComplete
		order.CompletedOn = &now
		util.OrdersCompletedTotal.Inc()
		s.logger.Info("Order completed", zap.Int64("order_id", order.ID))
	}

	return nil
}

// AdvanceUserOrders runs the time-based check over all of a user's orders.
// Invoked at request entry, before any status-dependent decision is made
// for that request.
func (s *OrderService) AdvanceUserOrders(ctx context.Context, userID int64, now time.Time) error {
	orders, err := s.orders.GetOrdersByUser(ctx, userID)
	if err != nil {
		return err
	}

	for i := range orders {
		if err := s.AdvanceByTime(ctx, &orders[i], now); err != nil {
			return err
		}
	}
	return nil
}

// charge captures payment through the external capability, mapping declines
// to ErrPaymentFailed.
func (s *OrderService) charge(ctx context.Context, amount int64, token string) (*ChargeResult, error) {
	util.PaymentAttemptsTotal.Inc()

	result, err := s.charger.Charge(ctx, amount, "GBP", token)
	if err != nil {
		util.PaymentFailedTotal.Inc()
		s.logger.Warn("Payment capture failed",
			zap.Int64("amount", amount), zap.Error(err))
		if errors.Is(err, ErrPaymentFailed) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrPaymentFailed, err)
	}

	util.PaymentSuccessTotal.Inc()
	return result, nil
}

// reserveOrderStock re-reserves stock for every line, returning the lines
// reserved so far so a partial failure can be rolled back.
func (s *OrderService) reserveOrderStock(ctx context.Context, lines []models.OrderLine) ([]models.OrderLine, error) {
	var reserved []models.OrderLine
	for _, line := range lines {
		product, err := s.products.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return reserved, err
		}
		if product == nil {
			return reserved, fmt.Errorf("product %d missing for line %d", line.ProductID, line.ID)
		}

		if err := s.ledger.Reserve(ctx, product, line.Variant, line.Quantity); err != nil {
			return reserved, err
		}
		reserved = append(reserved, line)
	}
	return reserved, nil
}

// rollbackReservations compensates re-reservations after a failure.
func (s *OrderService) rollbackReservations(ctx context.Context, lines []models.OrderLine) {
	for _, line := range lines {
		product, err := s.products.GetProductByID(ctx, line.ProductID)
		if err != nil || product == nil {
			s.logger.Error("Failed to load product for reservation rollback",
				zap.Int64("product_id", line.ProductID), zap.Error(err))
			continue
		}
		if err := s.ledger.Release(ctx, product, line.Variant, line.Quantity); err != nil {
			s.logger.Error("Failed to roll back reservation",
				zap.Int64("line_id", line.ID), zap.Error(err))
		}
	}
}

// releaseOrderStock returns every line's reserved stock to the ledger.
func (s *OrderService) releaseOrderStock(ctx context.Context, orderID int64) error {
	lines, err := s.orders.GetOrderLines(ctx, orderID)
	if err != nil {
		return err
	}

	for _, line := range lines {
		product, err := s.products.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			continue
		}
		if err := s.ledger.Release(ctx, product, line.Variant, line.Quantity); err != nil {
			return err
		}
	}
	return nil
}

func (s *OrderService) publishPlaced(ctx context.Context, order *models.Order, lines []models.OrderLine, chargeRef string) {
	email := s.userEmail(ctx, order.UserID)

	lineData := make([]models.OrderLineData, 0, len(lines))
	for _, line := range lines {
		lineData = append(lineData, models.OrderLineData{
			ProductID: line.ProductID,
			Variant:   line.Variant,
			Quantity:  line.Quantity,
			UnitPrice: line.UnitPrice,
		})
	}

	event := &models.OrderPlacedEvent{
		BaseEvent:  s.baseEvent(models.EventTypeOrderPlaced),
		OrderID:    order.ID,
		UserID:     order.UserID,
		UserEmail:  email,
		Total:      order.Total,
		ChargeRef:  chargeRef,
		Lines:      lineData,
		ShippingID: order.ShippingID,
	}
	if err := s.events.PublishOrderPlaced(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderPlaced event", zap.Error(err))
	}
}

func (s *OrderService) publishDispatched(ctx context.Context, order *models.Order) {
	event := &models.OrderDispatchedEvent{
		BaseEvent: s.baseEvent(models.EventTypeOrderDispatched),
		OrderID:   order.ID,
		UserID:    order.UserID,
		UserEmail: s.userEmail(ctx, order.UserID),
	}
	if err := s.events.PublishOrderDispatched(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderDispatched event", zap.Error(err))
	}
}

func (s *OrderService) publishCancelled(ctx context.Context, order *models.Order, reason string) {
	event := &models.OrderCancelledEvent{
		BaseEvent: s.baseEvent(models.EventTypeOrderCancelled),
		OrderID:   order.ID,
		UserID:    order.UserID,
		UserEmail: s.userEmail(ctx, order.UserID),
		Reason:    reason,
	}
	if err := s.events.PublishOrderCancelled(ctx, event); err != nil {
		s.logger.Error("Failed to publish OrderCancelled event", zap.Error(err))
	}
}

func (s *OrderService) baseEvent(eventType string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		Timestamp: s.now(),
	}
}

func (s *OrderService) userEmail(ctx context.Context, userID int64) string {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil || user == nil {
		s.logger.Warn("Failed to load user for event", zap.Int64("user_id", userID))
		return ""
	}
	return user.EmailAddress
}

func (s *OrderService) ownedOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, ErrNotFound
	}
	return order, nil
}

func (s *OrderService) invalidateCount(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateBasketCount(ctx, userID); err != nil {
		s.logger.Warn("Basket count cache invalidation failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}
