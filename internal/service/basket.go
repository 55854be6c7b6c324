package service

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// OrderStore is the slice of the store the order aggregate and the status
// machine need. *store.Store satisfies it.
type OrderStore interface {
	GetOpenOrderByUser(ctx context.Context, userID int64) (*models.Order, error)
	CreateOrder(ctx context.Context, order *models.Order) error
	GetOrderByID(ctx context.Context, id int64) (*models.Order, error)
	GetOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error)
	GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error)
	GetOrderLine(ctx context.Context, lineID int64) (*models.OrderLine, error)
	FindOrderLine(ctx context.Context, orderID, productID int64, variant string) (*models.OrderLine, error)
	CreateOrderLine(ctx context.Context, line *models.OrderLine) error
	UpdateLineQuantity(ctx context.Context, lineID int64, quantity int) error
	DeleteOrderLine(ctx context.Context, lineID int64) error
	RecomputeOrderTotal(ctx context.Context, orderID int64) (int64, error)
	MarkOrderPlaced(ctx context.Context, orderID int64, at time.Time) error
	MarkOrderDispatched(ctx context.Context, orderID int64, at time.Time) error
	MarkOrderCompleted(ctx context.Context, orderID int64, at time.Time) error
	MarkOrderCancelled(ctx context.Context, orderID int64, at time.Time) error
	SetOrderAddress(ctx context.Context, orderID, addressID int64) error
	SetOrderShipping(ctx context.Context, orderID, shippingID int64) error
	BasketItemCount(ctx context.Context, userID int64) (int, error)
	CountActiveOrdersForAddress(ctx context.Context, addressID int64) (int, error)
	GetOrderByCheckoutKey(ctx context.Context, key string) (*models.Order, error)
	SaveCheckoutKey(ctx context.Context, key string, orderID int64) error
}

// ProductGetter loads products for line mutations.
type ProductGetter interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
}

// Locker serializes mutations per aggregate. Basket mutations lock the
// order, the default-address swap locks the user.
type Locker interface {
	WithLock(ctx context.Context, key string, fn func(ctx context.Context) error) error
}

// BasketCache caches the per-user basket item count shown on every page.
type BasketCache interface {
	GetBasketCount(ctx context.Context, userID int64) (int, bool, error)
	SetBasketCount(ctx context.Context, userID int64, count int) error
	InvalidateBasketCount(ctx context.Context, userID int64) error
}

// BasketService owns the open order that acts as the user's basket: line
// mutations, stock reservation hand-off and total recomputation.
type BasketService struct {
	orders    OrderStore
	products  ProductGetter
	addresses AddressStore
	shipping  ShippingGetter
	ledger    *Ledger
	locks     Locker
	cache     BasketCache
	logger    *zap.Logger
	now       func() time.Time
}

// NewBasketService creates a new basket service
func NewBasketService(
	orders OrderStore,
	products ProductGetter,
	addresses AddressStore,
	shipping ShippingGetter,
	ledger *Ledger,
	locks Locker,
	cache BasketCache,
) *BasketService {
	return &BasketService{
		orders:    orders,
		products:  products,
		addresses: addresses,
		shipping:  shipping,
		ledger:    ledger,
		locks:     locks,
		cache:     cache,
		logger:    util.GetLogger(),
		now:       time.Now,
	}
}

func orderLockKey(orderID int64) string { return fmt.Sprintf("order:%d", orderID) }
func userLockKey(userID int64) string   { return fmt.Sprintf("user:%d", userID) }

// GetOrCreateOpenOrder returns the user's open order, creating one
// pre-populated with their default address when none exists. Creation runs
// under the per-user lock so two concurrent first-adds cannot both create;
// the partial unique index on open orders is the storage-level backstop.
func (s *BasketService) GetOrCreateOpenOrder(ctx context.Context, userID int64) (*models.Order, error) {
	var order *models.Order

	err := s.locks.WithLock(ctx, userLockKey(userID), func(ctx context.Context) error {
		existing, err := s.orders.GetOpenOrderByUser(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to look up open order: %w", err)
		}
		if existing != nil {
			order = existing
			return nil
		}

		created := &models.Order{UserID: userID}
		defaultAddr, err := s.addresses.GetDefaultAddress(ctx, userID)
		if err != nil {
			return fmt.Errorf("failed to look up default address: %w", err)
		}
		if defaultAddr != nil {
			created.AddressID = &defaultAddr.ID
		}

		if err := s.orders.CreateOrder(ctx, created); err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}

		s.logger.Info("Open order created",
			zap.Int64("order_id", created.ID),
			zap.Int64("user_id", userID))
		order = created
		return nil
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// GetBasket returns the user's open order and its lines. Order is nil when
// the basket is empty and no open order exists.
func (s *BasketService) GetBasket(ctx context.Context, userID int64) (*models.Order, []models.OrderLine, error) {
	order, err := s.orders.GetOpenOrderByUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if order == nil {
		return nil, nil, nil
	}

	lines, err := s.orders.GetOrderLines(ctx, order.ID)
	if err != nil {
		return nil, nil, err
	}
	return order, lines, nil
}

// AddLine adds quantity units of a product variant to the user's basket,
// reserving the stock first. An existing line for the same (product,
// variant) pair has its quantity increased instead of a duplicate being
// created. A failed reservation leaves the basket untouched.
func (s *BasketService) AddLine(ctx context.Context, userID, productID int64, variant string, quantity int) (*models.Order, error) {
	ctx, span := util.StartSpan(ctx, "BasketService.AddLine")
	defer span.End()

	if quantity <= 0 {
		return nil, fmt.Errorf("quantity must be positive, got %d", quantity)
	}

	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, ErrNotFound
	}
	if !models.ValidVariant(product.Category, variant) {
		return nil, fmt.Errorf("%w: %s for category %s", ErrInvalidVariant, variant, product.Category)
	}

	order, err := s.GetOrCreateOpenOrder(ctx, userID)
	if err != nil {
		return nil, err
	}

	err = s.locks.WithLock(ctx, orderLockKey(order.ID), func(ctx context.Context) error {
		if err := s.ledger.Reserve(ctx, product, variant, quantity); err != nil {
			return err
		}

		existing, err := s.orders.FindOrderLine(ctx, order.ID, productID, variant)
		if err != nil {
			return fmt.Errorf("failed to look up order line: %w", err)
		}

		if existing != nil {
			err = s.orders.UpdateLineQuantity(ctx, existing.ID, existing.Quantity+quantity)
		} else {
			err = s.orders.CreateOrderLine(ctx, &models.OrderLine{
				OrderID:   order.ID,
				ProductID: productID,
				Variant:   variant,
				Quantity:  quantity,
				UnitPrice: product.Price,
			})
		}
		if err != nil {
			// The reservation is already committed; hand it back rather
			// than leak stock.
			if relErr := s.ledger.Release(ctx, product, variant, quantity); relErr != nil {
				s.logger.Error("Failed to release stock after line failure",
					zap.Int64("product_id", productID), zap.Error(relErr))
			}
			return fmt.Errorf("failed to write order line: %w", err)
		}

		order.Total, err = s.orders.RecomputeOrderTotal(ctx, order.ID)
		return err
	})
	if err != nil {
		return nil, err
	}

	util.BasketMutationsTotal.WithLabelValues("add").Inc()
	s.invalidateCount(ctx, userID)
	return order, nil
}

// ChangeLineQuantity sets a line to newQuantity, reserving or releasing the
// signed difference. A no-op change is a caller error; a change to zero
// removes the line.
func (s *BasketService) ChangeLineQuantity(ctx context.Context, userID, lineID int64, newQuantity int) error {
	ctx, span := util.StartSpan(ctx, "BasketService.ChangeLineQuantity")
	defer span.End()

	if newQuantity < 0 {
		return fmt.Errorf("quantity must not be negative, got %d", newQuantity)
	}
	if newQuantity == 0 {
		return s.RemoveLine(ctx, userID, lineID)
	}

	stale, err := s.orders.GetOrderLine(ctx, lineID)
	if err != nil {
		return err
	}
	if stale == nil {
		return ErrNotFound
	}

	// The line is re-read under the lock: another request may have changed
	// its quantity between our first read and acquiring the lock, and the
	// reserved delta must come from the current value.
	err = s.locks.WithLock(ctx, orderLockKey(stale.OrderID), func(ctx context.Context) error {
		line, order, err := s.ownedOpenLine(ctx, userID, lineID)
		if err != nil {
			return err
		}
		if newQuantity == line.Quantity {
			return ErrNoOpQuantityChange
		}

		product, err := s.products.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return ErrNotFound
		}

		delta := newQuantity - line.Quantity
		if delta > 0 {
			if err := s.ledger.Reserve(ctx, product, line.Variant, delta); err != nil {
				return err
			}
		} else {
			if err := s.ledger.Release(ctx, product, line.Variant, -delta); err != nil {
				return err
			}
		}

		if err := s.orders.UpdateLineQuantity(ctx, line.ID, newQuantity); err != nil {
			s.undoAdjustment(ctx, product, line.Variant, delta)
			return fmt.Errorf("failed to update line quantity: %w", err)
		}

		_, err = s.orders.RecomputeOrderTotal(ctx, order.ID)
		return err
	})
	if err != nil {
		return err
	}

	util.BasketMutationsTotal.WithLabelValues("change_quantity").Inc()
	s.invalidateCount(ctx, userID)
	return nil
}

// undoAdjustment reverses a committed stock adjustment after a later write
// in the same mutation failed. Stock discrepancies here are logged rather
// than surfaced; the caller already has the write error.
func (s *BasketService) undoAdjustment(ctx context.Context, product *models.Product, variant string, delta int) {
	var err error
	if delta > 0 {
		err = s.ledger.Release(ctx, product, variant, delta)
	} else {
		err = s.ledger.Reserve(ctx, product, variant, -delta)
	}
	if err != nil {
		s.logger.Error("Failed to undo stock adjustment after line failure",
			zap.Int64("product_id", product.ID), zap.Error(err))
	}
}

// RemoveLine deletes the line and releases its reserved stock. Removing
// the last line cancels the order instead of leaving an empty open order.
func (s *BasketService) RemoveLine(ctx context.Context, userID, lineID int64) error {
	ctx, span := util.StartSpan(ctx, "BasketService.RemoveLine")
	defer span.End()

	stale, err := s.orders.GetOrderLine(ctx, lineID)
	if err != nil {
		return err
	}
	if stale == nil {
		return ErrNotFound
	}

	err = s.locks.WithLock(ctx, orderLockKey(stale.OrderID), func(ctx context.Context) error {
		// Re-read under the lock so the released quantity reflects any
		// concurrent change committed before we got here.
		line, order, err := s.ownedOpenLine(ctx, userID, lineID)
		if err != nil {
			return err
		}

		product, err := s.products.GetProductByID(ctx, line.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return ErrNotFound
		}

		lines, err := s.orders.GetOrderLines(ctx, order.ID)
		if err != nil {
			return err
		}

		// Delete before releasing: a failed delete must not put the
		// still-reserved units back on sale.
		if err := s.orders.DeleteOrderLine(ctx, line.ID); err != nil {
			return fmt.Errorf("failed to delete order line: %w", err)
		}
		if err := s.ledger.Release(ctx, product, line.Variant, line.Quantity); err != nil {
			return err
		}

		if len(lines) == 1 {
			if err := s.orders.MarkOrderCancelled(ctx, order.ID, s.now()); err != nil {
				return fmt.Errorf("failed to cancel emptied order: %w", err)
			}
			util.OrdersCancelledTotal.WithLabelValues("basket_emptied").Inc()
			s.logger.Info("Order cancelled after last line removed",
				zap.Int64("order_id", order.ID))
			return nil
		}

		_, err = s.orders.RecomputeOrderTotal(ctx, order.ID)
		return err
	})
	if err != nil {
		return err
	}

	util.BasketMutationsTotal.WithLabelValues("remove").Inc()
	s.invalidateCount(ctx, userID)
	return nil
}

// SetShipping changes the open order's shipping option.
func (s *BasketService) SetShipping(ctx context.Context, userID, orderID, shippingID int64) error {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusOpen {
		return ErrInvalidTransition
	}

	option, err := s.shipping.GetShippingOption(ctx, shippingID)
	if err != nil {
		return err
	}
	if option == nil {
		return ErrNotFound
	}

	return s.orders.SetOrderShipping(ctx, orderID, shippingID)
}

// SetAddress attaches one of the user's addresses to an order. Permitted
// while the order is open or placed; a dispatched order's destination can no
// longer change.
func (s *BasketService) SetAddress(ctx context.Context, userID, orderID, addressID int64) error {
	order, err := s.ownedOrder(ctx, userID, orderID)
	if err != nil {
		return err
	}
	if order.Status != models.OrderStatusOpen && order.Status != models.OrderStatusPlaced {
		return ErrInvalidTransition
	}

	addr, err := s.addresses.GetAddressByID(ctx, addressID)
	if err != nil {
		return err
	}
	if addr == nil || addr.UserID != userID {
		return ErrNotFound
	}

	return s.orders.SetOrderAddress(ctx, orderID, addressID)
}

// BasketCount returns the user's basket item count, served from cache when
// possible.
func (s *BasketService) BasketCount(ctx context.Context, userID int64) (int, error) {
	count, ok, err := s.cache.GetBasketCount(ctx, userID)
	if err != nil {
		s.logger.Warn("Basket count cache read failed", zap.Error(err))
	} else if ok {
		return count, nil
	}

	count, err = s.orders.BasketItemCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	if err := s.cache.SetBasketCount(ctx, userID, count); err != nil {
		s.logger.Warn("Basket count cache write failed", zap.Error(err))
	}
	return count, nil
}

func (s *BasketService) invalidateCount(ctx context.Context, userID int64) {
	if err := s.cache.InvalidateBasketCount(ctx, userID); err != nil {
		s.logger.Warn("Basket count cache invalidation failed",
			zap.Int64("user_id", userID), zap.Error(err))
	}
}

// ownedOpenLine loads a line and its order, folding missing entities and
// foreign ownership into ErrNotFound.
func (s *BasketService) ownedOpenLine(ctx context.Context, userID, lineID int64) (*models.OrderLine, *models.Order, error) {
	line, err := s.orders.GetOrderLine(ctx, lineID)
	if err != nil {
		return nil, nil, err
	}
	if line == nil {
		return nil, nil, ErrNotFound
	}

	order, err := s.ownedOrder(ctx, userID, line.OrderID)
	if err != nil {
		return nil, nil, err
	}
	if order.Status != models.OrderStatusOpen {
		return nil, nil, ErrInvalidTransition
	}
	return line, order, nil
}

func (s *BasketService) ownedOrder(ctx context.Context, userID, orderID int64) (*models.Order, error) {
	order, err := s.orders.GetOrderByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order == nil || order.UserID != userID {
		return nil, ErrNotFound
	}
	return order, nil
}
