package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"storefront-service/internal/models"
)

// CreateOrder creates a new order. Status defaults to open and shipping to
// the standard option.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) error {
	query := `
		INSERT INTO orders (user_id, address_id)
		VALUES ($1, $2)
		RETURNING id, shipping_id, status, total, created_at, updated_at`

	return s.db.GetContext(ctx, order, query, order.UserID, order.AddressID)
}

// GetOrderByID retrieves an order by ID. Returns nil when missing.
func (s *Store) GetOrderByID(ctx context.Context, id int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, "SELECT * FROM orders WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOpenOrderByUser retrieves the user's open order, nil when they have
// none.
func (s *Store) GetOpenOrderByUser(ctx context.Context, userID int64) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE user_id = $1 AND status = 'open'", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// GetOrdersByUser retrieves all orders for a user, newest placed first.
func (s *Store) GetOrdersByUser(ctx context.Context, userID int64) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders,
		"SELECT * FROM orders WHERE user_id = $1 ORDER BY placed_on DESC NULLS LAST, id DESC",
		userID)
	return orders, err
}

// GetOrderLines retrieves all lines for an order.
func (s *Store) GetOrderLines(ctx context.Context, orderID int64) ([]models.OrderLine, error) {
	var lines []models.OrderLine
	err := s.db.SelectContext(ctx, &lines,
		"SELECT * FROM order_lines WHERE order_id = $1 ORDER BY id", orderID)
	return lines, err
}

// GetOrderLine retrieves a line by ID. Returns nil when missing.
func (s *Store) GetOrderLine(ctx context.Context, lineID int64) (*models.OrderLine, error) {
	var line models.OrderLine
	err := s.db.GetContext(ctx, &line, "SELECT * FROM order_lines WHERE id = $1", lineID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// FindOrderLine retrieves the line for a (product, variant) pair within an
// order, nil when the order has no such line.
func (s *Store) FindOrderLine(ctx context.Context, orderID, productID int64, variant string) (*models.OrderLine, error) {
	var line models.OrderLine
	err := s.db.GetContext(ctx, &line,
		"SELECT * FROM order_lines WHERE order_id = $1 AND product_id = $2 AND variant = $3",
		orderID, productID, variant)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &line, nil
}

// CreateOrderLine creates a new order line
func (s *Store) CreateOrderLine(ctx context.Context, line *models.OrderLine) error {
	query := `
		INSERT INTO order_lines (order_id, product_id, variant, quantity, unit_price)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`

	return s.db.GetContext(ctx, &line.ID, query,
		line.OrderID, line.ProductID, line.Variant, line.Quantity, line.UnitPrice)
}

// UpdateLineQuantity sets a line's quantity.
func (s *Store) UpdateLineQuantity(ctx context.Context, lineID int64, quantity int) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE order_lines SET quantity = $1 WHERE id = $2", quantity, lineID)
	return err
}

// DeleteOrderLine removes a line.
func (s *Store) DeleteOrderLine(ctx context.Context, lineID int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM order_lines WHERE id = $1", lineID)
	return err
}

// RecomputeOrderTotal re-derives the order total from its live lines in a
// single statement and returns the new value. The total is never trusted
// incrementally.
func (s *Store) RecomputeOrderTotal(ctx context.Context, orderID int64) (int64, error) {
	var total int64
	err := s.db.GetContext(ctx, &total, `
		UPDATE orders
		SET total = (
			SELECT COALESCE(SUM(quantity * unit_price), 0)
			FROM order_lines WHERE order_id = $1
		), updated_at = NOW()
		WHERE id = $1
		RETURNING total`, orderID)
	if err != nil {
		return 0, fmt.Errorf("failed to recompute order total: %w", err)
	}
	return total, nil
}

// MarkOrderPlaced transitions an order to placed, stamping placed_on and
// clearing any previous cancellation.
func (s *Store) MarkOrderPlaced(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'placed', placed_on = $1, cancelled_on = NULL, updated_at = NOW()
		WHERE id = $2`, at, orderID)
	return err
}

// MarkOrderDispatched transitions an order to dispatched.
func (s *Store) MarkOrderDispatched(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'dispatched', dispatched_on = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'placed'`, at, orderID)
	return err
}

// MarkOrderCompleted transitions an order to complete.
func (s *Store) MarkOrderCompleted(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'complete', completed_on = $1, updated_at = NOW()
		WHERE id = $2 AND status = 'dispatched'`, at, orderID)
	return err
}

// MarkOrderCancelled transitions an order to cancelled, clearing placed_on.
func (s *Store) MarkOrderCancelled(ctx context.Context, orderID int64, at time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE orders
		SET status = 'cancelled', placed_on = NULL, cancelled_on = $1, updated_at = NOW()
		WHERE id = $2`, at, orderID)
	return err
}

// SetOrderAddress attaches a shipping address to an order.
func (s *Store) SetOrderAddress(ctx context.Context, orderID, addressID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET address_id = $1, updated_at = NOW() WHERE id = $2",
		addressID, orderID)
	return err
}

// SetOrderShipping changes an order's shipping option.
func (s *Store) SetOrderShipping(ctx context.Context, orderID, shippingID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET shipping_id = $1, updated_at = NOW() WHERE id = $2",
		shippingID, orderID)
	return err
}

// BasketItemCount sums the quantities in the user's open order.
func (s *Store) BasketItemCount(ctx context.Context, userID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COALESCE(SUM(l.quantity), 0)
		FROM order_lines l
		JOIN orders o ON o.id = l.order_id
		WHERE o.user_id = $1 AND o.status = 'open'`, userID)
	return count, err
}

// CountActiveOrdersForAddress counts placed or dispatched orders that still
// reference an address.
func (s *Store) CountActiveOrdersForAddress(ctx context.Context, addressID int64) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count, `
		SELECT COUNT(*) FROM orders
		WHERE address_id = $1 AND status IN ('placed', 'dispatched')`, addressID)
	return count, err
}

// GetOrderByCheckoutKey retrieves the order a checkout idempotency key was
// recorded against, nil when the key is unused.
func (s *Store) GetOrderByCheckoutKey(ctx context.Context, key string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order, `
		SELECT o.* FROM orders o
		JOIN checkout_keys k ON k.order_id = o.id
		WHERE k.idempotency_key = $1`, key)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// SaveCheckoutKey records a checkout idempotency key.
func (s *Store) SaveCheckoutKey(ctx context.Context, key string, orderID int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO checkout_keys (idempotency_key, order_id)
		VALUES ($1, $2)
		ON CONFLICT (idempotency_key) DO NOTHING`, key, orderID)
	return err
}
