package service

import (
	"context"
	"fmt"
	"time"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// StockStore is the slice of the store the inventory ledger needs. The
// reserve operation is a single conditional update at the storage boundary,
// so check-then-decrement cannot oversell under concurrent requests.
type StockStore interface {
	GetStockLevel(ctx context.Context, productID int64, variant string) (int, error)
	ReserveStock(ctx context.Context, productID int64, variant string, quantity int) (bool, error)
	ReleaseStock(ctx context.Context, productID int64, variant string, quantity int) error
}

// Ledger tracks per-product, per-variant stock counters.
type Ledger struct {
	stock  StockStore
	logger *zap.Logger
}

// NewLedger creates a new inventory ledger
func NewLedger(stock StockStore) *Ledger {
	return &Ledger{
		stock:  stock,
		logger: util.GetLogger(),
	}
}

// CheckAvailable reports whether quantity units of the variant are in
// stock. Callers must not rely on the answer staying true; Reserve re-checks
// atomically.
func (l *Ledger) CheckAvailable(ctx context.Context, product *models.Product, variant string, quantity int) (bool, error) {
	if err := l.validate(product, variant, quantity); err != nil {
		return false, err
	}

	available, err := l.stock.GetStockLevel(ctx, product.ID, variant)
	if err != nil {
		return false, fmt.Errorf("failed to read stock level: %w", err)
	}
	return available >= quantity, nil
}

// Reserve decrements the variant's counter by quantity. The decrement and
// the availability check execute as one statement; a counter is never driven
// negative. Returns ErrStockInsufficient when the stock does not cover the
// request.
func (l *Ledger) Reserve(ctx context.Context, product *models.Product, variant string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "Ledger.Reserve")
	defer span.End()

	if err := l.validate(product, variant, quantity); err != nil {
		return err
	}

	start := time.Now()
	defer func() {
		util.StockReserveLatency.Observe(time.Since(start).Seconds())
	}()

	ok, err := l.stock.ReserveStock(ctx, product.ID, variant, quantity)
	if err != nil {
		util.StockReservationsFailed.WithLabelValues("error").Inc()
		return fmt.Errorf("failed to reserve stock: %w", err)
	}
	if !ok {
		util.StockReservationsFailed.WithLabelValues("insufficient_stock").Inc()
		return ErrStockInsufficient
	}

	return nil
}

// Release returns quantity units of the variant to the pool.
func (l *Ledger) Release(ctx context.Context, product *models.Product, variant string, quantity int) error {
	ctx, span := util.StartSpan(ctx, "Ledger.Release")
	defer span.End()

	if err := l.validate(product, variant, quantity); err != nil {
		return err
	}

	if err := l.stock.ReleaseStock(ctx, product.ID, variant, quantity); err != nil {
		return fmt.Errorf("failed to release stock: %w", err)
	}
	return nil
}

// Replenish adds quantity units of the variant for staff stock intake.
func (l *Ledger) Replenish(ctx context.Context, product *models.Product, variant string, quantity int) error {
	if err := l.validate(product, variant, quantity); err != nil {
		return err
	}

	if err := l.stock.ReleaseStock(ctx, product.ID, variant, quantity); err != nil {
		return fmt.Errorf("failed to replenish stock: %w", err)
	}

	l.logger.Info("Stock replenished",
		zap.Int64("product_id", product.ID),
		zap.String("variant", variant),
		zap.Int("quantity", quantity))
	return nil
}

func (l *Ledger) validate(product *models.Product, variant string, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("quantity must be positive, got %d", quantity)
	}
	if !models.ValidVariant(product.Category, variant) {
		return fmt.Errorf("%w: %s for category %s", ErrInvalidVariant, variant, product.Category)
	}
	return nil
}
