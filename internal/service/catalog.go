package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
)

// CatalogStore is the slice of the store the catalog needs.
type CatalogStore interface {
	GetProductByID(ctx context.Context, id int64) (*models.Product, error)
	GetProducts(ctx context.Context) ([]models.Product, error)
	GetProductsSorted(ctx context.Context, sortBy, category string) ([]models.Product, error)
	CreateProduct(ctx context.Context, product *models.Product, stock map[string]int) error
	DeleteProduct(ctx context.Context, id int64) error
	SetProductImage(ctx context.Context, id int64, path string) error
	GetStockLevels(ctx context.Context, productID int64) ([]models.StockLevel, error)
}

// CatalogService manages products and their initial stock rows.
type CatalogService struct {
	products CatalogStore
	ledger   *Ledger
	logger   *zap.Logger
}

// NewCatalogService creates a new catalog service
func NewCatalogService(products CatalogStore, ledger *Ledger) *CatalogService {
	return &CatalogService{
		products: products,
		ledger:   ledger,
		logger:   util.GetLogger(),
	}
}

// CreateProduct creates a product with one stock counter per variant of its
// category. Stock values for variants outside the category's family are
// rejected.
func (s *CatalogService) CreateProduct(ctx context.Context, product *models.Product, stock map[string]int) error {
	switch product.Category {
	case models.CategoryTshirt, models.CategoryHat, models.CategoryCD:
	default:
		return fmt.Errorf("unknown product category %q", product.Category)
	}

	for variant, qty := range stock {
		if !models.ValidVariant(product.Category, variant) {
			return fmt.Errorf("%w: %s for category %s", ErrInvalidVariant, variant, product.Category)
		}
		if qty < 0 {
			return fmt.Errorf("initial stock must not be negative, got %d for %s", qty, variant)
		}
	}

	if err := s.products.CreateProduct(ctx, product, stock); err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	s.logger.Info("Product created",
		zap.Int64("product_id", product.ID),
		zap.String("category", product.Category),
		zap.String("name", product.Name))
	return nil
}

// GetProduct retrieves a product with its stock levels.
func (s *CatalogService) GetProduct(ctx context.Context, id int64) (*models.Product, []models.StockLevel, error) {
	product, err := s.products.GetProductByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if product == nil {
		return nil, nil, ErrNotFound
	}

	levels, err := s.products.GetStockLevels(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return product, levels, nil
}

// ListProducts retrieves products with the catalog sort/filter applied.
func (s *CatalogService) ListProducts(ctx context.Context, sortBy, category string) ([]models.Product, error) {
	return s.products.GetProductsSorted(ctx, sortBy, category)
}

// DeleteProduct removes a product and its stock rows.
func (s *CatalogService) DeleteProduct(ctx context.Context, id int64) error {
	if err := s.products.DeleteProduct(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// SetImage records the stored image path for a product.
func (s *CatalogService) SetImage(ctx context.Context, id int64, path string) error {
	product, err := s.products.GetProductByID(ctx, id)
	if err != nil {
		return err
	}
	if product == nil {
		return ErrNotFound
	}
	return s.products.SetProductImage(ctx, id, path)
}

// Replenish adds stock for a product variant.
func (s *CatalogService) Replenish(ctx context.Context, productID int64, variant string, quantity int) error {
	product, err := s.products.GetProductByID(ctx, productID)
	if err != nil {
		return err
	}
	if product == nil {
		return ErrNotFound
	}
	return s.ledger.Replenish(ctx, product, variant, quantity)
}
