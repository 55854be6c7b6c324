package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"storefront-service/internal/models"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationFiles, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}

	driver, err := postgres.WithInstance(s.db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to init migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to init migrations: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}
	return nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetProductByID retrieves a product by ID
func (s *Store) GetProductByID(ctx context.Context, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product, "SELECT * FROM products WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// GetProducts retrieves all products ordered by name.
func (s *Store) GetProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY name")
	return products, err
}

// GetProductsSorted retrieves products with the catalog sort/filter applied.
// sortBy is one of price_asc, price_desc, name; category filters when
// non-empty.
func (s *Store) GetProductsSorted(ctx context.Context, sortBy, category string) ([]models.Product, error) {
	order := "name"
	switch sortBy {
	case "price_asc":
		order = "price"
	case "price_desc":
		order = "price DESC"
	}

	var products []models.Product
	var err error
	if category != "" {
		err = s.db.SelectContext(ctx, &products,
			"SELECT * FROM products WHERE category = $1 ORDER BY "+order, category)
	} else {
		err = s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY "+order)
	}
	return products, err
}

// CreateProduct inserts a product and one stock row per variant of its
// category.
func (s *Store) CreateProduct(ctx context.Context, product *models.Product, stock map[string]int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	err = tx.GetContext(ctx, product, `
		INSERT INTO products (category, name, price, description, image_path)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`,
		product.Category, product.Name, product.Price, product.Description, product.ImagePath)
	if err != nil {
		return fmt.Errorf("failed to create product: %w", err)
	}

	for _, variant := range models.VariantsFor(product.Category) {
		_, err = tx.ExecContext(ctx,
			"INSERT INTO stock_levels (product_id, variant, available) VALUES ($1, $2, $3)",
			product.ID, variant, stock[variant])
		if err != nil {
			return fmt.Errorf("failed to create stock level: %w", err)
		}
	}

	return tx.Commit()
}

// DeleteProduct removes a product and its stock rows.
func (s *Store) DeleteProduct(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM products WHERE id = $1", id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// SetProductImage records the stored image path for a product.
func (s *Store) SetProductImage(ctx context.Context, id int64, path string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE products SET image_path = $1 WHERE id = $2", path, id)
	return err
}

// GetStockLevel retrieves the available counter for one product variant.
func (s *Store) GetStockLevel(ctx context.Context, productID int64, variant string) (int, error) {
	var available int
	err := s.db.GetContext(ctx, &available,
		"SELECT available FROM stock_levels WHERE product_id = $1 AND variant = $2",
		productID, variant)
	if err == sql.ErrNoRows {
		return 0, fmt.Errorf("no stock level for product %d variant %s", productID, variant)
	}
	if err != nil {
		return 0, err
	}
	return available, nil
}

// GetStockLevels retrieves all stock rows for a product.
func (s *Store) GetStockLevels(ctx context.Context, productID int64) ([]models.StockLevel, error) {
	var levels []models.StockLevel
	err := s.db.SelectContext(ctx, &levels,
		"SELECT * FROM stock_levels WHERE product_id = $1 ORDER BY variant", productID)
	return levels, err
}

// ReserveStock decrements a stock counter as a single conditional update.
// It returns false when the counter holds less than quantity; the counter
// can never go negative because the check and the decrement are one
// statement.
func (s *Store) ReserveStock(ctx context.Context, productID int64, variant string, quantity int) (bool, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE stock_levels
		SET available = available - $1, updated_at = NOW()
		WHERE product_id = $2 AND variant = $3 AND available >= $1`,
		quantity, productID, variant)
	if err != nil {
		return false, fmt.Errorf("failed to reserve stock: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// ReleaseStock increments a stock counter, returning previously reserved
// units to the pool. Also used for staff stock intake.
func (s *Store) ReleaseStock(ctx context.Context, productID int64, variant string, quantity int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE stock_levels
		SET available = available + $1, updated_at = NOW()
		WHERE product_id = $2 AND variant = $3`,
		quantity, productID, variant)
	return err
}

// GetShippingOptions retrieves all shipping options.
func (s *Store) GetShippingOptions(ctx context.Context) ([]models.ShippingOption, error) {
	var options []models.ShippingOption
	err := s.db.SelectContext(ctx, &options, "SELECT * FROM shipping_options ORDER BY id")
	return options, err
}

// GetShippingOption retrieves a shipping option by ID.
func (s *Store) GetShippingOption(ctx context.Context, id int64) (*models.ShippingOption, error) {
	var option models.ShippingOption
	err := s.db.GetContext(ctx, &option, "SELECT * FROM shipping_options WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &option, nil
}
