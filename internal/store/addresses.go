package store

import (
	"context"
	"database/sql"

	"storefront-service/internal/models"
)

// CreateAddress creates a new address
func (s *Store) CreateAddress(ctx context.Context, addr *models.AddressDetails) error {
	query := `
		INSERT INTO address_details (user_id, line1, line2, town, city, postcode, is_default)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	return s.db.GetContext(ctx, &addr.ID, query,
		addr.UserID, addr.Line1, addr.Line2, addr.Town, addr.City, addr.Postcode, addr.IsDefault)
}

// GetAddressByID retrieves an address by ID. Returns nil when missing.
func (s *Store) GetAddressByID(ctx context.Context, id int64) (*models.AddressDetails, error) {
	var addr models.AddressDetails
	err := s.db.GetContext(ctx, &addr, "SELECT * FROM address_details WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// GetAddressesByUser retrieves a user's addresses, default first.
func (s *Store) GetAddressesByUser(ctx context.Context, userID int64) ([]models.AddressDetails, error) {
	var addrs []models.AddressDetails
	err := s.db.SelectContext(ctx, &addrs,
		"SELECT * FROM address_details WHERE user_id = $1 ORDER BY is_default DESC, id",
		userID)
	return addrs, err
}

// GetDefaultAddress retrieves the user's default address, nil when they
// have none.
func (s *Store) GetDefaultAddress(ctx context.Context, userID int64) (*models.AddressDetails, error) {
	var addr models.AddressDetails
	err := s.db.GetContext(ctx, &addr,
		"SELECT * FROM address_details WHERE user_id = $1 AND is_default", userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &addr, nil
}

// UpdateAddress updates an address's postal fields.
func (s *Store) UpdateAddress(ctx context.Context, addr *models.AddressDetails) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE address_details
		SET line1 = $1, line2 = $2, town = $3, city = $4, postcode = $5
		WHERE id = $6`,
		addr.Line1, addr.Line2, addr.Town, addr.City, addr.Postcode, addr.ID)
	return err
}

// DeleteAddress removes an address.
func (s *Store) DeleteAddress(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM address_details WHERE id = $1", id)
	return err
}

// ClearDefaultAddress clears the user's current default flag, if any. Paired
// with SetDefaultAddress under the per-user lock so the partial unique index
// never trips.
func (s *Store) ClearDefaultAddress(ctx context.Context, userID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE address_details SET is_default = FALSE WHERE user_id = $1 AND is_default",
		userID)
	return err
}

// SetDefaultAddress marks an address as the user's default.
func (s *Store) SetDefaultAddress(ctx context.Context, addressID int64) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE address_details SET is_default = TRUE WHERE id = $1", addressID)
	return err
}
