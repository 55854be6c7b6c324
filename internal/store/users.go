package store

import (
	"context"
	"database/sql"
	"errors"

	"storefront-service/internal/models"

	"github.com/lib/pq"
)

const uniqueViolation = "23505"

// IsUniqueViolation reports whether err is a Postgres unique-constraint
// violation.
func (s *Store) IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// CreateUser creates a new user
func (s *Store) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (first_name, last_name, email_address, password_hash, user_role)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at`

	return s.db.GetContext(ctx, user, query,
		user.FirstName, user.LastName, user.EmailAddress, user.PasswordHash, user.UserRole)
}

// GetUserByID retrieves a user by ID. Returns nil when missing.
func (s *Store) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// GetUserByEmail retrieves a user by email address. Returns nil when
// missing.
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.GetContext(ctx, &user, "SELECT * FROM users WHERE email_address = $1", email)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUserDetails updates a user's name and email address.
func (s *Store) UpdateUserDetails(ctx context.Context, userID int64, firstName, lastName, email string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE users SET first_name = $1, last_name = $2, email_address = $3
		WHERE id = $4`,
		firstName, lastName, email, userID)
	return err
}

// UpdateUserPassword replaces a user's password hash.
func (s *Store) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = $1 WHERE id = $2", passwordHash, userID)
	return err
}
