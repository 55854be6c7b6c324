package service

import (
	"context"
	"fmt"

	"storefront-service/internal/models"
	"storefront-service/internal/util"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// UserStore is the slice of the store user accounts need. IsUniqueViolation
// lets the service translate constraint failures into ErrDuplicateUser.
type UserStore interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	UpdateUserDetails(ctx context.Context, userID int64, firstName, lastName, email string) error
	UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error
	IsUniqueViolation(err error) bool
}

// UserService manages storefront accounts. Passwords are stored as bcrypt
// hashes only.
type UserService struct {
	users  UserStore
	logger *zap.Logger
}

// NewUserService creates a new user service
func NewUserService(users UserStore) *UserService {
	return &UserService{
		users:  users,
		logger: util.GetLogger(),
	}
}

// CreateUser registers an account with the given role.
func (s *UserService) CreateUser(ctx context.Context, firstName, lastName, email, password, role string) (*models.User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &models.User{
		FirstName:    firstName,
		LastName:     lastName,
		EmailAddress: email,
		PasswordHash: string(hash),
		UserRole:     role,
	}

	if err := s.users.CreateUser(ctx, user); err != nil {
		if s.users.IsUniqueViolation(err) {
			return nil, ErrDuplicateUser
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.logger.Info("User created",
		zap.Int64("user_id", user.ID), zap.String("role", role))
	return user, nil
}

// GetUser retrieves a user by ID.
func (s *UserService) GetUser(ctx context.Context, userID int64) (*models.User, error) {
	user, err := s.users.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}
	return user, nil
}

// EditDetails updates a user's name and email address.
func (s *UserService) EditDetails(ctx context.Context, userID int64, firstName, lastName, email string) error {
	if err := s.users.UpdateUserDetails(ctx, userID, firstName, lastName, email); err != nil {
		if s.users.IsUniqueViolation(err) {
			return ErrDuplicateUser
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

// ResetPassword replaces a user's password after verifying the current one.
func (s *UserService) ResetPassword(ctx context.Context, userID int64, currentPassword, newPassword string) error {
	user, err := s.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(currentPassword)) != nil {
		return ErrNotFound
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}
	return s.users.UpdateUserPassword(ctx, userID, string(hash))
}

// Authenticate verifies credentials, returning the user on success. Wrong
// email and wrong password are indistinguishable.
func (s *UserService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.users.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrNotFound
	}

	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)) != nil {
		return nil, ErrNotFound
	}
	return user, nil
}
