package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errDuplicateEmail = errors.New("duplicate key value violates unique constraint")

// memUserStore backs the user service in tests, enforcing the unique email
// constraint the way Postgres would.
type memUserStore struct {
	mu     sync.Mutex
	nextID int64
	users  map[int64]*models.User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[int64]*models.User)}
}

func (m *memUserStore) CreateUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.EmailAddress, user.EmailAddress) {
			return errDuplicateEmail
		}
	}
	m.nextID++
	user.ID = m.nextID
	cp := *user
	m.users[user.ID] = &cp
	return nil
}

func (m *memUserStore) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (m *memUserStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, u := range m.users {
		if strings.EqualFold(u.EmailAddress, email) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memUserStore) UpdateUserDetails(ctx context.Context, userID int64, firstName, lastName, email string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, u := range m.users {
		if id != userID && strings.EqualFold(u.EmailAddress, email) {
			return errDuplicateEmail
		}
	}
	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.FirstName, u.LastName, u.EmailAddress = firstName, lastName, email
	return nil
}

func (m *memUserStore) UpdateUserPassword(ctx context.Context, userID int64, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	u, ok := m.users[userID]
	if !ok {
		return fmt.Errorf("user %d not found", userID)
	}
	u.PasswordHash = passwordHash
	return nil
}

func (m *memUserStore) IsUniqueViolation(err error) bool {
	return errors.Is(err, errDuplicateEmail)
}

func TestCreateUserHashesPassword(t *testing.T) {
	svc := NewUserService(newMemUserStore())
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Alice", "Smith", "alice@example.com", "hunter2secret", models.RoleCustomer)
	require.NoError(t, err)

	assert.NotEmpty(t, user.PasswordHash)
	assert.NotContains(t, user.PasswordHash, "hunter2secret")
	assert.Equal(t, models.RoleCustomer, user.UserRole)
}

func TestCreateUserDuplicateEmail(t *testing.T) {
	svc := NewUserService(newMemUserStore())
	ctx := context.Background()

	_, err := svc.CreateUser(ctx, "Alice", "Smith", "alice@example.com", "hunter2secret", models.RoleCustomer)
	require.NoError(t, err)

	_, err = svc.CreateUser(ctx, "Other", "Alice", "Alice@Example.com", "different-pw", models.RoleCustomer)
	assert.ErrorIs(t, err, ErrDuplicateUser)
}

func TestAuthenticate(t *testing.T) {
	svc := NewUserService(newMemUserStore())
	ctx := context.Background()

	created, err := svc.CreateUser(ctx, "Alice", "Smith", "alice@example.com", "hunter2secret", models.RoleCustomer)
	require.NoError(t, err)

	user, err := svc.Authenticate(ctx, "alice@example.com", "hunter2secret")
	require.NoError(t, err)
	assert.Equal(t, created.ID, user.ID)

	// Wrong password and unknown email are indistinguishable.
	_, badPw := svc.Authenticate(ctx, "alice@example.com", "wrong")
	_, badEmail := svc.Authenticate(ctx, "nobody@example.com", "hunter2secret")
	assert.ErrorIs(t, badPw, ErrNotFound)
	assert.ErrorIs(t, badEmail, ErrNotFound)
}

func TestResetPassword(t *testing.T) {
	svc := NewUserService(newMemUserStore())
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Alice", "Smith", "alice@example.com", "hunter2secret", models.RoleCustomer)
	require.NoError(t, err)

	err = svc.ResetPassword(ctx, user.ID, "not-the-password", "new-password-1")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, svc.ResetPassword(ctx, user.ID, "hunter2secret", "new-password-1"))

	_, err = svc.Authenticate(ctx, "alice@example.com", "new-password-1")
	assert.NoError(t, err)
	_, err = svc.Authenticate(ctx, "alice@example.com", "hunter2secret")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEditDetails(t *testing.T) {
	store := newMemUserStore()
	svc := NewUserService(store)
	ctx := context.Background()

	user, err := svc.CreateUser(ctx, "Alice", "Smith", "alice@example.com", "hunter2secret", models.RoleCustomer)
	require.NoError(t, err)
	_, err = svc.CreateUser(ctx, "Bob", "Jones", "bob@example.com", "bobpassword1", models.RoleCustomer)
	require.NoError(t, err)

	require.NoError(t, svc.EditDetails(ctx, user.ID, "Alice", "Jones", "alice.jones@example.com"))
	got, err := svc.GetUser(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jones", got.LastName)

	err = svc.EditDetails(ctx, user.ID, "Alice", "Jones", "bob@example.com")
	assert.ErrorIs(t, err, ErrDuplicateUser)
}
