package service

import (
	"context"
	"testing"

	"storefront-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAddressEnv() (*testEnv, *AddressService) {
	env := newTestEnv()
	svc := NewAddressService(env.store, env.store, newMemLocker())
	return env, svc
}

func defaultCount(t *testing.T, env *testEnv, userID int64) int {
	t.Helper()
	addrs, err := env.store.GetAddressesByUser(context.Background(), userID)
	require.NoError(t, err)
	count := 0
	for _, a := range addrs {
		if a.IsDefault {
			count++
		}
	}
	return count
}

func TestAddAddressBecomesDefault(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()
	user := env.store.addUser("alice@example.com")

	first, err := svc.AddAddress(ctx, user.ID, AddressFields{Line1: "1 First St", City: "London", Postcode: "N1 1AA"})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)

	second, err := svc.AddAddress(ctx, user.ID, AddressFields{Line1: "2 Second St", City: "Leeds", Postcode: "LS1 1AA"})
	require.NoError(t, err)
	assert.True(t, second.IsDefault)

	// The first address lost its default flag; exactly one default remains.
	assert.Equal(t, 1, defaultCount(t, env, user.ID))
	def, err := svc.GetDefault(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, def.ID)
}

func TestAddAddressAttachesToOpenOrder(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()

	user := env.store.addUser("alice@example.com")
	cd := env.store.addProduct(models.CategoryCD, "Live Album", 1000, 5)

	order, err := env.basket.AddLine(ctx, user.ID, cd.ID, models.VariantOneSize, 1)
	require.NoError(t, err)
	assert.Nil(t, order.AddressID)

	addr, err := svc.AddAddress(ctx, user.ID, AddressFields{Line1: "1 First St", City: "London", Postcode: "N1 1AA"})
	require.NoError(t, err)

	got, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, got.AddressID)
	assert.Equal(t, addr.ID, *got.AddressID)
}

func TestSetDefaultIsIdempotent(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()
	user := env.store.addUser("alice@example.com")

	a := env.store.addAddress(user.ID, true)
	env.store.addAddress(user.ID, false)
	env.store.addAddress(user.ID, false)

	require.NoError(t, svc.SetDefault(ctx, user.ID, a.ID))
	require.NoError(t, svc.SetDefault(ctx, user.ID, a.ID))

	assert.Equal(t, 1, defaultCount(t, env, user.ID))
	def, err := svc.GetDefault(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, def.ID)
}

func TestSetDefaultSwapsBetweenThreeAddresses(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()
	user := env.store.addUser("alice@example.com")

	env.store.addAddress(user.ID, true)
	b := env.store.addAddress(user.ID, false)
	env.store.addAddress(user.ID, false)

	require.NoError(t, svc.SetDefault(ctx, user.ID, b.ID))

	assert.Equal(t, 1, defaultCount(t, env, user.ID))
	def, err := svc.GetDefault(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, b.ID, def.ID)
}

func TestSetDefaultForeignAddressRejected(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()

	alice := env.store.addUser("alice@example.com")
	mallory := env.store.addUser("mallory@example.com")
	a := env.store.addAddress(alice.ID, true)

	err := svc.SetDefault(ctx, mallory.ID, a.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// A user with no addresses has nothing to set.
	err = svc.SetDefault(ctx, mallory.ID, 9999)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteDefaultPromotesNewestRemaining(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()
	user := env.store.addUser("alice@example.com")

	old := env.store.addAddress(user.ID, false)
	newer := env.store.addAddress(user.ID, false)
	def := env.store.addAddress(user.ID, true)

	require.NoError(t, svc.DeleteAddress(ctx, user.ID, def.ID))

	promoted, err := svc.GetDefault(ctx, user.ID)
	require.NoError(t, err)
	require.NotNil(t, promoted)
	assert.Equal(t, newer.ID, promoted.ID)
	assert.NotEqual(t, old.ID, promoted.ID)
	assert.Equal(t, 1, defaultCount(t, env, user.ID))
}

func TestDeleteLastAddressLeavesNoDefault(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()
	user := env.store.addUser("alice@example.com")
	a := env.store.addAddress(user.ID, true)

	require.NoError(t, svc.DeleteAddress(ctx, user.ID, a.ID))

	def, err := svc.GetDefault(ctx, user.ID)
	require.NoError(t, err)
	assert.Nil(t, def)
}

func TestDeleteAddressRefusedWhileOrderInFlight(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()

	user := env.store.addUser("alice@example.com")
	addr := env.store.addAddress(user.ID, true)
	cd := env.store.addProduct(models.CategoryCD, "Live Album", 1000, 5)

	order, err := env.basket.AddLine(ctx, user.ID, cd.ID, models.VariantOneSize, 1)
	require.NoError(t, err)
	_, err = env.orders.Place(ctx, user.ID, "tok_visa", "")
	require.NoError(t, err)

	err = svc.DeleteAddress(ctx, user.ID, addr.ID)
	assert.ErrorIs(t, err, ErrAddressInUse)

	// Once the order has run to completion the address can go.
	placed, err := env.store.GetOrderByID(ctx, order.ID)
	require.NoError(t, err)
	require.NoError(t, env.store.MarkOrderDispatched(ctx, order.ID, placed.PlacedOn.Add(1)))
	require.NoError(t, env.store.MarkOrderCompleted(ctx, order.ID, placed.PlacedOn.Add(2)))
	assert.NoError(t, svc.DeleteAddress(ctx, user.ID, addr.ID))
}

func TestEditAddressUpdatesFields(t *testing.T) {
	env, svc := newAddressEnv()
	ctx := context.Background()
	user := env.store.addUser("alice@example.com")
	a := env.store.addAddress(user.ID, true)

	err := svc.EditAddress(ctx, user.ID, a.ID, AddressFields{
		Line1: "9 Moved Road", City: "Bristol", Postcode: "BS1 1AA",
	})
	require.NoError(t, err)

	got, err := env.store.GetAddressByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "9 Moved Road", got.Line1)
	assert.Equal(t, "Bristol", got.City)
	// Editing never touches the default flag.
	assert.True(t, got.IsDefault)
}
