package repository

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

func newTestCartStore(t *testing.T) (*CartStore, *miniredis.Miniredis) {
	t.Helper()

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewCartStore(rdb), srv
}

func TestCartStoreGetMissingCart(t *testing.T) {
	store, _ := newTestCartStore(t)

	cart, err := store.Get(context.Background(), "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestCartStoreAddItem(t *testing.T) {
	store, _ := newTestCartStore(t)
	ctx := context.Background()

	cart, err := store.AddItem(ctx, "user-1", 10, 2)
	require.NoError(t, err)
	assert.Equal(t, model.Cart{10: 2}, cart)

	// adding again increments
	cart, err = store.AddItem(ctx, "user-1", 10, 3)
	require.NoError(t, err)
	assert.Equal(t, model.Cart{10: 5}, cart)

	cart, err = store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.Cart{10: 5}, cart)
}

func TestCartStoreSetItemQuantity(t *testing.T) {
	store, _ := newTestCartStore(t)
	ctx := context.Background()

	_, err := store.AddItem(ctx, "user-1", 10, 2)
	require.NoError(t, err)
	_, err = store.AddItem(ctx, "user-1", 20, 1)
	require.NoError(t, err)

	cart, err := store.SetItemQuantity(ctx, "user-1", 10, 7)
	require.NoError(t, err)
	assert.Equal(t, model.Cart{10: 7, 20: 1}, cart)

	// zero removes the line
	cart, err = store.SetItemQuantity(ctx, "user-1", 20, 0)
	require.NoError(t, err)
	assert.Equal(t, model.Cart{10: 7}, cart)
}

func TestCartStoreKeyDeletedWhenEmpty(t *testing.T) {
	store, srv := newTestCartStore(t)
	ctx := context.Background()

	_, err := store.AddItem(ctx, "user-1", 10, 1)
	require.NoError(t, err)
	require.True(t, srv.Exists("cart:user-1"))

	_, err = store.RemoveItem(ctx, "user-1", 10)
	require.NoError(t, err)
	assert.False(t, srv.Exists("cart:user-1"))
}

func TestCartStoreTTLRefreshedOnMutation(t *testing.T) {
	store, srv := newTestCartStore(t)
	ctx := context.Background()

	_, err := store.AddItem(ctx, "user-1", 10, 1)
	require.NoError(t, err)
	require.Equal(t, CartTTL, srv.TTL("cart:user-1"))

	// let some time pass, then mutate: the TTL goes back to the full window
	srv.FastForward(CartTTL / 2)
	_, err = store.AddItem(ctx, "user-1", 20, 1)
	require.NoError(t, err)
	assert.Equal(t, CartTTL, srv.TTL("cart:user-1"))
}

func TestCartStoreExpires(t *testing.T) {
	store, srv := newTestCartStore(t)
	ctx := context.Background()

	_, err := store.AddItem(ctx, "user-1", 10, 1)
	require.NoError(t, err)

	srv.FastForward(CartTTL + 1)

	cart, err := store.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestCartStoreClear(t *testing.T) {
	store, srv := newTestCartStore(t)
	ctx := context.Background()

	_, err := store.AddItem(ctx, "user-1", 10, 1)
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "user-1"))
	assert.False(t, srv.Exists("cart:user-1"))

	// clearing an absent cart is not an error
	assert.NoError(t, store.Clear(ctx, "user-1"))
}
