package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

// CartTTL is how long an untouched cart survives. Every mutation resets it.
const CartTTL = 7 * 24 * time.Hour

// CartStore keeps pending selections in Redis, one JSON value per user. Carts
// are ephemeral: they expire, are recreated on demand, and are cleared when an
// order is created from them.
type CartStore struct {
	rdb *redis.Client
}

func NewCartStore(rdb *redis.Client) *CartStore {
	return &CartStore{rdb: rdb}
}

func cartKey(userID string) string {
	return "cart:" + userID
}

func (s *CartStore) Get(ctx context.Context, userID string) (model.Cart, error) {
	data, err := s.rdb.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return model.Cart{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cart: %w", err)
	}

	var cart model.Cart
	if err := json.Unmarshal(data, &cart); err != nil {
		return nil, fmt.Errorf("decode cart: %w", err)
	}
	return cart, nil
}

// AddItem increments the quantity for a product, creating the cart if needed.
func (s *CartStore) AddItem(ctx context.Context, userID string, productID uint, quantity int) (model.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	cart[productID] += quantity
	if cart[productID] <= 0 {
		delete(cart, productID)
	}

	if err := s.save(ctx, userID, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

// SetItemQuantity replaces the quantity for a product; zero or less removes
// it. The key is deleted once the cart empties.
func (s *CartStore) SetItemQuantity(ctx context.Context, userID string, productID uint, quantity int) (model.Cart, error) {
	cart, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	if quantity <= 0 {
		delete(cart, productID)
	} else {
		cart[productID] = quantity
	}

	if err := s.save(ctx, userID, cart); err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *CartStore) RemoveItem(ctx context.Context, userID string, productID uint) (model.Cart, error) {
	return s.SetItemQuantity(ctx, userID, productID, 0)
}

func (s *CartStore) Clear(ctx context.Context, userID string) error {
	if err := s.rdb.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("clear cart: %w", err)
	}
	return nil
}

func (s *CartStore) save(ctx context.Context, userID string, cart model.Cart) error {
	key := cartKey(userID)

	if len(cart) == 0 {
		if err := s.rdb.Del(ctx, key).Err(); err != nil {
			return fmt.Errorf("delete empty cart: %w", err)
		}
		return nil
	}

	data, err := json.Marshal(cart)
	if err != nil {
		return fmt.Errorf("encode cart: %w", err)
	}

	if err := s.rdb.Set(ctx, key, data, CartTTL).Err(); err != nil {
		return fmt.Errorf("save cart: %w", err)
	}
	return nil
}
