package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maskeit/api-cisnatura/internal/dto"
	"github.com/Maskeit/api-cisnatura/internal/model"
	"github.com/Maskeit/api-cisnatura/internal/repository"
)

// CartService wraps the Redis cart store with product validation and
// enrichment. Cart mutation is per-user, last writer wins.
type CartService struct {
	carts    *repository.CartStore
	products repository.ProductRepository
	log      *zap.SugaredLogger
}

func NewCartService(carts *repository.CartStore, products repository.ProductRepository, log *zap.SugaredLogger) *CartService {
	return &CartService{
		carts:    carts,
		products: products,
		log:      log,
	}
}

func (s *CartService) View(ctx context.Context, userID string) (*dto.CartResponse, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, cart)
}

func (s *CartService) Summary(ctx context.Context, userID string) (*dto.CartSummaryResponse, error) {
	view, err := s.View(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &dto.CartSummaryResponse{
		TotalItems: view.TotalItems,
		Subtotal:   view.Subtotal,
	}, nil
}

func (s *CartService) Add(ctx context.Context, userID string, productID uint, quantity int) (*dto.CartResponse, error) {
	product, err := s.products.FindByID(ctx, productID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("%w: product %d", ErrProductUnavailable, productID)
	}
	if err != nil {
		return nil, fmt.Errorf("find product: %w", err)
	}
	if !product.IsActive {
		return nil, fmt.Errorf("%w: %s", ErrProductUnavailable, product.Name)
	}

	current, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if current[productID]+quantity > product.Stock {
		return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
	}

	cart, err := s.carts.AddItem(ctx, userID, productID, quantity)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, cart)
}

func (s *CartService) Update(ctx context.Context, userID string, productID uint, quantity int) (*dto.CartResponse, error) {
	if quantity > 0 {
		product, err := s.products.FindByID(ctx, productID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: product %d", ErrProductUnavailable, productID)
		}
		if err != nil {
			return nil, fmt.Errorf("find product: %w", err)
		}
		if quantity > product.Stock {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		}
	}

	cart, err := s.carts.SetItemQuantity(ctx, userID, productID, quantity)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, cart)
}

func (s *CartService) Remove(ctx context.Context, userID string, productID uint) (*dto.CartResponse, error) {
	cart, err := s.carts.RemoveItem(ctx, userID, productID)
	if err != nil {
		return nil, err
	}
	return s.enrich(ctx, cart)
}

func (s *CartService) Clear(ctx context.Context, userID string) error {
	return s.carts.Clear(ctx, userID)
}

// enrich joins cart quantities with product data, silently dropping products
// that were deactivated after being added.
func (s *CartService) enrich(ctx context.Context, cart model.Cart) (*dto.CartResponse, error) {
	resp := &dto.CartResponse{
		Items:    []dto.CartItemResponse{},
		Subtotal: decimal.Zero,
	}
	if len(cart) == 0 {
		return resp, nil
	}

	ids := make([]uint, 0, len(cart))
	for productID := range cart {
		ids = append(ids, productID)
	}
	products, err := s.products.FindMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find cart products: %w", err)
	}

	for _, product := range products {
		if !product.IsActive {
			continue
		}
		quantity := cart[product.ID]
		subtotal := product.Price.Mul(decimal.NewFromInt(int64(quantity)))

		resp.Items = append(resp.Items, dto.CartItemResponse{
			ProductID: product.ID,
			Name:      product.Name,
			Slug:      product.Slug,
			UnitPrice: product.Price,
			Quantity:  quantity,
			Stock:     product.Stock,
			Subtotal:  subtotal,
		})
		resp.TotalItems += quantity
		resp.Subtotal = resp.Subtotal.Add(subtotal)
	}

	return resp, nil
}
