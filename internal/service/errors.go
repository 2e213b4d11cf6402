package service

import (
	"errors"

	"github.com/Maskeit/api-cisnatura/internal/repository"
)

var (
	ErrSignatureInvalid   = errors.New("webhook signature invalid")
	ErrUnknownProvider    = errors.New("unknown payment provider")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrCartExpired        = errors.New("cart expired before the payment event was processed")
	ErrOrderNotFound      = errors.New("order not found")
	ErrOrderNotPaid       = errors.New("order is not in paid state")
	ErrAddressNotFound    = errors.New("address not found")
	ErrProductUnavailable = errors.New("product unavailable")

	// ErrInsufficientStock is shared with the repository layer: the
	// conditional decrement is where the shortfall is detected.
	ErrInsufficientStock = repository.ErrInsufficientStock
)
