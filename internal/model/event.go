package model

import "github.com/shopspring/decimal"

// Cart maps product id to quantity. Stored in Redis as JSON under one key per
// user with a rolling TTL.
type Cart map[uint]int

// EventMetadata is the opaque checkout snapshot attached to a payment session
// and echoed back by the provider on every webhook for it. Amount fields are
// decimal strings because provider metadata is string-valued.
type EventMetadata struct {
	UserID       string `json:"user_id"`
	AddressID    string `json:"address_id"`
	Email        string `json:"email"`
	Notes        string `json:"notes,omitempty"`
	Subtotal     string `json:"subtotal"`
	ShippingCost string `json:"shipping_cost"`
	Total        string `json:"total"`
}

// PaymentEvent is a provider webhook normalized by the adapter.
type PaymentEvent struct {
	Provider   string
	EventID    string
	EventType  string
	PaymentRef string
	Status     PaymentStatus
	Amount     decimal.Decimal
	Metadata   EventMetadata
}
