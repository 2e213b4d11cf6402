package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Product struct {
	ID          uint            `gorm:"primaryKey"`
	Name        string          `gorm:"size:255;not null"`
	Slug        string          `gorm:"size:255;uniqueIndex;not null"`
	SKU         string          `gorm:"size:100;index"`
	Description string          `gorm:"type:text"`
	Price       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Stock       int             `gorm:"not null;default:0"`
	IsActive    bool            `gorm:"not null;default:true"`
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Address struct {
	ID         uint   `gorm:"primaryKey"`
	UserID     string `gorm:"size:64;index;not null"`
	FullName   string `gorm:"size:255;not null"`
	Phone      string `gorm:"size:32"`
	Street     string `gorm:"size:255;not null"`
	City       string `gorm:"size:100;not null"`
	State      string `gorm:"size:100"`
	PostalCode string `gorm:"size:16"`
	Country    string `gorm:"size:100;not null"`
	CreatedAt  time.Time
}

// Order is created exactly once per successful payment reference and never
// deleted. The composite unique index on (provider, payment_ref) is the
// idempotency guard: a duplicate webhook delivery cannot insert a second row.
type Order struct {
	ID             uint        `gorm:"primaryKey"`
	OrderNumber    string      `gorm:"size:32;uniqueIndex;not null"`
	UserID         string      `gorm:"size:64;index;not null"`
	AddressID      uint        `gorm:"index;not null"`
	CustomerEmail  string      `gorm:"size:255"`
	Provider       string      `gorm:"size:32;not null;uniqueIndex:idx_provider_payment_ref"`
	PaymentRef     string      `gorm:"size:128;not null;uniqueIndex:idx_provider_payment_ref"`
	Status         OrderStatus `gorm:"size:32;index;not null"`
	Subtotal       decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	ShippingCost   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Tax            decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Total          decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Notes          string          `gorm:"type:text"`
	AdminNotes     string          `gorm:"type:text"`
	Carrier        string          `gorm:"size:50"`
	TrackingNumber string          `gorm:"size:100"`
	TrackingURL    string          `gorm:"size:512"`
	PaidAt         *time.Time
	ShippedAt      *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time

	Items []OrderItem `gorm:"foreignKey:OrderID"`
}

type OrderItem struct {
	ID          uint   `gorm:"primaryKey"`
	OrderID     uint   `gorm:"index;not null"`
	ProductID   uint   `gorm:"index;not null"`
	ProductName string `gorm:"size:255;not null"`
	ProductSKU  string `gorm:"size:100"`
	Quantity    int    `gorm:"not null"`
	UnitPrice   decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	Subtotal    decimal.Decimal `gorm:"type:decimal(10,2);not null"`
	CreatedAt   time.Time
}

// WebhookEvent is an audit trail of every inbound provider event. Idempotency
// is keyed on the payment reference, never on the event id, because providers
// emit multiple event deliveries for one underlying payment.
type WebhookEvent struct {
	ID          uint   `gorm:"primaryKey"`
	Provider    string `gorm:"size:32;index;not null"`
	EventID     string `gorm:"size:128;index"`
	EventType   string `gorm:"size:64;index"`
	PaymentRef  string `gorm:"size:128;index"`
	Status      string `gorm:"size:32"`
	ProcessedAt time.Time
	CreatedAt   time.Time
}
