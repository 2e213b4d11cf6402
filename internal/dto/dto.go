package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

type AddCartItemRequest struct {
	ProductID uint `json:"product_id"`
	Quantity  int  `json:"quantity"`
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

type CartItemResponse struct {
	ProductID uint            `json:"product_id"`
	Name      string          `json:"name"`
	Slug      string          `json:"slug"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	Quantity  int             `json:"quantity"`
	Stock     int             `json:"stock"`
	Subtotal  decimal.Decimal `json:"subtotal"`
}

type CartResponse struct {
	Items      []CartItemResponse `json:"items"`
	TotalItems int                `json:"total_items"`
	Subtotal   decimal.Decimal    `json:"subtotal"`
}

type CartSummaryResponse struct {
	TotalItems int             `json:"total_items"`
	Subtotal   decimal.Decimal `json:"subtotal"`
}

type CheckoutRequest struct {
	AddressID uint   `json:"address_id"`
	Notes     string `json:"notes"`
}

type CheckoutResponse struct {
	Provider    string `json:"provider"`
	PaymentRef  string `json:"payment_ref"`
	CheckoutURL string `json:"checkout_url"`
}

type RefundRequest struct {
	Amount *decimal.Decimal `json:"amount,omitempty"`
}

type ShipResponse struct {
	Success   bool   `json:"success"`
	EmailSent bool   `json:"email_sent"`
	Recipient string `json:"recipient,omitempty"`
}

type OrderItemResponse struct {
	ProductID   uint            `json:"product_id"`
	ProductName string          `json:"product_name"`
	ProductSKU  string          `json:"product_sku,omitempty"`
	Quantity    int             `json:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price"`
	Subtotal    decimal.Decimal `json:"subtotal"`
}

type OrderResponse struct {
	ID             uint                `json:"id"`
	OrderNumber    string              `json:"order_number"`
	UserID         string              `json:"user_id"`
	CustomerEmail  string              `json:"customer_email,omitempty"`
	Provider       string              `json:"provider"`
	PaymentRef     string              `json:"payment_ref"`
	Status         string              `json:"status"`
	Subtotal       decimal.Decimal     `json:"subtotal"`
	ShippingCost   decimal.Decimal     `json:"shipping_cost"`
	Tax            decimal.Decimal     `json:"tax"`
	Total          decimal.Decimal     `json:"total"`
	Notes          string              `json:"notes,omitempty"`
	AdminNotes     string              `json:"admin_notes,omitempty"`
	Carrier        string              `json:"carrier,omitempty"`
	TrackingNumber string              `json:"tracking_number,omitempty"`
	TrackingURL    string              `json:"tracking_url,omitempty"`
	PaidAt         *time.Time          `json:"paid_at,omitempty"`
	ShippedAt      *time.Time          `json:"shipped_at,omitempty"`
	CreatedAt      time.Time           `json:"created_at"`
	Items          []OrderItemResponse `json:"items"`
}

type OrderListResponse struct {
	Orders []OrderResponse `json:"orders"`
	Total  int64           `json:"total"`
}

func NewOrderResponse(order *model.Order) OrderResponse {
	items := make([]OrderItemResponse, len(order.Items))
	for i, item := range order.Items {
		items[i] = OrderItemResponse{
			ProductID:   item.ProductID,
			ProductName: item.ProductName,
			ProductSKU:  item.ProductSKU,
			Quantity:    item.Quantity,
			UnitPrice:   item.UnitPrice,
			Subtotal:    item.Subtotal,
		}
	}

	return OrderResponse{
		ID:             order.ID,
		OrderNumber:    order.OrderNumber,
		UserID:         order.UserID,
		CustomerEmail:  order.CustomerEmail,
		Provider:       order.Provider,
		PaymentRef:     order.PaymentRef,
		Status:         string(order.Status),
		Subtotal:       order.Subtotal,
		ShippingCost:   order.ShippingCost,
		Tax:            order.Tax,
		Total:          order.Total,
		Notes:          order.Notes,
		AdminNotes:     order.AdminNotes,
		Carrier:        order.Carrier,
		TrackingNumber: order.TrackingNumber,
		TrackingURL:    order.TrackingURL,
		PaidAt:         order.PaidAt,
		ShippedAt:      order.ShippedAt,
		CreatedAt:      order.CreatedAt,
		Items:          items,
	}
}
