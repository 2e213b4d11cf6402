package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Maskeit/api-cisnatura/internal/client"
	"github.com/Maskeit/api-cisnatura/internal/config"
	"github.com/Maskeit/api-cisnatura/internal/dto"
	"github.com/Maskeit/api-cisnatura/internal/model"
	"github.com/Maskeit/api-cisnatura/internal/repository"
)

// errAlreadyApplied aborts a transition transaction whose status guard
// matched no row, meaning another delivery got there first.
var errAlreadyApplied = errors.New("transition already applied")

// PaymentService owns checkout session creation and the webhook reconciler:
// the only component that creates, cancels and refunds orders.
type PaymentService struct {
	db        *gorm.DB
	providers map[string]client.PaymentProvider
	active    client.PaymentProvider
	carts     *repository.CartStore
	orders    repository.OrderRepository
	products  repository.ProductRepository
	addresses repository.AddressRepository
	events    repository.WebhookEventRepository
	shipping  config.Shipping
	currency  string
	locks     *refLocker
	log       *zap.SugaredLogger
}

func NewPaymentService(
	db *gorm.DB,
	providers map[string]client.PaymentProvider,
	active client.PaymentProvider,
	carts *repository.CartStore,
	orders repository.OrderRepository,
	products repository.ProductRepository,
	addresses repository.AddressRepository,
	events repository.WebhookEventRepository,
	shipping config.Shipping,
	currency string,
	log *zap.SugaredLogger,
) *PaymentService {
	return &PaymentService{
		db:        db,
		providers: providers,
		active:    active,
		carts:     carts,
		orders:    orders,
		products:  products,
		addresses: addresses,
		events:    events,
		shipping:  shipping,
		currency:  currency,
		locks:     newRefLocker(),
		log:       log,
	}
}

// Checkout prices the user's cart, creates a provider payment session and
// returns the redirect URL. Stock is only prechecked here; the authoritative
// decrement happens when the approved webhook arrives.
func (s *PaymentService) Checkout(ctx context.Context, userID, email string, req *dto.CheckoutRequest) (*dto.CheckoutResponse, error) {
	cart, err := s.carts.Get(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("read cart: %w", err)
	}
	if len(cart) == 0 {
		return nil, ErrEmptyCart
	}

	if _, err := s.addresses.FindForUser(ctx, req.AddressID, userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrAddressNotFound
		}
		return nil, fmt.Errorf("find address: %w", err)
	}

	products, err := s.cartProducts(ctx, cart)
	if err != nil {
		return nil, err
	}

	subtotal := decimal.Zero
	items := make([]client.LineItem, 0, len(cart)+1)
	for productID, quantity := range cart {
		product := products[productID]
		if product.Stock < quantity {
			return nil, fmt.Errorf("%w: %s", ErrInsufficientStock, product.Name)
		}
		subtotal = subtotal.Add(product.Price.Mul(decimal.NewFromInt(int64(quantity))))
		items = append(items, client.LineItem{
			Title:     product.Name,
			Quantity:  quantity,
			UnitPrice: product.Price,
		})
	}

	shippingCost := s.shippingCost(subtotal)
	if shippingCost.IsPositive() {
		items = append(items, client.LineItem{Title: "Envío", Quantity: 1, UnitPrice: shippingCost})
	}
	total := subtotal.Add(shippingCost)

	session, err := s.active.CreatePayment(ctx, &client.CreatePaymentRequest{
		Amount:        total,
		Currency:      s.currency,
		Description:   fmt.Sprintf("Compra - %s", email),
		OrderRef:      fmt.Sprintf("cart_%s_%d", userID, time.Now().Unix()),
		CustomerEmail: email,
		Items:         items,
		Metadata: model.EventMetadata{
			UserID:       userID,
			AddressID:    strconv.FormatUint(uint64(req.AddressID), 10),
			Email:        email,
			Notes:        req.Notes,
			Subtotal:     subtotal.StringFixed(2),
			ShippingCost: shippingCost.StringFixed(2),
			Total:        total.StringFixed(2),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create payment session: %w", err)
	}

	s.log.Infow("checkout session created",
		"provider", s.active.Name(), "payment_ref", session.PaymentRef, "user_id", userID, "total", total)

	return &dto.CheckoutResponse{
		Provider:    s.active.Name(),
		PaymentRef:  session.PaymentRef,
		CheckoutURL: session.CheckoutURL,
	}, nil
}

// HandleWebhook validates, normalizes and reconciles one provider event.
// Conditions the provider cannot resolve by retrying (insufficient stock,
// expired cart) come back as typed errors the handler acknowledges anyway.
func (s *PaymentService) HandleWebhook(ctx context.Context, providerName string, header http.Header, body []byte) error {
	p, ok := s.providers[providerName]
	if !ok {
		return ErrUnknownProvider
	}

	if !p.ValidateWebhook(body, header) {
		return ErrSignatureInvalid
	}

	event, err := p.ParseEvent(ctx, body)
	if err != nil {
		recordWebhookEvent(providerName, string(model.StatusUnknown), outcomeError)
		return fmt.Errorf("parse event: %w", err)
	}

	if err := s.events.Record(ctx, event); err != nil {
		s.log.Warnw("record webhook event", "provider", providerName, "event_id", event.EventID, "error", err)
	}

	return s.reconcile(ctx, event)
}

func (s *PaymentService) reconcile(ctx context.Context, event *model.PaymentEvent) error {
	switch event.Status {
	case model.StatusApproved:
		return s.applyApproved(ctx, event)
	case model.StatusCancelled, model.StatusRejected:
		return s.applyCancelled(ctx, event)
	case model.StatusRefunded, model.StatusChargedBack:
		return s.applyRefunded(ctx, event)
	case model.StatusPending, model.StatusInProcess:
		s.log.Infow("payment still in flight, no state change",
			"provider", event.Provider, "payment_ref", event.PaymentRef, "status", event.Status)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeNoop)
		return nil
	default:
		// Providers retry indefinitely on non-success responses, so
		// unmapped event types are acknowledged rather than rejected.
		s.log.Infow("unmapped provider event acknowledged",
			"provider", event.Provider, "event_type", event.EventType, "event_id", event.EventID)
		recordWebhookEvent(event.Provider, string(model.StatusUnknown), outcomeNoop)
		return nil
	}
}

// applyApproved drives the unseen → paid transition: create the order,
// decrement stock and clear the cart, exactly once per payment reference.
func (s *PaymentService) applyApproved(ctx context.Context, event *model.PaymentEvent) error {
	unlock := s.locks.Lock(event.Provider + ":" + event.PaymentRef)
	defer unlock()

	if _, err := s.orders.FindByPaymentRef(ctx, event.Provider, event.PaymentRef); err == nil {
		s.log.Debugw("order already exists, duplicate delivery ignored",
			"provider", event.Provider, "payment_ref", event.PaymentRef)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeDuplicate)
		return nil
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("find order: %w", err)
	}

	meta := event.Metadata
	if meta.UserID == "" {
		s.log.Errorw("approved event without user metadata, manual reconciliation required",
			"provider", event.Provider, "payment_ref", event.PaymentRef, "event_id", event.EventID)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeFlagged)
		return nil
	}

	cart, err := s.carts.Get(ctx, meta.UserID)
	if err != nil {
		return fmt.Errorf("read cart: %w", err)
	}
	if len(cart) == 0 {
		s.log.Errorw("cart expired before reconciliation, manual reconciliation required",
			"provider", event.Provider, "payment_ref", event.PaymentRef, "user_id", meta.UserID)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeFlagged)
		return fmt.Errorf("%w: user %s payment %s", ErrCartExpired, meta.UserID, event.PaymentRef)
	}

	products, err := s.cartProducts(ctx, cart)
	if err != nil {
		return err
	}

	subtotal := decimal.Zero
	orderItems := make([]model.OrderItem, 0, len(cart))
	for productID, quantity := range cart {
		product := products[productID]
		lineSubtotal := product.Price.Mul(decimal.NewFromInt(int64(quantity)))
		subtotal = subtotal.Add(lineSubtotal)
		orderItems = append(orderItems, model.OrderItem{
			ProductID:   product.ID,
			ProductName: product.Name,
			ProductSKU:  product.SKU,
			Quantity:    quantity,
			UnitPrice:   product.Price,
			Subtotal:    lineSubtotal,
		})
	}

	shippingCost := parseAmount(meta.ShippingCost, s.shippingCost(subtotal))
	total := parseAmount(meta.Total, subtotal.Add(shippingCost))
	addressID, _ := strconv.ParseUint(meta.AddressID, 10, 64)

	now := time.Now()
	order := &model.Order{
		OrderNumber:   newOrderNumber(),
		UserID:        meta.UserID,
		AddressID:     uint(addressID),
		CustomerEmail: meta.Email,
		Provider:      event.Provider,
		PaymentRef:    event.PaymentRef,
		Status:        model.OrderPaid,
		Subtotal:      parseAmount(meta.Subtotal, subtotal),
		ShippingCost:  shippingCost,
		Tax:           decimal.Zero,
		Total:         total,
		Notes:         meta.Notes,
		PaidAt:        &now,
		Items:         orderItems,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, item := range orderItems {
			if err := s.products.DecrementStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("decrement stock for product %d: %w", item.ProductID, err)
			}
		}
		if err := s.orders.Create(ctx, tx, order); err != nil {
			return fmt.Errorf("create order: %w", err)
		}
		return nil
	})

	switch {
	case err == nil:
	case errors.Is(err, gorm.ErrDuplicatedKey):
		// Concurrent delivery won the insert race; nothing from this
		// transaction was committed.
		s.log.Debugw("duplicate order insert collapsed",
			"provider", event.Provider, "payment_ref", event.PaymentRef)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeDuplicate)
		return nil
	case errors.Is(err, ErrInsufficientStock):
		s.log.Errorw("stock shortfall at reconciliation, order not created, manual reconciliation required",
			"provider", event.Provider, "payment_ref", event.PaymentRef, "user_id", meta.UserID, "error", err)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeFlagged)
		return err
	default:
		recordWebhookEvent(event.Provider, string(event.Status), outcomeError)
		return err
	}

	if err := s.carts.Clear(ctx, meta.UserID); err != nil {
		s.log.Warnw("clear cart after order creation", "user_id", meta.UserID, "error", err)
	}

	s.log.Infow("order created from payment event",
		"order_id", order.ID, "order_number", order.OrderNumber,
		"provider", event.Provider, "payment_ref", event.PaymentRef, "total", order.Total)
	recordWebhookEvent(event.Provider, string(event.Status), outcomeApplied)
	return nil
}

// applyCancelled handles cancellation / async-failure events: an existing
// order gets its stock restored and is marked cancelled, otherwise no-op.
func (s *PaymentService) applyCancelled(ctx context.Context, event *model.PaymentEvent) error {
	return s.revertOrder(ctx, event,
		[]model.OrderStatus{model.OrderPending, model.OrderPaid},
		model.OrderCancelled)
}

// applyRefunded handles refund and chargeback events for paid orders.
func (s *PaymentService) applyRefunded(ctx context.Context, event *model.PaymentEvent) error {
	return s.revertOrder(ctx, event,
		[]model.OrderStatus{model.OrderPaid, model.OrderShipped},
		model.OrderRefunded)
}

// revertOrder transitions an order out of circulation and restores its stock.
// The status guard inside the transaction makes the stock restoration safe to
// attempt any number of times.
func (s *PaymentService) revertOrder(ctx context.Context, event *model.PaymentEvent, from []model.OrderStatus, to model.OrderStatus) error {
	unlock := s.locks.Lock(event.Provider + ":" + event.PaymentRef)
	defer unlock()

	order, err := s.orders.FindByPaymentRef(ctx, event.Provider, event.PaymentRef)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		s.log.Infow("no order for payment event, acknowledged as no-op",
			"provider", event.Provider, "payment_ref", event.PaymentRef, "status", event.Status)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeNoop)
		return nil
	}
	if err != nil {
		return fmt.Errorf("find order: %w", err)
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.orders.UpdateStatus(ctx, tx, order.ID, from, to); err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return errAlreadyApplied
			}
			return fmt.Errorf("update order status: %w", err)
		}

		items, err := s.orders.GetItems(ctx, tx, order.ID)
		if err != nil {
			return fmt.Errorf("get order items: %w", err)
		}
		for _, item := range items {
			if err := s.products.RestoreStock(ctx, tx, item.ProductID, item.Quantity); err != nil {
				return fmt.Errorf("restore stock for product %d: %w", item.ProductID, err)
			}
		}
		return nil
	})

	if errors.Is(err, errAlreadyApplied) {
		s.log.Debugw("order already transitioned, duplicate delivery ignored",
			"order_id", order.ID, "target_status", to)
		recordWebhookEvent(event.Provider, string(event.Status), outcomeDuplicate)
		return nil
	}
	if err != nil {
		recordWebhookEvent(event.Provider, string(event.Status), outcomeError)
		return err
	}

	s.log.Infow("order reverted by payment event",
		"order_id", order.ID, "order_number", order.OrderNumber, "status", to,
		"provider", event.Provider, "payment_ref", event.PaymentRef)
	recordWebhookEvent(event.Provider, string(event.Status), outcomeApplied)
	return nil
}

// CancelPayment asks the provider to cancel a pending payment. Ledger state
// only changes when the provider's own webhook confirms it.
func (s *PaymentService) CancelPayment(ctx context.Context, providerName, paymentRef string) error {
	p, ok := s.providers[providerName]
	if !ok {
		return ErrUnknownProvider
	}
	return p.CancelPayment(ctx, paymentRef)
}

// RefundPayment asks the provider for a full (amount == nil) or partial
// refund.
func (s *PaymentService) RefundPayment(ctx context.Context, providerName, paymentRef string, amount *decimal.Decimal) error {
	p, ok := s.providers[providerName]
	if !ok {
		return ErrUnknownProvider
	}
	return p.RefundPayment(ctx, paymentRef, amount)
}

func (s *PaymentService) cartProducts(ctx context.Context, cart model.Cart) (map[uint]*model.Product, error) {
	ids := make([]uint, 0, len(cart))
	for productID := range cart {
		ids = append(ids, productID)
	}

	products, err := s.products.FindMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("find cart products: %w", err)
	}

	byID := make(map[uint]*model.Product, len(products))
	for _, product := range products {
		if product.IsActive {
			byID[product.ID] = product
		}
	}

	for productID := range cart {
		if _, ok := byID[productID]; !ok {
			return nil, fmt.Errorf("%w: product %d", ErrProductUnavailable, productID)
		}
	}
	return byID, nil
}

func (s *PaymentService) shippingCost(subtotal decimal.Decimal) decimal.Decimal {
	if subtotal.GreaterThanOrEqual(decimal.NewFromFloat(s.shipping.FreeOver)) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(s.shipping.FlatRate)
}

func parseAmount(raw string, fallback decimal.Decimal) decimal.Decimal {
	if raw == "" {
		return fallback
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return fallback
	}
	return d
}

func newOrderNumber() string {
	id := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	return "ORD-" + id[:12]
}
