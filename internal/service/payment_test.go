package service

import (
	"context"
	"net/http"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/Maskeit/api-cisnatura/internal/client"
	"github.com/Maskeit/api-cisnatura/internal/config"
	"github.com/Maskeit/api-cisnatura/internal/dto"
	"github.com/Maskeit/api-cisnatura/internal/model"
	"github.com/Maskeit/api-cisnatura/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		TranslateError: true,
		Logger:         logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)

	require.NoError(t, db.AutoMigrate(
		&model.Product{},
		&model.Address{},
		&model.Order{},
		&model.OrderItem{},
		&model.WebhookEvent{},
	))
	return db
}

// stubProvider is a controllable payment gateway for reconciler tests.
type stubProvider struct {
	name         string
	validSig     bool
	event        *model.PaymentEvent
	parseErr     error
	session      *client.CheckoutSession
	createErr    error
	lastCreate   *client.CreatePaymentRequest
	cancelledRef string
	refundedRef  string
}

func (p *stubProvider) Name() string { return p.name }

func (p *stubProvider) CreatePayment(ctx context.Context, req *client.CreatePaymentRequest) (*client.CheckoutSession, error) {
	p.lastCreate = req
	if p.createErr != nil {
		return nil, p.createErr
	}
	return p.session, nil
}

func (p *stubProvider) GetPaymentStatus(ctx context.Context, paymentRef string) (*client.PaymentStatusResult, error) {
	return &client.PaymentStatusResult{Status: model.StatusUnknown}, nil
}

func (p *stubProvider) CancelPayment(ctx context.Context, paymentRef string) error {
	p.cancelledRef = paymentRef
	return nil
}

func (p *stubProvider) RefundPayment(ctx context.Context, paymentRef string, amount *decimal.Decimal) error {
	p.refundedRef = paymentRef
	return nil
}

func (p *stubProvider) ValidateWebhook(payload []byte, header http.Header) bool {
	return p.validSig
}

func (p *stubProvider) ParseEvent(ctx context.Context, payload []byte) (*model.PaymentEvent, error) {
	if p.parseErr != nil {
		return nil, p.parseErr
	}
	return p.event, nil
}

type paymentFixture struct {
	db       *gorm.DB
	carts    *repository.CartStore
	orders   repository.OrderRepository
	products repository.ProductRepository
	provider *stubProvider
	svc      *PaymentService
}

func newPaymentFixture(t *testing.T) *paymentFixture {
	t.Helper()

	db := newTestDB(t)

	srv := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: srv.Addr()})
	t.Cleanup(func() { rdb.Close() })

	carts := repository.NewCartStore(rdb)
	orders := repository.NewOrderRepository(db)
	products := repository.NewProductRepository(db)

	provider := &stubProvider{name: client.ProviderStripe, validSig: true}
	providers := map[string]client.PaymentProvider{client.ProviderStripe: provider}

	svc := NewPaymentService(
		db,
		providers,
		provider,
		carts,
		orders,
		products,
		repository.NewAddressRepository(db),
		repository.NewWebhookEventRepository(db),
		config.Shipping{FlatRate: 150, FreeOver: 1000},
		"MXN",
		zap.NewNop().Sugar(),
	)

	return &paymentFixture{
		db:       db,
		carts:    carts,
		orders:   orders,
		products: products,
		provider: provider,
		svc:      svc,
	}
}

func (f *paymentFixture) seedProduct(t *testing.T, name string, price int64, stock int) *model.Product {
	t.Helper()
	product := &model.Product{
		Name:     name,
		Slug:     name + "-" + uuid.NewString()[:8],
		SKU:      "SKU-" + name,
		Price:    decimal.NewFromInt(price),
		Stock:    stock,
		IsActive: true,
	}
	require.NoError(t, f.db.Create(product).Error)
	return product
}

func (f *paymentFixture) seedCart(t *testing.T, userID string, items model.Cart) {
	t.Helper()
	for productID, quantity := range items {
		_, err := f.carts.AddItem(context.Background(), userID, productID, quantity)
		require.NoError(t, err)
	}
}

func (f *paymentFixture) stock(t *testing.T, productID uint) int {
	t.Helper()
	product, err := f.products.FindByID(context.Background(), productID)
	require.NoError(t, err)
	return product.Stock
}

func (f *paymentFixture) orderCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	require.NoError(t, f.db.Model(&model.Order{}).Count(&count).Error)
	return count
}

func approvedEvent(paymentRef, userID string) *model.PaymentEvent {
	return &model.PaymentEvent{
		Provider:   client.ProviderStripe,
		EventID:    "evt_" + uuid.NewString()[:8],
		EventType:  "checkout.session.completed",
		PaymentRef: paymentRef,
		Status:     model.StatusApproved,
		Amount:     decimal.NewFromInt(650),
		Metadata: model.EventMetadata{
			UserID:    userID,
			AddressID: "1",
			Email:     "buyer@example.com",
		},
	}
}

func TestHandleWebhookApprovedCreatesOrder(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.event = approvedEvent("cs_test_1", "user-1")

	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))

	order, err := f.orders.FindByPaymentRef(ctx, client.ProviderStripe, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderPaid, order.Status)
	assert.Equal(t, "user-1", order.UserID)
	assert.Equal(t, "buyer@example.com", order.CustomerEmail)
	assert.True(t, order.Subtotal.Equal(decimal.NewFromInt(500)), "subtotal %s", order.Subtotal)
	assert.True(t, order.ShippingCost.Equal(decimal.NewFromInt(150)), "shipping %s", order.ShippingCost)
	assert.True(t, order.Total.Equal(decimal.NewFromInt(650)), "total %s", order.Total)
	require.NotNil(t, order.PaidAt)

	full, err := f.orders.FindByID(ctx, order.ID)
	require.NoError(t, err)
	require.Len(t, full.Items, 1)
	assert.Equal(t, product.ID, full.Items[0].ProductID)
	assert.Equal(t, 2, full.Items[0].Quantity)

	// stock decremented, cart cleared
	assert.Equal(t, 3, f.stock(t, product.ID))
	cart, err := f.carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestHandleWebhookDuplicateApprovedDeliveries(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.event = approvedEvent("cs_test_1", "user-1")

	for i := 0; i < 3; i++ {
		require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))
	}

	assert.EqualValues(t, 1, f.orderCount(t))
	assert.Equal(t, 3, f.stock(t, product.ID))
}

func TestHandleWebhookConcurrentApprovedDeliveries(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	// single connection keeps sqlite happy; the per-reference lock is what
	// is under test here
	sqlDB, err := f.db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.event = approvedEvent("cs_conc_1", "user-1")

	const deliveries = 8
	errs := make(chan error, deliveries)
	var wg sync.WaitGroup
	for i := 0; i < deliveries; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`))
		}()
	}
	wg.Wait()
	close(errs)

	// every delivery is acknowledged, exactly one wins the insert
	for err := range errs {
		require.NoError(t, err)
	}
	assert.EqualValues(t, 1, f.orderCount(t))
	assert.Equal(t, 3, f.stock(t, product.ID))
}

func TestHandleWebhookApprovedThenRefunded(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.event = approvedEvent("cs_test_1", "user-1")
	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))
	require.Equal(t, 3, f.stock(t, product.ID))

	refund := approvedEvent("cs_test_1", "user-1")
	refund.EventType = "charge.refunded"
	refund.Status = model.StatusRefunded
	f.provider.event = refund

	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))

	order, err := f.orders.FindByPaymentRef(ctx, client.ProviderStripe, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderRefunded, order.Status)
	assert.Equal(t, 5, f.stock(t, product.ID))

	// a redelivered refund must not restore stock again
	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))
	assert.Equal(t, 5, f.stock(t, product.ID))
}

func TestHandleWebhookCancelledForPaidOrder(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.event = approvedEvent("cs_test_1", "user-1")
	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))

	cancel := approvedEvent("cs_test_1", "user-1")
	cancel.EventType = "checkout.session.async_payment_failed"
	cancel.Status = model.StatusCancelled
	f.provider.event = cancel

	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))

	order, err := f.orders.FindByPaymentRef(ctx, client.ProviderStripe, "cs_test_1")
	require.NoError(t, err)
	assert.Equal(t, model.OrderCancelled, order.Status)
	assert.Equal(t, 5, f.stock(t, product.ID))
}

func TestHandleWebhookCancelledWithoutOrderIsNoop(t *testing.T) {
	f := newPaymentFixture(t)

	event := approvedEvent("cs_never_seen", "user-1")
	event.Status = model.StatusCancelled
	f.provider.event = event

	assert.NoError(t, f.svc.HandleWebhook(context.Background(), client.ProviderStripe, http.Header{}, []byte(`{}`)))
	assert.EqualValues(t, 0, f.orderCount(t))
}

func TestHandleWebhookInvalidSignature(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.validSig = false
	f.provider.event = approvedEvent("cs_test_1", "user-1")

	err := f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`))
	require.ErrorIs(t, err, ErrSignatureInvalid)

	// nothing was touched
	assert.EqualValues(t, 0, f.orderCount(t))
	assert.Equal(t, 5, f.stock(t, product.ID))
	cart, err := f.carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, model.Cart{product.ID: 2}, cart)
}

func TestHandleWebhookUnknownProvider(t *testing.T) {
	f := newPaymentFixture(t)

	err := f.svc.HandleWebhook(context.Background(), "conekta", http.Header{}, []byte(`{}`))
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestHandleWebhookInsufficientStock(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 1)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	f.provider.event = approvedEvent("cs_test_1", "user-1")

	err := f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`))
	require.ErrorIs(t, err, ErrInsufficientStock)

	// no order, no decrement, cart preserved for manual reconciliation
	assert.EqualValues(t, 0, f.orderCount(t))
	assert.Equal(t, 1, f.stock(t, product.ID))
	cart, err := f.carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cart)
}

func TestHandleWebhookExpiredCart(t *testing.T) {
	f := newPaymentFixture(t)

	f.provider.event = approvedEvent("cs_test_1", "user-1")

	err := f.svc.HandleWebhook(context.Background(), client.ProviderStripe, http.Header{}, []byte(`{}`))
	require.ErrorIs(t, err, ErrCartExpired)
	assert.EqualValues(t, 0, f.orderCount(t))
}

func TestHandleWebhookApprovedWithoutUserMetadata(t *testing.T) {
	f := newPaymentFixture(t)

	event := approvedEvent("cs_test_1", "")
	event.Metadata = model.EventMetadata{}
	f.provider.event = event

	// flagged for manual reconciliation, acknowledged
	assert.NoError(t, f.svc.HandleWebhook(context.Background(), client.ProviderStripe, http.Header{}, []byte(`{}`)))
	assert.EqualValues(t, 0, f.orderCount(t))
}

func TestHandleWebhookPendingIsNoop(t *testing.T) {
	f := newPaymentFixture(t)

	event := approvedEvent("cs_test_1", "user-1")
	event.Status = model.StatusPending
	f.provider.event = event

	assert.NoError(t, f.svc.HandleWebhook(context.Background(), client.ProviderStripe, http.Header{}, []byte(`{}`)))
	assert.EqualValues(t, 0, f.orderCount(t))
}

func TestHandleWebhookRecordsAuditTrail(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	event := approvedEvent("cs_test_1", "user-1")
	event.Status = model.StatusPending
	f.provider.event = event

	require.NoError(t, f.svc.HandleWebhook(ctx, client.ProviderStripe, http.Header{}, []byte(`{}`)))

	var recorded []model.WebhookEvent
	require.NoError(t, f.db.Find(&recorded).Error)
	require.Len(t, recorded, 1)
	assert.Equal(t, event.EventID, recorded[0].EventID)
	assert.Equal(t, "cs_test_1", recorded[0].PaymentRef)
	assert.Equal(t, string(model.StatusPending), recorded[0].Status)
}

func TestCheckout(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	require.NoError(t, f.db.Create(&model.Address{UserID: "user-1", FullName: "Ana", Street: "Calle 1", City: "Colima", Country: "MX"}).Error)

	f.provider.session = &client.CheckoutSession{
		PaymentRef:  "cs_new",
		CheckoutURL: "https://checkout.example/cs_new",
	}

	resp, err := f.svc.Checkout(ctx, "user-1", "buyer@example.com", &dto.CheckoutRequest{AddressID: 1})
	require.NoError(t, err)
	assert.Equal(t, client.ProviderStripe, resp.Provider)
	assert.Equal(t, "cs_new", resp.PaymentRef)
	assert.Equal(t, "https://checkout.example/cs_new", resp.CheckoutURL)

	req := f.provider.lastCreate
	require.NotNil(t, req)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(650)), "amount %s", req.Amount)
	assert.Equal(t, "MXN", req.Currency)
	assert.Equal(t, "user-1", req.Metadata.UserID)
	assert.Equal(t, "650.00", req.Metadata.Total)

	// product line plus the shipping line
	require.Len(t, req.Items, 2)
	assert.Equal(t, "Envío", req.Items[1].Title)
	assert.True(t, req.Items[1].UnitPrice.Equal(decimal.NewFromInt(150)))

	// checkout must not touch stock or the cart
	assert.Equal(t, 5, f.stock(t, product.ID))
	cart, err := f.carts.Get(ctx, "user-1")
	require.NoError(t, err)
	assert.NotEmpty(t, cart)
}

func TestCheckoutFreeShippingOverThreshold(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 600, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	require.NoError(t, f.db.Create(&model.Address{UserID: "user-1", FullName: "Ana", Street: "Calle 1", City: "Colima", Country: "MX"}).Error)

	f.provider.session = &client.CheckoutSession{PaymentRef: "cs_new", CheckoutURL: "https://checkout.example/cs_new"}

	_, err := f.svc.Checkout(ctx, "user-1", "buyer@example.com", &dto.CheckoutRequest{AddressID: 1})
	require.NoError(t, err)

	req := f.provider.lastCreate
	require.NotNil(t, req)
	assert.True(t, req.Amount.Equal(decimal.NewFromInt(1200)), "amount %s", req.Amount)
	require.Len(t, req.Items, 1)
	assert.Equal(t, "0.00", req.Metadata.ShippingCost)
}

func TestCheckoutEmptyCart(t *testing.T) {
	f := newPaymentFixture(t)

	_, err := f.svc.Checkout(context.Background(), "user-1", "buyer@example.com", &dto.CheckoutRequest{AddressID: 1})
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutAddressNotFound(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})

	_, err := f.svc.Checkout(ctx, "user-1", "buyer@example.com", &dto.CheckoutRequest{AddressID: 42})
	assert.ErrorIs(t, err, ErrAddressNotFound)
}

func TestCheckoutInsufficientStock(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 1)
	f.seedCart(t, "user-1", model.Cart{product.ID: 2})
	require.NoError(t, f.db.Create(&model.Address{UserID: "user-1", FullName: "Ana", Street: "Calle 1", City: "Colima", Country: "MX"}).Error)

	_, err := f.svc.Checkout(ctx, "user-1", "buyer@example.com", &dto.CheckoutRequest{AddressID: 1})
	assert.ErrorIs(t, err, ErrInsufficientStock)
}

func TestCheckoutInactiveProduct(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	product := f.seedProduct(t, "arnica", 250, 5)
	f.seedCart(t, "user-1", model.Cart{product.ID: 1})
	require.NoError(t, f.db.Create(&model.Address{UserID: "user-1", FullName: "Ana", Street: "Calle 1", City: "Colima", Country: "MX"}).Error)
	require.NoError(t, f.db.Model(&model.Product{}).Where("id = ?", product.ID).Update("is_active", false).Error)

	_, err := f.svc.Checkout(ctx, "user-1", "buyer@example.com", &dto.CheckoutRequest{AddressID: 1})
	assert.ErrorIs(t, err, ErrProductUnavailable)
}

func TestCancelAndRefundPassthrough(t *testing.T) {
	f := newPaymentFixture(t)
	ctx := context.Background()

	require.NoError(t, f.svc.CancelPayment(ctx, client.ProviderStripe, "cs_1"))
	assert.Equal(t, "cs_1", f.provider.cancelledRef)

	require.NoError(t, f.svc.RefundPayment(ctx, client.ProviderStripe, "cs_2", nil))
	assert.Equal(t, "cs_2", f.provider.refundedRef)

	assert.ErrorIs(t, f.svc.CancelPayment(ctx, "conekta", "x"), ErrUnknownProvider)
	assert.ErrorIs(t, f.svc.RefundPayment(ctx, "conekta", "x", nil), ErrUnknownProvider)
}
