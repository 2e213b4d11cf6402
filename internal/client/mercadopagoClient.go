package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Maskeit/api-cisnatura/internal/config"
	"github.com/Maskeit/api-cisnatura/internal/model"
)

const ProviderMercadoPago = "mercadopago"

type mercadoPagoClientImpl struct {
	httpClient    *http.Client
	baseApiURL    string
	accessToken   string
	webhookSecret string
	baseURL       string
	frontendURL   string
	log           *zap.SugaredLogger
}

func NewMercadoPagoClient(cfg *config.MercadoPago, baseURL, frontendURL string, log *zap.SugaredLogger) PaymentProvider {
	return &mercadoPagoClientImpl{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseApiURL:    strings.TrimRight(cfg.BaseApiURL, "/"),
		accessToken:   cfg.AccessToken,
		webhookSecret: cfg.WebhookSecret,
		baseURL:       strings.TrimRight(baseURL, "/"),
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		log:           log,
	}
}

func (c *mercadoPagoClientImpl) Name() string { return ProviderMercadoPago }

func (c *mercadoPagoClientImpl) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + c.accessToken,
		"Content-Type":  "application/json",
	}
}

type mpPayment struct {
	ID                int64             `json:"id"`
	Status            string            `json:"status"`
	TransactionAmount float64           `json:"transaction_amount"`
	ExternalReference string            `json:"external_reference"`
	Metadata          map[string]string `json:"metadata"`
	Payer             struct {
		Email string `json:"email"`
	} `json:"payer"`
}

func (c *mercadoPagoClientImpl) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CheckoutSession, error) {
	type mpItem struct {
		Title      string  `json:"title"`
		Quantity   int     `json:"quantity"`
		UnitPrice  float64 `json:"unit_price"`
		CurrencyID string  `json:"currency_id"`
	}

	items := make([]mpItem, len(req.Items))
	for i, item := range req.Items {
		items[i] = mpItem{
			Title:      item.Title,
			Quantity:   item.Quantity,
			UnitPrice:  item.UnitPrice.InexactFloat64(),
			CurrencyID: strings.ToUpper(req.Currency),
		}
	}

	payload := map[string]interface{}{
		"items":              items,
		"external_reference": req.OrderRef,
		"payer":              map[string]string{"email": req.CustomerEmail},
		"metadata":           metadataFields(req.Metadata, req.OrderRef),
		"notification_url":   c.baseURL + "/api/webhooks/mercadopago",
		"back_urls": map[string]string{
			"success": c.frontendURL + "/checkout/mercadopago/success",
			"failure": c.frontendURL + "/checkout/mercadopago/cancel",
			"pending": c.frontendURL + "/checkout/mercadopago/pending",
		},
		"auto_return": "approved",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal preference: %w", err)
	}

	respBody, err := doRequest(ctx, c.httpClient, ProviderMercadoPago, http.MethodPost,
		c.baseApiURL+"/checkout/preferences", c.headers(), body)
	if err != nil {
		return nil, fmt.Errorf("mercadopago create preference: %w", err)
	}

	var pref struct {
		ID        string `json:"id"`
		InitPoint string `json:"init_point"`
	}
	if err := json.Unmarshal(respBody, &pref); err != nil {
		return nil, fmt.Errorf("decode mercadopago preference: %w", err)
	}

	c.log.Infow("mercadopago preference created", "preference_id", pref.ID, "order_ref", req.OrderRef)

	return &CheckoutSession{
		PaymentRef:  pref.ID,
		CheckoutURL: pref.InitPoint,
	}, nil
}

func (c *mercadoPagoClientImpl) GetPaymentStatus(ctx context.Context, paymentRef string) (*PaymentStatusResult, error) {
	body, err := doRequest(ctx, c.httpClient, ProviderMercadoPago, http.MethodGet,
		c.baseApiURL+"/v1/payments/"+paymentRef, c.headers(), nil)
	if err != nil {
		return nil, fmt.Errorf("mercadopago get payment: %w", err)
	}

	var payment mpPayment
	if err := json.Unmarshal(body, &payment); err != nil {
		return nil, fmt.Errorf("decode mercadopago payment: %w", err)
	}

	meta := metadataFromMap(payment.Metadata)
	if meta.Email == "" {
		meta.Email = payment.Payer.Email
	}

	return &PaymentStatusResult{
		Status:      mapMercadoPagoStatus(payment.Status),
		Amount:      decimal.NewFromFloat(payment.TransactionAmount),
		ExternalRef: payment.ExternalReference,
		Metadata:    meta,
	}, nil
}

func (c *mercadoPagoClientImpl) CancelPayment(ctx context.Context, paymentRef string) error {
	body, err := json.Marshal(map[string]string{"status": "cancelled"})
	if err != nil {
		return fmt.Errorf("marshal cancel body: %w", err)
	}

	_, err = doRequest(ctx, c.httpClient, ProviderMercadoPago, http.MethodPut,
		c.baseApiURL+"/v1/payments/"+paymentRef, c.headers(), body)
	if err != nil {
		return fmt.Errorf("mercadopago cancel payment: %w", err)
	}
	return nil
}

func (c *mercadoPagoClientImpl) RefundPayment(ctx context.Context, paymentRef string, amount *decimal.Decimal) error {
	var body []byte
	if amount != nil {
		var err error
		body, err = json.Marshal(map[string]float64{"amount": amount.InexactFloat64()})
		if err != nil {
			return fmt.Errorf("marshal refund body: %w", err)
		}
	}

	_, err := doRequest(ctx, c.httpClient, ProviderMercadoPago, http.MethodPost,
		c.baseApiURL+"/v1/payments/"+paymentRef+"/refunds", c.headers(), body)
	if err != nil {
		return fmt.Errorf("mercadopago refund payment: %w", err)
	}
	return nil
}

// ValidateWebhook checks the x-signature header against an HMAC-SHA256 over
// the manifest "id:<data.id>;request-id:<x-request-id>;ts:<ts>;".
func (c *mercadoPagoClientImpl) ValidateWebhook(payload []byte, header http.Header) bool {
	sigHeader := header.Get("x-signature")
	if sigHeader == "" || c.webhookSecret == "" {
		return false
	}

	var ts, v1 string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "ts":
			ts = v
		case "v1":
			v1 = v
		}
	}
	if ts == "" || v1 == "" {
		return false
	}

	var notification struct {
		Data struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return false
	}

	manifest := fmt.Sprintf("id:%s;request-id:%s;ts:%s;",
		strings.ToLower(notification.Data.ID.String()),
		header.Get("x-request-id"),
		ts,
	)

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(manifest))
	expected := mac.Sum(nil)

	decoded, err := hex.DecodeString(v1)
	if err != nil {
		return false
	}
	return hmac.Equal(decoded, expected)
}

// ParseEvent resolves a MercadoPago notification. The webhook body only
// carries the payment id, so the payment is fetched to learn its status and
// the checkout metadata snapshot.
func (c *mercadoPagoClientImpl) ParseEvent(ctx context.Context, payload []byte) (*model.PaymentEvent, error) {
	var notification struct {
		ID     json.Number `json:"id"`
		Type   string      `json:"type"`
		Action string      `json:"action"`
		Data   struct {
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(payload, &notification); err != nil {
		return nil, fmt.Errorf("decode mercadopago notification: %w", err)
	}

	out := &model.PaymentEvent{
		Provider:  ProviderMercadoPago,
		EventID:   notification.ID.String(),
		EventType: notification.Type,
		Status:    model.StatusUnknown,
	}
	if notification.Action != "" {
		out.EventType = notification.Action
	}

	if notification.Type != "payment" || notification.Data.ID.String() == "" {
		return out, nil
	}

	status, err := c.GetPaymentStatus(ctx, notification.Data.ID.String())
	if err != nil {
		return nil, fmt.Errorf("resolve payment %s: %w", notification.Data.ID.String(), err)
	}

	out.PaymentRef = notification.Data.ID.String()
	out.Status = status.Status
	out.Amount = status.Amount
	out.Metadata = status.Metadata
	return out, nil
}

func mapMercadoPagoStatus(status string) model.PaymentStatus {
	switch status {
	case "approved":
		return model.StatusApproved
	case "pending", "authorized":
		return model.StatusPending
	case "in_process", "in_mediation":
		return model.StatusInProcess
	case "rejected":
		return model.StatusRejected
	case "cancelled":
		return model.StatusCancelled
	case "refunded":
		return model.StatusRefunded
	case "charged_back":
		return model.StatusChargedBack
	default:
		return model.StatusUnknown
	}
}
