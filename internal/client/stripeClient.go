package client

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Maskeit/api-cisnatura/internal/config"
	"github.com/Maskeit/api-cisnatura/internal/model"
)

const ProviderStripe = "stripe"

// signatureTolerance bounds how old a webhook timestamp may be before the
// signature is rejected, mirroring the provider's replay window.
const signatureTolerance = 5 * time.Minute

type stripeClientImpl struct {
	httpClient    *http.Client
	baseApiURL    string
	apiKey        string
	webhookSecret string
	frontendURL   string
	log           *zap.SugaredLogger
	now           func() time.Time
}

func NewStripeClient(cfg *config.Stripe, frontendURL string, log *zap.SugaredLogger) PaymentProvider {
	return &stripeClientImpl{
		httpClient: &http.Client{
			Timeout: requestTimeout,
		},
		baseApiURL:    strings.TrimRight(cfg.BaseApiURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		frontendURL:   strings.TrimRight(frontendURL, "/"),
		log:           log,
		now:           time.Now,
	}
}

func (c *stripeClientImpl) Name() string { return ProviderStripe }

type stripeSession struct {
	ID            string            `json:"id"`
	URL           string            `json:"url"`
	PaymentStatus string            `json:"payment_status"`
	PaymentIntent string            `json:"payment_intent"`
	AmountTotal   int64             `json:"amount_total"`
	Currency      string            `json:"currency"`
	CustomerEmail string            `json:"customer_email"`
	Metadata      map[string]string `json:"metadata"`
}

type stripeEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

func (c *stripeClientImpl) headers(contentType string) map[string]string {
	h := map[string]string{
		"Authorization": "Bearer " + c.apiKey,
	}
	if contentType != "" {
		h["Content-Type"] = contentType
	}
	return h
}

func (c *stripeClientImpl) CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CheckoutSession, error) {
	form := url.Values{}
	form.Set("mode", "payment")
	form.Set("customer_email", req.CustomerEmail)
	form.Set("success_url", c.frontendURL+"/checkout/stripe/success?session_id={CHECKOUT_SESSION_ID}")
	form.Set("cancel_url", c.frontendURL+"/checkout/stripe/cancel")
	form.Set("payment_method_types[0]", "card")

	for i, item := range req.Items {
		prefix := fmt.Sprintf("line_items[%d]", i)
		form.Set(prefix+"[price_data][currency]", strings.ToLower(req.Currency))
		form.Set(prefix+"[price_data][unit_amount]", strconv.FormatInt(toMinorUnits(item.UnitPrice), 10))
		form.Set(prefix+"[price_data][product_data][name]", item.Title)
		form.Set(prefix+"[quantity]", strconv.Itoa(item.Quantity))
	}

	for k, v := range metadataFields(req.Metadata, req.OrderRef) {
		form.Set("metadata["+k+"]", v)
		form.Set("payment_intent_data[metadata]["+k+"]", v)
	}

	body, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodPost,
		c.baseApiURL+"/v1/checkout/sessions",
		c.headers("application/x-www-form-urlencoded"),
		[]byte(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("stripe create checkout session: %w", err)
	}

	var session stripeSession
	if err := json.Unmarshal(body, &session); err != nil {
		return nil, fmt.Errorf("decode stripe session: %w", err)
	}

	c.log.Infow("stripe checkout session created", "session_id", session.ID, "order_ref", req.OrderRef)

	return &CheckoutSession{
		PaymentRef:  session.ID,
		CheckoutURL: session.URL,
	}, nil
}

func (c *stripeClientImpl) GetPaymentStatus(ctx context.Context, paymentRef string) (*PaymentStatusResult, error) {
	switch {
	case strings.HasPrefix(paymentRef, "cs_"):
		body, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodGet,
			c.baseApiURL+"/v1/checkout/sessions/"+paymentRef, c.headers(""), nil)
		if err != nil {
			return nil, fmt.Errorf("stripe get session: %w", err)
		}
		var session stripeSession
		if err := json.Unmarshal(body, &session); err != nil {
			return nil, fmt.Errorf("decode stripe session: %w", err)
		}
		return &PaymentStatusResult{
			Status:      mapStripeStatus(session.PaymentStatus),
			Amount:      fromMinorUnits(session.AmountTotal),
			ExternalRef: session.Metadata["external_reference"],
			Metadata:    metadataFromMap(session.Metadata),
		}, nil

	case strings.HasPrefix(paymentRef, "pi_"):
		body, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodGet,
			c.baseApiURL+"/v1/payment_intents/"+paymentRef, c.headers(""), nil)
		if err != nil {
			return nil, fmt.Errorf("stripe get payment intent: %w", err)
		}
		var intent struct {
			ID       string            `json:"id"`
			Status   string            `json:"status"`
			Amount   int64             `json:"amount"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(body, &intent); err != nil {
			return nil, fmt.Errorf("decode stripe payment intent: %w", err)
		}
		return &PaymentStatusResult{
			Status:      mapStripeStatus(intent.Status),
			Amount:      fromMinorUnits(intent.Amount),
			ExternalRef: intent.Metadata["external_reference"],
			Metadata:    metadataFromMap(intent.Metadata),
		}, nil

	default:
		return nil, &ProviderError{Provider: ProviderStripe, StatusCode: http.StatusBadRequest, Body: "unrecognized payment reference format"}
	}
}

func (c *stripeClientImpl) CancelPayment(ctx context.Context, paymentRef string) error {
	// Checkout sessions are expired, payment intents are cancelled.
	path := "/v1/payment_intents/" + paymentRef + "/cancel"
	if strings.HasPrefix(paymentRef, "cs_") {
		path = "/v1/checkout/sessions/" + paymentRef + "/expire"
	}

	_, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodPost,
		c.baseApiURL+path, c.headers("application/x-www-form-urlencoded"), nil)
	if err != nil {
		return fmt.Errorf("stripe cancel payment: %w", err)
	}
	return nil
}

func (c *stripeClientImpl) RefundPayment(ctx context.Context, paymentRef string, amount *decimal.Decimal) error {
	intentID := paymentRef
	if strings.HasPrefix(paymentRef, "cs_") {
		status, err := c.sessionPaymentIntent(ctx, paymentRef)
		if err != nil {
			return err
		}
		intentID = status
	}

	form := url.Values{}
	form.Set("payment_intent", intentID)
	if amount != nil {
		form.Set("amount", strconv.FormatInt(toMinorUnits(*amount), 10))
	}

	_, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodPost,
		c.baseApiURL+"/v1/refunds",
		c.headers("application/x-www-form-urlencoded"),
		[]byte(form.Encode()))
	if err != nil {
		return fmt.Errorf("stripe refund payment: %w", err)
	}
	return nil
}

func (c *stripeClientImpl) sessionPaymentIntent(ctx context.Context, sessionID string) (string, error) {
	body, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodGet,
		c.baseApiURL+"/v1/checkout/sessions/"+sessionID, c.headers(""), nil)
	if err != nil {
		return "", fmt.Errorf("stripe get session: %w", err)
	}
	var session stripeSession
	if err := json.Unmarshal(body, &session); err != nil {
		return "", fmt.Errorf("decode stripe session: %w", err)
	}
	if session.PaymentIntent == "" {
		return "", &ProviderError{Provider: ProviderStripe, StatusCode: http.StatusNotFound, Body: "session has no payment intent"}
	}
	return session.PaymentIntent, nil
}

// ValidateWebhook checks the Stripe-Signature header: an HMAC-SHA256 over
// "<timestamp>.<payload>" compared in constant time, with the timestamp bound
// by the replay tolerance.
func (c *stripeClientImpl) ValidateWebhook(payload []byte, header http.Header) bool {
	sigHeader := header.Get("Stripe-Signature")
	if sigHeader == "" || c.webhookSecret == "" {
		return false
	}

	var timestamp string
	var candidates []string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			timestamp = v
		case "v1":
			candidates = append(candidates, v)
		}
	}
	if timestamp == "" || len(candidates) == 0 {
		return false
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return false
	}
	age := c.now().Sub(time.Unix(ts, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return false
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(timestamp))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := mac.Sum(nil)

	for _, candidate := range candidates {
		decoded, err := hex.DecodeString(candidate)
		if err != nil {
			continue
		}
		if hmac.Equal(decoded, expected) {
			return true
		}
	}
	return false
}

func (c *stripeClientImpl) ParseEvent(ctx context.Context, payload []byte) (*model.PaymentEvent, error) {
	var event stripeEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("decode stripe event: %w", err)
	}

	out := &model.PaymentEvent{
		Provider:  ProviderStripe,
		EventID:   event.ID,
		EventType: event.Type,
		Status:    model.StatusUnknown,
	}

	switch event.Type {
	case "checkout.session.completed", "checkout.session.async_payment_succeeded", "checkout.session.async_payment_failed":
		var session stripeSession
		if err := json.Unmarshal(event.Data.Object, &session); err != nil {
			return nil, fmt.Errorf("decode stripe event session: %w", err)
		}
		out.PaymentRef = session.ID
		out.Amount = fromMinorUnits(session.AmountTotal)
		out.Metadata = metadataFromMap(session.Metadata)

		switch event.Type {
		case "checkout.session.completed":
			if session.PaymentStatus == "paid" {
				out.Status = model.StatusApproved
			} else {
				out.Status = model.StatusPending
			}
		case "checkout.session.async_payment_succeeded":
			out.Status = model.StatusApproved
		case "checkout.session.async_payment_failed":
			out.Status = model.StatusCancelled
		}

	case "charge.refunded", "charge.dispute.created":
		var charge struct {
			ID             string            `json:"id"`
			PaymentIntent  string            `json:"payment_intent"`
			AmountRefunded int64             `json:"amount_refunded"`
			Amount         int64             `json:"amount"`
			Metadata       map[string]string `json:"metadata"`
		}
		if err := json.Unmarshal(event.Data.Object, &charge); err != nil {
			return nil, fmt.Errorf("decode stripe event charge: %w", err)
		}

		// Orders are keyed on the checkout session id, so the charge's
		// payment intent has to be resolved back to its session.
		ref, err := c.sessionForIntent(ctx, charge.PaymentIntent)
		if err != nil {
			c.log.Warnw("stripe session lookup for charge failed", "payment_intent", charge.PaymentIntent, "error", err)
			ref = charge.PaymentIntent
		}
		out.PaymentRef = ref
		out.Metadata = metadataFromMap(charge.Metadata)

		if event.Type == "charge.refunded" {
			out.Status = model.StatusRefunded
			out.Amount = fromMinorUnits(charge.AmountRefunded)
		} else {
			out.Status = model.StatusChargedBack
			out.Amount = fromMinorUnits(charge.Amount)
		}
	}

	return out, nil
}

func (c *stripeClientImpl) sessionForIntent(ctx context.Context, intentID string) (string, error) {
	if intentID == "" {
		return "", &ProviderError{Provider: ProviderStripe, StatusCode: http.StatusBadRequest, Body: "empty payment intent"}
	}

	body, err := doRequest(ctx, c.httpClient, ProviderStripe, http.MethodGet,
		c.baseApiURL+"/v1/checkout/sessions?payment_intent="+url.QueryEscape(intentID)+"&limit=1",
		c.headers(""), nil)
	if err != nil {
		return "", fmt.Errorf("stripe list sessions: %w", err)
	}

	var list struct {
		Data []stripeSession `json:"data"`
	}
	if err := json.Unmarshal(body, &list); err != nil {
		return "", fmt.Errorf("decode stripe session list: %w", err)
	}
	if len(list.Data) == 0 {
		return "", &ProviderError{Provider: ProviderStripe, StatusCode: http.StatusNotFound, Body: "no session for payment intent"}
	}
	return list.Data[0].ID, nil
}

func mapStripeStatus(status string) model.PaymentStatus {
	switch status {
	case "paid", "succeeded", "no_payment_required":
		return model.StatusApproved
	case "unpaid", "processing", "requires_action", "requires_payment_method", "requires_confirmation", "requires_capture":
		return model.StatusPending
	case "canceled", "cancelled", "expired":
		return model.StatusCancelled
	case "failed":
		return model.StatusRejected
	default:
		return model.StatusUnknown
	}
}

func metadataFields(m model.EventMetadata, orderRef string) map[string]string {
	return map[string]string{
		"external_reference": orderRef,
		"user_id":            m.UserID,
		"address_id":         m.AddressID,
		"email":              m.Email,
		"notes":              m.Notes,
		"subtotal":           m.Subtotal,
		"shipping_cost":      m.ShippingCost,
		"total":              m.Total,
	}
}

func metadataFromMap(m map[string]string) model.EventMetadata {
	return model.EventMetadata{
		UserID:       m["user_id"],
		AddressID:    m["address_id"],
		Email:        m["email"],
		Notes:        m["notes"],
		Subtotal:     m["subtotal"],
		ShippingCost: m["shipping_cost"],
		Total:        m["total"],
	}
}

func toMinorUnits(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func fromMinorUnits(v int64) decimal.Decimal {
	return decimal.NewFromInt(v).Div(decimal.NewFromInt(100))
}
