package client

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/Maskeit/api-cisnatura/internal/model"
)

// PaymentProvider is the closed set of operations every payment gateway
// adapter supports. Instances are constructed once at startup and passed to
// the services that need them; there is no process-wide active provider.
type PaymentProvider interface {
	Name() string
	CreatePayment(ctx context.Context, req *CreatePaymentRequest) (*CheckoutSession, error)
	GetPaymentStatus(ctx context.Context, paymentRef string) (*PaymentStatusResult, error)
	CancelPayment(ctx context.Context, paymentRef string) error
	// RefundPayment refunds amount, or the full charge when amount is nil.
	RefundPayment(ctx context.Context, paymentRef string, amount *decimal.Decimal) error
	// ValidateWebhook reports whether the payload matches the provider
	// signature header. It never mutates state; callers turn false into an
	// unauthorized response.
	ValidateWebhook(payload []byte, header http.Header) bool
	ParseEvent(ctx context.Context, payload []byte) (*model.PaymentEvent, error)
}

type LineItem struct {
	Title     string
	Quantity  int
	UnitPrice decimal.Decimal
}

type CreatePaymentRequest struct {
	Amount        decimal.Decimal
	Currency      string
	Description   string
	OrderRef      string
	CustomerEmail string
	Items         []LineItem
	Metadata      model.EventMetadata
}

type CheckoutSession struct {
	PaymentRef  string
	CheckoutURL string
}

type PaymentStatusResult struct {
	Status      model.PaymentStatus
	Amount      decimal.Decimal
	ExternalRef string
	Metadata    model.EventMetadata
}

// ProviderError wraps any failure talking to a payment gateway. A zero
// StatusCode means the request never got a response.
type ProviderError struct {
	Provider   string
	StatusCode int
	Body       string
	Err        error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Provider, e.Err)
	}
	return fmt.Sprintf("%s: status=%d body=%s", e.Provider, e.StatusCode, e.Body)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// Temporary reports whether retrying the same request can succeed.
func (e *ProviderError) Temporary() bool {
	return e.StatusCode == 0 || e.StatusCode >= 500 || e.StatusCode == http.StatusTooManyRequests
}

const (
	maxAttempts    = 3
	initialBackoff = 200 * time.Millisecond
	requestTimeout = 30 * time.Second
)

// doRequest sends one HTTP request to a provider, retrying transient failures
// with bounded exponential backoff. 4xx responses are permanent and returned
// on the first attempt.
func doRequest(ctx context.Context, httpClient *http.Client, provider, method, url string, headers map[string]string, body []byte) ([]byte, error) {
	var respBody []byte

	backoff := retry.WithMaxRetries(maxAttempts-1, retry.NewExponential(initialBackoff))

	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}

		req, err := http.NewRequestWithContext(ctx, method, url, reader)
		if err != nil {
			return fmt.Errorf("new request: %w", err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(&ProviderError{Provider: provider, Err: err})
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(&ProviderError{Provider: provider, Err: err})
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			perr := &ProviderError{Provider: provider, StatusCode: resp.StatusCode, Body: string(b)}
			if perr.Temporary() {
				return retry.RetryableError(perr)
			}
			return perr
		}

		respBody = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	return respBody, nil
}
