package handler

import (
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/Maskeit/api-cisnatura/internal/client"
	"github.com/Maskeit/api-cisnatura/internal/dto"
	"github.com/Maskeit/api-cisnatura/internal/middleware"
	"github.com/Maskeit/api-cisnatura/internal/service"
)

type PaymentHandler struct {
	paymentService *service.PaymentService
}

func NewPaymentHandler(paymentService *service.PaymentService) *PaymentHandler {
	return &PaymentHandler{
		paymentService: paymentService,
	}
}

func (h *PaymentHandler) Checkout(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.CheckoutRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if req.AddressID == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "address_id is required")
	}

	result, err := h.paymentService.Checkout(ctx, middleware.UserID(c), middleware.Email(c), &req)
	if err != nil {
		return checkoutError(err)
	}

	return c.JSON(http.StatusOK, result)
}

func (h *PaymentHandler) StripeWebhook(c echo.Context) error {
	return h.webhook(c, client.ProviderStripe)
}

func (h *PaymentHandler) MercadoPagoWebhook(c echo.Context) error {
	return h.webhook(c, client.ProviderMercadoPago)
}

// webhook acknowledges everything except a bad signature or an internal
// failure: returning non-2xx makes the provider redeliver, which only helps
// when the failure is on our side.
func (h *PaymentHandler) webhook(c echo.Context, provider string) error {
	ctx := c.Request().Context()

	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return c.NoContent(http.StatusBadRequest)
	}

	err = h.paymentService.HandleWebhook(ctx, provider, c.Request().Header, body)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	case errors.Is(err, service.ErrSignatureInvalid):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid signature")
	case errors.Is(err, service.ErrUnknownProvider):
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	case errors.Is(err, service.ErrInsufficientStock), errors.Is(err, service.ErrCartExpired):
		// Redelivery cannot fix these; the event is flagged for manual
		// reconciliation and acknowledged.
		return c.JSON(http.StatusOK, map[string]bool{"received": true})
	default:
		return err
	}
}

func (h *PaymentHandler) CancelPayment(c echo.Context) error {
	ctx := c.Request().Context()

	err := h.paymentService.CancelPayment(ctx, c.Param("provider"), c.Param("ref"))
	if err != nil {
		return providerError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancel requested"})
}

func (h *PaymentHandler) RefundPayment(c echo.Context) error {
	ctx := c.Request().Context()

	var req dto.RefundRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}

	err := h.paymentService.RefundPayment(ctx, c.Param("provider"), c.Param("ref"), req.Amount)
	if err != nil {
		return providerError(err)
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "refund requested"})
}

func checkoutError(err error) error {
	switch {
	case errors.Is(err, service.ErrEmptyCart):
		return echo.NewHTTPError(http.StatusBadRequest, "cart is empty")
	case errors.Is(err, service.ErrAddressNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "address not found")
	case errors.Is(err, service.ErrProductUnavailable):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrInsufficientStock):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	default:
		return providerError(err)
	}
}

func providerError(err error) error {
	var perr *client.ProviderError
	if errors.As(err, &perr) {
		return echo.NewHTTPError(http.StatusBadGateway, "payment provider unavailable")
	}
	if errors.Is(err, service.ErrUnknownProvider) {
		return echo.NewHTTPError(http.StatusNotFound, "unknown provider")
	}
	return err
}
