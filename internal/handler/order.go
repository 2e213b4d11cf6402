package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/Maskeit/api-cisnatura/internal/dto"
	"github.com/Maskeit/api-cisnatura/internal/model"
	"github.com/Maskeit/api-cisnatura/internal/repository"
	"github.com/Maskeit/api-cisnatura/internal/service"
)

// maxAttachmentSize bounds the optional file attached to a shipping
// notification email.
const maxAttachmentSize = 5 * 1024 * 1024

type OrderHandler struct {
	orderService *service.OrderService
}

func NewOrderHandler(orderService *service.OrderService) *OrderHandler {
	return &OrderHandler{
		orderService: orderService,
	}
}

func (h *OrderHandler) ListOrders(c echo.Context) error {
	ctx := c.Request().Context()

	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))

	orders, total, err := h.orderService.List(ctx, repository.OrderFilter{
		Status: model.OrderStatus(c.QueryParam("status")),
		UserID: c.QueryParam("user_id"),
		Offset: offset,
		Limit:  limit,
	})
	if err != nil {
		return err
	}

	resp := dto.OrderListResponse{
		Orders: make([]dto.OrderResponse, len(orders)),
		Total:  total,
	}
	for i, order := range orders {
		resp.Orders[i] = dto.NewOrderResponse(order)
	}

	return c.JSON(http.StatusOK, resp)
}

func (h *OrderHandler) GetOrder(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := parseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}

	order, err := h.orderService.Get(ctx, orderID)
	if errors.Is(err, service.ErrOrderNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	}
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, dto.NewOrderResponse(order))
}

// ShipOrder takes multipart form data: tracking_number and carrier are
// required, tracking_url, note and one attachment are optional.
func (h *OrderHandler) ShipOrder(c echo.Context) error {
	ctx := c.Request().Context()

	orderID, err := parseID(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid order id")
	}

	req := &service.ShipmentRequest{
		Carrier:        c.FormValue("carrier"),
		TrackingNumber: c.FormValue("tracking_number"),
		TrackingURL:    c.FormValue("tracking_url"),
		Note:           c.FormValue("note"),
	}
	if req.Carrier == "" || req.TrackingNumber == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "carrier and tracking_number are required")
	}

	if fileHeader, err := c.FormFile("attachment"); err == nil {
		if fileHeader.Size > maxAttachmentSize {
			return echo.NewHTTPError(http.StatusBadRequest, "attachment exceeds 5MB")
		}
		file, err := fileHeader.Open()
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable attachment")
		}
		defer file.Close()

		content, err := io.ReadAll(io.LimitReader(file, maxAttachmentSize+1))
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "unreadable attachment")
		}
		if len(content) > maxAttachmentSize {
			return echo.NewHTTPError(http.StatusBadRequest, "attachment exceeds 5MB")
		}
		req.Attachment = &service.Attachment{
			Filename: fileHeader.Filename,
			Content:  content,
		}
	}

	emailSent, err := h.orderService.Ship(ctx, orderID, req)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "order not found")
	case errors.Is(err, service.ErrOrderNotPaid):
		return echo.NewHTTPError(http.StatusConflict, "order is not in paid state")
	case err != nil:
		return err
	}

	return c.JSON(http.StatusOK, dto.ShipResponse{
		Success:   true,
		EmailSent: emailSent,
	})
}
