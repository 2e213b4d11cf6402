package server

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
	echomiddleware "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Maskeit/api-cisnatura/internal/handler"
	"github.com/Maskeit/api-cisnatura/internal/middleware"
	"github.com/Maskeit/api-cisnatura/internal/service"
)

type Server struct {
	echo           *echo.Echo
	jwtSecret      string
	cartHandler    *handler.CartHandler
	paymentHandler *handler.PaymentHandler
	orderHandler   *handler.OrderHandler
}

func NewServer(
	jwtSecret string,
	cartService *service.CartService,
	paymentService *service.PaymentService,
	orderService *service.OrderService,
) *Server {
	e := echo.New()
	e.HideBanner = true

	e.Use(echomiddleware.Recover())
	e.Use(echomiddleware.CORS())
	e.Use(middleware.Prometheus())

	s := &Server{
		echo:           e,
		jwtSecret:      jwtSecret,
		cartHandler:    handler.NewCartHandler(cartService),
		paymentHandler: handler.NewPaymentHandler(paymentService),
		orderHandler:   handler.NewOrderHandler(orderService),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	api := s.echo.Group("/api")

	api.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	auth := middleware.JWTAuth(s.jwtSecret)

	// -------- cart --------
	cart := api.Group("/cart", auth)
	cart.GET("", s.cartHandler.GetCart)
	cart.GET("/summary", s.cartHandler.GetSummary)
	cart.POST("/items", s.cartHandler.AddItem)
	cart.PUT("/items/:productID", s.cartHandler.UpdateItem)
	cart.DELETE("/items/:productID", s.cartHandler.RemoveItem)
	cart.DELETE("", s.cartHandler.Clear)

	// -------- checkout --------
	api.POST("/checkout", s.paymentHandler.Checkout, auth)

	// -------- provider webhooks --------
	webhooks := api.Group("/webhooks")
	webhooks.POST("/stripe", s.paymentHandler.StripeWebhook)
	webhooks.POST("/mercadopago", s.paymentHandler.MercadoPagoWebhook)

	// -------- admin --------
	admin := api.Group("/admin", auth, middleware.RequireAdmin())
	admin.GET("/orders", s.orderHandler.ListOrders)
	admin.GET("/orders/:id", s.orderHandler.GetOrder)
	admin.POST("/orders/:id/ship", s.orderHandler.ShipOrder)
	admin.POST("/payments/:provider/:ref/cancel", s.paymentHandler.CancelPayment)
	admin.POST("/payments/:provider/:ref/refund", s.paymentHandler.RefundPayment)
}

func (s *Server) Start(address string) error {
	return s.echo.Start(address)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}
