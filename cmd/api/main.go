package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Maskeit/api-cisnatura/internal/client"
	"github.com/Maskeit/api-cisnatura/internal/config"
	"github.com/Maskeit/api-cisnatura/internal/repository"
	"github.com/Maskeit/api-cisnatura/internal/server"
	"github.com/Maskeit/api-cisnatura/internal/service"
)

func main() {
	// load .env into os.Environ
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found (ok in prod)")
	}

	cfg, err := config.Parse()
	if err != nil {
		fmt.Printf("Failed to parse config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	defer logger.Sync()
	log := logger.Sugar()

	db, err := client.InitMysqlClient(cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("database initialization error", "error", err)
	}

	rdb, err := client.InitRedisClient(cfg.RedisURL)
	if err != nil {
		log.Fatalw("redis initialization error", "error", err)
	}
	defer rdb.Close()

	providers := make(map[string]client.PaymentProvider)
	if cfg.Stripe.APIKey != "" {
		providers[client.ProviderStripe] = client.NewStripeClient(&cfg.Stripe, cfg.FrontendURL, log)
	}
	if cfg.MercadoPago.AccessToken != "" {
		providers[client.ProviderMercadoPago] = client.NewMercadoPagoClient(&cfg.MercadoPago, cfg.BaseURL, cfg.FrontendURL, log)
	}
	active, ok := providers[cfg.ActiveProvider]
	if !ok {
		log.Fatalw("active payment provider is not configured", "provider", cfg.ActiveProvider)
	}

	cartStore := repository.NewCartStore(rdb)
	productRepo := repository.NewProductRepository(db)
	orderRepo := repository.NewOrderRepository(db)
	addressRepo := repository.NewAddressRepository(db)
	webhookEventRepo := repository.NewWebhookEventRepository(db)

	mailer := service.NewMailer(cfg.SMTP)

	cartService := service.NewCartService(cartStore, productRepo, log)
	paymentService := service.NewPaymentService(
		db,
		providers,
		active,
		cartStore,
		orderRepo,
		productRepo,
		addressRepo,
		webhookEventRepo,
		cfg.Shipping,
		cfg.Currency,
		log,
	)
	orderService := service.NewOrderService(db, orderRepo, mailer, log)

	srv := server.NewServer(cfg.JWTSecret, cartService, paymentService, orderService)
	serverAddr := cfg.HTTP.Host + ":" + cfg.HTTP.Port

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infow("starting HTTP server", "addr", serverAddr, "provider", cfg.ActiveProvider)
		if err := srv.Start(serverAddr); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		log.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Fatalw("application terminated with error", "error", err)
	}
}

func newLogger(cfg *config.Config) *zap.Logger {
	if cfg.Environment.Name == "development" {
		logger, _ := zap.NewDevelopment()
		return logger
	}
	logger, _ := zap.NewProduction()
	return logger
}
