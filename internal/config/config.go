package config

import (
	"fmt"

	"github.com/caarlos0/env/v10"
)

type Config struct {
	Environment Environment
	Log         Log
	HTTP        HTTPServer
	BaseURL     string `env:"BASE_URL" envDefault:"http://localhost:8080"`
	FrontendURL string `env:"FRONTEND_URL" envDefault:"http://localhost:3000"`
	DatabaseURL string `env:"DATABASE_URL"`
	RedisURL    string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	JWTSecret   string `env:"JWT_SECRET"`
	Currency    string `env:"CURRENCY" envDefault:"MXN"`

	// ActiveProvider selects the adapter checkout sessions are created with.
	// Webhook endpoints stay registered for every configured provider.
	ActiveProvider string `env:"PAYMENT_PROVIDER" envDefault:"stripe"`

	Stripe      Stripe      `envPrefix:"STRIPE_"`
	MercadoPago MercadoPago `envPrefix:"MERCADOPAGO_"`
	SMTP        SMTP        `envPrefix:"SMTP_"`
	Shipping    Shipping    `envPrefix:"SHIPPING_"`
}

type Stripe struct {
	BaseApiURL    string `env:"BASE_API_URL" envDefault:"https://api.stripe.com"`
	APIKey        string `env:"API_KEY"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type MercadoPago struct {
	BaseApiURL    string `env:"BASE_API_URL" envDefault:"https://api.mercadopago.com"`
	AccessToken   string `env:"ACCESS_TOKEN"`
	WebhookSecret string `env:"WEBHOOK_SECRET"`
}

type SMTP struct {
	Host      string `env:"HOST"`
	Port      int    `env:"PORT" envDefault:"587"`
	Username  string `env:"USERNAME"`
	Password  string `env:"PASSWORD"`
	From      string `env:"FROM" envDefault:"pedidos@cisnatura.mx"`
	StoreName string `env:"STORE_NAME" envDefault:"Cisnatura"`
}

// Shipping holds the flat-rate rule: carts with a subtotal at or above
// FreeOver ship free, everything below pays FlatRate.
type Shipping struct {
	FlatRate float64 `env:"FLAT_RATE" envDefault:"150"`
	FreeOver float64 `env:"FREE_OVER" envDefault:"1000"`
}

type Environment struct {
	Name string `env:"ENVIRONMENT" envDefault:"development"`
}

type Log struct {
	Level  string `env:"LOG_LEVEL" envDefault:"info"`
	Format string `env:"LOG_FORMAT" envDefault:"json"`
}

type HTTPServer struct {
	Host string `env:"HTTP_HOST" envDefault:"0.0.0.0"`
	Port string `env:"HTTP_PORT" envDefault:"8080"`
}

// Parse reads the configuration from environment variables.
func Parse() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}
