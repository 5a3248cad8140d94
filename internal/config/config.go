// Package config provides application configuration management.
// Configuration is loaded from environment variables following 12-factor principles.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"

	"github.com/tollgate/tollgate/internal/model"
)

// Config holds all application configuration.
// All fields are populated from environment variables.
type Config struct {
	// Application settings
	AppEnv  string `env:"APP_ENV" envDefault:"development"`
	AppPort int    `env:"APP_PORT" envDefault:"8080"`

	// Store (Redis)
	RedisURL string `env:"REDIS_URL,required"`

	// Base URL advertised in 402 responses (e.g., https://api.tollgate.sh)
	BaseURL string `env:"BASE_URL" envDefault:"http://localhost:8080"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Server timeouts
	ReadTimeout     time.Duration `env:"READ_TIMEOUT" envDefault:"5s"`
	WriteTimeout    time.Duration `env:"WRITE_TIMEOUT" envDefault:"10s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Credits granted on signup
	SignupCredits int64 `env:"SIGNUP_CREDITS" envDefault:"1"`

	// Payment lifecycle
	PaymentExpiry       time.Duration `env:"PAYMENT_EXPIRY" envDefault:"30m"`
	PollInterval        time.Duration `env:"POLL_INTERVAL" envDefault:"500ms"`
	RateRefreshInterval time.Duration `env:"RATE_REFRESH_INTERVAL" envDefault:"600s"`

	// Lightning (LNBits)
	LightningEnabled     bool   `env:"LIGHTNING_ENABLED" envDefault:"true"`
	LNBitsURL            string `env:"LNBITS_URL"`
	LNBitsAdminKey       string `env:"LNBITS_ADMIN_KEY"`
	LNBitsInvoiceReadKey string `env:"LNBITS_INVOICE_READ_KEY"`

	// Coinbase Commerce
	CoinbaseEnabled       bool   `env:"COINBASE_ENABLED" envDefault:"true"`
	CoinbaseAPIKey        string `env:"COINBASE_API_KEY"`
	CoinbaseWebhookSecret string `env:"COINBASE_WEBHOOK_SECRET"`

	// Offer catalog as a JSON array
	OffersJSON string `env:"OFFERS_JSON"`

	offers []model.Offer
}

// defaultOffersJSON is used when OFFERS_JSON is not set.
const defaultOffersJSON = `[
	{
		"id": "offer1",
		"title": "1 Credit Package",
		"description": "Purchase 1 credit for API access",
		"credits": 1,
		"amount": 0.01,
		"currency": "USD"
	},
	{
		"id": "offer2",
		"title": "5 Credits Package",
		"description": "Purchase 5 credits for API access",
		"credits": 5,
		"amount": 0.05,
		"currency": "USD"
	}
]`

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Offers returns the parsed offer catalog.
func (c *Config) Offers() []model.Offer {
	return c.offers
}

// FindOffer looks up an offer by ID. Returns nil if not found.
func (c *Config) FindOffer(id string) *model.Offer {
	for i := range c.offers {
		if c.offers[i].ID == id {
			return &c.offers[i]
		}
	}
	return nil
}

// parseOffers validates and caches the offer catalog.
func (c *Config) parseOffers() error {
	raw := c.OffersJSON
	if raw == "" {
		raw = defaultOffersJSON
	}

	var offers []model.Offer
	if err := json.Unmarshal([]byte(raw), &offers); err != nil {
		return fmt.Errorf("failed to parse OFFERS_JSON: %w", err)
	}
	if len(offers) == 0 {
		return fmt.Errorf("OFFERS_JSON must contain at least one offer")
	}

	for _, offer := range offers {
		if offer.ID == "" {
			return fmt.Errorf("offer missing id")
		}
		if offer.Credits <= 0 {
			return fmt.Errorf("offer %s: credits must be positive", offer.ID)
		}
		if offer.Amount <= 0 {
			return fmt.Errorf("offer %s: amount must be positive", offer.ID)
		}
		if offer.Currency == "" {
			return fmt.Errorf("offer %s: currency is required", offer.ID)
		}
	}

	c.offers = offers
	return nil
}

// LightningConfigured reports whether the Lightning provider has the
// credentials it needs to operate.
func (c *Config) LightningConfigured() bool {
	return c.LightningEnabled && c.LNBitsURL != "" && c.LNBitsAdminKey != "" && c.LNBitsInvoiceReadKey != ""
}

// CoinbaseConfigured reports whether the Coinbase provider has the
// credentials it needs to operate.
func (c *Config) CoinbaseConfigured() bool {
	return c.CoinbaseEnabled && c.CoinbaseAPIKey != ""
}

// Load parses environment variables and returns a Config.
// Returns an error if required variables are missing or the offer
// catalog is malformed.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.parseOffers(); err != nil {
		return nil, err
	}
	return cfg, nil
}
