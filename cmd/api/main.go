// Package main is the entrypoint for the Tollgate API server.
package main

import (
	"context"
	"log/slog"
	"net/url"
	"os"
	"strings"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/tollgate/tollgate/internal/config"
	"github.com/tollgate/tollgate/internal/handler"
	"github.com/tollgate/tollgate/internal/market"
	"github.com/tollgate/tollgate/internal/metrics"
	"github.com/tollgate/tollgate/internal/middleware"
	"github.com/tollgate/tollgate/internal/payment"
	"github.com/tollgate/tollgate/internal/provider"
	"github.com/tollgate/tollgate/internal/rates"
	"github.com/tollgate/tollgate/internal/server"
	"github.com/tollgate/tollgate/internal/store"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	st, err := store.New(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error(
			"failed to connect to Redis",
			slog.String("error", sanitizeError(err, cfg.RedisURL)),
			slog.String("redis_url", redactURL(cfg.RedisURL)),
		)
		os.Exit(1)
	}
	defer st.Close()
	logger.Info("connected to Redis")

	metricsRecorder := metrics.NewNoop()

	rateCache := rates.New(metricsRecorder, rates.WithRefreshInterval(cfg.RateRefreshInterval))

	// A provider that fails to configure is disabled, not fatal; the other
	// provider keeps serving.
	var providers []provider.Provider

	if cfg.LightningConfigured() {
		lightning, err := provider.NewLightning(provider.LightningConfig{
			BaseURL:        cfg.LNBitsURL,
			AdminKey:       cfg.LNBitsAdminKey,
			InvoiceReadKey: cfg.LNBitsInvoiceReadKey,
			InvoiceExpiry:  cfg.PaymentExpiry,
		}, rateCache, logger)
		if err != nil {
			logger.Error("lightning provider disabled", "error", err)
		} else {
			providers = append(providers, lightning)
			logger.Info("lightning provider enabled")
		}
	} else {
		logger.Info("lightning provider not configured")
	}

	if cfg.CoinbaseConfigured() {
		coinbase, err := provider.NewCoinbase(provider.CoinbaseConfig{
			APIKey:        cfg.CoinbaseAPIKey,
			WebhookSecret: cfg.CoinbaseWebhookSecret,
		}, logger)
		if err != nil {
			logger.Error("coinbase provider disabled", "error", err)
		} else {
			providers = append(providers, coinbase)
			logger.Info("coinbase provider enabled")
		}
	} else {
		logger.Info("coinbase provider not configured")
	}

	paymentService := payment.NewService(st, cfg, providers, logger, payment.Options{
		Expiry:       cfg.PaymentExpiry,
		PollInterval: cfg.PollInterval,
		Metrics:      metricsRecorder,
	})

	blockService := market.NewBlockService()
	stockService := market.NewStockService(st, logger)

	h := handler.New()
	healthHandler := handler.NewHealthHandler(st)
	userHandler := handler.NewUserHandler(st, cfg.SignupCredits, logger)
	paymentHandler := handler.NewPaymentHandler(paymentService, logger)
	dataHandler := handler.NewDataHandler(st, cfg, blockService, stockService, cfg.BaseURL, cfg.PaymentExpiry, logger)

	r := setupRouter(h, healthHandler, userHandler, paymentHandler, dataHandler, st, cfg, logger)

	srv := server.New(
		r,
		cfg.AppPort,
		cfg.ReadTimeout,
		cfg.WriteTimeout,
		cfg.ShutdownTimeout,
		logger,
	)
	srv.OnShutdown("payment service", paymentService.Shutdown)

	logger.Info("starting server",
		"port", cfg.AppPort,
		"base_url", cfg.BaseURL,
		"env", cfg.AppEnv,
	)

	if err := srv.Run(); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// setupRouter configures the chi router with all routes and middleware.
func setupRouter(
	h *handler.Handler,
	healthHandler *handler.HealthHandler,
	userHandler *handler.UserHandler,
	paymentHandler *handler.PaymentHandler,
	dataHandler *handler.DataHandler,
	st *store.Store,
	cfg *config.Config,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))

	// Health endpoints (no auth required)
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)

	// Root info endpoint
	r.Get("/", h.Hello)

	// Open endpoints: account creation, purchase initiation, webhooks.
	// Purchase initiation authenticates via payment_context_token in the
	// body, webhooks via provider signatures.
	r.Get("/signup", userHandler.Signup)
	r.Post("/l402/payment-request", paymentHandler.Initiate)
	r.Post("/webhook/lightning", paymentHandler.LightningWebhook)
	r.Post("/webhook/coinbase", paymentHandler.CoinbaseWebhook)

	// Authenticated endpoints
	authCfg := middleware.AuthConfig{
		Logger: logger,
		Store:  st,
	}
	r.Group(func(r chi.Router) {
		r.Use(middleware.Auth(authCfg))

		r.Get("/info", userHandler.Info)
		r.Get("/block", dataHandler.LatestBlock)
		r.Get("/stock/{symbol}", dataHandler.StockQuote)
	})

	// 404 and 405 handlers
	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return msg
}
