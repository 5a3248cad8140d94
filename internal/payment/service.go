// Package payment orchestrates the payment lifecycle: charge creation,
// webhook and poll reconciliation, and the exactly-once credit grant.
package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/metrics"
	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/provider"
	"github.com/tollgate/tollgate/internal/store"
)

// Service errors.
var (
	ErrOfferNotFound        = errors.New("offer not found")
	ErrUserNotFound         = errors.New("user not found")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
)

// Store is the persistence surface the service needs. Implemented by
// *store.Store; faked in tests.
type Store interface {
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpdateUserCredits(ctx context.Context, userID string, delta int64) (*model.User, error)
	StorePaymentRequest(ctx context.Context, req *model.PaymentRequest) error
	GetPaymentRequest(ctx context.Context, requestID string) (*model.PaymentRequest, error)
	GetPaymentRequestByExternalID(ctx context.Context, externalID string) (*model.PaymentRequest, error)
	UpdatePaymentRequestStatus(ctx context.Context, requestID string, status model.PaymentStatus) (*model.PaymentRequest, error)
}

// OfferCatalog resolves offer IDs against the static catalog.
type OfferCatalog interface {
	FindOffer(id string) *model.Offer
}

// Service handles the payment lifecycle.
type Service struct {
	store        Store
	offers       OfferCatalog
	providers    map[model.PaymentMethod]provider.Provider
	logger       *slog.Logger
	metrics      metrics.Recorder
	expiry       time.Duration
	pollInterval time.Duration

	// baseCtx bounds the fire-and-forget reconciliation goroutines so they
	// stop on shutdown rather than leaking.
	baseCtx    context.Context
	cancelBase context.CancelFunc
	wg         sync.WaitGroup
}

// Options tunes service behavior. Zero values fall back to defaults.
type Options struct {
	Expiry       time.Duration
	PollInterval time.Duration
	Metrics      metrics.Recorder
}

// NewService creates a payment service over the given providers. A nil
// provider entry means that method is not configured and purchase attempts
// with it fail with ErrInvalidPaymentMethod.
func NewService(st Store, offers OfferCatalog, providers []provider.Provider, logger *slog.Logger, opts Options) *Service {
	if opts.Expiry <= 0 {
		opts.Expiry = 30 * time.Minute
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 500 * time.Millisecond
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoop()
	}

	byMethod := make(map[model.PaymentMethod]provider.Provider)
	for _, p := range providers {
		if p != nil {
			byMethod[p.Method()] = p
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		store:        st,
		offers:       offers,
		providers:    byMethod,
		logger:       logger.With("component", "payment.service"),
		metrics:      opts.Metrics,
		expiry:       opts.Expiry,
		pollInterval: opts.PollInterval,
		baseCtx:      ctx,
		cancelBase:   cancel,
	}
}

// Shutdown stops background reconciliation and waits for in-flight loops,
// bounded by ctx.
func (s *Service) Shutdown(ctx context.Context) error {
	s.cancelBase()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CreateInput describes a purchase initiation.
type CreateInput struct {
	UserID  string
	OfferID string
	Method  model.PaymentMethod
	// Chain and Asset are optional hints for crypto checkouts, echoed back
	// to the client.
	Chain string
	Asset string
}

// CreateResult is what the client needs to complete payment.
type CreateResult struct {
	Request *model.PaymentRequest
	Charge  *provider.Charge
	Chain   string
	Asset   string
}

// Create validates the purchase, creates the provider charge, persists the
// payment request, and for Lightning starts a background poll loop bound to
// the new external ID.
func (s *Service) Create(ctx context.Context, input CreateInput) (*CreateResult, error) {
	offer := s.offers.FindOffer(input.OfferID)
	if offer == nil {
		return nil, fmt.Errorf("%w: %s", ErrOfferNotFound, input.OfferID)
	}

	prov, ok := s.providers[input.Method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrInvalidPaymentMethod, input.Method)
	}

	if _, err := s.store.GetUser(ctx, input.UserID); err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to look up user: %w", err)
	}

	req := model.NewPaymentRequest(input.UserID, offer.ID, offer.Credits, input.Method, time.Now().UTC().Add(s.expiry))

	if err := s.store.StorePaymentRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to store payment request: %w", err)
	}

	charge, err := prov.CreateCharge(ctx, provider.ChargeParams{
		AmountUSD:   offer.Amount,
		Currency:    offer.Currency,
		Description: fmt.Sprintf("Purchase %d credits for API access - %s", offer.Credits, offer.Title),
		Reference:   req.ID,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create charge: %w", err)
	}

	req.ExternalID = charge.ExternalID
	if err := s.store.StorePaymentRequest(ctx, req); err != nil {
		return nil, fmt.Errorf("failed to store payment request: %w", err)
	}

	s.logger.Info("payment request created",
		"payment_id", req.ID,
		"user_id", req.UserID,
		"offer_id", req.OfferID,
		"method", req.Method,
		"external_id", req.ExternalID,
	)
	s.metrics.IncPaymentCreated(string(req.Method))

	if req.Method == model.MethodLightning {
		s.watch(req.ID, req.ExternalID, prov)
	}

	asset := input.Asset
	if req.Method == model.MethodCoinbase && asset == "" {
		asset = "USDC"
	}

	return &CreateResult{
		Request: req,
		Charge:  charge,
		Chain:   input.Chain,
		Asset:   asset,
	}, nil
}

// settle applies the credit grant for a paid request. It is the single
// shared path for webhook and poll reconciliation and is safe to invoke
// repeatedly: a request that is not pending, or whose validity window has
// passed, is a no-op.
func (s *Service) settle(ctx context.Context, req *model.PaymentRequest, path string) error {
	if req.Status != model.PaymentPending {
		s.logger.Debug("settlement skipped, not pending",
			"payment_id", req.ID,
			"status", req.Status,
			"path", path,
		)
		s.metrics.IncSettleDuplicate()
		return nil
	}
	if req.Expired(time.Now()) {
		s.logger.Info("settlement skipped, request expired",
			"payment_id", req.ID,
			"path", path,
		)
		return nil
	}

	updated, err := s.store.UpdatePaymentRequestStatus(ctx, req.ID, model.PaymentPaid)
	if err != nil {
		return fmt.Errorf("failed to mark payment paid: %w", err)
	}

	// The status write and the credit write are not atomic. A failure here
	// leaves a paid request without its grant; log loudly and keep serving.
	if _, err := s.store.UpdateUserCredits(ctx, updated.UserID, updated.Credits); err != nil {
		s.logger.Error("credit grant failed after payment marked paid",
			"payment_id", updated.ID,
			"user_id", updated.UserID,
			"credits", updated.Credits,
			"error", err,
		)
		return nil
	}

	s.logger.Info("payment settled",
		"payment_id", updated.ID,
		"user_id", updated.UserID,
		"credits", updated.Credits,
		"path", path,
	)
	s.metrics.IncPaymentSettled(path)
	return nil
}
