package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/rates"
)

// Lightning is the LNBits-backed settlement provider. Invoices are priced
// in satoshis derived from the cached USD exchange rate and carry a fixed
// validity window.
type Lightning struct {
	client         *http.Client
	baseURL        string
	adminKey       string
	invoiceReadKey string
	invoiceExpiry  time.Duration
	rates          *rates.Cache
	logger         *slog.Logger
}

// LightningConfig holds what the provider needs to talk to LNBits.
type LightningConfig struct {
	BaseURL        string
	AdminKey       string
	InvoiceReadKey string
	InvoiceExpiry  time.Duration
}

// NewLightning constructs the Lightning provider.
// Returns ErrConfigMissing when credentials are absent.
func NewLightning(cfg LightningConfig, rateCache *rates.Cache, logger *slog.Logger) (*Lightning, error) {
	if cfg.BaseURL == "" || cfg.AdminKey == "" || cfg.InvoiceReadKey == "" {
		return nil, fmt.Errorf("%w: LNBits URL, admin key and invoice read key are required", ErrConfigMissing)
	}
	if cfg.InvoiceExpiry <= 0 {
		cfg.InvoiceExpiry = 30 * time.Minute
	}

	return &Lightning{
		client:         &http.Client{Timeout: 15 * time.Second},
		baseURL:        strings.TrimSuffix(cfg.BaseURL, "/"),
		adminKey:       cfg.AdminKey,
		invoiceReadKey: cfg.InvoiceReadKey,
		invoiceExpiry:  cfg.InvoiceExpiry,
		rates:          rateCache,
		logger:         logger.With("component", "provider.lightning"),
	}, nil
}

// Method identifies the backend.
func (l *Lightning) Method() model.PaymentMethod {
	return model.MethodLightning
}

// createInvoiceRequest is the LNBits payment-creation payload.
type createInvoiceRequest struct {
	Out    bool   `json:"out"`
	Amount int64  `json:"amount"`
	Unit   string `json:"unit"`
	Memo   string `json:"memo"`
	Expiry int64  `json:"expiry"`
}

// createInvoiceResponse is the subset of the LNBits response we use.
// Older deployments return the invoice as payment_request, newer as bolt11.
type createInvoiceResponse struct {
	PaymentHash    string `json:"payment_hash"`
	Bolt11         string `json:"bolt11"`
	PaymentRequest string `json:"payment_request"`
}

// CreateCharge creates a Lightning invoice for the USD amount converted to
// satoshis. Rate unavailability is a hard failure: no invoice is created on
// a stale or missing rate.
func (l *Lightning) CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	sats, err := l.rates.SatsForUSD(ctx, params.AmountUSD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	reqBody := createInvoiceRequest{
		Out:    false,
		Amount: sats,
		Unit:   "sat",
		Memo:   params.Description,
		Expiry: int64(l.invoiceExpiry.Seconds()),
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal invoice request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.baseURL+"/api/v1/payments", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("X-Api-Key", l.adminKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		l.logger.Error("invoice creation failed",
			"http_status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, fmt.Errorf("%w: LNBits returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var invoice createInvoiceResponse
	if err := json.Unmarshal(respBody, &invoice); err != nil {
		return nil, fmt.Errorf("%w: failed to parse invoice response: %v", ErrUnavailable, err)
	}

	bolt11 := invoice.Bolt11
	if bolt11 == "" {
		bolt11 = invoice.PaymentRequest
	}
	if invoice.PaymentHash == "" || bolt11 == "" {
		return nil, fmt.Errorf("%w: invoice response missing payment_hash or bolt11", ErrUnavailable)
	}

	l.logger.Info("invoice created",
		"payment_hash", invoice.PaymentHash,
		"amount_sats", sats,
		"reference", params.Reference,
	)

	return &Charge{
		ExternalID: invoice.PaymentHash,
		Invoice:    bolt11,
	}, nil
}

// paymentStatusResponse is the LNBits payment-status payload.
type paymentStatusResponse struct {
	Paid bool `json:"paid"`
}

// CheckStatus polls LNBits for the invoice's settlement state using the
// invoice read key.
func (l *Lightning) CheckStatus(ctx context.Context, externalID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.baseURL+"/api/v1/payments/"+externalID, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("X-Api-Key", l.invoiceReadKey)

	resp, err := l.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: LNBits returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var status paymentStatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return false, fmt.Errorf("%w: failed to parse payment status: %v", ErrUnavailable, err)
	}

	return status.Paid, nil
}

// lightningWebhookEvent is the notification body LNBits posts on payment.
type lightningWebhookEvent struct {
	PaymentHash   string `json:"payment_hash"`
	PaymentStatus bool   `json:"payment_status"`
}

// VerifyWebhook parses a Lightning webhook. This backend has no signature
// scheme; the payload is accepted subject to the settlement re-check the
// payment service performs before crediting.
func (l *Lightning) VerifyWebhook(body []byte, signature string) (*Event, error) {
	var event lightningWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}
	if event.PaymentHash == "" {
		return nil, fmt.Errorf("%w: missing payment_hash", ErrBadWebhook)
	}

	return &Event{
		ExternalID: event.PaymentHash,
		Paid:       event.PaymentStatus,
	}, nil
}

// IsSettlement reports whether the event's payment flag is set.
func (l *Lightning) IsSettlement(event *Event) bool {
	return event.Paid
}
