package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tollgate/tollgate/internal/model"
)

// coinbaseAPIURL is the Coinbase Commerce charges endpoint.
const coinbaseAPIURL = "https://api.commerce.coinbase.com"

// coinbaseAPIVersion pins the Commerce API version header.
const coinbaseAPIVersion = "2018-03-22"

// Coinbase is the Coinbase Commerce settlement provider. Charges are priced
// directly in fiat and settled through a hosted checkout page.
type Coinbase struct {
	client        *http.Client
	baseURL       string
	apiKey        string
	webhookSecret string
	logger        *slog.Logger
}

// CoinbaseConfig holds what the provider needs to talk to Coinbase Commerce.
type CoinbaseConfig struct {
	APIKey        string
	WebhookSecret string
	// BaseURL overrides the Commerce API endpoint. Used by tests.
	BaseURL string
}

// NewCoinbase constructs the Coinbase provider.
// Returns ErrConfigMissing when the API key is absent.
func NewCoinbase(cfg CoinbaseConfig, logger *slog.Logger) (*Coinbase, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: Coinbase API key is required", ErrConfigMissing)
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = coinbaseAPIURL
	}

	return &Coinbase{
		client:        &http.Client{Timeout: 15 * time.Second},
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		apiKey:        cfg.APIKey,
		webhookSecret: cfg.WebhookSecret,
		logger:        logger.With("component", "provider.coinbase"),
	}, nil
}

// Method identifies the backend.
func (c *Coinbase) Method() model.PaymentMethod {
	return model.MethodCoinbase
}

// createChargeRequest is the Commerce charge-creation payload.
type createChargeRequest struct {
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Metadata    map[string]string `json:"metadata"`
	LocalPrice  localPrice        `json:"local_price"`
	PricingType string            `json:"pricing_type"`
}

type localPrice struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
}

// createChargeResponse is the subset of the Commerce response we use.
type createChargeResponse struct {
	Data struct {
		ID        string            `json:"id"`
		HostedURL string            `json:"hosted_url"`
		Addresses map[string]string `json:"addresses"`
	} `json:"data"`
}

// CreateCharge creates a fixed-price Commerce charge. The internal reference
// travels in the charge metadata.
func (c *Coinbase) CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error) {
	reqBody := createChargeRequest{
		Name:        "API Credits",
		Description: params.Description,
		Metadata:    map[string]string{"reference": params.Reference},
		LocalPrice: localPrice{
			Amount:   fmt.Sprintf("%.2f", params.AmountUSD),
			Currency: params.Currency,
		},
		PricingType: "fixed_price",
	}

	body, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal charge request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/charges", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("X-CC-Api-Key", c.apiKey)
	req.Header.Set("X-CC-Version", coinbaseAPIVersion)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.logger.Error("charge creation failed",
			"http_status", resp.StatusCode,
			"body", string(respBody),
		)
		return nil, fmt.Errorf("%w: Coinbase returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var charge createChargeResponse
	if err := json.Unmarshal(respBody, &charge); err != nil {
		return nil, fmt.Errorf("%w: failed to parse charge response: %v", ErrUnavailable, err)
	}
	if charge.Data.ID == "" || charge.Data.HostedURL == "" {
		return nil, fmt.Errorf("%w: charge response missing id or hosted_url", ErrUnavailable)
	}

	c.logger.Info("charge created",
		"charge_id", charge.Data.ID,
		"reference", params.Reference,
	)

	return &Charge{
		ExternalID:  charge.Data.ID,
		CheckoutURL: charge.Data.HostedURL,
		Address:     charge.Data.Addresses["usdc"],
	}, nil
}

// chargeStatusResponse carries the timeline we inspect when polling.
type chargeStatusResponse struct {
	Data struct {
		Timeline []struct {
			Status string `json:"status"`
		} `json:"timeline"`
	} `json:"data"`
}

// CheckStatus polls the Commerce API for the charge's settlement state.
// A charge counts as paid once its timeline reaches COMPLETED or CONFIRMED.
func (c *Coinbase) CheckStatus(ctx context.Context, externalID string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/charges/"+externalID, nil)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	req.Header.Set("X-CC-Api-Key", c.apiKey)
	req.Header.Set("X-CC-Version", coinbaseAPIVersion)

	resp, err := c.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("%w: Coinbase returned HTTP %d", ErrUnavailable, resp.StatusCode)
	}

	var status chargeStatusResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&status); err != nil {
		return false, fmt.Errorf("%w: failed to parse charge status: %v", ErrUnavailable, err)
	}

	for _, entry := range status.Data.Timeline {
		if entry.Status == "COMPLETED" || entry.Status == "CONFIRMED" {
			return true, nil
		}
	}
	return false, nil
}

// coinbaseWebhookEvent is the Commerce webhook payload.
type coinbaseWebhookEvent struct {
	Type string `json:"type"`
	Data struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	} `json:"data"`
}

// VerifyWebhook authenticates an inbound webhook as a hex HMAC-SHA256 of the
// raw body and parses the event. The comparison is constant time.
func (c *Coinbase) VerifyWebhook(body []byte, signature string) (*Event, error) {
	if c.webhookSecret == "" {
		return nil, fmt.Errorf("%w: webhook secret not configured", ErrConfigMissing)
	}
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature header", ErrBadSignature)
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(expected), []byte(signature)) {
		return nil, ErrBadSignature
	}

	var event coinbaseWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadWebhook, err)
	}

	if event.Data.ID == "" {
		return nil, fmt.Errorf("%w: missing charge id", ErrBadWebhook)
	}

	return &Event{
		ExternalID: event.Data.ID,
		Type:       event.Type,
		Status:     event.Data.Status,
	}, nil
}

// IsSettlement reports whether the event is a confirmed charge.
func (c *Coinbase) IsSettlement(event *Event) bool {
	return event.Type == "charge:confirmed" && event.Status == "CONFIRMED"
}
