// Package provider implements the settlement backends that turn an offer
// purchase into a payable charge and report its payment status.
package provider

import (
	"context"
	"errors"

	"github.com/tollgate/tollgate/internal/model"
)

// Common provider errors.
var (
	// ErrConfigMissing means the provider lacks credentials or a URL and
	// cannot be constructed. Fatal for that provider only.
	ErrConfigMissing = errors.New("provider configuration missing")
	// ErrUnavailable means the backend API could not be reached or
	// returned an error.
	ErrUnavailable = errors.New("provider unavailable")
	// ErrBadSignature means an inbound webhook failed authentication.
	ErrBadSignature = errors.New("invalid webhook signature")
	// ErrBadWebhook means an inbound webhook body could not be parsed.
	ErrBadWebhook = errors.New("malformed webhook payload")
)

// ChargeParams describes the charge to create.
type ChargeParams struct {
	AmountUSD   float64
	Currency    string
	Description string
	// Reference is the internal payment-request ID, passed to the backend
	// as opaque metadata for support and audit. It plays no part in
	// settlement verification.
	Reference string
}

// Charge is the holder-facing result of a charge creation.
// Lightning sets Invoice; Coinbase sets CheckoutURL and, when the backend
// returns one, a direct-payment Address.
type Charge struct {
	ExternalID  string
	Invoice     string
	CheckoutURL string
	Address     string
}

// Event is a parsed webhook notification.
type Event struct {
	// ExternalID is the provider reference joining the event back to a
	// payment request.
	ExternalID string
	// Type is the provider's event type, when the backend has one.
	Type string
	// Status is the provider's charge status, when the backend has one.
	Status string
	// Paid is the Lightning payload's payment flag.
	Paid bool
}

// Provider is a settlement backend.
type Provider interface {
	// Method identifies the backend.
	Method() model.PaymentMethod
	// CreateCharge asks the backend to create a payable charge.
	CreateCharge(ctx context.Context, params ChargeParams) (*Charge, error)
	// CheckStatus actively polls the backend for settlement. This is the
	// pull-reconciliation source of truth.
	CheckStatus(ctx context.Context, externalID string) (bool, error)
	// VerifyWebhook authenticates and parses an inbound webhook.
	VerifyWebhook(body []byte, signature string) (*Event, error)
	// IsSettlement reports whether an event represents a completed payment.
	IsSettlement(event *Event) bool
}
