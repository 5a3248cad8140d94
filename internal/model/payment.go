package model

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// PaymentMethod identifies which settlement backend a payment uses.
type PaymentMethod string

const (
	MethodLightning PaymentMethod = "lightning"
	MethodCoinbase  PaymentMethod = "coinbase"
)

// IsValid checks if the payment method is a known backend.
func (m PaymentMethod) IsValid() bool {
	return m == MethodLightning || m == MethodCoinbase
}

// PaymentStatus represents the lifecycle state of a payment request.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPaid    PaymentStatus = "paid"
	PaymentExpired PaymentStatus = "expired"
)

// PaymentRequest tracks a single credit purchase from creation until it is
// paid or expires. ExternalID is the provider-assigned reference (invoice
// payment hash or charge ID) used to correlate webhook and poll events back
// to this record.
type PaymentRequest struct {
	ID         string        `json:"id"`
	UserID     string        `json:"user_id"`
	OfferID    string        `json:"offer_id"`
	Credits    int64         `json:"credits"`
	Status     PaymentStatus `json:"status"`
	Method     PaymentMethod `json:"method"`
	ExpiresAt  time.Time     `json:"expires_at"`
	ExternalID string        `json:"external_id,omitempty"`
}

// NewPaymentRequest creates a pending payment request. The external ID is
// set after the provider charge call succeeds.
func NewPaymentRequest(userID, offerID string, credits int64, method PaymentMethod, expiresAt time.Time) *PaymentRequest {
	return &PaymentRequest{
		ID:        ulid.Make().String(),
		UserID:    userID,
		OfferID:   offerID,
		Credits:   credits,
		Status:    PaymentPending,
		Method:    method,
		ExpiresAt: expiresAt,
	}
}

// Expired reports whether the request's validity window has passed.
// Expiry is checked lazily; there is no background sweep.
func (p *PaymentRequest) Expired(now time.Time) bool {
	return now.After(p.ExpiresAt)
}
