// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import (
	"time"

	"github.com/tollgate/tollgate/internal/model"
)

// PaymentRequestInput is the request body for initiating a payment.
type PaymentRequestInput struct {
	OfferID             string `json:"offer_id"`
	PaymentMethod       string `json:"payment_method"`
	PaymentContextToken string `json:"payment_context_token"`
	Chain               string `json:"chain,omitempty"`
	Asset               string `json:"asset,omitempty"`
}

// PaymentRequestResponse carries what the client needs to complete payment.
// Lightning fills lightning_invoice; checkout payments fill checkout_url and
// optionally address, asset, and chain.
type PaymentRequestResponse struct {
	LightningInvoice string    `json:"lightning_invoice,omitempty"`
	CheckoutURL      string    `json:"checkout_url,omitempty"`
	Address          string    `json:"address,omitempty"`
	Asset            string    `json:"asset,omitempty"`
	Chain            string    `json:"chain,omitempty"`
	OfferID          string    `json:"offer_id"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// PaymentRequiredResponse is the 402 body for out-of-credit requests.
type PaymentRequiredResponse struct {
	Expiry              time.Time     `json:"expiry"`
	Offers              []model.Offer `json:"offers"`
	PaymentContextToken string        `json:"payment_context_token"`
	PaymentRequestURL   string        `json:"payment_request_url"`
}

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
