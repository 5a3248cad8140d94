package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/tollgate/tollgate/internal/handler/dto"
	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/payment"
)

// maxWebhookBody bounds webhook payload reads.
const maxWebhookBody = 1 << 20

// lightningSignatureHeader carries the optional Lightning webhook signature.
const lightningSignatureHeader = "X-Lightning-Signature"

// coinbaseSignatureHeader carries the Coinbase Commerce webhook HMAC.
const coinbaseSignatureHeader = "X-CC-Webhook-Signature"

// PaymentService is the payment flow surface the handlers need.
// Implemented by *payment.Service.
type PaymentService interface {
	Create(ctx context.Context, input payment.CreateInput) (*payment.CreateResult, error)
	HandleWebhook(ctx context.Context, method model.PaymentMethod, body []byte, signature string) error
}

// PaymentHandler handles purchase initiation and settlement webhooks.
type PaymentHandler struct {
	service PaymentService
	logger  *slog.Logger
}

// NewPaymentHandler creates a new payment handler.
func NewPaymentHandler(service PaymentService, logger *slog.Logger) *PaymentHandler {
	return &PaymentHandler{
		service: service,
		logger:  logger.With("handler", "payment"),
	}
}

// Initiate starts a credit purchase against one of the configured offers.
//
// POST /l402/payment-request
func (h *PaymentHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	var input dto.PaymentRequestInput
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid request body",
			Code:  "INVALID_REQUEST",
		})
		return
	}

	result, err := h.service.Create(r.Context(), payment.CreateInput{
		UserID:  input.PaymentContextToken,
		OfferID: input.OfferID,
		Method:  model.PaymentMethod(input.PaymentMethod),
		Chain:   input.Chain,
		Asset:   input.Asset,
	})
	if err != nil {
		h.logger.Error("failed to process payment request", "error", err)
		// Generic messages only; provider error text never reaches clients.
		switch {
		case errors.Is(err, payment.ErrOfferNotFound):
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
				Error: "Invalid offer ID",
				Code:  "INVALID_OFFER",
			})
		case errors.Is(err, payment.ErrInvalidPaymentMethod):
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
				Error: "Invalid payment method",
				Code:  "INVALID_PAYMENT_METHOD",
			})
		case errors.Is(err, payment.ErrUserNotFound):
			writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{
				Error: "Invalid user token",
				Code:  "UNAUTHORIZED",
			})
		default:
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
				Error: "Failed to process payment request",
				Code:  "PAYMENT_FAILED",
			})
		}
		return
	}

	response := dto.PaymentRequestResponse{
		OfferID:   result.Request.OfferID,
		ExpiresAt: result.Request.ExpiresAt,
	}
	if result.Request.Method == model.MethodLightning {
		response.LightningInvoice = result.Charge.Invoice
	} else {
		response.CheckoutURL = result.Charge.CheckoutURL
		response.Address = result.Charge.Address
		response.Asset = result.Asset
		response.Chain = result.Chain
	}

	writeJSON(w, http.StatusOK, response)
}

// LightningWebhook ingests payment notifications from the Lightning backend.
//
// POST /webhook/lightning
func (h *PaymentHandler) LightningWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, model.MethodLightning, r.Header.Get(lightningSignatureHeader))
}

// CoinbaseWebhook ingests charge events from Coinbase Commerce.
//
// POST /webhook/coinbase
func (h *PaymentHandler) CoinbaseWebhook(w http.ResponseWriter, r *http.Request) {
	h.handleWebhook(w, r, model.MethodCoinbase, r.Header.Get(coinbaseSignatureHeader))
}

// handleWebhook returns 200 whether or not any action was taken; senders
// get 400 only for malformed or unauthenticated payloads, never a 5xx for
// "already processed" or "not found".
func (h *PaymentHandler) handleWebhook(w http.ResponseWriter, r *http.Request, method model.PaymentMethod, signature string) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid webhook body",
			Code:  "INVALID_WEBHOOK",
		})
		return
	}

	if err := h.service.HandleWebhook(r.Context(), method, body, signature); err != nil {
		h.logger.Warn("webhook rejected",
			"method", method,
			"error", err,
		)
		writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
			Error: "Invalid webhook",
			Code:  "INVALID_WEBHOOK",
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
