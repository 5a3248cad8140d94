package handler

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/tollgate/tollgate/internal/handler/dto"
	"github.com/tollgate/tollgate/internal/middleware"
	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/provider"
)

// TestPurchaseFlow walks the whole metered-access loop over the in-memory
// store: signup, spend-blocked purchase, Lightning invoice, settlement
// webhook, credit grant, duplicate delivery.
func TestPurchaseFlow(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	lightning := &stubProvider{
		method: model.MethodLightning,
		charge: provider.Charge{ExternalID: "hash-e2e", Invoice: "lnbc10n1pe2e..."},
		paid:   true,
	}
	svc := newPaymentService(t, st, lightning)

	userHandler := NewUserHandler(st, 1, testLogger())
	paymentHandler := NewPaymentHandler(svc, testLogger())

	router := chi.NewRouter()
	router.Get("/signup", userHandler.Signup)
	router.Post("/l402/payment-request", paymentHandler.Initiate)
	router.Post("/webhook/lightning", paymentHandler.LightningWebhook)
	router.Group(func(r chi.Router) {
		r.Use(middleware.Auth(middleware.AuthConfig{Logger: testLogger(), Store: st}))
		r.Get("/info", userHandler.Info)
	})

	// Signup grants the single free credit.
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/signup", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("signup status = %d", rec.Code)
	}
	var user model.User
	decodeJSON(t, rec.Body, &user)
	if user.Credits != 1 {
		t.Fatalf("signup credits = %d, want 1", user.Credits)
	}

	// Purchase offer1 over Lightning and receive an invoice.
	body := `{"offer_id":"offer1","payment_method":"lightning","payment_context_token":"` + user.ID + `"}`
	req := httptest.NewRequest(http.MethodPost, "/l402/payment-request", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("payment-request status = %d (body %s)", rec.Code, rec.Body.String())
	}
	var purchase dto.PaymentRequestResponse
	decodeJSON(t, rec.Body, &purchase)
	if purchase.LightningInvoice == "" {
		t.Fatal("expected a lightning invoice")
	}

	// The backend reports paid; settle via webhook.
	req = httptest.NewRequest(http.MethodPost, "/webhook/lightning", strings.NewReader("hash-e2e"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("webhook status = %d", rec.Code)
	}

	assertCredits(t, router, user.ID, 2)

	paid, err := st.GetPaymentRequestByExternalID(context.Background(), "hash-e2e")
	if err != nil {
		t.Fatalf("payment request lookup: %v", err)
	}
	if paid.Status != model.PaymentPaid {
		t.Errorf("payment status = %q, want paid", paid.Status)
	}

	// A second delivery for the same charge changes nothing.
	req = httptest.NewRequest(http.MethodPost, "/webhook/lightning", strings.NewReader("hash-e2e"))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("duplicate webhook status = %d", rec.Code)
	}
	assertCredits(t, router, user.ID, 2)
}

func assertCredits(t *testing.T, router http.Handler, token string, want int64) {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, "/info", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("info status = %d", rec.Code)
	}

	var user model.User
	decodeJSON(t, rec.Body, &user)
	if user.Credits != want {
		t.Fatalf("credits = %d, want %d", user.Credits, want)
	}
}
