package payment

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tollgate/tollgate/internal/metrics"
	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/provider"
)

func newTestService(t *testing.T, st Store, providers []provider.Provider, opts Options) *Service {
	t.Helper()
	svc := NewService(st, catalog{}, providers, discardLogger(), opts)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := svc.Shutdown(ctx); err != nil {
			t.Errorf("shutdown: %v", err)
		}
	})
	return svc
}

func TestService_Create(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	coinbase := &fakeProvider{
		method: model.MethodCoinbase,
		charge: provider.Charge{
			ExternalID:  "charge-1",
			CheckoutURL: "https://commerce.coinbase.com/charges/charge-1",
			Address:     "0xabc",
		},
	}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	result, err := svc.Create(context.Background(), CreateInput{
		UserID:  user.ID,
		OfferID: "offer2",
		Method:  model.MethodCoinbase,
		Chain:   "base",
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	if result.Charge.CheckoutURL == "" {
		t.Error("expected a checkout URL")
	}
	if result.Asset != "USDC" {
		t.Errorf("asset = %q, want USDC", result.Asset)
	}
	if result.Chain != "base" {
		t.Errorf("chain = %q, want base", result.Chain)
	}

	req, err := st.GetPaymentRequestByExternalID(context.Background(), "charge-1")
	if err != nil {
		t.Fatalf("payment request not resolvable by external ID: %v", err)
	}
	if req.Status != model.PaymentPending {
		t.Errorf("status = %q, want pending", req.Status)
	}
	if req.OfferID != "offer2" || req.Credits != 5 {
		t.Errorf("got offer %q / %d credits, want offer2 / 5", req.OfferID, req.Credits)
	}
	if req.UserID != user.ID {
		t.Errorf("user ID = %q, want %q", req.UserID, user.ID)
	}
	if !req.ExpiresAt.After(time.Now()) {
		t.Error("expected a future expiry")
	}
}

func TestService_Create_Errors(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	lightning := &fakeProvider{
		method: model.MethodLightning,
		charge: provider.Charge{ExternalID: "hash-1", Invoice: "lnbc1..."},
	}
	svc := newTestService(t, st, []provider.Provider{lightning}, Options{PollInterval: time.Hour})

	tests := []struct {
		name    string
		input   CreateInput
		wantErr error
	}{
		{
			name:    "unknown offer",
			input:   CreateInput{UserID: user.ID, OfferID: "offer99", Method: model.MethodLightning},
			wantErr: ErrOfferNotFound,
		},
		{
			name:    "unconfigured method",
			input:   CreateInput{UserID: user.ID, OfferID: "offer1", Method: model.MethodCoinbase},
			wantErr: ErrInvalidPaymentMethod,
		},
		{
			name:    "unknown user",
			input:   CreateInput{UserID: "nope", OfferID: "offer1", Method: model.MethodLightning},
			wantErr: ErrUserNotFound,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Create(context.Background(), tt.input)
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Create error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestService_Create_ChargeFailure(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	coinbase := &fakeProvider{
		method:    model.MethodCoinbase,
		chargeErr: provider.ErrUnavailable,
	}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	_, err := svc.Create(context.Background(), CreateInput{
		UserID:  user.ID,
		OfferID: "offer1",
		Method:  model.MethodCoinbase,
	})
	if !errors.Is(err, provider.ErrUnavailable) {
		t.Fatalf("Create error = %v, want ErrUnavailable", err)
	}
	if got := st.userCredits(user.ID); got != 1 {
		t.Errorf("credits = %d, want 1 (unchanged)", got)
	}
}

func TestService_Webhook_SettlesOnce(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	coinbase := &fakeProvider{
		method: model.MethodCoinbase,
		charge: provider.Charge{ExternalID: "charge-1", CheckoutURL: "https://example.test/c/1"},
	}
	rec := metrics.NewInMemory()
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{Metrics: rec})

	if _, err := svc.Create(context.Background(), CreateInput{
		UserID:  user.ID,
		OfferID: "offer2",
		Method:  model.MethodCoinbase,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("charge-1"), "good"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := st.userCredits(user.ID); got != 6 {
		t.Fatalf("credits = %d, want 6 after settlement", got)
	}

	// Redelivery is acknowledged but must not grant again.
	if err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("charge-1"), "good"); err != nil {
		t.Fatalf("duplicate HandleWebhook: %v", err)
	}
	if got := st.userCredits(user.ID); got != 6 {
		t.Errorf("credits = %d after duplicate webhook, want 6", got)
	}

	snap := rec.Snapshot()
	if snap.PaymentsSettledWebhook != 1 {
		t.Errorf("settled via webhook = %d, want 1", snap.PaymentsSettledWebhook)
	}
	if snap.SettleDuplicates != 1 {
		t.Errorf("duplicates = %d, want 1", snap.SettleDuplicates)
	}
}

func TestService_Webhook_BadSignature(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	coinbase := &fakeProvider{method: model.MethodCoinbase}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("charge-1"), "bad")
	if !errors.Is(err, provider.ErrBadSignature) {
		t.Errorf("HandleWebhook error = %v, want ErrBadSignature", err)
	}
}

func TestService_Webhook_UnknownMethod(t *testing.T) {
	t.Parallel()

	svc := newTestService(t, newFakeStore(), nil, Options{})

	err := svc.HandleWebhook(context.Background(), model.MethodLightning, []byte("x"), "")
	if !errors.Is(err, ErrInvalidPaymentMethod) {
		t.Errorf("HandleWebhook error = %v, want ErrInvalidPaymentMethod", err)
	}
}

func TestService_Webhook_UnknownCharge(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	coinbase := &fakeProvider{method: model.MethodCoinbase}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	// A charge this service never created: acknowledged, nothing changes.
	if err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("someone-elses-charge"), "good"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := st.userCredits(user.ID); got != 1 {
		t.Errorf("credits = %d, want 1 (unchanged)", got)
	}
}

func TestService_Webhook_NonSettlementEvent(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	coinbase := &fakeProvider{
		method: model.MethodCoinbase,
		charge: provider.Charge{ExternalID: "charge-1"},
	}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	if _, err := svc.Create(context.Background(), CreateInput{
		UserID:  user.ID,
		OfferID: "offer1",
		Method:  model.MethodCoinbase,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	if err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("charge-1"), "pending"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := st.userCredits(user.ID); got != 1 {
		t.Errorf("credits = %d, want 1 (no grant for non-settlement event)", got)
	}
}

func TestService_Webhook_ExpiredRequest(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	req := model.NewPaymentRequest(user.ID, "offer2", 5, model.MethodCoinbase, time.Now().Add(-time.Minute))
	req.ExternalID = "charge-expired"
	if err := st.StorePaymentRequest(context.Background(), req); err != nil {
		t.Fatalf("StorePaymentRequest: %v", err)
	}

	coinbase := &fakeProvider{method: model.MethodCoinbase}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	if err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("charge-expired"), "good"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}
	if got := st.userCredits(user.ID); got != 1 {
		t.Errorf("credits = %d, want 1 (expired request must not settle)", got)
	}

	stored, err := st.GetPaymentRequest(context.Background(), req.ID)
	if err != nil {
		t.Fatalf("GetPaymentRequest: %v", err)
	}
	if stored.Status != model.PaymentPending {
		t.Errorf("status = %q, want pending", stored.Status)
	}
}

func TestService_Webhook_LightningReverifies(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		paid        bool
		checkErr    error
		wantCredits int64
	}{
		{name: "backend confirms", paid: true, wantCredits: 2},
		{name: "backend disagrees", paid: false, wantCredits: 1},
		{name: "check fails, payload trusted", checkErr: provider.ErrUnavailable, wantCredits: 2},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			st := newFakeStore()
			user := model.NewUser(1)
			st.addUser(user)

			lightning := &fakeProvider{
				method:   model.MethodLightning,
				charge:   provider.Charge{ExternalID: "hash-1", Invoice: "lnbc1..."},
				paid:     tt.paid,
				checkErr: tt.checkErr,
			}
			// Long poll interval keeps the background loop out of the way.
			svc := newTestService(t, st, []provider.Provider{lightning}, Options{PollInterval: time.Hour})

			if _, err := svc.Create(context.Background(), CreateInput{
				UserID:  user.ID,
				OfferID: "offer1",
				Method:  model.MethodLightning,
			}); err != nil {
				t.Fatalf("Create: %v", err)
			}

			if err := svc.HandleWebhook(context.Background(), model.MethodLightning, []byte("hash-1"), ""); err != nil {
				t.Fatalf("HandleWebhook: %v", err)
			}
			if got := st.userCredits(user.ID); got != tt.wantCredits {
				t.Errorf("credits = %d, want %d", got, tt.wantCredits)
			}
		})
	}
}

func TestService_PollSettles_LateWebhookIsNoop(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)

	lightning := &fakeProvider{
		method: model.MethodLightning,
		charge: provider.Charge{ExternalID: "hash-poll", Invoice: "lnbc1..."},
	}
	rec := metrics.NewInMemory()
	svc := newTestService(t, st, []provider.Provider{lightning}, Options{
		PollInterval: 5 * time.Millisecond,
		Metrics:      rec,
	})

	if _, err := svc.Create(context.Background(), CreateInput{
		UserID:  user.ID,
		OfferID: "offer2",
		Method:  model.MethodLightning,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	lightning.setPaid(true)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if rec.Snapshot().PaymentsSettledPoll >= 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	if got := rec.Snapshot().PaymentsSettledPoll; got != 1 {
		t.Fatalf("settled via poll = %d, want 1", got)
	}
	if got := st.userCredits(user.ID); got != 6 {
		t.Fatalf("credits = %d, want 6 after poll settlement", got)
	}

	// A webhook arriving after the poll loop already settled must not
	// grant again.
	if err := svc.HandleWebhook(context.Background(), model.MethodLightning, []byte("hash-poll"), ""); err != nil {
		t.Fatalf("late HandleWebhook: %v", err)
	}
	if got := st.userCredits(user.ID); got != 6 {
		t.Errorf("credits = %d after late webhook, want 6", got)
	}

	snap := rec.Snapshot()
	if total := snap.PaymentsSettledWebhook + snap.PaymentsSettledPoll; total != 1 {
		t.Errorf("settlements = %d, want exactly 1", total)
	}
	if snap.SettleDuplicates != 1 {
		t.Errorf("duplicates = %d, want 1", snap.SettleDuplicates)
	}
}

func TestService_Settle_CreditFailureDoesNotError(t *testing.T) {
	t.Parallel()

	st := newFakeStore()
	user := model.NewUser(1)
	st.addUser(user)
	st.failCreditUpdate = true

	coinbase := &fakeProvider{
		method: model.MethodCoinbase,
		charge: provider.Charge{ExternalID: "charge-1"},
	}
	svc := newTestService(t, st, []provider.Provider{coinbase}, Options{})

	if _, err := svc.Create(context.Background(), CreateInput{
		UserID:  user.ID,
		OfferID: "offer1",
		Method:  model.MethodCoinbase,
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}

	// The status flips to paid but the grant fails; the webhook is still
	// acknowledged so the sender stops retrying.
	if err := svc.HandleWebhook(context.Background(), model.MethodCoinbase, []byte("charge-1"), "good"); err != nil {
		t.Fatalf("HandleWebhook: %v", err)
	}

	req, err := st.GetPaymentRequestByExternalID(context.Background(), "charge-1")
	if err != nil {
		t.Fatalf("GetPaymentRequestByExternalID: %v", err)
	}
	if req.Status != model.PaymentPaid {
		t.Errorf("status = %q, want paid", req.Status)
	}
}
