package payment

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/model"
	"github.com/tollgate/tollgate/internal/provider"
	"github.com/tollgate/tollgate/internal/store"
)

// fakeStore is an in-memory Store for unit tests. It mirrors the real
// store's key families and sentinel errors.
type fakeStore struct {
	mu       sync.Mutex
	users    map[string]*model.User
	payments map[string]*model.PaymentRequest
	external map[string]string

	failCreditUpdate bool
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:    make(map[string]*model.User),
		payments: make(map[string]*model.PaymentRequest),
		external: make(map[string]string),
	}
}

func (f *fakeStore) addUser(user *model.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u := *user
	f.users[user.ID] = &u
}

func (f *fakeStore) GetUser(ctx context.Context, userID string) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	u := *user
	return &u, nil
}

func (f *fakeStore) UpdateUserCredits(ctx context.Context, userID string, delta int64) (*model.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreditUpdate {
		return nil, errors.New("credit write failed")
	}
	user, ok := f.users[userID]
	if !ok {
		return nil, store.ErrUserNotFound
	}
	user.Credits += delta
	if user.Credits < 0 {
		user.Credits = 0
	}
	user.LastCreditUpdateAt = time.Now().UTC()
	u := *user
	return &u, nil
}

func (f *fakeStore) StorePaymentRequest(ctx context.Context, req *model.PaymentRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	r := *req
	f.payments[req.ID] = &r
	if req.ExternalID != "" {
		f.external[req.ExternalID] = req.ID
	}
	return nil
}

func (f *fakeStore) GetPaymentRequest(ctx context.Context, requestID string) (*model.PaymentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.payments[requestID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	r := *req
	return &r, nil
}

func (f *fakeStore) GetPaymentRequestByExternalID(ctx context.Context, externalID string) (*model.PaymentRequest, error) {
	f.mu.Lock()
	requestID, ok := f.external[externalID]
	f.mu.Unlock()
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	return f.GetPaymentRequest(ctx, requestID)
}

func (f *fakeStore) UpdatePaymentRequestStatus(ctx context.Context, requestID string, status model.PaymentStatus) (*model.PaymentRequest, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	req, ok := f.payments[requestID]
	if !ok {
		return nil, store.ErrPaymentNotFound
	}
	req.Status = status
	r := *req
	return &r, nil
}

func (f *fakeStore) userCredits(userID string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if user, ok := f.users[userID]; ok {
		return user.Credits
	}
	return -1
}

// fakeProvider is a scriptable settlement backend for unit tests.
type fakeProvider struct {
	method    model.PaymentMethod
	charge    provider.Charge
	chargeErr error

	mu         sync.Mutex
	paid       bool
	checkErr   error
	failChecks int
	checkCalls int
}

func (f *fakeProvider) Method() model.PaymentMethod { return f.method }

func (f *fakeProvider) CreateCharge(ctx context.Context, params provider.ChargeParams) (*provider.Charge, error) {
	if f.chargeErr != nil {
		return nil, f.chargeErr
	}
	c := f.charge
	return &c, nil
}

func (f *fakeProvider) CheckStatus(ctx context.Context, externalID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.checkCalls++
	if f.checkErr != nil {
		return false, f.checkErr
	}
	if f.checkCalls <= f.failChecks {
		return false, provider.ErrUnavailable
	}
	return f.paid, nil
}

func (f *fakeProvider) setPaid(paid bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paid = paid
}

func (f *fakeProvider) statusChecks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

// VerifyWebhook treats the body as the raw external ID. The signature is a
// test control knob: "bad" fails verification, "pending" yields a
// non-settlement event.
func (f *fakeProvider) VerifyWebhook(body []byte, signature string) (*provider.Event, error) {
	switch signature {
	case "bad":
		return nil, provider.ErrBadSignature
	case "pending":
		return &provider.Event{ExternalID: string(body), Paid: false}, nil
	}
	return &provider.Event{ExternalID: string(body), Paid: true}, nil
}

func (f *fakeProvider) IsSettlement(event *provider.Event) bool {
	return event.Paid
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// catalog is a fixed two-offer catalog matching the default configuration.
type catalog struct{}

func (catalog) FindOffer(id string) *model.Offer {
	switch id {
	case "offer1":
		return &model.Offer{ID: "offer1", Title: "1 Credit Package", Credits: 1, Amount: 0.01, Currency: "USD"}
	case "offer2":
		return &model.Offer{ID: "offer2", Title: "5 Credits Package", Credits: 5, Amount: 0.05, Currency: "USD"}
	}
	return nil
}
