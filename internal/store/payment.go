package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tollgate/tollgate/internal/model"
)

// paymentTTL returns the remaining time until the request expires, with a
// floor so already-expired records remain readable briefly.
func paymentTTL(req *model.PaymentRequest, now time.Time) time.Duration {
	ttl := req.ExpiresAt.Sub(now)
	if ttl < minPaymentTTL {
		ttl = minPaymentTTL
	}
	return ttl
}

// StorePaymentRequest persists a payment request and, when the external ID is
// set, the external-id index entry pointing back at it. Both keys share a TTL
// equal to the remaining time until the request expires.
func (s *Store) StorePaymentRequest(ctx context.Context, req *model.PaymentRequest) error {
	key := paymentKeyPrefix + req.ID

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal payment request: %w", err)
	}

	ttl := paymentTTL(req, time.Now())

	pipe := s.client.Pipeline()
	pipe.Set(ctx, key, data, ttl)
	if req.ExternalID != "" {
		pipe.Set(ctx, externalKeyPrefix+req.ExternalID, req.ID, ttl)
	}

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store payment request: %w", err)
	}

	return nil
}

// GetPaymentRequest retrieves a payment request by ID.
// Returns ErrPaymentNotFound if absent or expired out of the store.
func (s *Store) GetPaymentRequest(ctx context.Context, requestID string) (*model.PaymentRequest, error) {
	key := paymentKeyPrefix + requestID

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to get payment request: %w", err)
	}

	var req model.PaymentRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment request: %w", err)
	}

	return &req, nil
}

// GetPaymentRequestByExternalID resolves a provider reference through the
// external-id index and returns the payment request it points at.
func (s *Store) GetPaymentRequestByExternalID(ctx context.Context, externalID string) (*model.PaymentRequest, error) {
	requestID, err := s.client.Get(ctx, externalKeyPrefix+externalID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrPaymentNotFound
		}
		return nil, fmt.Errorf("failed to resolve external id: %w", err)
	}

	return s.GetPaymentRequest(ctx, requestID)
}

// UpdatePaymentRequestStatus sets the status of a payment request and
// rewrites it with its remaining TTL preserved.
func (s *Store) UpdatePaymentRequestStatus(ctx context.Context, requestID string, status model.PaymentStatus) (*model.PaymentRequest, error) {
	req, err := s.GetPaymentRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}

	req.Status = status

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payment request: %w", err)
	}

	key := paymentKeyPrefix + requestID
	if err := s.client.Set(ctx, key, data, paymentTTL(req, time.Now())).Err(); err != nil {
		return nil, fmt.Errorf("failed to update payment request: %w", err)
	}

	return req, nil
}
