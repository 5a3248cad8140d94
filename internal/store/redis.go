// Package store provides the Redis persistence layer.
// All durable state lives here: user records, payment requests, and the
// external-id index used by webhook and poll reconciliation.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Key prefixes for the three key families.
const (
	userKeyPrefix       = "user:"
	paymentKeyPrefix    = "payment:"
	externalKeyPrefix   = "external_payment:"
	stockCacheKeyPrefix = "stock:"
)

// minPaymentTTL is the floor applied when a payment request is written at or
// past its expiry, so a late reconciliation attempt can still read the record
// long enough to classify it.
const minPaymentTTL = 60 * time.Second

// Common store errors.
var (
	ErrUserNotFound    = errors.New("user not found")
	ErrPaymentNotFound = errors.New("payment request not found")
)

// Store provides Redis access methods.
type Store struct {
	client *redis.Client
}

// New creates a new Store connected to the given Redis URL.
func New(ctx context.Context, redisURL string) (*Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	// Connection pool settings
	opt.PoolSize = 10
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute

	client := redis.NewClient(opt)

	// Verify connection
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to ping Redis: %w", err)
	}

	return &Store{client: client}, nil
}

// Ping checks Redis connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
