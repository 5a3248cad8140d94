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

// maxCreditRetries bounds the optimistic-transaction retry loop when
// concurrent writers touch the same user key.
const maxCreditRetries = 5

// CreateUser persists a new user record. User records carry no TTL.
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	key := userKeyPrefix + user.ID

	data, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("failed to marshal user: %w", err)
	}

	if err := s.client.Set(ctx, key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to store user: %w", err)
	}

	return nil
}

// GetUser retrieves a user by ID. Returns ErrUserNotFound if absent.
func (s *Store) GetUser(ctx context.Context, userID string) (*model.User, error) {
	key := userKeyPrefix + userID

	data, err := s.client.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	var user model.User
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("failed to unmarshal user: %w", err)
	}

	return &user, nil
}

// UpdateUserCredits applies a credit delta to a user. A negative delta that
// would underflow clamps the balance to zero. The read-modify-write runs as
// an optimistic WATCH transaction so concurrent deltas on the same user key
// cannot lose updates; on contention the transaction is retried.
func (s *Store) UpdateUserCredits(ctx context.Context, userID string, delta int64) (*model.User, error) {
	key := userKeyPrefix + userID

	var updated *model.User

	txn := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return ErrUserNotFound
			}
			return err
		}

		var user model.User
		if err := json.Unmarshal(data, &user); err != nil {
			return fmt.Errorf("failed to unmarshal user: %w", err)
		}

		user.Credits += delta
		if user.Credits < 0 {
			user.Credits = 0
		}
		user.LastCreditUpdateAt = time.Now().UTC()

		out, err := json.Marshal(&user)
		if err != nil {
			return fmt.Errorf("failed to marshal user: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, out, 0)
			return nil
		})
		if err != nil {
			return err
		}

		updated = &user
		return nil
	}

	for i := 0; i < maxCreditRetries; i++ {
		err := s.client.Watch(ctx, txn, key)
		if err == nil {
			return updated, nil
		}
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if errors.Is(err, ErrUserNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to update credits: %w", err)
	}

	return nil, fmt.Errorf("failed to update credits for user %s: too much contention", userID)
}
