package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// stockCacheTTL keeps quotes fresh enough for pay-per-request reads without
// hammering the upstream API.
const stockCacheTTL = 60 * time.Second

// CacheStockData stores a serialized quote for a ticker symbol.
func (s *Store) CacheStockData(ctx context.Context, symbol, data string) error {
	key := stockCacheKeyPrefix + strings.ToUpper(symbol)

	if err := s.client.SetEx(ctx, key, data, stockCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to cache stock data: %w", err)
	}

	return nil
}

// GetCachedStockData returns a cached quote, or ("", false) on a miss.
func (s *Store) GetCachedStockData(ctx context.Context, symbol string) (string, bool, error) {
	key := stockCacheKeyPrefix + strings.ToUpper(symbol)

	data, err := s.client.Get(ctx, key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", false, nil
		}
		return "", false, fmt.Errorf("failed to read stock cache: %w", err)
	}

	return data, true, nil
}
