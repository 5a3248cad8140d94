// Package rates maintains the cached USD to satoshi exchange rate used to
// price Lightning invoices.
package rates

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tollgate/tollgate/internal/metrics"
)

// DefaultRefreshInterval is how long a fetched rate stays valid.
const DefaultRefreshInterval = 600 * time.Second

// defaultTickerURL is the Kraken public ticker for the BTC/USD pair.
const defaultTickerURL = "https://api.kraken.com/0/public/Ticker?pair=BTCUSD"

const satsPerBTC = 100_000_000

// ErrRateUnavailable is returned when the upstream ticker cannot be fetched
// or parsed and no fresh cached rate exists. Callers should treat this as a
// hard failure of invoice creation.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Cache holds the process-wide exchange rate. The mutex guards only the two
// cached fields; it is never held across the upstream HTTP call, so in-flight
// conversions are not serialized behind a network round trip.
type Cache struct {
	client          *http.Client
	tickerURL       string
	refreshInterval time.Duration
	metrics         metrics.Recorder

	mu          sync.RWMutex
	lastRefresh time.Time
	satsPerUSD  float64
}

// Option configures a Cache.
type Option func(*Cache)

// WithTickerURL overrides the upstream ticker endpoint. Used by tests.
func WithTickerURL(url string) Option {
	return func(c *Cache) { c.tickerURL = url }
}

// WithRefreshInterval overrides the cache validity window.
func WithRefreshInterval(d time.Duration) Option {
	return func(c *Cache) { c.refreshInterval = d }
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Cache) { c.client = client }
}

// New creates an empty rate cache. The first conversion triggers a fetch.
func New(recorder metrics.Recorder, opts ...Option) *Cache {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	c := &Cache{
		client:          &http.Client{Timeout: 10 * time.Second},
		tickerURL:       defaultTickerURL,
		refreshInterval: DefaultRefreshInterval,
		metrics:         recorder,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SatsForUSD converts a fiat amount to satoshis using the cached rate,
// refreshing it first if the validity window has passed. The result always
// rounds up, so the invoice never undercharges.
func (c *Cache) SatsForUSD(ctx context.Context, amountUSD float64) (int64, error) {
	rate, err := c.rate(ctx)
	if err != nil {
		return 0, err
	}
	return int64(math.Ceil(amountUSD * rate)), nil
}

// rate returns the current sats-per-USD rate, refreshing when stale.
func (c *Cache) rate(ctx context.Context) (float64, error) {
	c.mu.RLock()
	fresh := time.Since(c.lastRefresh) < c.refreshInterval
	rate := c.satsPerUSD
	c.mu.RUnlock()

	if fresh {
		c.metrics.IncRateCacheHit()
		return rate, nil
	}
	c.metrics.IncRateCacheMiss()

	// Fetch with no lock held.
	rate, err := c.fetchRate(ctx)
	if err != nil {
		return 0, err
	}

	c.mu.Lock()
	c.lastRefresh = time.Now()
	c.satsPerUSD = rate
	c.mu.Unlock()

	return rate, nil
}

// tickerResponse mirrors the Kraken public ticker payload. The "c" field is
// [last trade price, lot volume].
type tickerResponse struct {
	Error  []string `json:"error"`
	Result map[string]struct {
		Close []string `json:"c"`
	} `json:"result"`
}

func (c *Cache) fetchRate(ctx context.Context) (float64, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.tickerURL, nil)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("%w: ticker returned HTTP %d", ErrRateUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}

	var ticker tickerResponse
	if err := json.Unmarshal(body, &ticker); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRateUnavailable, err)
	}
	if len(ticker.Error) > 0 {
		return 0, fmt.Errorf("%w: %s", ErrRateUnavailable, strings.Join(ticker.Error, ", "))
	}

	for _, pair := range ticker.Result {
		if len(pair.Close) == 0 {
			break
		}
		price, err := strconv.ParseFloat(pair.Close[0], 64)
		if err != nil || price <= 0 {
			return 0, fmt.Errorf("%w: invalid price %q", ErrRateUnavailable, pair.Close[0])
		}
		return satsPerBTC / price, nil
	}

	return 0, fmt.Errorf("%w: ticker response missing price", ErrRateUnavailable)
}
