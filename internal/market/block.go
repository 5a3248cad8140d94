// Package market implements the paid data fetchers: the latest Bitcoin
// block hash and stock quotes.
package market

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const userAgent = "tollgate/1.0"

// defaultBlockTipURL returns the current chain tip hash as plain text.
const defaultBlockTipURL = "https://blockstream.info/api/blocks/tip/hash"

// ErrUnavailable is returned when an upstream data source fails.
var ErrUnavailable = errors.New("upstream data source unavailable")

// Block is the latest chain tip together with the fetch time.
type Block struct {
	Hash      string    `json:"hash"`
	Timestamp time.Time `json:"timestamp"`
}

// BlockService fetches the latest Bitcoin block hash from Blockstream.
type BlockService struct {
	client *http.Client
	tipURL string
}

// BlockOption configures a BlockService.
type BlockOption func(*BlockService)

// WithBlockTipURL overrides the upstream endpoint. Used by tests.
func WithBlockTipURL(url string) BlockOption {
	return func(s *BlockService) { s.tipURL = url }
}

// WithBlockHTTPClient overrides the HTTP client.
func WithBlockHTTPClient(client *http.Client) BlockOption {
	return func(s *BlockService) { s.client = client }
}

// NewBlockService creates a block fetcher.
func NewBlockService(opts ...BlockOption) *BlockService {
	s := &BlockService{
		client: &http.Client{Timeout: 10 * time.Second},
		tipURL: defaultBlockTipURL,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// LatestBlock fetches the current chain tip hash.
func (s *BlockService) LatestBlock(ctx context.Context) (*Block, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.tipURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build block request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: block source returned status %d", ErrUnavailable, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	hash := strings.TrimSpace(string(body))
	if hash == "" {
		return nil, fmt.Errorf("%w: empty block hash", ErrUnavailable)
	}

	return &Block{
		Hash:      hash,
		Timestamp: time.Now().UTC(),
	}, nil
}
