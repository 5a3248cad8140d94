package market

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const defaultQuoteBaseURL = "https://query1.finance.yahoo.com/v10/finance/quoteSummary"

// ErrInvalidSymbol is returned for malformed ticker symbols and for symbols
// the upstream does not know.
var ErrInvalidSymbol = errors.New("invalid ticker symbol")

// Quote is the subset of the upstream quote summary served to clients.
type Quote struct {
	AdditionalData QuoteMetrics      `json:"additional_data"`
	FinancialData  []QuarterlyReport `json:"financial_data"`
}

// QuoteMetrics holds the headline numbers for a ticker.
type QuoteMetrics struct {
	CurrentPrice float64 `json:"current_price"`
	EPS          float64 `json:"eps"`
	PERatio      float64 `json:"pe_ratio"`
}

// QuarterlyReport is one income statement period.
type QuarterlyReport struct {
	FiscalDateEnding string  `json:"fiscal_date_ending"`
	TotalRevenue     float64 `json:"total_revenue"`
	NetIncome        float64 `json:"net_income"`
}

// QuoteCache stores serialized quotes keyed by symbol. Implemented by
// *store.Store.
type QuoteCache interface {
	CacheStockData(ctx context.Context, symbol, data string) error
	GetCachedStockData(ctx context.Context, symbol string) (string, bool, error)
}

// StockService fetches quotes from the Yahoo Finance quote summary API,
// caching results for a short window.
type StockService struct {
	client  *http.Client
	baseURL string
	cache   QuoteCache
	logger  *slog.Logger
}

// StockOption configures a StockService.
type StockOption func(*StockService)

// WithQuoteBaseURL overrides the upstream endpoint. Used by tests.
func WithQuoteBaseURL(url string) StockOption {
	return func(s *StockService) { s.baseURL = url }
}

// WithQuoteHTTPClient overrides the HTTP client.
func WithQuoteHTTPClient(client *http.Client) StockOption {
	return func(s *StockService) { s.client = client }
}

// NewStockService creates a quote fetcher backed by the given cache.
func NewStockService(cache QuoteCache, logger *slog.Logger, opts ...StockOption) *StockService {
	s := &StockService{
		client:  &http.Client{Timeout: 10 * time.Second},
		baseURL: defaultQuoteBaseURL,
		cache:   cache,
		logger:  logger.With("component", "market.stock"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Yahoo wraps every number in a {raw, fmt} object; only raw is used.
type yahooValue struct {
	Raw float64 `json:"raw"`
}

type quoteSummaryResponse struct {
	QuoteSummary struct {
		Result []quoteResult `json:"result"`
	} `json:"quoteSummary"`
}

type quoteResult struct {
	SummaryDetail *struct {
		TrailingPE yahooValue `json:"trailingPE"`
	} `json:"summaryDetail"`
	FinancialData *struct {
		CurrentPrice yahooValue `json:"currentPrice"`
	} `json:"financialData"`
	Earnings *struct {
		EarningsChart struct {
			QuarterlyEarningsChart []struct {
				Actual yahooValue `json:"actual"`
			} `json:"quarterlyEarningsChart"`
		} `json:"earningsChart"`
	} `json:"earnings"`
	IncomeStatementHistory *struct {
		IncomeStatementHistory []struct {
			EndDate struct {
				Fmt string `json:"fmt"`
			} `json:"endDate"`
			TotalRevenue yahooValue `json:"totalRevenue"`
			NetIncome    yahooValue `json:"netIncome"`
		} `json:"incomeStatementHistory"`
	} `json:"incomeStatementHistory"`
}

// Quote returns the quote for a ticker symbol, serving from cache when a
// fresh entry exists. Cache write failures are logged, not surfaced.
func (s *StockService) Quote(ctx context.Context, symbol string) (*Quote, error) {
	if !validSymbol(symbol) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}

	if cached, ok, err := s.cache.GetCachedStockData(ctx, symbol); err != nil {
		s.logger.Warn("stock cache read failed", "symbol", symbol, "error", err)
	} else if ok {
		var quote Quote
		if err := json.Unmarshal([]byte(cached), &quote); err == nil {
			s.logger.Debug("serving cached quote", "symbol", symbol)
			return &quote, nil
		}
		s.logger.Warn("discarding undecodable cached quote", "symbol", symbol)
	}

	quote, err := s.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(quote); err == nil {
		if err := s.cache.CacheStockData(ctx, symbol, string(data)); err != nil {
			s.logger.Warn("stock cache write failed", "symbol", symbol, "error", err)
		}
	}

	return quote, nil
}

func (s *StockService) fetch(ctx context.Context, symbol string) (*Quote, error) {
	summary, err := s.fetchModules(ctx, symbol, "summaryDetail,financialData,earnings")
	if err != nil {
		return nil, err
	}
	income, err := s.fetchModules(ctx, symbol, "incomeStatementHistory")
	if err != nil {
		return nil, err
	}

	quote := &Quote{FinancialData: []QuarterlyReport{}}

	if summary.FinancialData != nil {
		quote.AdditionalData.CurrentPrice = summary.FinancialData.CurrentPrice.Raw
	}
	if summary.SummaryDetail != nil {
		quote.AdditionalData.PERatio = summary.SummaryDetail.TrailingPE.Raw
	}
	if summary.Earnings != nil {
		if quarters := summary.Earnings.EarningsChart.QuarterlyEarningsChart; len(quarters) > 0 {
			quote.AdditionalData.EPS = quarters[len(quarters)-1].Actual.Raw
		}
	}

	if income.IncomeStatementHistory != nil {
		statements := income.IncomeStatementHistory.IncomeStatementHistory
		if len(statements) > 4 {
			statements = statements[:4]
		}
		for _, stmt := range statements {
			period := stmt.EndDate.Fmt
			if period == "" {
				period = "Unknown"
			}
			quote.FinancialData = append(quote.FinancialData, QuarterlyReport{
				FiscalDateEnding: period,
				TotalRevenue:     stmt.TotalRevenue.Raw,
				NetIncome:        stmt.NetIncome.Raw,
			})
		}
	}

	return quote, nil
}

func (s *StockService) fetchModules(ctx context.Context, symbol, modules string) (*quoteResult, error) {
	url := fmt.Sprintf("%s/%s?modules=%s", s.baseURL, symbol, modules)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build quote request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSymbol, symbol)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: quote source returned status %d", ErrUnavailable, resp.StatusCode)
	}

	var parsed quoteSummaryResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(parsed.QuoteSummary.Result) == 0 {
		return nil, fmt.Errorf("%w: empty quote result for %s", ErrUnavailable, symbol)
	}

	return &parsed.QuoteSummary.Result[0], nil
}

// validSymbol accepts 1-10 alphanumeric characters, with periods allowed
// for class shares such as BRK.A.
func validSymbol(symbol string) bool {
	if len(symbol) == 0 || len(symbol) > 10 {
		return false
	}
	for _, r := range symbol {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9':
		case r == '.':
		default:
			return false
		}
	}
	return true
}
