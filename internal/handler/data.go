package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tollgate/tollgate/internal/handler/dto"
	"github.com/tollgate/tollgate/internal/market"
	"github.com/tollgate/tollgate/internal/middleware"
	"github.com/tollgate/tollgate/internal/model"
)

// BlockFetcher returns the latest chain tip. Implemented by
// *market.BlockService.
type BlockFetcher interface {
	LatestBlock(ctx context.Context) (*market.Block, error)
}

// StockFetcher returns quotes. Implemented by *market.StockService.
type StockFetcher interface {
	Quote(ctx context.Context, symbol string) (*market.Quote, error)
}

// OfferLister exposes the purchasable offers. Implemented by *config.Config.
type OfferLister interface {
	Offers() []model.Offer
}

// DataHandler serves the metered data endpoints. Each successful response
// costs one credit; an empty balance gets a 402 with the offer catalog.
type DataHandler struct {
	store   UserStore
	offers  OfferLister
	blocks  BlockFetcher
	stocks  StockFetcher
	baseURL string
	expiry  time.Duration
	logger  *slog.Logger
}

// NewDataHandler creates a new data handler.
func NewDataHandler(store UserStore, offers OfferLister, blocks BlockFetcher, stocks StockFetcher, baseURL string, expiry time.Duration, logger *slog.Logger) *DataHandler {
	return &DataHandler{
		store:   store,
		offers:  offers,
		blocks:  blocks,
		stocks:  stocks,
		baseURL: baseURL,
		expiry:  expiry,
		logger:  logger.With("handler", "data"),
	}
}

// LatestBlock returns the latest Bitcoin block hash.
//
// GET /block
func (h *DataHandler) LatestBlock(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{
			Error: "Unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	if user.Credits < 1 {
		h.writePaymentRequired(w, user)
		return
	}

	block, err := h.blocks.LatestBlock(r.Context())
	if err != nil {
		h.logger.Error("failed to fetch latest block", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{
			Error: "Failed to fetch latest block hash",
			Code:  "UPSTREAM_UNAVAILABLE",
		})
		return
	}

	h.chargeCredit(r.Context(), user.ID, "block")
	writeJSON(w, http.StatusOK, block)
}

// StockQuote returns quote data for a ticker symbol.
//
// GET /stock/{symbol}
func (h *DataHandler) StockQuote(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{
			Error: "Unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	if user.Credits < 1 {
		h.writePaymentRequired(w, user)
		return
	}

	symbol := chi.URLParam(r, "symbol")

	quote, err := h.stocks.Quote(r.Context(), symbol)
	if err != nil {
		if errors.Is(err, market.ErrInvalidSymbol) {
			writeJSON(w, http.StatusBadRequest, dto.ErrorResponse{
				Error: "Invalid ticker symbol",
				Code:  "INVALID_SYMBOL",
			})
			return
		}
		h.logger.Error("failed to fetch stock quote", "symbol", symbol, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{
			Error: "Failed to fetch stock data",
			Code:  "UPSTREAM_UNAVAILABLE",
		})
		return
	}

	h.chargeCredit(r.Context(), user.ID, "stock")
	writeJSON(w, http.StatusOK, quote)
}

// chargeCredit deducts one credit. The data was already fetched, so a
// failed deduction is logged and the response still served.
func (h *DataHandler) chargeCredit(ctx context.Context, userID, endpoint string) {
	if _, err := h.store.UpdateUserCredits(ctx, userID, -1); err != nil {
		h.logger.Error("failed to deduct credit",
			"user_id", userID,
			"endpoint", endpoint,
			"error", err,
		)
		return
	}
	h.logger.Info("credit charged", "user_id", userID, "endpoint", endpoint)
}

func (h *DataHandler) writePaymentRequired(w http.ResponseWriter, user *model.User) {
	writeJSON(w, http.StatusPaymentRequired, dto.PaymentRequiredResponse{
		Expiry:              time.Now().UTC().Add(h.expiry),
		Offers:              h.offers.Offers(),
		PaymentContextToken: user.ID,
		PaymentRequestURL:   h.baseURL + "/l402/payment-request",
	})
}
