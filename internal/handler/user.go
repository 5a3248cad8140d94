package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tollgate/tollgate/internal/handler/dto"
	"github.com/tollgate/tollgate/internal/middleware"
	"github.com/tollgate/tollgate/internal/model"
)

// UserStore is the persistence surface the user and data handlers need.
// Implemented by *store.Store.
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	GetUser(ctx context.Context, userID string) (*model.User, error)
	UpdateUserCredits(ctx context.Context, userID string, delta int64) (*model.User, error)
}

// UserHandler handles signup and account info endpoints.
type UserHandler struct {
	store         UserStore
	signupCredits int64
	logger        *slog.Logger
}

// NewUserHandler creates a new user handler.
func NewUserHandler(store UserStore, signupCredits int64, logger *slog.Logger) *UserHandler {
	return &UserHandler{
		store:         store,
		signupCredits: signupCredits,
		logger:        logger.With("handler", "user"),
	}
}

// Signup creates a new user with the free starting balance. The returned ID
// is the bearer token for every authenticated endpoint.
//
// GET /signup
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	user := model.NewUser(h.signupCredits)

	if err := h.store.CreateUser(r.Context(), user); err != nil {
		h.logger.Error("failed to create user", "error", err)
		writeJSON(w, http.StatusInternalServerError, dto.ErrorResponse{
			Error: "Failed to create user",
			Code:  "INTERNAL_ERROR",
		})
		return
	}

	h.logger.Info("created new user", "user_id", user.ID)
	writeJSON(w, http.StatusOK, user)
}

// Info returns the authenticated user's record.
//
// GET /info
func (h *UserHandler) Info(w http.ResponseWriter, r *http.Request) {
	user := middleware.UserFromContext(r.Context())
	if user == nil {
		writeJSON(w, http.StatusUnauthorized, dto.ErrorResponse{
			Error: "Unauthorized",
			Code:  "UNAUTHORIZED",
		})
		return
	}

	writeJSON(w, http.StatusOK, user)
}
