// Package model defines domain entities for the application.
package model

import (
	"time"

	"github.com/google/uuid"
)

// User represents an API consumer. The ID doubles as the bearer token
// presented on authenticated requests, so it is never exposed anywhere
// except to the user who owns it.
type User struct {
	ID                 string    `json:"id"`
	Credits            int64     `json:"credits"`
	CreatedAt          time.Time `json:"created_at"`
	LastCreditUpdateAt time.Time `json:"last_credit_update_at"`
}

// NewUser creates a user with an opaque token ID and an initial credit balance.
func NewUser(initialCredits int64) *User {
	now := time.Now().UTC()
	return &User{
		ID:                 uuid.NewString(),
		Credits:            initialCredits,
		CreatedAt:          now,
		LastCreditUpdateAt: now,
	}
}
