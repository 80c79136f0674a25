// Package session persists the single authenticated portal session.
package session

import (
	"context"

	"github.com/noah-isme/course-portal-api/internal/models"
)

// Well-known names under which a session is persisted.
const (
	UserKey   = "user"
	TokensKey = "tokens"
)

// Session is the authenticated user and the credentials issued for them.
type Session struct {
	User   models.UserInfo    `json:"user"`
	Tokens models.TokenBundle `json:"tokens"`
}

// Valid reports whether the session identifies a user and carries a token.
func (s Session) Valid() bool {
	return s.User.ID != "" && s.Tokens.AccessToken != ""
}

// Store holds at most one session. Set replaces any existing session.
type Store interface {
	Set(ctx context.Context, s Session) error
	Clear(ctx context.Context) error
	Current(ctx context.Context) (Session, bool, error)
}
