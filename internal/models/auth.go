package models

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SignupRequest registers a new student. Field rules are checked in a fixed
// order by the auth service so each failure has its own message.
type SignupRequest struct {
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	Email     string `json:"email"`
	Phone     string `json:"phone"`
	Password  string `json:"password"`
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Email     string `json:"email" validate:"required"`
	Password  string `json:"password" validate:"required"`
	IP        string `json:"-"`
	UserAgent string `json:"-"`
}

// RefreshTokenRequest exchanges a refresh token for a new pair.
type RefreshTokenRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
	IP           string `json:"-"`
	UserAgent    string `json:"-"`
}

// LogoutRequest revokes a refresh token.
type LogoutRequest struct {
	RefreshToken string `json:"refreshToken" validate:"required"`
}

// TokenBundle is the opaque credential pair handed to clients.
type TokenBundle struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresIn    int64     `json:"expiresIn"`
	IssuedAt     time.Time `json:"issuedAt"`
}

// AuthResponse is returned by signup and login.
type AuthResponse struct {
	User   UserInfo    `json:"user"`
	Tokens TokenBundle `json:"tokens"`
}

// UserInfo is the public view of a user.
type UserInfo struct {
	ID                string   `json:"id"`
	FirstName         string   `json:"firstName"`
	LastName          string   `json:"lastName"`
	Email             string   `json:"email"`
	Phone             string   `json:"phone"`
	EnrolledModuleIDs []string `json:"enrolledModuleIds"`
}

// HasModule reports whether moduleID is already in the enrollment list.
func (u UserInfo) HasModule(moduleID string) bool {
	for _, id := range u.EnrolledModuleIDs {
		if id == moduleID {
			return true
		}
	}
	return false
}

// NewUserInfo projects a stored user onto its public view.
func NewUserInfo(u User) UserInfo {
	ids := u.EnrolledModuleIDs
	if ids == nil {
		ids = []string{}
	}
	return UserInfo{
		ID:                u.ID,
		FirstName:         u.FirstName,
		LastName:          u.LastName,
		Email:             u.Email,
		Phone:             u.Phone,
		EnrolledModuleIDs: ids,
	}
}

// JWTClaims represents the JWT payload for access tokens. The subject is the
// user id.
type JWTClaims struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
	jwt.RegisteredClaims
}

// UserID returns the authenticated user id carried in the subject claim.
func (c *JWTClaims) UserID() string {
	if c == nil {
		return ""
	}
	return c.Subject
}
