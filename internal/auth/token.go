package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrEmptyToken   = errors.New("access token is required")
	ErrExpiredToken = errors.New("token has expired")
)

// TokenSource supplies the bearer token for backend calls
type TokenSource interface {
	AccessToken() string
}

// TokenExpiry reads the exp claim of a JWT access token without verifying its
// signature; the backend does that. Opaque tokens report ok=false.
func TokenExpiry(token string) (time.Time, bool) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, false
	}
	return claims.ExpiresAt.Time, true
}

// State is the authentication context the cart coordinator reacts to
type State struct {
	Authenticated bool
	AccessToken   string
}

// Active reports an authenticated session holding a token that has not expired
func (s State) Active(now time.Time) bool {
	if !s.Authenticated || s.AccessToken == "" {
		return false
	}
	if exp, ok := TokenExpiry(s.AccessToken); ok && !now.Before(exp) {
		return false
	}
	return true
}
