// Package auth reads the identity carried by the platform access token.
// Signature checks happen server-side; the client only needs the subject.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrNoToken   = errors.New("no access token configured")
	ErrNoSubject = errors.New("access token has no subject")
)

// Claims are the fields of the platform access token the client uses.
type Claims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
	Role  string `json:"role"`
}

// Identity is the signed-in user.
type Identity struct {
	UserID    string
	Email     string
	ExpiresAt time.Time
}

// Expired reports whether the token has expired at now.
func (i Identity) Expired(now time.Time) bool {
	return !i.ExpiresAt.IsZero() && !now.Before(i.ExpiresAt)
}

// Parse extracts the identity from token without verifying its signature.
func Parse(token string) (Identity, error) {
	if token == "" {
		return Identity{}, ErrNoToken
	}
	var claims Claims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &claims); err != nil {
		return Identity{}, fmt.Errorf("parse access token: %w", err)
	}
	if claims.Subject == "" {
		return Identity{}, ErrNoSubject
	}
	id := Identity{UserID: claims.Subject, Email: claims.Email}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	return id, nil
}
