package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func sign(t *testing.T, claims Claims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestParse(t *testing.T) {
	exp := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	tok := sign(t, Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: "u-123", ExpiresAt: jwt.NewNumericDate(exp)},
		Email:            "ana@example.com",
	})

	id, err := Parse(tok)
	if err != nil {
		t.Fatal(err)
	}
	if id.UserID != "u-123" || id.Email != "ana@example.com" || !id.ExpiresAt.Equal(exp) {
		t.Errorf("identity = %+v", id)
	}
	if id.Expired(exp.Add(-time.Second)) {
		t.Error("expired before exp")
	}
	if !id.Expired(exp) {
		t.Error("not expired at exp")
	}
}

func TestParseErrors(t *testing.T) {
	if _, err := Parse(""); !errors.Is(err, ErrNoToken) {
		t.Errorf("empty token error = %v", err)
	}
	if _, err := Parse("not-a-jwt"); err == nil {
		t.Error("garbage token should fail")
	}
	if _, err := Parse(sign(t, Claims{Email: "x@example.com"})); !errors.Is(err, ErrNoSubject) {
		t.Errorf("missing subject error = %v", err)
	}
}
