// Package csrf issues and validates the double-submit anti-forgery tokens
// that protect payment state transitions. A token is bound to a single
// payment id, travels back both as a cookie and a form field, and both
// presented values must match the server-issued one.
package csrf

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"time"
)

// CookieName is the cookie carrying the issued token.
const CookieName = "csrf_token"

// FormField is the form field the checkout page echoes the token in.
const FormField = "csrf_token"

const tokenBytes = 32

// TokenStore persists issued tokens keyed by payment id.
type TokenStore interface {
	Put(ctx context.Context, paymentID, token string, ttl time.Duration) error
	Get(ctx context.Context, paymentID string) (string, error)
	Delete(ctx context.Context, paymentID string) error
}

// Guard issues and verifies double-submit tokens.
type Guard struct {
	Store TokenStore
	TTL   time.Duration
}

// Issue generates a fresh URL-safe token bound to the payment id. Issuing a
// new token invalidates any previously issued one for the same payment.
func (g Guard) Issue(ctx context.Context, paymentID string) (string, error) {
	if g.Store == nil {
		return "", errors.New("csrf: token store not configured")
	}
	buf := make([]byte, tokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	token := base64.RawURLEncoding.EncodeToString(buf)
	ttl := g.TTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	if err := g.Store.Put(ctx, paymentID, token, ttl); err != nil {
		return "", err
	}
	return token, nil
}

// Verify reports whether the cookie token and the form token both equal the
// issued value. Any absence or mismatch fails closed.
func (g Guard) Verify(ctx context.Context, paymentID, cookieToken, formToken string) bool {
	if g.Store == nil {
		return false
	}
	if cookieToken == "" || formToken == "" {
		return false
	}
	issued, err := g.Store.Get(ctx, paymentID)
	if err != nil || issued == "" {
		return false
	}
	cookieOK := subtle.ConstantTimeCompare([]byte(cookieToken), []byte(issued)) == 1
	formOK := subtle.ConstantTimeCompare([]byte(formToken), []byte(issued)) == 1
	return cookieOK && formOK
}
