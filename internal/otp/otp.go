// Package otp generates and validates the numeric one-time codes used for
// step-up authentication during checkout.
package otp

import (
	"crypto/rand"
	"crypto/subtle"
	"math/big"
)

// DefaultLength is the code length used when none is configured.
const DefaultLength = 4

const digits = "0123456789"

// Generate produces a fixed-length numeric code from a cryptographically
// secure source. Lengths outside 4..6 are clamped.
func Generate(length int) (string, error) {
	if length < DefaultLength {
		length = DefaultLength
	}
	if length > 6 {
		length = 6
	}
	code := make([]byte, length)
	max := big.NewInt(int64(len(digits)))
	for i := range code {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		code[i] = digits[n.Int64()]
	}
	return string(code), nil
}

// Validate reports whether the submitted code exactly matches the stored one.
// A missing stored code always fails. Comparison is constant time.
func Validate(stored, submitted string) bool {
	if stored == "" || submitted == "" {
		return false
	}
	if len(stored) != len(submitted) {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}
