// Package signature implements the canonical-HMAC scheme used to sign
// webhook payloads. Payloads are serialized deterministically (recursively
// sorted keys, compact encoding) so that the digest is reproducible
// regardless of the field order the caller happened to use.
package signature

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Sign computes the hex-encoded HMAC-SHA256 digest of the canonical form of
// payload using the shared secret. The digest is always 64 hex characters.
func Sign(payload any, secret string) (string, error) {
	canonical, err := Canonicalize(payload)
	if err != nil {
		return "", fmt.Errorf("signature: canonicalize payload: %w", err)
	}
	mac := hmac.New(sha256.New, []byte(secret))
	_, _ = mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// Verify recomputes the signature for payload and compares it against the
// presented digest in constant time. Key order in the payload does not affect
// the outcome; any value change does.
func Verify(payload any, presented, secret string) bool {
	expected, err := Sign(payload, secret)
	if err != nil {
		return false
	}
	return hmac.Equal([]byte(expected), []byte(presented))
}

// Canonicalize returns the deterministic serialization of payload: JSON with
// object keys sorted at every depth and no insignificant whitespace. Numbers
// keep their original literal form.
func Canonicalize(payload any) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return nil, err
	}
	// encoding/json sorts map keys and emits compact output, which is
	// exactly the canonical form once every object is a map.
	return json.Marshal(generic)
}
