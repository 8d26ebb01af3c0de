// Package auth provides keyed-digest verification for webhook producers.
package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// Each producer class (GPS devices, the TMS) signs the exact raw request
// body with its own shared secret; the hex digest travels in a header.

var ErrBadSignature = errors.New("bad or missing signature")

// Verifier checks HMAC-SHA256 signatures for a single producer class.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Verify recomputes the digest over body and compares it to the supplied
// hex signature in constant time.
func (v *Verifier) Verify(body []byte, provided string) error {
	if provided == "" {
		return ErrBadSignature
	}
	sig, err := hex.DecodeString(provided)
	if err != nil {
		return ErrBadSignature
	}
	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), sig) {
		return ErrBadSignature
	}
	return nil
}

// Sign returns the lowercase hex HMAC-SHA256 of body, for producers and
// tests.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return fmt.Sprintf("%x", mac.Sum(nil))
}
