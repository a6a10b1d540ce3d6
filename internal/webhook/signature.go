// Package webhook implements the signing scheme the processor and the control
// plane share: an HMAC-SHA256 over the raw request body, carried in the
// X-Webhook-Signature header as "sha256=<hex>".
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Header is the HTTP header carrying the payload signature.
const Header = "X-Webhook-Signature"

const prefix = "sha256="

// Sign computes the signature header value for a payload.
func Sign(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return prefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value against the payload using a
// constant-time comparison. An empty secret or header never verifies.
func Verify(payload []byte, header, secret string) bool {
	if secret == "" || header == "" {
		return false
	}
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	got, err := hex.DecodeString(strings.TrimPrefix(header, prefix))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hmac.Equal(got, mac.Sum(nil))
}
