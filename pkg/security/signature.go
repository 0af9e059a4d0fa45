package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignPayload returns the hex HMAC-SHA256 of body keyed by secret.
func SignPayload(body []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifySignature compares the provided hex signature against the expected
// HMAC in constant time. Empty secrets never verify.
func VerifySignature(body []byte, signature, secret string) bool {
	signature = strings.TrimSpace(signature)
	if signature == "" || secret == "" {
		return false
	}
	expected := SignPayload(body, secret)
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}
