package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
)

const signaturePrefix = "sha256="

// VerifySignature reports whether header is exactly the X-Hub-Signature-256
// value for body under secret, lowercase hex included. The comparison is
// constant time.
func VerifySignature(secret, body []byte, header string) bool {
	if len(secret) == 0 || header == "" {
		return false
	}
	return hmac.Equal([]byte(header), []byte(SignatureHeader(secret, body)))
}

// Sign returns the raw HMAC-SHA256 of body.
func Sign(secret, body []byte) []byte {
	mac := hmac.New(sha256.New, secret)
	_, _ = mac.Write(body)
	return mac.Sum(nil)
}

// SignatureHeader formats the X-Hub-Signature-256 header for body.
func SignatureHeader(secret, body []byte) string {
	return signaturePrefix + hex.EncodeToString(Sign(secret, body))
}
