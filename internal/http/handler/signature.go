package handler

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureVerifier checks webhook HMAC signatures. A webhook with a bad
// signature is still stored, flagged unverified, so nothing is silently
// dropped.
type SignatureVerifier struct {
	secret []byte
}

func NewSignatureVerifier(secret string) *SignatureVerifier {
	if secret == "" {
		return nil
	}
	return &SignatureVerifier{secret: []byte(secret)}
}

// Verify compares the request signature against the HMAC-SHA256 of the raw
// body. Accepts both bare hex and the conventional "sha256=" prefix.
func (v *SignatureVerifier) Verify(body []byte, signature string) bool {
	if signature == "" {
		return false
	}
	signature = strings.TrimPrefix(signature, "sha256=")

	mac := hmac.New(sha256.New, v.secret)
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
