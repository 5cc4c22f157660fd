// Package webhook verifies and handles inbound provider callbacks.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// SignatureHeader carries the body signature on Meta and lead webhooks.
const SignatureHeader = "X-Hub-Signature-256"

const signaturePrefix = "sha256="

// Verifier checks HMAC-SHA256 body signatures.
type Verifier struct {
	secret []byte
}

func NewVerifier(secret string) *Verifier {
	return &Verifier{secret: []byte(secret)}
}

// Configured reports whether a secret is set.
func (v *Verifier) Configured() bool {
	return v != nil && len(v.secret) > 0
}

// Verify reports whether header holds the hex HMAC of body. The header may
// carry a "sha256=" prefix.
func (v *Verifier) Verify(body []byte, header string) bool {
	if !v.Configured() {
		return false
	}
	header = strings.TrimSpace(header)
	header = strings.TrimPrefix(header, signaturePrefix)
	if header == "" {
		return false
	}

	got, err := hex.DecodeString(header)
	if err != nil {
		return false
	}
	return hmac.Equal(got, v.mac(body))
}

// Sign returns the header value Verify accepts for body.
func (v *Verifier) Sign(body []byte) string {
	return signaturePrefix + hex.EncodeToString(v.mac(body))
}

func (v *Verifier) mac(body []byte) []byte {
	m := hmac.New(sha256.New, v.secret)
	m.Write(body)
	return m.Sum(nil)
}
