package middleware

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

const (
	// SignatureHeader carries the hex HMAC-SHA512 of the raw webhook body.
	SignatureHeader = "X-Signature"

	maxWebhookBody = 1 << 20
)

// WebhookSignature verifies provider webhooks. Each provider named by the
// {provider} route parameter has its own secret; unknown providers and bad
// signatures are rejected with 401 before the body is decoded.
func WebhookSignature(secrets map[string]string, m *metrics.Metrics) func(http.Handler) http.Handler {
	keys := make(map[string][]byte, len(secrets))
	for provider, secret := range secrets {
		keys[strings.ToLower(strings.TrimSpace(provider))] = []byte(secret)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			provider := strings.ToLower(chi.URLParam(r, "provider"))
			key, ok := keys[provider]
			if !ok || len(key) == 0 {
				authFailure(m, "unknown_provider")
				writeJSONError(w, http.StatusUnauthorized, "unknown payment provider")
				return
			}

			body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "unreadable webhook body")
				return
			}

			if !ValidSignature(key, body, r.Header.Get(SignatureHeader)) {
				authFailure(m, "bad_signature")
				zerolog.Ctx(r.Context()).Warn().Str("provider", provider).Msg("webhook signature rejected")
				writeJSONError(w, http.StatusUnauthorized, "invalid signature")
				return
			}

			r.Body = io.NopCloser(bytes.NewReader(body))
			next.ServeHTTP(w, r)
		})
	}
}

// Sign returns the hex HMAC-SHA512 of body under key.
func Sign(key, body []byte) string {
	mac := hmac.New(sha512.New, key)
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// ValidSignature compares signature with the expected one in constant time.
func ValidSignature(key, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimSpace(signature))
	if err != nil || len(got) == 0 {
		return false
	}
	mac := hmac.New(sha512.New, key)
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}
