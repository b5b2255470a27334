package middleware

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

func TestSignAndValidSignature(t *testing.T) {
	key := []byte("secret")
	body := []byte(`{"order_id":"o-1"}`)

	sig := Sign(key, body)
	assert.Len(t, sig, 128)
	assert.True(t, ValidSignature(key, body, sig))
	assert.True(t, ValidSignature(key, body, "  "+sig+"\n"))
	assert.False(t, ValidSignature([]byte("other"), body, sig))
	assert.False(t, ValidSignature(key, []byte(`{"order_id":"o-2"}`), sig))
	assert.False(t, ValidSignature(key, body, "zz"))
	assert.False(t, ValidSignature(key, body, ""))
}

func TestWebhookSignature(t *testing.T) {
	secrets := map[string]string{" NowPayments ": "np-secret", "empty": ""}
	body := []byte(`{"order_id":"o-1","status":"finished"}`)

	tests := []struct {
		name       string
		provider   string
		signature  string
		wantStatus int
		wantReason string
	}{
		{name: "valid", provider: "nowpayments", signature: Sign([]byte("np-secret"), body), wantStatus: http.StatusOK},
		{name: "provider is case insensitive", provider: "NOWPAYMENTS", signature: Sign([]byte("np-secret"), body), wantStatus: http.StatusOK},
		{name: "unknown provider", provider: "stripe", signature: Sign([]byte("np-secret"), body), wantStatus: http.StatusUnauthorized, wantReason: "unknown_provider"},
		{name: "provider without secret", provider: "empty", signature: Sign(nil, body), wantStatus: http.StatusUnauthorized, wantReason: "unknown_provider"},
		{name: "bad signature", provider: "nowpayments", signature: Sign([]byte("wrong"), body), wantStatus: http.StatusUnauthorized, wantReason: "bad_signature"},
		{name: "missing signature", provider: "nowpayments", wantStatus: http.StatusUnauthorized, wantReason: "bad_signature"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())

			var got []byte
			r := chi.NewRouter()
			r.With(WebhookSignature(secrets, m)).Post("/webhooks/{provider}", func(w http.ResponseWriter, r *http.Request) {
				got, _ = io.ReadAll(r.Body)
			})

			req := httptest.NewRequest(http.MethodPost, "/webhooks/"+tt.provider, bytes.NewReader(body))
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rr := httptest.NewRecorder()
			r.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantReason != "" {
				assert.Nil(t, got)
				assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthFailures.WithLabelValues(tt.wantReason)))
				return
			}
			assert.Equal(t, body, got)
		})
	}
}
