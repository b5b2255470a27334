package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/auth"
	"github.com/iho/presaleledger/internal/infrastructure/metrics"
)

func issueToken(t *testing.T, jm *auth.JWTManager, role domain.Role) string {
	t.Helper()
	token, err := jm.Generate(&domain.User{ID: "op-1", Email: "op@example.com", Role: role})
	require.NoError(t, err)
	return token
}

func TestAuthMiddleware(t *testing.T) {
	jm := auth.NewJWTManager("test-secret", time.Minute)

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantReason string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantReason: "missing_token"},
		{name: "wrong scheme", header: "Basic abc", wantStatus: http.StatusUnauthorized, wantReason: "missing_token"},
		{name: "garbage token", header: "Bearer not-a-jwt", wantStatus: http.StatusUnauthorized, wantReason: "invalid_token"},
		{name: "valid token", header: "Bearer " + issueToken(t, jm, domain.RoleViewer), wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New(prometheus.NewRegistry())
			var seen *domain.User
			h := AuthMiddleware(jm, m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				seen, _ = domain.UserFromContext(r.Context())
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/v1/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			if tt.wantReason != "" {
				assert.Nil(t, seen)
				assert.Equal(t, float64(1), testutil.ToFloat64(m.AuthFailures.WithLabelValues(tt.wantReason)))
				return
			}
			require.NotNil(t, seen)
			assert.Equal(t, "op-1", seen.ID)
			assert.Equal(t, domain.RoleViewer, seen.Role)
		})
	}
}

func TestRequireRole(t *testing.T) {
	tests := []struct {
		name       string
		user       *domain.User
		min        domain.Role
		wantStatus int
	}{
		{name: "anonymous", user: nil, min: domain.RoleViewer, wantStatus: http.StatusUnauthorized},
		{name: "viewer on admin route", user: &domain.User{ID: "u", Role: domain.RoleViewer}, min: domain.RoleAdmin, wantStatus: http.StatusForbidden},
		{name: "operator on operator route", user: &domain.User{ID: "u", Role: domain.RoleOperator}, min: domain.RoleOperator, wantStatus: http.StatusOK},
		{name: "admin on operator route", user: &domain.User{ID: "u", Role: domain.RoleAdmin}, min: domain.RoleOperator, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := RequireRole(tt.min)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))

			req := httptest.NewRequest(http.MethodPost, "/", nil)
			if tt.user != nil {
				req = req.WithContext(domain.ContextWithUser(req.Context(), tt.user))
			}
			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
		})
	}
}

func TestOptionalAuth(t *testing.T) {
	jm := auth.NewJWTManager("test-secret", time.Minute)

	var seen *domain.User
	h := OptionalAuth(jm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = domain.UserFromContext(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Nil(t, seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+issueToken(t, jm, domain.RoleAdmin))
	h.ServeHTTP(httptest.NewRecorder(), req)
	require.NotNil(t, seen)
	assert.Equal(t, domain.RoleAdmin, seen.Role)
}
