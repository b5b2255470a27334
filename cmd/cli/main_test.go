package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iho/presaleledger/internal/domain"
	"github.com/iho/presaleledger/internal/infrastructure/auth"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "lon...", truncate("longerstring", 6))
	assert.Equal(t, "lo", truncate("longerstring", 2))
}

func TestPrintJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, printJSON(&buf, []byte(`{"a":1}`)))
	assert.Equal(t, "{\n  \"a\": 1\n}\n", buf.String())

	buf.Reset()
	require.NoError(t, printJSON(&buf, []byte("not json")))
	assert.Equal(t, "not json\n", buf.String())
}

func TestLedgerConsistency(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
		want    string
	}{
		{
			name:   "consistent",
			status: http.StatusOK,
			body:   `{"total_accounts":3,"reconciled_accounts":3,"ledger_consistent":true}`,
			want:   "Accounts reconciled: 3/3",
		},
		{
			name:    "inconsistent",
			status:  http.StatusConflict,
			body:    `{"total_accounts":3,"reconciled_accounts":2,"ledger_consistent":false}`,
			wantErr: true,
			want:    "FAILED (status: 409)",
		},
		{
			name:    "server error",
			status:  http.StatusInternalServerError,
			body:    `{"error":"boom"}`,
			wantErr: true,
			want:    "FAILED (status: 500)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotAuth string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/api/v1/ledger/consistency", r.URL.Path)
				gotAuth = r.Header.Get("Authorization")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			out, err := execute(t, "--url", srv.URL, "--token", "tok", "ledger", "consistency")
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
			assert.Contains(t, out, tt.want)
			assert.Equal(t, "Bearer tok", gotAuth)
		})
	}
}

func TestStageCurrent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/presale/stage":
			_, _ = w.Write([]byte(`{"ordinal":2,"active":true}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":"not found"}`))
		}
	}))
	defer srv.Close()

	out, err := execute(t, "--url", srv.URL+"/", "stage", "current")
	require.NoError(t, err)
	assert.Contains(t, out, `"ordinal": 2`)

	_, err = execute(t, "--url", srv.URL, "account", "get", "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestTokenIssue(t *testing.T) {
	out, err := execute(t, "token", "issue", "op-1", "--secret", "s3cret", "--role", "admin", "--ttl", "1m")
	require.NoError(t, err)

	claims, err := auth.NewJWTManager("s3cret", time.Minute).Verify(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, "op-1", claims.UserID)
	assert.Equal(t, domain.RoleAdmin, claims.Role)
}

func TestTokenIssueRejectsBadInput(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := execute(t, "token", "issue", "op-1")
	assert.Error(t, err)

	_, err = execute(t, "token", "issue", "op-1", "--secret", "s", "--role", "root")
	assert.ErrorIs(t, err, domain.ErrInsufficientRole)
}

func TestMigrateRequiresSource(t *testing.T) {
	_, err := execute(t, "migrate", "version", "--database-url", "postgres://localhost:1/none", "--path", t.TempDir()+"/missing")
	assert.Error(t, err)
}
