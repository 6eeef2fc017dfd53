// ABOUTME: Tests for the HTTP write-token middleware
// ABOUTME: Reads pass anonymously, writes need a valid bearer token

package auth

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/forgestate/internal/wire"
)

func newProtectedHandler(t *testing.T) (http.Handler, *JWTVerifier, *string) {
	t.Helper()
	verifier := newTestVerifier(t, "http-test-secret")
	seen := new(string)
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*seen = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	})
	return RequireWriteToken(verifier, nil)(inner), verifier, seen
}

func TestRequireWriteToken_ReadsPassThrough(t *testing.T) {
	h, _, seen := newProtectedHandler(t)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/project-state", nil))

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "anonymous", *seen)
}

func TestRequireWriteToken_ValidToken(t *testing.T) {
	h, verifier, seen := newProtectedHandler(t)
	token, err := verifier.Generate("ci", time.Minute)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/api/checklist/batch", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "ci", *seen)
}

func TestRequireWriteToken_Rejections(t *testing.T) {
	h, _, _ := newProtectedHandler(t)

	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Basic abc", "invalid authorization header format"},
		{"empty bearer", "Bearer ", "empty token"},
		{"bad token", "Bearer nope", "invalid token"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/api/singularity/one-click", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			require.Equal(t, http.StatusUnauthorized, rec.Code)
			var env wire.Envelope
			require.NoError(t, json.NewDecoder(rec.Body).Decode(&env))
			assert.False(t, env.Success)
			assert.Equal(t, tt.want, env.Error)
		})
	}
}
