// ABOUTME: Tests for the HTTP bearer token middleware
// ABOUTME: Covers header parsing, WebSocket query tokens and context propagation

package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header  string
		token   string
		wantErr bool
	}{
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer ", "", true},
		{"Bearer abc.def.ghi", "abc.def.ghi", false},
	}
	for _, tt := range tests {
		token, errMsg := extractBearerToken(tt.header)
		assert.Equal(t, tt.token, token, "header %q", tt.header)
		assert.Equal(t, tt.wantErr, errMsg != "", "header %q", tt.header)
	}
}

func protected(t *testing.T) (http.Handler, *JWTVerifier) {
	t.Helper()
	v := newTestVerifier(t)
	h := HTTPAuthMiddleware(v)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(Subject(r.Context())))
	}))
	return h, v
}

func TestHTTPAuthMiddleware_ValidToken(t *testing.T) {
	h, v := protected(t)
	token, err := v.Generate("ops-desk", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops-desk", rec.Body.String())
}

func TestHTTPAuthMiddleware_Rejects(t *testing.T) {
	h, v := protected(t)
	expired, err := v.Generate("ops-desk", -time.Minute)
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		body   string
	}{
		{"missing header", "", "missing authorization header"},
		{"wrong scheme", "Token abc", "invalid authorization header format"},
		{"garbage", "Bearer nope", "invalid token"},
		{"expired", "Bearer " + expired, "token expired"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/agents", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Contains(t, rec.Body.String(), tt.body)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
		})
	}
}

func TestHTTPAuthMiddleware_QueryTokenOnlyForWebSocket(t *testing.T) {
	h, v := protected(t)
	token, err := v.Generate("console", time.Hour)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/events?access_token="+token, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/events?access_token="+token, nil)
	req.Header.Set("Upgrade", "websocket")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console", rec.Body.String())
}

func TestSubject_Anonymous(t *testing.T) {
	assert.Equal(t, "anonymous", Subject(context.Background()))
	assert.Nil(t, FromContext(context.Background()))

	ctx := WithAuth(context.Background(), &AuthContext{Subject: "ops"})
	assert.Equal(t, "ops", Subject(ctx))
}
