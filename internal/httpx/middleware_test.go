package httpx

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var ok = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusTeapot)
})

func TestRequireToken(t *testing.T) {
	h := RequireToken("secret")(ok)
	tests := []struct {
		name   string
		setup  func(r *http.Request)
		status int
	}{
		{name: "missing", setup: func(*http.Request) {}, status: http.StatusUnauthorized},
		{name: "bearer", setup: func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }, status: http.StatusTeapot},
		{name: "header", setup: func(r *http.Request) { r.Header.Set("X-Auth-Token", "secret") }, status: http.StatusTeapot},
		{name: "wrong", setup: func(r *http.Request) { r.Header.Set("X-Auth-Token", "nope") }, status: http.StatusUnauthorized},
		{name: "query ignored without upgrade", setup: func(r *http.Request) { r.URL.RawQuery = "token=secret" }, status: http.StatusUnauthorized},
		{name: "query on websocket", setup: func(r *http.Request) {
			r.URL.RawQuery = "token=secret"
			r.Header.Set("Upgrade", "websocket")
		}, status: http.StatusTeapot},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			tt.setup(r)
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func TestRequireTokenUnconfigured(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("X-Auth-Token", "")
	RequireToken("")(ok).ServeHTTP(w, r)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestClientIP(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "10.0.0.1:1234"
	assert.Equal(t, "10.0.0.1", ClientIP(r))

	r.Header.Set("X-Real-Ip", "10.0.0.2")
	assert.Equal(t, "10.0.0.2", ClientIP(r))

	r.Header.Set("X-Forwarded-For", "10.0.0.3, 10.0.0.4")
	assert.Equal(t, "10.0.0.3", ClientIP(r))
}

func TestRecoverWritesErrorBody(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	h := Recover(logger)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/capture", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	var body ErrorBody
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "InternalError", body.Error)
	assert.Contains(t, buf.String(), "handler panic")
}

func TestLogRequests(t *testing.T) {
	var buf bytes.Buffer
	logger := log.New(&buf)
	h := Chain(ok, LogRequests(logger), Recover(logger))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	assert.Contains(t, buf.String(), "/healthz")
	assert.Contains(t, buf.String(), "418")
}
