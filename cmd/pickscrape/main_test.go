package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adityalohuni/pickscrape/internal/browser/browsertest"
	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/config"
	"github.com/adityalohuni/pickscrape/internal/export"
	"github.com/adityalohuni/pickscrape/internal/scrape"
	"github.com/adityalohuni/pickscrape/internal/session"
)

func testDeps(t *testing.T) *runtimeDeps {
	t.Helper()
	settings, err := config.LoadOrCreate(filepath.Join(t.TempDir(), "config.toml"))
	require.NoError(t, err)
	logger := log.New(&bytes.Buffer{})
	sessions := session.NewRegistry()
	return &runtimeDeps{
		settings: settings,
		logger:   logger,
		sessions: sessions,
		controller: capture.NewController(capture.Options{
			Launcher: &browsertest.Launcher{},
			Logger:   logger,
			Sessions: sessions,
		}),
		scraper: scrape.NewScraper(nil, export.Exporter{}, logger),
	}
}

func TestDaemonRoutes(t *testing.T) {
	deps := testDeps(t)
	h := newDaemonHandler(deps, time.Now())

	tests := []struct {
		name   string
		method string
		path   string
		token  string
		body   string
		want   int
	}{
		{"health is open", http.MethodGet, "/healthz", "", "", http.StatusOK},
		{"capture needs api token", http.MethodPost, "/api/capture", "", `{"url":"x"}`, http.StatusUnauthorized},
		{"admin token does not open api", http.MethodPost, "/api/capture", deps.settings.AdminToken, `{"url":"x"}`, http.StatusUnauthorized},
		{"mcp needs api token", http.MethodPost, "/mcp", "", `{}`, http.StatusUnauthorized},
		{"ws needs api token", http.MethodGet, "/ws/capture", "", "", http.StatusUnauthorized},
		{"admin status", http.MethodGet, "/admin/status", deps.settings.AdminToken, "", http.StatusOK},
		{"api token does not open admin", http.MethodGet, "/admin/status", deps.settings.APIToken, "", http.StatusUnauthorized},
		{"headless capture short-circuits", http.MethodPost, "/api/capture", deps.settings.APIToken, `{"url":"https://example.com"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			if tt.token != "" {
				r.Header.Set("Authorization", "Bearer "+tt.token)
			}
			w := httptest.NewRecorder()
			h.ServeHTTP(w, r)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
		})
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, config.Settings{LogLevel: "warn", LogFormat: "json"})
	require.NoError(t, err)
	t.Cleanup(func() { log.SetDefault(log.New(&bytes.Buffer{})) })

	logger.Info("hidden")
	logger.Warn("shown", "session", "1")
	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, `"msg":"shown"`)
	assert.Contains(t, out, `"session":"1"`)

	_, err = newLogger(&buf, config.Settings{LogLevel: "loud"})
	assert.Error(t, err)
}
