package admin

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/adityalohuni/pickscrape/internal/config"
	"github.com/adityalohuni/pickscrape/internal/httpx"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/session"
)

type Status struct {
	Uptime      string        `json:"uptime"`
	Interactive bool          `json:"interactive"`
	Sessions    session.Stats `json:"sessions"`
}

// Peeker reads the current selection of a live session.
type Peeker interface {
	Peek(ctx context.Context, id string) ([]protocol.SelectedElement, error)
}

type Handlers struct {
	StartedAt   time.Time
	Sessions    *session.Registry
	Peeker      Peeker
	Interactive bool
	PeekTimeout time.Duration
	ConfigPath  string
}

func (h *Handlers) Status(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, Status{
		Uptime:      time.Since(h.StartedAt).Round(time.Second).String(),
		Interactive: h.Interactive,
		Sessions:    h.Sessions.Stats(),
	})
}

func (h *Handlers) SessionsList(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, h.Sessions.List())
}

func (h *Handlers) CancelSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if err := h.Sessions.Cancel(id); err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "id": id})
}

func (h *Handlers) PeekSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	id := strings.TrimSpace(r.URL.Query().Get("id"))
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	if h.Peeker == nil {
		http.Error(w, "peek not available", http.StatusNotImplemented)
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.peekTimeout())
	defer cancel()
	elements, err := h.Peeker.Peek(ctx, id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]any{"id": id, "selectedElements": elements})
}

type ConfigPayload struct {
	Path              string `json:"path,omitempty"`
	DaemonAddr        string `json:"daemon_addr"`
	APIToken          string `json:"api_token"`
	AdminToken        string `json:"admin_token"`
	BrowserBin        string `json:"browser_bin"`
	Headless          bool   `json:"headless"`
	NoSandbox         bool   `json:"no_sandbox"`
	NavigationTimeout string `json:"navigation_timeout"`
	WindowWidth       int    `json:"window_width"`
	WindowHeight      int    `json:"window_height"`
	Interactive       string `json:"interactive"`
	IncludeInnerHTML  bool   `json:"include_inner_html"`
	CSVDir            string `json:"csv_dir"`
	AckGrace          string `json:"ack_grace"`
	ScrapeTimeout     string `json:"scrape_timeout"`
	ScrapeWait        string `json:"scrape_wait"`
	LogLevel          string `json:"log_level"`
	LogFormat         string `json:"log_format"`
	AdminBaseURL      string `json:"admin_base_url"`
	TUIRefresh        string `json:"tui_refresh_interval"`
}

func (h *Handlers) ConfigGet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	settings, err := config.LoadOrCreate(h.ConfigPath)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, payloadFromSettings(settings))
}

// ConfigSet replaces the stored settings. Changes apply on the next daemon
// start.
func (h *Handlers) ConfigSet(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var payload ConfigPayload
	if err := decodeJSON(r.Body, &payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	next, err := settingsFromPayload(payload)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if next.Path == "" {
		next.Path = h.ConfigPath
	}
	if err := next.Validate(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	saved, err := config.Save(next)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, payloadFromSettings(saved))
}

// Config serves GET and PUT on one path.
func (h *Handlers) Config(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.ConfigGet(w, r)
	case http.MethodPut:
		h.ConfigSet(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func settingsFromPayload(p ConfigPayload) (config.Settings, error) {
	durations := map[string]*time.Duration{}
	var nav, ack, scrapeTimeout, scrapeWait, refresh time.Duration
	durations["navigation_timeout"] = &nav
	durations["ack_grace"] = &ack
	durations["scrape_timeout"] = &scrapeTimeout
	durations["scrape_wait"] = &scrapeWait
	durations["tui_refresh_interval"] = &refresh
	raw := map[string]string{
		"navigation_timeout":   p.NavigationTimeout,
		"ack_grace":            p.AckGrace,
		"scrape_timeout":       p.ScrapeTimeout,
		"scrape_wait":          p.ScrapeWait,
		"tui_refresh_interval": p.TUIRefresh,
	}
	for key, dst := range durations {
		value := strings.TrimSpace(raw[key])
		if value == "" {
			continue
		}
		d, err := time.ParseDuration(value)
		if err != nil {
			return config.Settings{}, errors.New("invalid " + key)
		}
		*dst = d
	}
	return config.Settings{
		Path:               strings.TrimSpace(p.Path),
		DaemonAddr:         strings.TrimSpace(p.DaemonAddr),
		APIToken:           strings.TrimSpace(p.APIToken),
		AdminToken:         strings.TrimSpace(p.AdminToken),
		BrowserBin:         strings.TrimSpace(p.BrowserBin),
		Headless:           p.Headless,
		NoSandbox:          p.NoSandbox,
		NavigationTimeout:  nav,
		WindowWidth:        p.WindowWidth,
		WindowHeight:       p.WindowHeight,
		Interactive:        strings.TrimSpace(p.Interactive),
		IncludeInnerHTML:   p.IncludeInnerHTML,
		CSVDir:             strings.TrimSpace(p.CSVDir),
		AckGrace:           ack,
		ScrapeTimeout:      scrapeTimeout,
		ScrapeWait:         scrapeWait,
		LogLevel:           strings.TrimSpace(p.LogLevel),
		LogFormat:          strings.TrimSpace(p.LogFormat),
		AdminBaseURL:       strings.TrimSpace(p.AdminBaseURL),
		TUIRefreshInterval: refresh,
	}, nil
}

func payloadFromSettings(s config.Settings) ConfigPayload {
	return ConfigPayload{
		Path:              s.Path,
		DaemonAddr:        s.DaemonAddr,
		APIToken:          s.APIToken,
		AdminToken:        s.AdminToken,
		BrowserBin:        s.BrowserBin,
		Headless:          s.Headless,
		NoSandbox:         s.NoSandbox,
		NavigationTimeout: s.NavigationTimeout.String(),
		WindowWidth:       s.WindowWidth,
		WindowHeight:      s.WindowHeight,
		Interactive:       s.Interactive,
		IncludeInnerHTML:  s.IncludeInnerHTML,
		CSVDir:            s.CSVDir,
		AckGrace:          s.AckGrace.String(),
		ScrapeTimeout:     s.ScrapeTimeout.String(),
		ScrapeWait:        s.ScrapeWait.String(),
		LogLevel:          s.LogLevel,
		LogFormat:         s.LogFormat,
		AdminBaseURL:      s.AdminBaseURL,
		TUIRefresh:        s.TUIRefreshInterval.String(),
	}
}

func (h *Handlers) peekTimeout() time.Duration {
	if h.PeekTimeout <= 0 {
		return 2 * time.Second
	}
	return h.PeekTimeout
}

// Register mounts the admin endpoints on mux behind the admin token.
func (h *Handlers) Register(mux *http.ServeMux, token, uiRoot string) {
	auth := httpx.RequireToken(token)
	mux.Handle("/admin/status", auth(http.HandlerFunc(h.Status)))
	mux.Handle("/admin/sessions", auth(http.HandlerFunc(h.SessionsList)))
	mux.Handle("/admin/sessions/cancel", auth(http.HandlerFunc(h.CancelSession)))
	mux.Handle("/admin/sessions/peek", auth(http.HandlerFunc(h.PeekSession)))
	mux.Handle("/admin/config", auth(http.HandlerFunc(h.Config)))
	mux.Handle("/admin/ui", http.RedirectHandler("/admin/ui/", http.StatusFound))
	mux.Handle("/admin/ui/", http.StripPrefix("/admin/ui/", UIHandler{Root: uiRoot}))
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(value)
}

func decodeJSON(r io.Reader, v any) error {
	dec := json.NewDecoder(io.LimitReader(r, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return errors.New("invalid json payload")
	}
	return nil
}
