// Package api serves the JSON endpoints for mouse-mode capture and the
// static scrape.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/httpx"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/scrape"
)

const maxBodyBytes = 1 << 20

type Capturer interface {
	Run(ctx context.Context, req capture.Request) (capture.Result, error)
}

type Scraper interface {
	Scrape(ctx context.Context, url string) (scrape.Result, error)
}

type Handlers struct {
	Capturer Capturer
	Scraper  Scraper
	Logger   *log.Logger
}

type CaptureRequest struct {
	URL     string `json:"url"`
	BaseURL string `json:"baseUrl,omitempty"`
}

type CaptureResponse struct {
	SelectedElements []protocol.SelectedElement `json:"selectedElements"`
	SessionID        string                     `json:"sessionId"`
	Message          string                     `json:"message,omitempty"`
	CSVPath          string                     `json:"csvPath,omitempty"`
}

type ScrapeRequest struct {
	URL string `json:"url"`
}

type ScrapeResponse struct {
	JSONByTag map[string][]scrape.Item   `json:"jsonByTag"`
	JSONForUI []protocol.SelectedElement `json:"jsonForUI"`
	CSV       string                     `json:"csv"`
}

func NewCaptureResponse(res capture.Result) CaptureResponse {
	elements := res.Elements
	if elements == nil {
		elements = []protocol.SelectedElement{}
	}
	msg := res.Message
	if msg == "" && res.Cancelled {
		msg = "selection cancelled"
	}
	return CaptureResponse{
		SelectedElements: elements,
		SessionID:        res.SessionID,
		Message:          msg,
		CSVPath:          res.CSVPath,
	}
}

func (h *Handlers) logger() *log.Logger {
	if h.Logger == nil {
		return log.Default()
	}
	return h.Logger
}

// Capture holds the request open until the user finishes selecting. A client
// that disconnects aborts the session.
func (h *Handlers) Capture(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req CaptureRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	if strings.TrimSpace(req.URL) == "" {
		WriteError(w, capture.InputErrorf("url is required"))
		return
	}

	res, err := h.Capturer.Run(r.Context(), capture.Request{
		URL:        req.URL,
		BaseURL:    req.BaseURL,
		Transport:  "http",
		RemoteAddr: httpx.ClientIP(r),
	})
	if err != nil {
		h.logger().Debug("capture request failed", "request", requestID(r), "err", err)
		WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, NewCaptureResponse(res))
}

func (h *Handlers) Scrape(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req ScrapeRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		WriteError(w, err)
		return
	}
	res, err := h.Scraper.Scrape(r.Context(), req.URL)
	if err != nil {
		WriteError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, ScrapeResponse{
		JSONByTag: res.JSONByTag,
		JSONForUI: res.JSONForUI,
		CSV:       res.CSV,
	})
}

func Health(w http.ResponseWriter, _ *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// DecodeJSON reads exactly one JSON object. Every failure is an InputError.
func DecodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	if r.Body == nil {
		return capture.InputErrorf("request body is required")
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, io.EOF):
			return capture.InputErrorf("request body is required")
		case errors.As(err, &tooLarge):
			return capture.InputErrorf("request body too large")
		default:
			return capture.InputErrorf("malformed request body: %v", err)
		}
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return capture.InputErrorf("request body must hold a single JSON object")
	}
	return nil
}

// WriteError maps InputError to 400 and every other kind to 500.
func WriteError(w http.ResponseWriter, err error) {
	kind, detail := capture.Describe(err)
	status := http.StatusInternalServerError
	if kind == capture.KindInput {
		status = http.StatusBadRequest
	}
	httpx.WriteJSON(w, status, httpx.ErrorBody{Error: string(kind), Detail: detail})
}

func requestID(r *http.Request) string {
	if id := r.Header.Get("X-Request-Id"); id != "" {
		return id
	}
	return uuid.NewString()
}

// Register mounts the endpoints on mux behind the API token.
func (h *Handlers) Register(mux *http.ServeMux, token string) {
	auth := httpx.RequireToken(token)
	mux.Handle("/api/capture", auth(http.HandlerFunc(h.Capture)))
	mux.Handle("/api/scrape", auth(http.HandlerFunc(h.Scrape)))
	mux.Handle("/healthz", http.HandlerFunc(Health))
}
