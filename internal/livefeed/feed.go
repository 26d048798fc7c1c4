// Package livefeed runs a capture over a websocket and streams its lifecycle
// to the client as it happens.
package livefeed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/adityalohuni/pickscrape/internal/api"
	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/httpx"
)

const (
	EventState  = "state"
	EventResult = "result"
	EventError  = "error"
)

// Event is one message sent to the client. A feed sends any number of state
// events, then exactly one result or error, then closes.
type Event struct {
	Type      string        `json:"type"`
	SessionID string        `json:"sessionId,omitempty"`
	State     capture.State `json:"state,omitempty"`
	Error     string        `json:"error,omitempty"`
	Detail    string        `json:"detail,omitempty"`
	// set on result events only; its fields are inlined
	*api.CaptureResponse
}

type Options struct {
	CheckOrigin     func(*http.Request) bool
	ReadBufferSize  int
	WriteBufferSize int
	WriteWait       time.Duration
	// RequestWait bounds how long the client may take to send its request.
	RequestWait time.Duration
	Logger      *log.Logger
}

type Feed struct {
	capture     api.Capturer
	upgrader    websocket.Upgrader
	writeWait   time.Duration
	requestWait time.Duration
	logger      *log.Logger
}

func New(c api.Capturer, opts Options) *Feed {
	up := websocket.Upgrader{
		ReadBufferSize:  opts.ReadBufferSize,
		WriteBufferSize: opts.WriteBufferSize,
		CheckOrigin:     opts.CheckOrigin,
	}
	if up.ReadBufferSize == 0 {
		up.ReadBufferSize = 2048
	}
	if up.WriteBufferSize == 0 {
		up.WriteBufferSize = 2048
	}
	writeWait := opts.WriteWait
	if writeWait == 0 {
		writeWait = 5 * time.Second
	}
	requestWait := opts.RequestWait
	if requestWait == 0 {
		requestWait = 30 * time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Feed{
		capture:     c,
		upgrader:    up,
		writeWait:   writeWait,
		requestWait: requestWait,
		logger:      logger.With("component", "livefeed"),
	}
}

type conn struct {
	ws        *websocket.Conn
	mu        sync.Mutex
	writeWait time.Duration
}

func (c *conn) send(ev Event) error {
	msg, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, msg)
}

func (c *conn) close(code int, text string) {
	c.mu.Lock()
	_ = c.ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(c.writeWait))
	c.mu.Unlock()
	_ = c.ws.Close()
}

func (f *Feed) HandleWS(w http.ResponseWriter, r *http.Request) {
	ws, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		f.logger.Warn("ws upgrade failed", "err", err)
		return
	}
	id := uuid.NewString()
	logger := f.logger.With("conn", id)
	c := &conn{ws: ws, writeWait: f.writeWait}
	logger.Debug("ws connected", "ip", httpx.ClientIP(r))

	req, err := f.readRequest(ws)
	if err != nil {
		kind, detail := capture.Describe(err)
		_ = c.send(Event{Type: EventError, Error: string(kind), Detail: detail})
		c.close(websocket.CloseNormalClosure, "")
		return
	}

	// The capture lives as long as the client stays connected.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		defer cancel()
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	res, err := f.capture.Run(ctx, capture.Request{
		URL:        req.URL,
		BaseURL:    req.BaseURL,
		Transport:  "ws",
		RemoteAddr: httpx.ClientIP(r),
		OnState: func(sessionID string, state capture.State) {
			if err := c.send(Event{Type: EventState, SessionID: sessionID, State: state}); err != nil {
				logger.Debug("state not sent", "err", err)
			}
		},
	})
	if err != nil {
		kind, detail := capture.Describe(err)
		_ = c.send(Event{Type: EventError, SessionID: res.SessionID, Error: string(kind), Detail: detail})
	} else {
		out := api.NewCaptureResponse(res)
		_ = c.send(Event{Type: EventResult, SessionID: out.SessionID, CaptureResponse: &out})
	}
	c.close(websocket.CloseNormalClosure, "")
	<-readerDone
	logger.Debug("ws closed")
}

func (f *Feed) readRequest(ws *websocket.Conn) (api.CaptureRequest, error) {
	var req api.CaptureRequest
	_ = ws.SetReadDeadline(time.Now().Add(f.requestWait))
	_, msg, err := ws.ReadMessage()
	if err != nil {
		return req, capture.InputErrorf("no capture request received")
	}
	_ = ws.SetReadDeadline(time.Time{})
	dec := json.NewDecoder(bytes.NewReader(msg))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		return req, capture.InputErrorf("malformed capture request: %v", err)
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return req, capture.InputErrorf("capture request must hold a single JSON object")
	}
	if req.URL == "" {
		return req, capture.InputErrorf("url is required")
	}
	return req, nil
}

func (f *Feed) Handler() http.Handler {
	return http.HandlerFunc(f.HandleWS)
}
