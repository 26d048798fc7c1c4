// Package adminclient talks to a running pickscrape daemon over HTTP.
package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/adityalohuni/pickscrape/internal/admin"
	"github.com/adityalohuni/pickscrape/internal/api"
	"github.com/adityalohuni/pickscrape/internal/httpx"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/session"
)

type Client struct {
	baseURL  string
	token    string
	apiToken string
	http     *http.Client
}

func New(baseURL, token string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// WithAPIToken returns a copy that can also start captures.
func (c *Client) WithAPIToken(token string) *Client {
	cp := *c
	cp.apiToken = token
	return &cp
}

// StatusError is returned for any non-2xx response. Kind and Detail are set
// when the daemon answered with a JSON error body.
type StatusError struct {
	Code   int
	Kind   string
	Detail string
}

func (e *StatusError) Error() string {
	if e.Kind != "" {
		return fmt.Sprintf("daemon request failed: %d %s: %s", e.Code, e.Kind, e.Detail)
	}
	if e.Detail != "" {
		return fmt.Sprintf("daemon request failed: %d: %s", e.Code, e.Detail)
	}
	return fmt.Sprintf("daemon request failed: %d", e.Code)
}

func (c *Client) Status(ctx context.Context) (admin.Status, error) {
	var out admin.Status
	req, err := c.newRequest(ctx, http.MethodGet, "/admin/status", c.token, nil)
	if err != nil {
		return out, err
	}
	err = c.doJSON(req, &out)
	return out, err
}

func (c *Client) Sessions(ctx context.Context) ([]session.Info, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/admin/sessions", c.token, nil)
	if err != nil {
		return nil, err
	}
	var out []session.Info
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) CancelSession(ctx context.Context, id string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/admin/sessions/cancel?id="+url.QueryEscape(id), c.token, nil)
	if err != nil {
		return err
	}
	return c.doNoBody(req)
}

func (c *Client) Peek(ctx context.Context, id string) ([]protocol.SelectedElement, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/admin/sessions/peek?id="+url.QueryEscape(id), c.token, nil)
	if err != nil {
		return nil, err
	}
	var out struct {
		SelectedElements []protocol.SelectedElement `json:"selectedElements"`
	}
	if err := c.doJSON(req, &out); err != nil {
		return nil, err
	}
	return out.SelectedElements, nil
}

// Capture starts a mouse-mode session and blocks until it ends.
func (c *Client) Capture(ctx context.Context, target string) (api.CaptureResponse, error) {
	var out api.CaptureResponse
	body, err := json.Marshal(api.CaptureRequest{URL: target})
	if err != nil {
		return out, err
	}
	req, err := c.newRequest(ctx, http.MethodPost, "/api/capture", c.apiToken, body)
	if err != nil {
		return out, err
	}
	err = c.doJSON(req, &out)
	return out, err
}

func (c *Client) newRequest(ctx context.Context, method, path, token string, body []byte) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		r = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Authorization", "Bearer "+token)
	return req, nil
}

func (c *Client) doJSON(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) doNoBody(req *http.Request) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return statusError(resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func statusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{Code: resp.StatusCode}
	var body httpx.ErrorBody
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		se.Kind = body.Error
		se.Detail = body.Detail
		return se
	}
	se.Detail = strings.TrimSpace(string(raw))
	return se
}
