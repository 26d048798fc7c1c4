// Package mcpserver exposes mouse-mode capture and the static scrape as MCP
// tools.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/adityalohuni/pickscrape/internal/api"
	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/scrape"
	"github.com/adityalohuni/pickscrape/internal/session"
)

const sessionsURI = "pickscrape://sessions"

type Options struct {
	Implementation *mcp.Implementation
	Instructions   string
	// Sessions backs the live sessions resource. Optional.
	Sessions *session.Registry
	Logger   *log.Logger
}

type Server struct {
	mcpServer *mcp.Server
	capture   api.Capturer
	scraper   api.Scraper
	sessions  *session.Registry
	logger    *log.Logger
}

func New(c api.Capturer, sc api.Scraper, opts Options) *Server {
	impl := opts.Implementation
	if impl == nil {
		impl = &mcp.Implementation{Name: "pickscrape", Version: "v0.1.0"}
	}
	instructions := opts.Instructions
	if instructions == "" {
		instructions = "Use capture.mouse_mode to let the user pick elements on a page by hand " +
			"(click to toggle, Enter to finish, Escape to cancel). Use page.scrape for an unattended extraction."
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	server := mcp.NewServer(impl, &mcp.ServerOptions{Instructions: instructions})
	s := &Server{
		mcpServer: server,
		capture:   c,
		scraper:   sc,
		sessions:  opts.Sessions,
		logger:    logger.With("component", "mcp"),
	}

	if c != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "capture.mouse_mode",
			Description: "Open the page in a visible browser and wait for the user to select elements. Blocks until Enter or Escape.",
		}, s.mouseMode)
	}

	if sc != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "page.scrape",
			Description: "Render a page headlessly and return its text-bearing elements grouped by tag.",
		}, s.scrape)
	}

	if s.sessions != nil {
		server.AddResource(&mcp.Resource{
			Name:        "live_sessions",
			Description: "Capture sessions that are currently running.",
			URI:         sessionsURI,
			MIMEType:    "application/json",
		}, s.readSessions)
	}

	return s
}

func (s *Server) Run(ctx context.Context, transport mcp.Transport) error {
	return s.mcpServer.Run(ctx, transport)
}

func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

type MouseModeInput struct {
	URL     string `json:"url" jsonschema:"page to open; a bare host gets https://"`
	BaseURL string `json:"baseUrl,omitempty" jsonschema:"base for resolving a relative url"`
}

type MouseModeOutput struct {
	SessionID        string                     `json:"sessionId" jsonschema:"capture session id"`
	SelectedElements []protocol.SelectedElement `json:"selectedElements" jsonschema:"elements in selection order; empty when cancelled"`
	Cancelled        bool                       `json:"cancelled,omitempty" jsonschema:"true when the user pressed Escape"`
	Message          string                     `json:"message,omitempty" jsonschema:"status note, for example when no display is available"`
	CSV              string                     `json:"csv,omitempty" jsonschema:"selection rendered as CSV"`
	CSVPath          string                     `json:"csvPath,omitempty" jsonschema:"file the CSV was written to"`
}

func (s *Server) mouseMode(ctx context.Context, _ *mcp.CallToolRequest, input MouseModeInput) (*mcp.CallToolResult, MouseModeOutput, error) {
	if strings.TrimSpace(input.URL) == "" {
		return nil, MouseModeOutput{}, errors.New("url is required")
	}
	res, err := s.capture.Run(ctx, capture.Request{
		URL:       input.URL,
		BaseURL:   input.BaseURL,
		Transport: "mcp",
	})
	if err != nil {
		return nil, MouseModeOutput{}, toolError(err)
	}
	out := api.NewCaptureResponse(res)
	return nil, MouseModeOutput{
		SessionID:        out.SessionID,
		SelectedElements: out.SelectedElements,
		Cancelled:        res.Cancelled,
		Message:          out.Message,
		CSV:              res.CSV,
		CSVPath:          out.CSVPath,
	}, nil
}

type ScrapeInput struct {
	URL string `json:"url" jsonschema:"page to render"`
}

type ScrapeOutput struct {
	URL       string                     `json:"url" jsonschema:"normalized page URL"`
	Title     string                     `json:"title,omitempty" jsonschema:"document title"`
	JSONByTag map[string][]scrape.Item   `json:"jsonByTag" jsonschema:"elements grouped by tag name"`
	JSONForUI []protocol.SelectedElement `json:"jsonForUI" jsonschema:"elements in document order"`
	CSV       string                     `json:"csv" jsonschema:"elements rendered as CSV"`
}

func (s *Server) scrape(ctx context.Context, _ *mcp.CallToolRequest, input ScrapeInput) (*mcp.CallToolResult, ScrapeOutput, error) {
	if strings.TrimSpace(input.URL) == "" {
		return nil, ScrapeOutput{}, errors.New("url is required")
	}
	res, err := s.scraper.Scrape(ctx, input.URL)
	if err != nil {
		return nil, ScrapeOutput{}, toolError(err)
	}
	byTag := res.JSONByTag
	if byTag == nil {
		byTag = map[string][]scrape.Item{}
	}
	forUI := res.JSONForUI
	if forUI == nil {
		forUI = []protocol.SelectedElement{}
	}
	return nil, ScrapeOutput{
		URL:       res.URL,
		Title:     res.Title,
		JSONByTag: byTag,
		JSONForUI: forUI,
		CSV:       res.CSV,
	}, nil
}

func (s *Server) readSessions(_ context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
	if req == nil || req.Params == nil {
		return nil, errors.New("missing resource params")
	}
	data, err := json.MarshalIndent(s.sessions.List(), "", "  ")
	if err != nil {
		return nil, err
	}
	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{
			{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		},
	}, nil
}

// toolError keeps the error kind visible to the model.
func toolError(err error) error {
	kind, detail := capture.Describe(err)
	return fmt.Errorf("%s: %s", kind, detail)
}
