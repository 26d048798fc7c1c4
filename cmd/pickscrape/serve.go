package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/adityalohuni/pickscrape/internal/admin"
	"github.com/adityalohuni/pickscrape/internal/api"
	"github.com/adityalohuni/pickscrape/internal/httpx"
	"github.com/adityalohuni/pickscrape/internal/livefeed"
	"github.com/adityalohuni/pickscrape/internal/mcpserver"
)

var uiRoot string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the capture daemon (HTTP API, websocket feed, MCP and admin)",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().StringVar(&uiRoot, "ui-root", "", "directory holding a built admin dashboard")
}

func runServe(cmd *cobra.Command, _ []string) error {
	deps, err := loadDeps(cmd, os.Stderr)
	if err != nil {
		return err
	}
	settings := deps.settings
	logger := deps.logger

	handler := newDaemonHandler(deps, time.Now())
	srv := &http.Server{
		Addr:              settings.DaemonAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("daemon listening", "addr", srv.Addr, "interactive", deps.controller.Interactive(), "config", settings.Path)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		// captures block on a human; abort them so Shutdown can drain
		for _, s := range deps.sessions.List() {
			_ = deps.sessions.Cancel(s.ID)
		}
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("daemon stopped")
	return err
}

func newDaemonHandler(deps *runtimeDeps, startedAt time.Time) http.Handler {
	settings := deps.settings
	logger := deps.logger

	mux := http.NewServeMux()
	(&api.Handlers{
		Capturer: deps.controller,
		Scraper:  deps.scraper,
		Logger:   logger,
	}).Register(mux, settings.APIToken)

	feed := livefeed.New(deps.controller, livefeed.Options{
		CheckOrigin: func(*http.Request) bool { return true },
		Logger:      logger,
	})
	mux.Handle("/ws/capture", httpx.RequireToken(settings.APIToken)(feed.Handler()))

	mcpSrv := mcpserver.New(deps.controller, deps.scraper, mcpserver.Options{
		Sessions: deps.sessions,
		Logger:   logger,
	}).MCPServer()
	stream := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil)
	mux.Handle("/mcp", httpx.RequireToken(settings.APIToken)(stream))

	(&admin.Handlers{
		StartedAt:   startedAt,
		Sessions:    deps.sessions,
		Peeker:      deps.controller,
		Interactive: deps.controller.Interactive(),
		ConfigPath:  settings.Path,
	}).Register(mux, settings.AdminToken, uiRoot)

	return httpx.Chain(mux, httpx.LogRequests(logger.With("component", "http")), httpx.Recover(logger))
}
