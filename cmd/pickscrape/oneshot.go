package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"

	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/mcpserver"
)

var outFile string

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the capture and scrape tools over MCP on stdio",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		// stdout carries the protocol
		deps, err := loadDeps(cmd, os.Stderr)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := mcpserver.New(deps.controller, deps.scraper, mcpserver.Options{
			Sessions: deps.sessions,
			Logger:   deps.logger,
		})
		return server.Run(ctx, &mcp.StdioTransport{})
	},
}

var captureCmd = &cobra.Command{
	Use:   "capture <url>",
	Short: "Open a page, let you pick elements, then print them as CSV",
	Long: "Opens the page in a visible browser. Click elements to toggle them, " +
		"press Enter to finish or Escape to cancel.",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadDeps(cmd, os.Stderr)
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		res, err := deps.controller.Run(ctx, capture.Request{URL: args[0], Transport: "cli"})
		if err != nil {
			return err
		}
		switch {
		case res.Message != "":
			fmt.Fprintln(cmd.ErrOrStderr(), res.Message)
			return nil
		case res.Cancelled:
			fmt.Fprintln(cmd.ErrOrStderr(), "selection cancelled")
			return nil
		}
		if outFile != "" {
			if err := os.WriteFile(outFile, []byte(res.CSV), 0o644); err != nil {
				return err
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d elements to %s\n", len(res.Elements), outFile)
			return nil
		}
		_, err = fmt.Fprint(cmd.OutOrStdout(), res.CSV)
		return err
	},
}

var scrapeCmd = &cobra.Command{
	Use:   "scrape <url>",
	Short: "Render a page headlessly and print its elements as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := loadDeps(cmd, os.Stderr)
		if err != nil {
			return err
		}
		res, err := deps.scraper.Scrape(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&outFile, "output", "o", "", "write the CSV to this file instead of stdout")
}
