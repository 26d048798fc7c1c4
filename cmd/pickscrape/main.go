package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/adityalohuni/pickscrape/internal/browser"
	"github.com/adityalohuni/pickscrape/internal/browser/rodbrowser"
	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/config"
	"github.com/adityalohuni/pickscrape/internal/export"
	"github.com/adityalohuni/pickscrape/internal/scrape"
	"github.com/adityalohuni/pickscrape/internal/session"
)

var (
	configPath string
	addrFlag   string
	headless   bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:           "pickscrape",
	Short:         "Pick page elements by hand in a real browser and export them",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/pickscrape/config.toml)")
	rootCmd.PersistentFlags().StringVar(&addrFlag, "addr", "", "daemon listen address, overrides daemon.addr")
	rootCmd.PersistentFlags().BoolVar(&headless, "headless", false, "run the capture browser headless")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error; overrides log.level")

	rootCmd.AddCommand(serveCmd, mcpCmd, captureCmd, scrapeCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// runtimeDeps is everything the commands build from one loaded config.
type runtimeDeps struct {
	settings   config.Settings
	logger     *log.Logger
	sessions   *session.Registry
	controller *capture.Controller
	scraper    *scrape.Scraper
}

func loadDeps(cmd *cobra.Command, logOut io.Writer) (*runtimeDeps, error) {
	settings, err := config.LoadOrCreate(configPath)
	if err != nil {
		return nil, err
	}
	if addrFlag != "" {
		settings.DaemonAddr = addrFlag
	}
	if cmd.Flags().Changed("headless") {
		settings.Headless = headless
	}
	if logLevel != "" {
		settings.LogLevel = logLevel
	}

	logger, err := newLogger(logOut, settings)
	if err != nil {
		return nil, err
	}
	logger.Debug("loaded config", "path", settings.Path)

	exporter := export.Exporter{IncludeInnerHTML: settings.IncludeInnerHTML}
	var files *export.FileWriter
	if settings.CSVDir != "" {
		files, err = export.NewFileWriter(settings.CSVDir)
		if err != nil {
			return nil, err
		}
	}

	sessions := session.NewRegistry()
	controller := capture.NewController(capture.Options{
		Launcher:    rodbrowser.NewLauncher(logger),
		Logger:      logger,
		Sessions:    sessions,
		Exporter:    exporter,
		Files:       files,
		Interactive: capture.DetectInteractive(settings.Interactive, settings.Headless, os.Getenv),
		Launch: browser.LaunchOptions{
			Bin:          settings.BrowserBin,
			Headless:     settings.Headless,
			NoSandbox:    settings.NoSandbox,
			WindowWidth:  settings.WindowWidth,
			WindowHeight: settings.WindowHeight,
		},
		NavigationTimeout: settings.NavigationTimeout,
		AckGrace:          settings.AckGrace,
		IncludeInnerHTML:  settings.IncludeInnerHTML,
	})

	fetcher := scrape.NewChromeFetcher(scrape.ChromeOptions{
		Bin:       settings.BrowserBin,
		NoSandbox: settings.NoSandbox,
		Timeout:   settings.ScrapeTimeout,
		Wait:      settings.ScrapeWait,
	})

	return &runtimeDeps{
		settings:   settings,
		logger:     logger,
		sessions:   sessions,
		controller: controller,
		scraper:    scrape.NewScraper(fetcher, exporter, logger),
	}, nil
}

func newLogger(w io.Writer, settings config.Settings) (*log.Logger, error) {
	logger := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      time.Kitchen,
		Prefix:          "pickscrape",
	})
	if settings.LogLevel != "" {
		level, err := log.ParseLevel(settings.LogLevel)
		if err != nil {
			return nil, fmt.Errorf("log level: %w", err)
		}
		logger.SetLevel(level)
	}
	switch strings.ToLower(settings.LogFormat) {
	case "json":
		logger.SetFormatter(log.JSONFormatter)
	case "logfmt":
		logger.SetFormatter(log.LogfmtFormatter)
	default:
		logger.SetFormatter(log.TextFormatter)
	}
	log.SetDefault(logger)
	return logger, nil
}
