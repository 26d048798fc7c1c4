package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	defaultDaemonAddr        = ":9140"
	defaultNavigationTimeout = 30 * time.Second
	defaultAckGrace          = 2 * time.Second
	defaultScrapeTimeout     = 45 * time.Second
	defaultRefreshInterval   = 2 * time.Second
	defaultWindowWidth       = 1280
	defaultWindowHeight      = 900
	defaultInteractive       = "auto"
	defaultLogLevel          = "info"
	defaultLogFormat         = "text"
	defaultConfigDirName     = "pickscrape"
	defaultConfigFileName    = "config.toml"
)

type Settings struct {
	Path       string
	DaemonAddr string
	APIToken   string
	AdminToken string

	BrowserBin        string
	Headless          bool
	NoSandbox         bool
	NavigationTimeout time.Duration
	WindowWidth       int
	WindowHeight      int

	Interactive      string
	IncludeInnerHTML bool
	CSVDir           string
	AckGrace         time.Duration

	ScrapeTimeout time.Duration
	ScrapeWait    time.Duration

	LogLevel  string
	LogFormat string

	AdminBaseURL       string
	TUIRefreshInterval time.Duration
}

type fileConfig struct {
	Daemon  daemonConfig  `toml:"daemon"`
	Auth    authConfig    `toml:"auth"`
	Browser browserConfig `toml:"browser"`
	Capture captureConfig `toml:"capture"`
	Scrape  scrapeConfig  `toml:"scrape"`
	Log     logConfig     `toml:"log"`
	TUI     tuiConfig     `toml:"tui"`
}

type daemonConfig struct {
	Addr string `toml:"addr"`
}

type authConfig struct {
	APIToken   string `toml:"api_token"`
	AdminToken string `toml:"admin_token"`
}

type browserConfig struct {
	Bin               string `toml:"bin"`
	Headless          *bool  `toml:"headless"`
	NoSandbox         *bool  `toml:"no_sandbox"`
	NavigationTimeout string `toml:"navigation_timeout"`
	WindowWidth       int    `toml:"window_width"`
	WindowHeight      int    `toml:"window_height"`
}

type captureConfig struct {
	Interactive      string `toml:"interactive"`
	IncludeInnerHTML *bool  `toml:"include_inner_html"`
	CSVDir           string `toml:"csv_dir"`
	AckGrace         string `toml:"ack_grace"`
}

type scrapeConfig struct {
	Timeout string `toml:"timeout"`
	Wait    string `toml:"wait"`
}

type logConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type tuiConfig struct {
	AdminBaseURL    string `toml:"admin_base_url"`
	RefreshInterval string `toml:"refresh_interval"`
}

func LoadOrCreate(path string) (Settings, error) {
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}

	cfg := defaultFileConfig()
	exists := false
	if _, err := os.Stat(path); err == nil {
		exists = true
		var onDisk fileConfig
		if _, err := toml.DecodeFile(path, &onDisk); err != nil {
			return Settings{}, fmt.Errorf("decode config %s: %w", path, err)
		}
		mergeFileConfig(&cfg, onDisk)
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("stat config %s: %w", path, err)
	}

	changed := false
	if strings.TrimSpace(cfg.Auth.APIToken) == "" {
		cfg.Auth.APIToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.Auth.AdminToken) == "" {
		cfg.Auth.AdminToken = randomToken()
		changed = true
	}
	if strings.TrimSpace(cfg.TUI.AdminBaseURL) == "" {
		cfg.TUI.AdminBaseURL = deriveAdminBaseURL(cfg.Daemon.Addr)
		changed = true
	}

	if !exists || changed {
		if err := writeConfig(path, cfg); err != nil {
			return Settings{}, err
		}
	}

	return toSettings(path, cfg)
}

// Save writes settings to disk and returns the normalized values loaded back
// from the config file.
func Save(settings Settings) (Settings, error) {
	path := strings.TrimSpace(settings.Path)
	if path == "" {
		var err error
		path, err = DefaultPath()
		if err != nil {
			return Settings{}, err
		}
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	if err := writeConfig(path, fromSettings(settings)); err != nil {
		return Settings{}, err
	}
	return LoadOrCreate(path)
}

// Validate checks values that would otherwise only fail at session time.
func (s Settings) Validate() error {
	switch s.Interactive {
	case "", "auto", "always", "never":
	default:
		return fmt.Errorf("invalid capture.interactive %q (want auto, always or never)", s.Interactive)
	}
	switch strings.ToLower(s.LogFormat) {
	case "", "text", "json", "logfmt":
	default:
		return fmt.Errorf("invalid log.format %q", s.LogFormat)
	}
	if s.NavigationTimeout < 0 || s.AckGrace < 0 || s.ScrapeTimeout < 0 || s.ScrapeWait < 0 {
		return errors.New("durations must not be negative")
	}
	return nil
}

func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".config", defaultConfigDirName, defaultConfigFileName), nil
}

func defaultFileConfig() fileConfig {
	headless := false
	noSandbox := false
	innerHTML := false
	return fileConfig{
		Daemon: daemonConfig{Addr: defaultDaemonAddr},
		Browser: browserConfig{
			Headless:          &headless,
			NoSandbox:         &noSandbox,
			NavigationTimeout: defaultNavigationTimeout.String(),
			WindowWidth:       defaultWindowWidth,
			WindowHeight:      defaultWindowHeight,
		},
		Capture: captureConfig{
			Interactive:      defaultInteractive,
			IncludeInnerHTML: &innerHTML,
			AckGrace:         defaultAckGrace.String(),
		},
		Scrape: scrapeConfig{
			Timeout: defaultScrapeTimeout.String(),
			Wait:    "0s",
		},
		Log: logConfig{Level: defaultLogLevel, Format: defaultLogFormat},
		TUI: tuiConfig{RefreshInterval: defaultRefreshInterval.String()},
	}
}

func mergeFileConfig(dst *fileConfig, src fileConfig) {
	mergeString(&dst.Daemon.Addr, src.Daemon.Addr)
	mergeString(&dst.Auth.APIToken, src.Auth.APIToken)
	mergeString(&dst.Auth.AdminToken, src.Auth.AdminToken)

	mergeString(&dst.Browser.Bin, src.Browser.Bin)
	if src.Browser.Headless != nil {
		dst.Browser.Headless = src.Browser.Headless
	}
	if src.Browser.NoSandbox != nil {
		dst.Browser.NoSandbox = src.Browser.NoSandbox
	}
	mergeString(&dst.Browser.NavigationTimeout, src.Browser.NavigationTimeout)
	if src.Browser.WindowWidth > 0 {
		dst.Browser.WindowWidth = src.Browser.WindowWidth
	}
	if src.Browser.WindowHeight > 0 {
		dst.Browser.WindowHeight = src.Browser.WindowHeight
	}

	mergeString(&dst.Capture.Interactive, src.Capture.Interactive)
	if src.Capture.IncludeInnerHTML != nil {
		dst.Capture.IncludeInnerHTML = src.Capture.IncludeInnerHTML
	}
	mergeString(&dst.Capture.CSVDir, src.Capture.CSVDir)
	mergeString(&dst.Capture.AckGrace, src.Capture.AckGrace)

	mergeString(&dst.Scrape.Timeout, src.Scrape.Timeout)
	mergeString(&dst.Scrape.Wait, src.Scrape.Wait)

	mergeString(&dst.Log.Level, src.Log.Level)
	mergeString(&dst.Log.Format, src.Log.Format)

	mergeString(&dst.TUI.AdminBaseURL, src.TUI.AdminBaseURL)
	mergeString(&dst.TUI.RefreshInterval, src.TUI.RefreshInterval)
}

func mergeString(dst *string, src string) {
	if v := strings.TrimSpace(src); v != "" {
		*dst = v
	}
}

func toSettings(path string, cfg fileConfig) (Settings, error) {
	navTimeout, err := parseDuration("browser.navigation_timeout", cfg.Browser.NavigationTimeout)
	if err != nil {
		return Settings{}, err
	}
	ackGrace, err := parseDuration("capture.ack_grace", cfg.Capture.AckGrace)
	if err != nil {
		return Settings{}, err
	}
	scrapeTimeout, err := parseDuration("scrape.timeout", cfg.Scrape.Timeout)
	if err != nil {
		return Settings{}, err
	}
	scrapeWait, err := parseDuration("scrape.wait", cfg.Scrape.Wait)
	if err != nil {
		return Settings{}, err
	}
	refresh, err := parseDuration("tui.refresh_interval", cfg.TUI.RefreshInterval)
	if err != nil {
		return Settings{}, err
	}
	settings := Settings{
		Path:               path,
		DaemonAddr:         cfg.Daemon.Addr,
		APIToken:           cfg.Auth.APIToken,
		AdminToken:         cfg.Auth.AdminToken,
		BrowserBin:         cfg.Browser.Bin,
		Headless:           boolValue(cfg.Browser.Headless),
		NoSandbox:          boolValue(cfg.Browser.NoSandbox),
		NavigationTimeout:  navTimeout,
		WindowWidth:        cfg.Browser.WindowWidth,
		WindowHeight:       cfg.Browser.WindowHeight,
		Interactive:        strings.ToLower(cfg.Capture.Interactive),
		IncludeInnerHTML:   boolValue(cfg.Capture.IncludeInnerHTML),
		CSVDir:             cfg.Capture.CSVDir,
		AckGrace:           ackGrace,
		ScrapeTimeout:      scrapeTimeout,
		ScrapeWait:         scrapeWait,
		LogLevel:           strings.ToLower(cfg.Log.Level),
		LogFormat:          strings.ToLower(cfg.Log.Format),
		AdminBaseURL:       cfg.TUI.AdminBaseURL,
		TUIRefreshInterval: refresh,
	}
	if err := settings.Validate(); err != nil {
		return Settings{}, err
	}
	return settings, nil
}

func fromSettings(s Settings) fileConfig {
	headless := s.Headless
	noSandbox := s.NoSandbox
	innerHTML := s.IncludeInnerHTML
	cfg := fileConfig{
		Daemon: daemonConfig{Addr: s.DaemonAddr},
		Auth:   authConfig{APIToken: s.APIToken, AdminToken: s.AdminToken},
		Browser: browserConfig{
			Bin:               s.BrowserBin,
			Headless:          &headless,
			NoSandbox:         &noSandbox,
			NavigationTimeout: durationString(s.NavigationTimeout, defaultNavigationTimeout),
			WindowWidth:       s.WindowWidth,
			WindowHeight:      s.WindowHeight,
		},
		Capture: captureConfig{
			Interactive:      s.Interactive,
			IncludeInnerHTML: &innerHTML,
			CSVDir:           s.CSVDir,
			AckGrace:         durationString(s.AckGrace, defaultAckGrace),
		},
		Scrape: scrapeConfig{
			Timeout: durationString(s.ScrapeTimeout, defaultScrapeTimeout),
			Wait:    s.ScrapeWait.String(),
		},
		Log: logConfig{Level: s.LogLevel, Format: s.LogFormat},
		TUI: tuiConfig{
			AdminBaseURL:    s.AdminBaseURL,
			RefreshInterval: durationString(s.TUIRefreshInterval, defaultRefreshInterval),
		},
	}
	if cfg.Capture.Interactive == "" {
		cfg.Capture.Interactive = defaultInteractive
	}
	return cfg
}

func writeConfig(path string, cfg fileConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("open config file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString("# pickscrape config for the daemon, CLI and TUI\n\n"); err != nil {
		return fmt.Errorf("write config header: %w", err)
	}
	if err := toml.NewEncoder(file).Encode(cfg); err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	return nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("invalid %s duration: %w", key, err)
	}
	return d, nil
}

func durationString(d, fallback time.Duration) string {
	if d <= 0 {
		return fallback.String()
	}
	return d.String()
}

func boolValue(b *bool) bool {
	return b != nil && *b
}

func deriveAdminBaseURL(addr string) string {
	host := strings.TrimSpace(addr)
	if host == "" {
		host = defaultDaemonAddr
	}
	if strings.Contains(host, "://") {
		return strings.TrimRight(host, "/")
	}
	if strings.HasPrefix(host, ":") {
		return "http://127.0.0.1" + host
	}
	h, p, err := net.SplitHostPort(host)
	if err == nil {
		if h == "" || h == "0.0.0.0" || h == "::" || h == "[::]" {
			h = "127.0.0.1"
		}
		return "http://" + net.JoinHostPort(h, p)
	}
	if strings.Contains(host, ":") {
		return "http://" + host
	}
	return "http://" + net.JoinHostPort(host, "9140")
}

func randomToken() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
