// Package navwatch re-instruments a page after each top-level navigation.
// In-page listeners and selections die with the document, so without it a
// freshly navigated page silently ignores every click.
package navwatch

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/adityalohuni/pickscrape/internal/browser"
)

// InstallFunc installs the handlers on the page's current document.
type InstallFunc func(ctx context.Context) error

type Watcher struct {
	install    InstallFunc
	logger     *log.Logger
	reinstalls atomic.Int64
	failures   atomic.Int64
}

func New(install InstallFunc, logger *log.Logger) *Watcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Watcher{install: install, logger: logger}
}

// Run consumes events until the channel closes or ctx is done.
func (w *Watcher) Run(ctx context.Context, events <-chan browser.NavEvent) {
	var topFrame, topURL string
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			switch ev.Kind {
			case browser.NavNavigated:
				if !ev.TopLevel() {
					continue
				}
				topFrame, topURL = ev.FrameID, ev.URL
				w.logger.Debug("top-level navigation", "frame", topFrame, "url", topURL)
			case browser.NavDOMReady:
				if Ignored(topURL) {
					w.logger.Debug("skip instrumentation", "url", topURL)
					continue
				}
				if err := w.install(ctx); err != nil {
					w.failures.Add(1)
					w.logger.Warn("re-instrumentation failed", "kind", "InstrumentationError", "url", topURL, "err", err)
					continue
				}
				w.reinstalls.Add(1)
				w.logger.Debug("re-instrumented", "url", topURL)
			}
		}
	}
}

// Ignored reports whether url is a placeholder or local document nobody
// selects from.
func Ignored(url string) bool {
	u := strings.ToLower(strings.TrimSpace(url))
	switch {
	case u == "":
		return true
	case strings.HasPrefix(u, "about:blank"), strings.HasPrefix(u, "about:srcdoc"):
		return true
	case strings.HasPrefix(u, "chrome-error://"):
		return true
	case strings.HasPrefix(u, "file:"):
		return true
	}
	return false
}
