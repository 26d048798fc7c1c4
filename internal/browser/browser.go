// Package browser defines the driver surface a capture session needs from a
// controllable browser. Resources nest: Launcher → Browser → Context → Page,
// and each level is closed by its owner in reverse order.
package browser

import (
	"context"
	"encoding/json"
)

type LaunchOptions struct {
	Bin          string
	Headless     bool
	NoSandbox    bool
	WindowWidth  int
	WindowHeight int
}

type Launcher interface {
	Launch(ctx context.Context, opts LaunchOptions) (Browser, error)
}

type Browser interface {
	// NewContext opens an isolated browsing context (incognito).
	NewContext(ctx context.Context) (Context, error)
	Close() error
}

type Context interface {
	NewPage(ctx context.Context) (Page, error)
	Close() error
}

type NavKind int

const (
	// NavNavigated fires when a frame commits a new document.
	NavNavigated NavKind = iota
	// NavDOMReady fires when the top-level document finished parsing.
	NavDOMReady
)

func (k NavKind) String() string {
	switch k {
	case NavNavigated:
		return "navigated"
	case NavDOMReady:
		return "dom-ready"
	default:
		return "unknown"
	}
}

// NavEvent is a page lifecycle notification. DOMReady events carry no frame:
// they always refer to the top-level document.
type NavEvent struct {
	Kind          NavKind
	FrameID       string
	ParentFrameID string
	URL           string
}

func (e NavEvent) TopLevel() bool {
	return e.ParentFrameID == ""
}

type Page interface {
	// Navigate loads url and waits for the load event, bounded by ctx.
	Navigate(ctx context.Context, url string) error
	// Eval runs a function expression in the page and decodes its JSON result
	// into out, which may be nil.
	Eval(ctx context.Context, js string, out any) error
	// Expose installs window[name] in the current and every future document.
	// Calling it from the page resolves a promise once fn returns.
	Expose(name string, fn func(arg json.RawMessage) error) (stop func() error, err error)
	// Navigation streams lifecycle events fired after the call, until ctx is
	// done. Events from before the call are not replayed.
	Navigation(ctx context.Context) <-chan NavEvent
	URL() string
	Close() error
}
