// Package capture runs interactive element-selection sessions ("mouse mode"):
// launch a browser, load the target, instrument it, wait for the user to
// press Enter or Escape, and tear everything down again.
package capture

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/adityalohuni/pickscrape/internal/bridge"
	"github.com/adityalohuni/pickscrape/internal/browser"
	"github.com/adityalohuni/pickscrape/internal/export"
	"github.com/adityalohuni/pickscrape/internal/instrument"
	"github.com/adityalohuni/pickscrape/internal/navwatch"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/session"
)

type State string

const (
	StateIdle         State = "IDLE"
	StateLaunching    State = "LAUNCHING"
	StateNavigating   State = "NAVIGATING"
	StateInstrumented State = "INSTRUMENTED"
	StateAwaiting     State = "AWAITING_SELECTION"
	StateDelivered    State = "DELIVERED"
	StateCancelled    State = "CANCELLED"
	StateClosing      State = "CLOSING"
	StateDone         State = "DONE"
)

// NoDisplayMessage is the result message when nobody can press a key.
const NoDisplayMessage = "interactive selection unavailable: no display for a visible browser"

var ErrUnknownSession = errors.New("no live capture session with that id")

type Options struct {
	Launcher browser.Launcher
	Logger   *log.Logger
	// Sessions, when set, lists live sessions and lets them be cancelled.
	Sessions *session.Registry
	Exporter export.Exporter
	// Files, when set, stores each non-empty CSV on disk.
	Files *export.FileWriter

	// Interactive false skips the wait for a terminal key.
	Interactive       bool
	Launch            browser.LaunchOptions
	NavigationTimeout time.Duration
	AckGrace          time.Duration
	IncludeInnerHTML  bool
	Now               func() time.Time
}

type Request struct {
	URL        string
	BaseURL    string
	Transport  string
	RemoteAddr string
	// OnState observes every transition, in order, on the calling goroutine.
	OnState func(sessionID string, state State)
}

type Result struct {
	SessionID string                     `json:"sessionId"`
	TargetURL string                     `json:"targetUrl"`
	State     State                      `json:"state"`
	Elements  []protocol.SelectedElement `json:"selectedElements"`
	Cancelled bool                       `json:"cancelled"`
	Message   string                     `json:"message,omitempty"`
	CSV       string                     `json:"-"`
	CSVPath   string                     `json:"csvPath,omitempty"`
}

type Controller struct {
	opts   Options
	logger *log.Logger

	mu    sync.Mutex
	pages map[string]browser.Page
}

func NewController(opts Options) *Controller {
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NavigationTimeout <= 0 {
		opts.NavigationTimeout = 30 * time.Second
	}
	if opts.AckGrace < 0 {
		opts.AckGrace = 0
	}
	opts.Exporter.IncludeInnerHTML = opts.Exporter.IncludeInnerHTML || opts.IncludeInnerHTML
	return &Controller{
		opts:   opts,
		logger: opts.Logger.With("component", "capture"),
		pages:  make(map[string]browser.Page),
	}
}

func (c *Controller) Interactive() bool {
	return c.opts.Interactive
}

type release struct {
	name string
	fn   func() error
}

// Run drives one session from launch to teardown. Every resource acquired is
// released before Run returns, whatever the outcome; release failures are
// logged and never replace the result.
func (c *Controller) Run(ctx context.Context, req Request) (res Result, err error) {
	start := c.opts.Now()
	id := newSessionID(start)
	logger := c.logger.With("session", id)
	res = Result{SessionID: id, State: StateIdle, Elements: []protocol.SelectedElement{}}

	setState := func(s State) {
		res.State = s
		logger.Debug("state", "state", s)
		if c.opts.Sessions != nil {
			c.opts.Sessions.SetState(id, string(s))
		}
		if req.OnState != nil {
			req.OnState(id, s)
		}
	}

	target, err := NormalizeURL(req.URL, req.BaseURL)
	if err != nil {
		res.State = StateDone
		return res, err
	}
	res.TargetURL = target

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if c.opts.Sessions != nil {
		c.opts.Sessions.Start(session.Info{
			ID:         id,
			TargetURL:  target,
			State:      string(StateIdle),
			Transport:  req.Transport,
			RemoteAddr: req.RemoteAddr,
			StartedAt:  start,
		}, cancel)
	}
	setState(StateIdle)

	var releases []release
	defer func() {
		setState(StateClosing)
		for i := len(releases) - 1; i >= 0; i-- {
			if rerr := releases[i].fn(); rerr != nil {
				logger.Warn("release failed", "kind", KindCleanup, "resource", releases[i].name, "err", rerr)
			}
		}
		setState(StateDone)
		c.finish(logger, id, res, err, c.opts.Now().Sub(start))
	}()

	launch := c.opts.Launch
	if !c.opts.Interactive {
		launch.Headless = true
	}

	setState(StateLaunching)
	b, err := c.opts.Launcher.Launch(ctx, launch)
	if err != nil {
		return res, newError(KindBrowserLaunch, "could not start browser", err)
	}
	releases = append(releases, release{"browser", b.Close})

	bctx, err := b.NewContext(ctx)
	if err != nil {
		return res, newError(KindContextCreation, "could not create browsing context", err)
	}
	releases = append(releases, release{"context", bctx.Close})

	page, err := bctx.NewPage(ctx)
	if err != nil {
		return res, newError(KindContextCreation, "could not open page", err)
	}
	releases = append(releases, release{"page", page.Close})

	// The bridge is bound before anything can run in the page.
	br := bridge.New(logger)
	if err := br.Bind(page); err != nil {
		return res, newError(KindInternal, "could not bind session bridge", err)
	}
	releases = append(releases, release{"bridge", br.Unbind})

	install := func(ctx context.Context) error {
		_, err := instrument.Install(ctx, page, instrument.Options{IncludeInnerHTML: c.opts.Exporter.IncludeInnerHTML})
		return err
	}

	// Subscribe before navigating: a document that redirects itself during
	// load must still be instrumented.
	watchCtx, stopWatch := context.WithCancel(ctx)
	events := page.Navigation(watchCtx)
	watcher := navwatch.New(install, logger)
	watchDone := make(chan struct{})
	go func() {
		defer close(watchDone)
		watcher.Run(watchCtx, events)
	}()
	releases = append(releases, release{"navigation watcher", func() error {
		stopWatch()
		<-watchDone
		return nil
	}})

	setState(StateNavigating)
	navCtx, navCancel := context.WithTimeout(ctx, c.opts.NavigationTimeout)
	err = page.Navigate(navCtx, target)
	navCancel()
	if err != nil {
		if ctx.Err() != nil {
			return res, newError(KindInternal, "session aborted", ctx.Err())
		}
		return res, newError(KindNavigation, "could not load "+target, err)
	}

	if ierr := install(ctx); ierr != nil {
		logger.Warn("instrumentation failed, page is not selectable", "kind", KindInstrumentation, "err", ierr)
	}
	setState(StateInstrumented)

	if !c.opts.Interactive {
		res.Message = NoDisplayMessage
		return res, nil
	}

	c.track(id, page)
	defer c.untrack(id)

	setState(StateAwaiting)
	d, err := br.Wait(ctx)
	if err != nil {
		return res, newError(KindInternal, "session aborted", err)
	}
	if d.Cancelled() {
		res.Cancelled = true
		res.Elements = []protocol.SelectedElement{}
		setState(StateCancelled)
	} else {
		res.Elements = d.Elements
		setState(StateDelivered)
	}
	if !br.WaitAck(ctx, c.opts.AckGrace) {
		logger.Debug("no keypress acknowledgement", "grace", c.opts.AckGrace)
	}

	res.CSV = c.opts.Exporter.Export(res.Elements)
	if c.opts.Files != nil && res.CSV != "" {
		path, werr := c.opts.Files.Write(id, target, res.CSV)
		if werr != nil {
			logger.Warn("csv not stored", "err", werr)
		} else {
			res.CSVPath = path
		}
	}
	return res, nil
}

// newSessionID keeps the start time first so ids and CSV file names sort by
// start; the suffix separates sessions that read the same clock value.
func newSessionID(start time.Time) string {
	return strconv.FormatInt(start.UnixNano(), 10) + "-" + uuid.NewString()[:8]
}

func (c *Controller) finish(logger *log.Logger, id string, res Result, err error, took time.Duration) {
	outcome := session.OutcomeDelivered
	switch {
	case err != nil:
		outcome = session.OutcomeFailed
		kind, detail := Describe(err)
		logger.Error("capture failed", "kind", kind, "detail", detail, "took", took)
	case res.Cancelled:
		outcome = session.OutcomeCancelled
		logger.Info("capture cancelled", "url", res.TargetURL, "took", took)
	default:
		logger.Info("capture finished", "url", res.TargetURL, "selected", len(res.Elements), "took", took)
	}
	if c.opts.Sessions != nil {
		c.opts.Sessions.Finish(id, outcome)
	}
}

func (c *Controller) track(id string, page browser.Page) {
	c.mu.Lock()
	c.pages[id] = page
	c.mu.Unlock()
}

func (c *Controller) untrack(id string) {
	c.mu.Lock()
	delete(c.pages, id)
	c.mu.Unlock()
}

// Peek returns what the user has selected so far in a session that is still
// waiting for a terminal key. It never changes the selection.
func (c *Controller) Peek(ctx context.Context, id string) ([]protocol.SelectedElement, error) {
	c.mu.Lock()
	page, ok := c.pages[id]
	c.mu.Unlock()
	if !ok {
		return nil, ErrUnknownSession
	}
	return instrument.Snapshot(ctx, page)
}
