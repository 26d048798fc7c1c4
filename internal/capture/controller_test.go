package capture

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/adityalohuni/pickscrape/internal/browser"
	"github.com/adityalohuni/pickscrape/internal/browser/browsertest"
	"github.com/adityalohuni/pickscrape/internal/export"
	"github.com/adityalohuni/pickscrape/internal/protocol"
	"github.com/adityalohuni/pickscrape/internal/session"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakes struct {
	launcher *browsertest.Launcher
	browser  *browsertest.Browser
	context  *browsertest.Context
	page     *browsertest.Page
}

func newFakes() *fakes {
	page := browsertest.NewPage()
	bctx := &browsertest.Context{Page: page}
	b := &browsertest.Browser{Context: bctx}
	return &fakes{
		launcher: &browsertest.Launcher{Browser: b},
		browser:  b,
		context:  bctx,
		page:     page,
	}
}

func (f *fakes) controller(interactive bool, sessions *session.Registry) *Controller {
	return NewController(Options{
		Launcher:    f.launcher,
		Sessions:    sessions,
		Interactive: interactive,
		AckGrace:    10 * time.Millisecond,
	})
}

type recorder struct {
	mu     sync.Mutex
	states []State
	hook   func(id string, s State)
}

func (r *recorder) observe(id string, s State) {
	r.mu.Lock()
	r.states = append(r.states, s)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(id, s)
	}
}

func (r *recorder) seen() []State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]State(nil), r.states...)
}

func deliverOnAwait(t *testing.T, page *browsertest.Page, payload any) func(string, State) {
	return func(_ string, s State) {
		if s != StateAwaiting {
			return
		}
		require.NoError(t, page.Call(protocol.DeliverFunc, payload))
		require.NoError(t, page.Call(protocol.AckFunc, nil))
	}
}

func (f *fakes) assertReleasedOnce(t *testing.T) {
	t.Helper()
	assert.Equal(t, 1, f.browser.Closes(), "browser closes")
	assert.Equal(t, 1, f.context.Closes(), "context closes")
	assert.Equal(t, 1, f.page.Closes(), "page closes")
}

func TestRunCommit(t *testing.T) {
	f := newFakes()
	reg := session.NewRegistry()
	c := f.controller(true, reg)

	rec := &recorder{hook: deliverOnAwait(t, f.page, map[string]any{
		"reason": "commit",
		"elements": []map[string]any{
			{"tag": "h1", "text": "Title", "id": "", "className": "", "attributes": map[string]string{}},
			{"tag": "p", "text": "He said \"hi\"\nbye", "id": "", "className": "", "attributes": map[string]string{}},
		},
	})}

	res, err := c.Run(context.Background(), Request{URL: "example.com", OnState: rec.observe})
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateIdle, StateLaunching, StateNavigating, StateInstrumented,
		StateAwaiting, StateDelivered, StateClosing, StateDone,
	}, rec.seen())
	assert.Equal(t, StateDone, res.State)
	assert.Equal(t, "https://example.com", res.TargetURL)
	assert.Equal(t, []string{"https://example.com"}, f.page.Navigated())
	require.Len(t, res.Elements, 2)
	assert.False(t, res.Cancelled)
	assert.Contains(t, res.CSV, `"He said ""hi"" bye"`)
	assert.NotEmpty(t, res.SessionID)
	assert.Equal(t, 1, f.page.EvalsContaining(`"op":"install"`))

	f.assertReleasedOnce(t)
	assert.False(t, f.page.Exposed(protocol.DeliverFunc))
	assert.Equal(t, session.Stats{Started: 1, Delivered: 1}, reg.Stats())

	launches := f.launcher.Launches()
	require.Len(t, launches, 1)
	assert.False(t, launches[0].Headless)
}

func TestRunCancelDeliversEmpty(t *testing.T) {
	f := newFakes()
	reg := session.NewRegistry()
	c := f.controller(true, reg)

	rec := &recorder{hook: deliverOnAwait(t, f.page, map[string]any{
		"reason":   "cancel",
		"elements": []map[string]any{{"tag": "h1", "text": "ignored"}},
	})}

	res, err := c.Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.NoError(t, err)
	assert.True(t, res.Cancelled)
	assert.NotNil(t, res.Elements)
	assert.Empty(t, res.Elements)
	assert.Empty(t, res.CSV)
	assert.Contains(t, rec.seen(), StateCancelled)
	assert.NotContains(t, rec.seen(), StateDelivered)
	assert.Equal(t, int64(1), reg.Stats().Cancelled)
	f.assertReleasedOnce(t)
}

func TestRunInputError(t *testing.T) {
	f := newFakes()
	c := f.controller(true, nil)

	_, err := c.Run(context.Background(), Request{URL: "   "})
	require.Error(t, err)
	assert.Equal(t, KindInput, KindOf(err))
	assert.Empty(t, f.launcher.Launches())
}

func TestRunLaunchFailure(t *testing.T) {
	f := newFakes()
	f.launcher.Err = errors.New("chrome not found")
	rec := &recorder{}

	_, err := f.controller(true, nil).Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.Error(t, err)
	assert.Equal(t, KindBrowserLaunch, KindOf(err))
	assert.Equal(t, []State{StateIdle, StateLaunching, StateClosing, StateDone}, rec.seen())
	assert.Zero(t, f.browser.Closes())
}

func TestRunContextCreationFailureClosesBrowserOnce(t *testing.T) {
	f := newFakes()
	f.browser.ContextErr = errors.New("target crashed")

	_, err := f.controller(true, nil).Run(context.Background(), Request{URL: "https://example.com"})
	require.Error(t, err)
	assert.Equal(t, KindContextCreation, KindOf(err))
	assert.Equal(t, 1, f.browser.Closes())
	assert.Zero(t, f.context.Closes())
}

func TestRunPageCreationFailure(t *testing.T) {
	f := newFakes()
	f.context.PageErr = errors.New("no targets")

	_, err := f.controller(true, nil).Run(context.Background(), Request{URL: "https://example.com"})
	require.Error(t, err)
	assert.Equal(t, KindContextCreation, KindOf(err))
	assert.Equal(t, 1, f.browser.Closes())
	assert.Equal(t, 1, f.context.Closes())
}

func TestRunNavigationFailure(t *testing.T) {
	f := newFakes()
	f.page.NavigateErr = errors.New("net::ERR_NAME_NOT_RESOLVED")
	reg := session.NewRegistry()

	_, err := f.controller(true, reg).Run(context.Background(), Request{URL: "https://nowhere.invalid"})
	require.Error(t, err)
	kind, detail := Describe(err)
	assert.Equal(t, KindNavigation, kind)
	assert.Contains(t, detail, "ERR_NAME_NOT_RESOLVED")
	f.assertReleasedOnce(t)
	assert.Zero(t, f.page.EvalsContaining(`"op":"install"`))
	assert.Equal(t, int64(1), reg.Stats().Failed)
	assert.Zero(t, reg.Count())
}

func TestRunInstrumentationFailureIsNotFatal(t *testing.T) {
	f := newFakes()
	f.page.EvalFunc = func(string, any) error { return errors.New("csp blocked eval") }
	rec := &recorder{hook: deliverOnAwait(t, f.page, map[string]any{"reason": "commit", "elements": []any{}})}

	res, err := f.controller(true, nil).Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.NoError(t, err)
	assert.Empty(t, res.Elements)
	assert.Contains(t, rec.seen(), StateAwaiting)
}

func TestRunHeadlessShortCircuit(t *testing.T) {
	f := newFakes()
	rec := &recorder{}

	done := make(chan struct{})
	var (
		res Result
		err error
	)
	go func() {
		defer close(done)
		res, err = f.controller(false, nil).Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("headless session did not return")
	}

	require.NoError(t, err)
	assert.Equal(t, NoDisplayMessage, res.Message)
	assert.NotNil(t, res.Elements)
	assert.Empty(t, res.Elements)
	assert.NotContains(t, rec.seen(), StateAwaiting)
	assert.Equal(t, []browser.LaunchOptions{{Headless: true}}, f.launcher.Launches())
	f.assertReleasedOnce(t)
}

func TestRunCleanupFailureDoesNotMaskResult(t *testing.T) {
	f := newFakes()
	f.browser.CloseErr = errors.New("already gone")
	f.context.CloseErr = errors.New("already gone")
	f.page.CloseErr = errors.New("already gone")
	rec := &recorder{hook: deliverOnAwait(t, f.page, map[string]any{
		"elements": []map[string]any{{"tag": "h1", "text": "Title"}},
	})}

	res, err := f.controller(true, nil).Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.NoError(t, err)
	require.Len(t, res.Elements, 1)
	assert.Equal(t, StateDone, res.State)
}

func TestRunAbortedWhileAwaiting(t *testing.T) {
	f := newFakes()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	rec := &recorder{hook: func(_ string, s State) {
		if s == StateAwaiting {
			cancel()
		}
	}}

	_, err := f.controller(true, nil).Run(ctx, Request{URL: "https://example.com", OnState: rec.observe})
	require.Error(t, err)
	kind, detail := Describe(err)
	assert.Equal(t, KindInternal, kind)
	assert.Contains(t, detail, "session aborted")
	f.assertReleasedOnce(t)
}

func TestRunCancelledFromRegistry(t *testing.T) {
	f := newFakes()
	reg := session.NewRegistry()
	rec := &recorder{hook: func(id string, s State) {
		if s == StateAwaiting {
			go func() { _ = reg.Cancel(id) }()
		}
	}}

	_, err := f.controller(true, reg).Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.Error(t, err)
	assert.Equal(t, KindInternal, KindOf(err))
	assert.Zero(t, reg.Count())
}

func TestRunReinstrumentsAfterNavigation(t *testing.T) {
	f := newFakes()
	rec := &recorder{hook: func(_ string, s State) {
		if s != StateAwaiting {
			return
		}
		f.page.Emit(browser.NavEvent{Kind: browser.NavNavigated, FrameID: "main", URL: "https://example.com/next"})
		f.page.Emit(browser.NavEvent{Kind: browser.NavDOMReady})
		go func() {
			for f.page.EvalsContaining(`"op":"install"`) < 2 {
				time.Sleep(5 * time.Millisecond)
			}
			_ = f.page.Call(protocol.DeliverFunc, map[string]any{"reason": "commit", "elements": []any{}})
		}()
	}}

	_, err := f.controller(true, nil).Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.NoError(t, err)
	assert.Equal(t, 2, f.page.EvalsContaining(`"op":"install"`))
}

func TestRunStoresCSV(t *testing.T) {
	f := newFakes()
	files, err := export.NewFileWriter(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	c := NewController(Options{
		Launcher:    f.launcher,
		Interactive: true,
		Files:       files,
		Now:         func() time.Time { return time.Unix(0, 42) },
	})
	rec := &recorder{hook: deliverOnAwait(t, f.page, map[string]any{
		"reason":   "commit",
		"elements": []map[string]any{{"tag": "h1", "text": "Title"}},
	})}

	res, err := c.Run(context.Background(), Request{URL: "https://www.example.com/a", OnState: rec.observe})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(res.SessionID, "42-"), res.SessionID)
	assert.Equal(t, filepath.Join(files.Dir(), res.SessionID+"_example.com.csv"), res.CSVPath)
}

func TestRunInstrumentsDocumentThatRedirectsDuringLoad(t *testing.T) {
	f := newFakes()
	var redirected atomic.Bool
	f.page.EvalFunc = func(js string, out any) error {
		if strings.Contains(js, `"op":"install"`) && redirected.CompareAndSwap(false, true) {
			f.page.Emit(browser.NavEvent{Kind: browser.NavNavigated, FrameID: "main", URL: "https://example.com/landing"})
			f.page.Emit(browser.NavEvent{Kind: browser.NavDOMReady})
		}
		return nil
	}
	rec := &recorder{hook: func(_ string, s State) {
		if s != StateAwaiting {
			return
		}
		go func() {
			for f.page.EvalsContaining(`"op":"install"`) < 2 {
				time.Sleep(5 * time.Millisecond)
			}
			_ = f.page.Call(protocol.DeliverFunc, map[string]any{"reason": "commit", "elements": []any{}})
		}()
	}}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := f.controller(true, nil).Run(ctx, Request{URL: "https://example.com", OnState: rec.observe})
	require.NoError(t, err, "the redirected document was never instrumented")
	assert.Equal(t, 2, f.page.EvalsContaining(`"op":"install"`))
}

// pageLauncher hands every launch its own browser, context and page.
type pageLauncher struct {
	mu    sync.Mutex
	pages []*browsertest.Page
}

func (l *pageLauncher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	page := browsertest.NewPage()
	l.mu.Lock()
	l.pages = append(l.pages, page)
	l.mu.Unlock()
	return &browsertest.Browser{Context: &browsertest.Context{Page: page}}, nil
}

func TestConcurrentSessionsStartingAtSameInstantStayDistinct(t *testing.T) {
	reg := session.NewRegistry()
	c := NewController(Options{
		Launcher:    &pageLauncher{},
		Sessions:    reg,
		Interactive: true,
		Now:         func() time.Time { return time.Unix(1700000000, 0) },
	})

	awaiting := make(chan string, 2)
	onState := func(id string, s State) {
		if s == StateAwaiting {
			awaiting <- id
		}
	}
	errs := make(chan error, 2)
	for range 2 {
		go func() {
			_, err := c.Run(context.Background(), Request{URL: "https://example.com", OnState: onState})
			errs <- err
		}()
	}

	id1, id2 := <-awaiting, <-awaiting
	require.NotEqual(t, id1, id2)
	assert.Equal(t, 2, reg.Count())

	require.NoError(t, reg.Cancel(id1))
	require.Error(t, <-errs)
	_, ok := reg.Get(id2)
	assert.True(t, ok, "second session still registered after the first ended")
	assert.Equal(t, 1, reg.Count())

	require.NoError(t, reg.Cancel(id2))
	require.Error(t, <-errs)
	assert.Zero(t, reg.Count())
}

func TestPeek(t *testing.T) {
	f := newFakes()
	c := f.controller(true, nil)
	f.page.EvalFunc = func(js string, out any) error {
		if sel, ok := out.(*[]protocol.SelectedElement); ok {
			*sel = []protocol.SelectedElement{{Tag: "h1", Text: "Title"}}
		}
		return nil
	}

	var peeked []protocol.SelectedElement
	rec := &recorder{hook: func(id string, s State) {
		if s != StateAwaiting {
			return
		}
		var err error
		peeked, err = c.Peek(context.Background(), id)
		require.NoError(t, err)
		require.NoError(t, f.page.Call(protocol.DeliverFunc, map[string]any{"reason": "cancel"}))
	}}

	_, err := c.Run(context.Background(), Request{URL: "https://example.com", OnState: rec.observe})
	require.NoError(t, err)
	require.Len(t, peeked, 1)
	assert.Equal(t, "Title", peeked[0].Text)

	_, err = c.Peek(context.Background(), "gone")
	assert.ErrorIs(t, err, ErrUnknownSession)
}
