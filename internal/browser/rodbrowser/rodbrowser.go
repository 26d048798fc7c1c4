// Package rodbrowser drives a local Chrome through go-rod.
package rodbrowser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/charmbracelet/log"
	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/launcher/flags"
	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"

	"github.com/adityalohuni/pickscrape/internal/browser"
)

type Launcher struct {
	logger *log.Logger
}

func NewLauncher(logger *log.Logger) *Launcher {
	if logger == nil {
		logger = log.Default()
	}
	return &Launcher{logger: logger.With("component", "rodbrowser")}
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	launch := launcher.New().Headless(opts.Headless).NoSandbox(opts.NoSandbox)
	if opts.Bin != "" {
		launch = launch.Bin(opts.Bin)
	}
	if opts.WindowWidth > 0 && opts.WindowHeight > 0 {
		launch = launch.Set(flags.Flag("window-size"), strconv.Itoa(opts.WindowWidth)+","+strconv.Itoa(opts.WindowHeight))
	}

	controlURL, err := launch.Launch()
	if err != nil {
		return nil, fmt.Errorf("launch chrome: %w", err)
	}

	b := rod.New().ControlURL(controlURL)
	if err := b.Connect(); err != nil {
		launch.Kill()
		launch.Cleanup()
		return nil, fmt.Errorf("connect to chrome: %w", err)
	}
	l.logger.Debug("browser connected", "headless", opts.Headless, "pid", launch.PID())
	return &Browser{browser: b, launch: launch}, nil
}

type Browser struct {
	browser *rod.Browser
	launch  *launcher.Launcher
	once    sync.Once
	err     error
}

func (b *Browser) NewContext(ctx context.Context) (browser.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	incognito, err := b.browser.Incognito()
	if err != nil {
		return nil, fmt.Errorf("incognito context: %w", err)
	}
	return &Context{browser: incognito}, nil
}

// Close shuts Chrome down and removes its profile directory. Repeated calls
// return the first result.
func (b *Browser) Close() error {
	b.once.Do(func() {
		b.err = b.browser.Close()
		b.launch.Kill()
		b.launch.Cleanup()
	})
	return b.err
}

type Context struct {
	browser *rod.Browser
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p, err := c.browser.Page(proto.TargetCreateTarget{})
	if err != nil {
		return nil, fmt.Errorf("create page: %w", err)
	}
	return &Page{page: p}, nil
}

// Close disposes the incognito browser context.
func (c *Context) Close() error {
	return c.browser.Close()
}

type Page struct {
	page *rod.Page
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	page := p.page.Context(ctx)
	if err := page.Navigate(url); err != nil {
		return err
	}
	return page.WaitLoad()
}

func (p *Page) Eval(ctx context.Context, js string, out any) error {
	res, err := p.page.Context(ctx).Evaluate(&rod.EvalOptions{
		JS:           js,
		ByValue:      true,
		AwaitPromise: true,
	})
	if err != nil {
		return err
	}
	if out == nil || res == nil {
		return nil
	}
	raw, err := res.Value.MarshalJSON()
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, out)
}

func (p *Page) Expose(name string, fn func(json.RawMessage) error) (func() error, error) {
	if fn == nil {
		return nil, errors.New("expose: nil handler")
	}
	return p.page.Expose(name, func(arg gson.JSON) (interface{}, error) {
		raw, err := arg.MarshalJSON()
		if err != nil {
			return nil, err
		}
		if err := fn(raw); err != nil {
			return nil, err
		}
		return true, nil
	})
}

func (p *Page) Navigation(ctx context.Context) <-chan browser.NavEvent {
	out := make(chan browser.NavEvent, 16)
	send := func(ev browser.NavEvent) {
		select {
		case out <- ev:
		case <-ctx.Done():
		}
	}
	wait := p.page.Context(ctx).EachEvent(
		func(ev *proto.PageFrameNavigated) {
			if ev.Frame == nil {
				return
			}
			send(browser.NavEvent{
				Kind:          browser.NavNavigated,
				FrameID:       string(ev.Frame.ID),
				ParentFrameID: string(ev.Frame.ParentID),
				URL:           ev.Frame.URL,
			})
		},
		func(ev *proto.PageDomContentEventFired) {
			send(browser.NavEvent{Kind: browser.NavDOMReady})
		},
	)
	go func() {
		defer close(out)
		wait()
	}()
	return out
}

func (p *Page) URL() string {
	info, err := p.page.Info()
	if err != nil {
		return ""
	}
	return info.URL
}

func (p *Page) Close() error {
	return p.page.Close()
}
