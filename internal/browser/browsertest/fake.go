// Package browsertest provides in-memory browser drivers for tests.
package browsertest

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/adityalohuni/pickscrape/internal/browser"
)

type Launcher struct {
	Err     error
	Browser *Browser

	mu       sync.Mutex
	launches []browser.LaunchOptions
}

func (l *Launcher) Launch(ctx context.Context, opts browser.LaunchOptions) (browser.Browser, error) {
	l.mu.Lock()
	l.launches = append(l.launches, opts)
	l.mu.Unlock()
	if l.Err != nil {
		return nil, l.Err
	}
	if l.Browser == nil {
		l.Browser = &Browser{}
	}
	return l.Browser, nil
}

func (l *Launcher) Launches() []browser.LaunchOptions {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]browser.LaunchOptions(nil), l.launches...)
}

type Browser struct {
	ContextErr error
	CloseErr   error
	Context    *Context

	mu     sync.Mutex
	closes int
}

func (b *Browser) NewContext(ctx context.Context) (browser.Context, error) {
	if b.ContextErr != nil {
		return nil, b.ContextErr
	}
	if b.Context == nil {
		b.Context = &Context{}
	}
	return b.Context, nil
}

func (b *Browser) Close() error {
	b.mu.Lock()
	b.closes++
	b.mu.Unlock()
	return b.CloseErr
}

func (b *Browser) Closes() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closes
}

type Context struct {
	PageErr  error
	CloseErr error
	Page     *Page

	mu     sync.Mutex
	closes int
}

func (c *Context) NewPage(ctx context.Context) (browser.Page, error) {
	if c.PageErr != nil {
		return nil, c.PageErr
	}
	if c.Page == nil {
		c.Page = NewPage()
	}
	return c.Page, nil
}

func (c *Context) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return c.CloseErr
}

func (c *Context) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

// Page records evaluated scripts and lets tests call exposed functions the
// way page code would.
type Page struct {
	NavigateErr error
	CloseErr    error
	ExposeErr   error
	// EvalFunc answers Eval. A nil EvalFunc leaves out untouched.
	EvalFunc func(js string, out any) error

	mu        sync.Mutex
	url       string
	evals     []string
	exposed   map[string]func(json.RawMessage) error
	navigated []string
	closes    int
	subs      map[chan browser.NavEvent]context.Context
	// OnExpose is called after each successful Expose.
	OnExpose func(name string)
}

func NewPage() *Page {
	return &Page{
		exposed: make(map[string]func(json.RawMessage) error),
		subs:    make(map[chan browser.NavEvent]context.Context),
	}
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.NavigateErr != nil {
		return p.NavigateErr
	}
	p.mu.Lock()
	p.url = url
	p.navigated = append(p.navigated, url)
	p.mu.Unlock()
	return nil
}

func (p *Page) Eval(ctx context.Context, js string, out any) error {
	p.mu.Lock()
	p.evals = append(p.evals, js)
	fn := p.EvalFunc
	p.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(js, out)
}

func (p *Page) Expose(name string, fn func(json.RawMessage) error) (func() error, error) {
	if p.ExposeErr != nil {
		return nil, p.ExposeErr
	}
	p.mu.Lock()
	p.exposed[name] = fn
	hook := p.OnExpose
	p.mu.Unlock()
	if hook != nil {
		hook(name)
	}
	return func() error {
		p.mu.Lock()
		delete(p.exposed, name)
		p.mu.Unlock()
		return nil
	}, nil
}

// Call invokes an exposed function with arg encoded as JSON.
func (p *Page) Call(name string, arg any) error {
	p.mu.Lock()
	fn := p.exposed[name]
	p.mu.Unlock()
	if fn == nil {
		return fmt.Errorf("%s is not exposed", name)
	}
	raw, err := json.Marshal(arg)
	if err != nil {
		return err
	}
	return fn(raw)
}

func (p *Page) Exposed(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.exposed[name]
	return ok
}

// Emit hands ev to every current Navigation subscriber. Like CDP, an event
// with no subscriber is lost.
func (p *Page) Emit(ev browser.NavEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for ch, ctx := range p.subs {
		select {
		case ch <- ev:
		case <-ctx.Done():
		}
	}
}

func (p *Page) Navigation(ctx context.Context) <-chan browser.NavEvent {
	ch := make(chan browser.NavEvent, 16)
	p.mu.Lock()
	p.subs[ch] = ctx
	p.mu.Unlock()
	go func() {
		<-ctx.Done()
		p.mu.Lock()
		delete(p.subs, ch)
		p.mu.Unlock()
		close(ch)
	}()
	return ch
}

func (p *Page) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *Page) Close() error {
	p.mu.Lock()
	p.closes++
	p.mu.Unlock()
	return p.CloseErr
}

func (p *Page) Closes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closes
}

func (p *Page) Evals() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.evals...)
}

// EvalsContaining counts evaluated scripts that include substr.
func (p *Page) EvalsContaining(substr string) int {
	n := 0
	for _, js := range p.Evals() {
		if strings.Contains(js, substr) {
			n++
		}
	}
	return n
}

func (p *Page) Navigated() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.navigated...)
}
