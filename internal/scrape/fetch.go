package scrape

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

type Page struct {
	URL   string
	Title string
	HTML  string
}

type Fetcher interface {
	Fetch(ctx context.Context, url string) (Page, error)
}

type ChromeOptions struct {
	Bin       string
	NoSandbox bool
	Timeout   time.Duration
	// Wait is an extra pause after the body is ready, for client-rendered pages.
	Wait time.Duration
}

// ChromeFetcher renders a page in a throwaway headless Chrome and returns
// its serialized DOM.
type ChromeFetcher struct {
	opts ChromeOptions
}

func NewChromeFetcher(opts ChromeOptions) *ChromeFetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = 45 * time.Second
	}
	return &ChromeFetcher{opts: opts}
}

func (f *ChromeFetcher) Fetch(ctx context.Context, url string) (Page, error) {
	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.Headless,
	)
	if f.opts.NoSandbox {
		allocOpts = append(allocOpts, chromedp.NoSandbox)
	}
	if f.opts.Bin != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(f.opts.Bin))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()
	timeoutCtx, cancel := context.WithTimeout(tabCtx, f.opts.Timeout)
	defer cancel()

	tasks := []chromedp.Action{
		chromedp.Navigate(url),
		chromedp.WaitReady("body"),
	}
	if f.opts.Wait > 0 {
		tasks = append(tasks, chromedp.Sleep(f.opts.Wait))
	}
	if err := chromedp.Run(timeoutCtx, tasks...); err != nil {
		return Page{}, fmt.Errorf("navigate: %w", err)
	}

	page := Page{URL: url}
	// title is optional
	_ = chromedp.Run(timeoutCtx, chromedp.Title(&page.Title))
	if err := chromedp.Run(timeoutCtx, chromedp.OuterHTML("html", &page.HTML)); err != nil {
		return Page{}, fmt.Errorf("read html: %w", err)
	}
	return page, nil
}
