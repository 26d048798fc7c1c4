package scrape

import (
	"context"
	"time"

	"github.com/charmbracelet/log"

	"github.com/adityalohuni/pickscrape/internal/capture"
	"github.com/adityalohuni/pickscrape/internal/export"
)

type Scraper struct {
	fetcher  Fetcher
	exporter export.Exporter
	logger   *log.Logger
}

func NewScraper(fetcher Fetcher, exporter export.Exporter, logger *log.Logger) *Scraper {
	if logger == nil {
		logger = log.Default()
	}
	return &Scraper{fetcher: fetcher, exporter: exporter, logger: logger.With("component", "scrape")}
}

// Scrape fetches rawURL and extracts it. Failures use the capture error kinds
// so every endpoint reports them the same way.
func (s *Scraper) Scrape(ctx context.Context, rawURL string) (Result, error) {
	target, err := capture.NormalizeURL(rawURL, "")
	if err != nil {
		return Result{}, err
	}
	start := time.Now()
	page, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return Result{}, &capture.Error{Kind: capture.KindNavigation, Detail: "could not load " + target, Err: err}
	}
	res, err := Extract(page.HTML, ExtractOptions{Exporter: s.exporter})
	if err != nil {
		return Result{}, &capture.Error{Kind: capture.KindInternal, Detail: "could not parse page", Err: err}
	}
	res.URL = target
	if page.Title != "" {
		res.Title = page.Title
	}
	s.logger.Info("scraped", "url", target, "elements", len(res.JSONForUI), "took", time.Since(start))
	return res, nil
}
