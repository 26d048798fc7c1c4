// Package instrument installs the in-page selection handlers: hover
// highlight, click to toggle, Enter to commit, Escape to cancel.
package instrument

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/adityalohuni/pickscrape/internal/browser"
	"github.com/adityalohuni/pickscrape/internal/protocol"
)

//go:embed instrument.js
var script string

const (
	MarkerClass    = "pickscrape-selected"
	HoverBorder    = "2px solid #3b82f6"
	SelectedBorder = "2px solid #ef4444"
	SavedBorder    = "2px solid #22c55e"
)

type Options struct {
	IncludeInnerHTML bool
}

type Status struct {
	Installed bool `json:"installed"`
	Count     int  `json:"count"`
}

type config struct {
	Op               string `json:"op"`
	MarkerClass      string `json:"markerClass"`
	HoverBorder      string `json:"hoverBorder"`
	SelectedBorder   string `json:"selectedBorder"`
	SavedBorder      string `json:"savedBorder"`
	IncludeInnerHTML bool   `json:"includeInnerHTML"`
	DeliverFunc      string `json:"deliverFunc"`
	AckFunc          string `json:"ackFunc"`
}

// Install (re)attaches the handlers to the page's current document. Calling it
// again on the same document replaces the listeners and keeps the selections
// made so far.
func Install(ctx context.Context, page browser.Page, opts Options) (Status, error) {
	var st Status
	if err := run(ctx, page, "install", opts, &st); err != nil {
		return Status{}, fmt.Errorf("install: %w", err)
	}
	return st, nil
}

// Remove detaches the handlers without delivering anything.
func Remove(ctx context.Context, page browser.Page) error {
	if err := run(ctx, page, "remove", Options{}, nil); err != nil {
		return fmt.Errorf("remove: %w", err)
	}
	return nil
}

// Snapshot reads the current in-page selections without changing them.
func Snapshot(ctx context.Context, page browser.Page) ([]protocol.SelectedElement, error) {
	var out []protocol.SelectedElement
	if err := run(ctx, page, "snapshot", Options{}, &out); err != nil {
		return nil, fmt.Errorf("snapshot: %w", err)
	}
	if out == nil {
		out = []protocol.SelectedElement{}
	}
	return out, nil
}

func run(ctx context.Context, page browser.Page, op string, opts Options, out any) error {
	js, err := Script(op, opts)
	if err != nil {
		return err
	}
	return page.Eval(ctx, js, out)
}

// Script returns the function expression evaluated for op.
func Script(op string, opts Options) (string, error) {
	cfg, err := json.Marshal(config{
		Op:               op,
		MarkerClass:      MarkerClass,
		HoverBorder:      HoverBorder,
		SelectedBorder:   SelectedBorder,
		SavedBorder:      SavedBorder,
		IncludeInnerHTML: opts.IncludeInnerHTML,
		DeliverFunc:      protocol.DeliverFunc,
		AckFunc:          protocol.AckFunc,
	})
	if err != nil {
		return "", err
	}
	return "() => (" + script + ")(" + string(cfg) + ")", nil
}
