// Package bridge is the one-shot handoff between an instrumented page and
// the capture controller. The page can call exactly two entry points: deliver
// (the final selection) and acknowledge (keypress handled).
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/charmbracelet/log"

	"github.com/adityalohuni/pickscrape/internal/browser"
	"github.com/adityalohuni/pickscrape/internal/protocol"
)

var (
	ErrAlreadyBound     = errors.New("bridge already bound to a page")
	ErrAlreadyDelivered = errors.New("selection already delivered")
	ErrNotBound         = errors.New("bridge is not bound")
)

// Bridge holds a single pending delivery. Create it, Bind it, then install the
// page handlers, so nothing the page sends can arrive before Wait is possible.
type Bridge struct {
	logger *log.Logger

	mu        sync.Mutex
	result    chan protocol.Delivery
	ack       chan struct{}
	delivered bool
	acked     bool
	bound     bool
	stops     []func() error
}

func New(logger *log.Logger) *Bridge {
	if logger == nil {
		logger = log.Default()
	}
	return &Bridge{
		logger: logger,
		result: make(chan protocol.Delivery, 1),
		ack:    make(chan struct{}),
	}
}

// Bind exposes both entry points on page. A bridge binds once.
func (b *Bridge) Bind(page browser.Page) error {
	b.mu.Lock()
	if b.bound {
		b.mu.Unlock()
		return ErrAlreadyBound
	}
	b.bound = true
	b.mu.Unlock()

	stopDeliver, err := page.Expose(protocol.DeliverFunc, func(raw json.RawMessage) error {
		d, err := protocol.DecodeDelivery(raw)
		if err != nil {
			b.logger.Warn("bad delivery payload", "err", err)
			return err
		}
		return b.Deliver(d)
	})
	if err != nil {
		b.mu.Lock()
		b.bound = false
		b.mu.Unlock()
		return err
	}

	stopAck, err := page.Expose(protocol.AckFunc, func(json.RawMessage) error {
		b.Acknowledge()
		return nil
	})
	if err != nil {
		_ = stopDeliver()
		b.mu.Lock()
		b.bound = false
		b.mu.Unlock()
		return err
	}

	b.mu.Lock()
	b.stops = append(b.stops, stopDeliver, stopAck)
	b.mu.Unlock()
	return nil
}

// Deliver resolves the pending result. Only the first call wins.
func (b *Bridge) Deliver(d protocol.Delivery) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.delivered {
		return ErrAlreadyDelivered
	}
	b.delivered = true
	if d.Elements == nil {
		d.Elements = []protocol.SelectedElement{}
	}
	b.result <- d
	b.logger.Debug("selection delivered", "reason", d.Reason, "count", len(d.Elements))
	return nil
}

func (b *Bridge) Acknowledge() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.acked {
		return
	}
	b.acked = true
	close(b.ack)
}

// Wait blocks until the page delivers or ctx is done. There is no timeout of
// its own.
func (b *Bridge) Wait(ctx context.Context) (protocol.Delivery, error) {
	select {
	case d := <-b.result:
		// keep the value readable for a later Wait
		b.result <- d
		return d, nil
	case <-ctx.Done():
		return protocol.Delivery{}, ctx.Err()
	}
}

// WaitAck waits up to grace for the page to report the keypress handled.
func (b *Bridge) WaitAck(ctx context.Context, grace time.Duration) bool {
	if grace <= 0 {
		select {
		case <-b.ack:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(grace)
	defer timer.Stop()
	select {
	case <-b.ack:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Unbind removes the entry points from the page. Errors from each binding are
// joined.
func (b *Bridge) Unbind() error {
	b.mu.Lock()
	stops := b.stops
	b.stops = nil
	wasBound := b.bound
	b.mu.Unlock()
	if !wasBound {
		return ErrNotBound
	}
	var errs []error
	for _, stop := range stops {
		if err := stop(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
