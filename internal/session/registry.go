// Package session tracks capture sessions that are currently running.
package session

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var ErrUnknownSession = errors.New("unknown session")

type Outcome string

const (
	OutcomeDelivered Outcome = "delivered"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

type Info struct {
	ID         string    `json:"id"`
	TargetURL  string    `json:"target_url"`
	State      string    `json:"state"`
	Transport  string    `json:"transport,omitempty"`
	RemoteAddr string    `json:"remote_addr,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type Stats struct {
	Live      int   `json:"live"`
	Started   int64 `json:"started"`
	Delivered int64 `json:"delivered"`
	Cancelled int64 `json:"cancelled"`
	Failed    int64 `json:"failed"`
}

type entry struct {
	info   Info
	cancel context.CancelFunc
}

type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
	stats    Stats
	now      func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry), now: time.Now}
}

// Start records a live session. cancel aborts it from outside, for example
// from the admin API.
func (r *Registry) Start(info Info, cancel context.CancelFunc) {
	if info.ID == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	now := r.now()
	if info.StartedAt.IsZero() {
		info.StartedAt = now
	}
	info.UpdatedAt = now
	r.sessions[info.ID] = &entry{info: info, cancel: cancel}
	r.stats.Started++
}

func (r *Registry) SetState(id, state string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.sessions[id]; ok {
		e.info.State = state
		e.info.UpdatedAt = r.now()
	}
}

// Finish drops the session and counts its outcome. Nothing about it is kept.
func (r *Registry) Finish(id string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; !ok {
		return
	}
	delete(r.sessions, id)
	switch outcome {
	case OutcomeDelivered:
		r.stats.Delivered++
	case OutcomeCancelled:
		r.stats.Cancelled++
	default:
		r.stats.Failed++
	}
}

func (r *Registry) Cancel(id string) error {
	r.mu.RLock()
	e, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return ErrUnknownSession
	}
	if e.cancel != nil {
		e.cancel()
	}
	return nil
}

func (r *Registry) Get(id string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return Info{}, false
	}
	return e.info, true
}

// List returns live sessions, oldest first.
func (r *Registry) List() []Info {
	r.mu.RLock()
	out := make([]Info, 0, len(r.sessions))
	for _, e := range r.sessions {
		out = append(out, e.info)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) Stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s := r.stats
	s.Live = len(r.sessions)
	return s
}
