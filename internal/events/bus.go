// Package events fans run progress and outcomes out from the worker that
// executes a run to the API processes streaming them to clients.
package events

import (
	"context"
	"sync"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// Event is either a progress update or the final outcome of a run.
type Event struct {
	RunID    string         `json:"runId"`
	Progress int            `json:"progress"`
	Outcome  *model.Outcome `json:"outcome,omitempty"`
}

// Final reports whether no further events follow for the run.
func (e Event) Final() bool { return e.Outcome != nil }

// Bus publishes run events and delivers them to subscribers of a run.
type Bus interface {
	PublishProgress(ctx context.Context, runID string, progress int) error
	PublishOutcome(ctx context.Context, outcome model.Outcome) error
	// Subscribe calls handler for every event of runID until the returned
	// function is called.
	Subscribe(ctx context.Context, runID string, handler func(Event)) (func() error, error)
	Close()
}

// MemoryBus delivers events synchronously within one process.
type MemoryBus struct {
	mu   sync.RWMutex
	next int
	subs map[string]map[int]func(Event)
}

// NewMemoryBus constructs a MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[string]map[int]func(Event))}
}

func (b *MemoryBus) PublishProgress(_ context.Context, runID string, progress int) error {
	b.deliver(Event{RunID: runID, Progress: progress})
	return nil
}

func (b *MemoryBus) PublishOutcome(_ context.Context, outcome model.Outcome) error {
	b.deliver(Event{RunID: outcome.RunID, Outcome: &outcome})
	return nil
}

func (b *MemoryBus) deliver(ev Event) {
	b.mu.RLock()
	handlers := make([]func(Event), 0, len(b.subs[ev.RunID]))
	for _, h := range b.subs[ev.RunID] {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (b *MemoryBus) Subscribe(_ context.Context, runID string, handler func(Event)) (func() error, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	id := b.next
	b.next++
	if b.subs[runID] == nil {
		b.subs[runID] = make(map[int]func(Event))
	}
	b.subs[runID][id] = handler
	return func() error {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs[runID], id)
		if len(b.subs[runID]) == 0 {
			delete(b.subs, runID)
		}
		return nil
	}, nil
}

func (b *MemoryBus) Close() {}
