// Package runs keeps the externally visible status of verification runs so
// the API can answer status queries for runs executing in a worker.
package runs

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// ErrNotFound is returned for unknown or expired run IDs.
var ErrNotFound = errors.New("run not found")

// Status is what a client sees of a run. Progress never decreases across
// successive writes for the same run.
type Status struct {
	RunID        string              `json:"runId"`
	UserID       string              `json:"userId"`
	State        model.State         `json:"state"`
	Progress     int                 `json:"progress"`
	Status       model.OutcomeStatus `json:"status"`
	Kind         model.Kind          `json:"kind,omitempty"`
	Message      string              `json:"message,omitempty"`
	ReferenceURL string              `json:"referenceUrl,omitempty"`
	BirthDate    string              `json:"birthDate,omitempty"`
	Age          *int                `json:"age,omitempty"`
	IsAdult      *bool               `json:"isAdult,omitempty"`
	UpdatedAt    time.Time           `json:"updatedAt"`
}

// Store persists Status values.
type Store interface {
	Put(ctx context.Context, s Status) error
	Get(ctx context.Context, runID string) (*Status, error)
}

// MemoryStore is a Store for a single process.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]Status
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]Status)}
}

func (m *MemoryStore) Put(_ context.Context, s Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if prev, ok := m.runs[s.RunID]; ok && prev.Progress > s.Progress {
		s.Progress = prev.Progress
	}
	m.runs[s.RunID] = s
	return nil
}

func (m *MemoryStore) Get(_ context.Context, runID string) (*Status, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return &s, nil
}
