// Package storage contains in-memory implementations of the document
// datastore and object storage. The CLI uses them for dry runs and tests use
// them in place of Postgres and MinIO.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/dharsanguruparan/AgeGate/internal/model"
)

// ErrNotFound is exported so callers can compare errors using errors.Is.
var ErrNotFound = model.ErrNotFound

// MemoryStore keeps one VerifiedDocumentEntry per user. RWMutex lets many
// readers look up entries while a single writer replaces them.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]model.VerifiedDocumentEntry
}

// NewMemoryStore constructs a MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]model.VerifiedDocumentEntry),
	}
}

// UpsertVerifiedDocument inserts or replaces the user's entry.
func (m *MemoryStore) UpsertVerifiedDocument(ctx context.Context, entry model.VerifiedDocumentEntry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[entry.UserID] = entry
	return nil
}

// GetVerifiedDocument returns the user's entry.
func (m *MemoryStore) GetVerifiedDocument(ctx context.Context, userID string) (*model.VerifiedDocumentEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entry, ok := m.entries[userID]
	if !ok {
		return nil, ErrNotFound
	}
	// Returning a copy prevents callers from mutating internal state.
	return &entry, nil
}

// Len returns the number of stored entries.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.entries)
}

// MemoryObjects is an object store that copies uploads in fixed-size chunks
// and reports progress after each chunk, the way a resumable upload reports
// acknowledged parts.
type MemoryObjects struct {
	Bucket    string
	ChunkSize int

	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemoryObjects constructs a MemoryObjects.
func NewMemoryObjects(bucket string, chunkSize int) *MemoryObjects {
	if chunkSize <= 0 {
		chunkSize = 32 * 1024
	}
	return &MemoryObjects{
		Bucket:    bucket,
		ChunkSize: chunkSize,
		objects:   make(map[string][]byte),
	}
}

// Upload stores r under path and returns a memory:// reference URL.
func (m *MemoryObjects) Upload(ctx context.Context, path string, r io.Reader, size int64, contentType string, progress func(int64)) (string, error) {
	var buf bytes.Buffer
	chunk := make([]byte, m.ChunkSize)
	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		n, readErr := r.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			written += int64(n)
			if progress != nil {
				progress(written)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			return "", fmt.Errorf("read upload: %w", readErr)
		}
	}
	if size >= 0 && written != size {
		return "", fmt.Errorf("short upload: %d of %d bytes", written, size)
	}
	m.mu.Lock()
	m.objects[path] = buf.Bytes()
	m.mu.Unlock()
	return m.ReferenceURL(path), nil
}

// ReferenceURL returns the URL Upload reports for path.
func (m *MemoryObjects) ReferenceURL(path string) string {
	return fmt.Sprintf("memory://%s/%s", m.Bucket, path)
}

// Get returns a copy of the object at path.
func (m *MemoryObjects) Get(path string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[path]
	if !ok {
		return nil, ErrNotFound
	}
	return bytes.Clone(data), nil
}

// Len returns the number of stored objects.
func (m *MemoryObjects) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
