// Package memory keeps documents in process memory with real generations, so
// compare-and-swap behaves as it does against a bucket.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/pnrr-announcements/internal/docstore"
)

type entry struct {
	data []byte
	gen  int64
}

// Backend is a concurrency-safe in-memory docstore backend.
type Backend struct {
	mu   sync.RWMutex
	docs map[string]entry
	next int64
}

// New creates an empty Backend.
func New() *Backend {
	return &Backend{docs: make(map[string]entry)}
}

// Kind implements docstore.Backend.
func (b *Backend) Kind() string {
	return "memory"
}

// Read implements docstore.Backend.
func (b *Backend) Read(_ context.Context, name string) ([]byte, int64, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.docs[name]
	if !ok {
		return nil, 0, docstore.ErrNotFound
	}
	return append([]byte(nil), e.data...), e.gen, nil
}

// Write implements docstore.Backend.
func (b *Backend) Write(_ context.Context, name string, data []byte, generation *int64) (int64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	current := b.docs[name].gen
	if generation != nil && *generation != current {
		return 0, &docstore.ConflictError{Name: name, Expected: *generation, Actual: current}
	}
	b.next++
	b.docs[name] = entry{data: append([]byte(nil), data...), gen: b.next}
	return b.next, nil
}

// Names lists stored document names.
func (b *Backend) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.docs))
	for name := range b.docs {
		out = append(out, name)
	}
	return out
}
