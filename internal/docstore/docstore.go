// Package docstore loads and saves JSON documents with optimistic
// concurrency. A document carries a generation token: 0 for a document that
// does not exist yet or for backends without versioning, and a
// backend-assigned increasing number otherwise. Saving with a generation is a
// compare-and-swap.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ErrNotFound is returned by backends when the named document does not exist.
var ErrNotFound = errors.New("docstore: document not found")

// ErrConflict matches every ConflictError via errors.Is.
var ErrConflict = errors.New("docstore: generation conflict")

// ConflictError reports a conditional write rejected because the stored
// generation changed since it was read.
type ConflictError struct {
	Name     string
	Expected int64
	Actual   int64
}

func (e *ConflictError) Error() string {
	if e.Actual < 0 {
		return fmt.Sprintf("docstore: %s changed since generation %d", e.Name, e.Expected)
	}
	return fmt.Sprintf("docstore: %s is at generation %d, expected %d", e.Name, e.Actual, e.Expected)
}

// Is lets errors.Is(err, ErrConflict) match.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// Backend reads and writes raw documents.
type Backend interface {
	// Read returns the document bytes and generation, or ErrNotFound.
	Read(ctx context.Context, name string) ([]byte, int64, error)
	// Write stores data. When generation is non-nil the write only applies if
	// the stored generation still equals *generation (0 meaning "absent"),
	// otherwise it fails with a ConflictError and leaves the document intact.
	// It returns the new generation.
	Write(ctx context.Context, name string, data []byte, generation *int64) (int64, error)
	// Kind names the backend for logs.
	Kind() string
}

// Store is a typed view over one named document.
type Store[T any] struct {
	backend Backend
	name    string
	logger  *zap.Logger
}

// New binds a document name to a backend.
func New[T any](backend Backend, name string, logger *zap.Logger) *Store[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store[T]{backend: backend, name: name, logger: logger}
}

// Name returns the document name.
func (s *Store[T]) Name() string {
	return s.name
}

// Load decodes the document. When it does not exist, def is returned with
// generation 0.
func (s *Store[T]) Load(ctx context.Context, def T) (T, int64, error) {
	data, gen, err := s.backend.Read(ctx, s.name)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return def, 0, nil
		}
		return def, 0, fmt.Errorf("load %s: %w", s.name, err)
	}
	var doc T
	if err := json.Unmarshal(data, &doc); err != nil {
		return def, 0, fmt.Errorf("decode %s: %w", s.name, err)
	}
	return doc, gen, nil
}

// Save encodes and writes doc. A nil generation makes the write
// unconditional.
func (s *Store[T]) Save(ctx context.Context, doc T, generation *int64) (int64, error) {
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return 0, fmt.Errorf("encode %s: %w", s.name, err)
	}
	gen, err := s.backend.Write(ctx, s.name, data, generation)
	if err != nil {
		return 0, fmt.Errorf("save %s: %w", s.name, err)
	}
	s.logger.Debug("document saved",
		zap.String("document", s.name),
		zap.String("backend", s.backend.Kind()),
		zap.Int64("generation", gen),
	)
	return gen, nil
}
