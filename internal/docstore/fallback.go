package docstore

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// Fallback routes every call to a primary backend (a remote bucket) and
// degrades to a secondary (the local disk) when the primary is unavailable.
// Generation conflicts are not unavailability and are returned as-is. Reads
// served by the secondary report generation 0.
type Fallback struct {
	primary   Backend
	secondary Backend
	logger    *zap.Logger
}

// NewFallback wraps primary with secondary.
func NewFallback(primary, secondary Backend, logger *zap.Logger) *Fallback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Fallback{primary: primary, secondary: secondary, logger: logger}
}

// Kind implements Backend.
func (f *Fallback) Kind() string {
	return f.primary.Kind() + "+" + f.secondary.Kind()
}

// Read implements Backend.
func (f *Fallback) Read(ctx context.Context, name string) ([]byte, int64, error) {
	data, gen, err := f.primary.Read(ctx, name)
	if err == nil || errors.Is(err, ErrNotFound) || ctx.Err() != nil {
		return data, gen, err
	}
	f.logger.Warn("primary document backend unavailable, reading local copy",
		zap.String("document", name),
		zap.String("primary", f.primary.Kind()),
		zap.Error(err),
	)
	data, _, err = f.secondary.Read(ctx, name)
	if err != nil {
		return nil, 0, err
	}
	return data, 0, nil
}

// Write implements Backend.
func (f *Fallback) Write(ctx context.Context, name string, data []byte, generation *int64) (int64, error) {
	gen, err := f.primary.Write(ctx, name, data, generation)
	if err == nil || errors.Is(err, ErrConflict) || ctx.Err() != nil {
		return gen, err
	}
	f.logger.Warn("primary document backend unavailable, writing local copy",
		zap.String("document", name),
		zap.String("primary", f.primary.Kind()),
		zap.Error(err),
	)
	if _, localErr := f.secondary.Write(ctx, name, data, nil); localErr != nil {
		return 0, errors.Join(err, localErr)
	}
	return 0, nil
}
