// Package scheduler triggers ingestion runs on a cron schedule.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// DefaultSpec runs once a day at 06:00.
const DefaultSpec = "0 6 * * *"

// ErrSkipped may be returned by a Trigger to report that the tick was
// skipped rather than failed.
var ErrSkipped = errors.New("tick skipped")

// Trigger starts one run.
type Trigger func(ctx context.Context) error

// Config selects the cron expression and its timezone.
type Config struct {
	Spec     string
	Timezone string
	// Skip classifies trigger errors that mean "already running".
	Skip func(error) bool
}

// Scheduler wraps a cron.Cron with a single run entry.
type Scheduler struct {
	cron     *cron.Cron
	entryID  cron.EntryID
	trigger  Trigger
	skip     func(error) bool
	location *time.Location
	logger   *zap.Logger
	ctx      context.Context
	cancel   context.CancelFunc
}

// New parses cfg and registers trigger. Overlapping ticks are skipped.
func New(cfg Config, trigger Trigger, logger *zap.Logger) (*Scheduler, error) {
	if trigger == nil {
		return nil, errors.New("scheduler: trigger is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	loc := time.Local
	if cfg.Timezone != "" {
		var err error
		loc, err = time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("loading timezone %q: %w", cfg.Timezone, err)
		}
	}
	skip := cfg.Skip
	if skip == nil {
		skip = func(err error) bool { return errors.Is(err, ErrSkipped) }
	}

	cl := cronLogger{logger: logger.Named("cron")}
	s := &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		trigger:  trigger,
		skip:     skip,
		location: loc,
		logger:   logger,
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	id, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		return nil, fmt.Errorf("adding cron entry %q: %w", spec, err)
	}
	s.entryID = id
	logger.Info("fetch scheduled", zap.String("cron", spec), zap.String("timezone", loc.String()))
	return s, nil
}

func (s *Scheduler) tick() {
	err := s.trigger(s.ctx)
	switch {
	case err == nil:
		s.logger.Info("scheduled fetch completed")
	case s.skip(err):
		s.logger.Info("scheduled fetch skipped", zap.Error(err))
	default:
		s.logger.Error("scheduled fetch failed", zap.Error(err))
	}
}

// Next returns the next activation time, zero before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entryID).Next
}

// Start begins the cron scheduler in its own goroutine.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the scheduler, cancels the context of an active tick and waits
// for it until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for scheduled fetch: %w", ctx.Err())
	}
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, zap.Any("details", keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, zap.Error(err), zap.Any("details", keysAndValues))
}
