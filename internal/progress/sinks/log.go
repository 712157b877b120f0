package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/progress"
)

// LogSink writes run and source milestones to a zap logger. Fetch events are
// logged at debug level.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
		}
		switch evt.Stage {
		case progress.StageFetchDone:
			s.logger.Debug("fetch done", append(fields,
				zap.String("source_id", evt.Source),
				zap.String("url", evt.URL),
				zap.String("status_class", string(evt.StatusClass)),
				zap.Int64("bytes", evt.Bytes),
				zap.Bool("headless", evt.Headless),
				zap.Duration("dur", evt.Dur),
			)...)
		case progress.StageSourceStart, progress.StageSourceDone:
			fields = append(fields, zap.String("source_id", evt.Source))
			if evt.Stage == progress.StageSourceDone {
				fields = append(fields, zap.Int64("scraped", evt.Items), zap.Int64("failed", evt.Failed))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("source progress", fields...)
		default:
			if evt.Stage == progress.StageRunDone {
				fields = append(fields, zap.Int64("new_items", evt.Items))
			}
			if evt.Dur > 0 {
				fields = append(fields, zap.Duration("dur", evt.Dur))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Info("run progress", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
