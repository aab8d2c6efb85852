package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/telespot/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where a durable store is unavailable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch using structured fields. Task events
// log at debug level; run lifecycle events at info.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.Duration("dur", evt.Dur),
		}
		switch evt.Stage {
		case progress.StageTaskDone, progress.StageTaskFailed:
			fields = append(fields,
				zap.String("task_id", evt.TaskID),
				zap.String("provider", evt.Provider),
				zap.String("query", evt.Query),
				zap.Int("results", evt.ResultCount),
			)
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			s.logger.Debug("progress event", fields...)
		default:
			fields = append(fields,
				zap.Int("tasks", evt.Tasks),
				zap.Int("results", evt.ResultCount),
				zap.Int("duplicates", evt.Duplicates),
				zap.String("note", evt.Note),
			)
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
