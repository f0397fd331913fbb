package sink

import (
	"context"

	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/pkg/logger"
)

// LogSink writes every event as a structured log line.
type LogSink struct {
	log logger.Logger
}

// NewLogSink creates a sink that logs through l, or the global logger when
// l is nil.
func NewLogSink(l logger.Logger) *LogSink {
	if l == nil {
		l = logger.Get().Named("events")
	}
	return &LogSink{log: l}
}

func (s *LogSink) OnEvent(ctx context.Context, e model.Event) error {
	fields := []logger.Field{
		logger.String("event_id", e.ID),
		logger.String("stream", e.StreamID),
		logger.String("kind", e.Kind),
		logger.Time("timestamp", e.Timestamp),
		logger.String("value", e.Value),
	}
	if e.Level != "" {
		fields = append(fields, logger.String("level", e.Level))
	}
	s.log.Info(ctx, "event detected", fields...)
	return nil
}
