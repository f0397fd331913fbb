package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
)

// Updater writes one value to a telemetry stream, e.g. *m2x.Client.
type Updater interface {
	UpdateValue(ctx context.Context, streamID, value string, ts time.Time) error
}

// StreamSink writes classification results back to telemetry streams so
// other consumers of the device see them, e.g. kind "fall" to stream
// "hasFallen". Events of unmapped kinds are ignored.
type StreamSink struct {
	updater Updater
	targets map[string]string
}

// NewStreamSink creates a sink that maps event kinds to target streams.
func NewStreamSink(u Updater, targets map[string]string) *StreamSink {
	t := make(map[string]string, len(targets))
	for kind, stream := range targets {
		if kind != "" && stream != "" {
			t[kind] = stream
		}
	}
	return &StreamSink{updater: u, targets: t}
}

func (s *StreamSink) OnEvent(ctx context.Context, e model.Event) error {
	target, ok := s.targets[e.Kind]
	if !ok {
		return nil
	}
	value := e.Value
	if e.Level != "" {
		value = e.Level
	}
	if err := s.updater.UpdateValue(ctx, target, value, e.Timestamp); err != nil {
		return fmt.Errorf("write %s to %s: %w", e.Kind, target, err)
	}
	return nil
}
