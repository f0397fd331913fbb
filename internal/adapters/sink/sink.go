// Package sink delivers classified events to external collaborators: the
// log, a NATS subject, or a stream on the telemetry service itself.
package sink

import (
	"context"
	"errors"

	"github.com/okian/telewatch/internal/domain/model"
)

// Sink receives classified events. Implementations must be safe for
// concurrent use; dispatch workers call OnEvent in parallel.
type Sink interface {
	OnEvent(ctx context.Context, e model.Event) error
}

// Func adapts a plain callback to Sink.
type Func func(ctx context.Context, e model.Event) error

// OnEvent calls f.
func (f Func) OnEvent(ctx context.Context, e model.Event) error { return f(ctx, e) }

// Multi fans an event out to every sink. All sinks are called even when one
// fails; failures are joined.
type Multi []Sink

// OnEvent delivers e to every sink in order.
func (m Multi) OnEvent(ctx context.Context, e model.Event) error {
	var errs []error
	for _, s := range m {
		if err := s.OnEvent(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
