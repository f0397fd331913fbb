package worker

import (
	"time"

	"github.com/okian/telewatch/pkg/logger"
)

// Option applies a configuration option to the InMemoryWorker.
type Option func(*InMemoryWorker)

// WithName sets the worker name for identification and logging.
func WithName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.name = name
		}
	}
}

// WithLogger sets a custom logger for the worker.
func WithLogger(logger logger.Logger) Option {
	return func(w *InMemoryWorker) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithSinkName sets the sink label used in dispatch metrics.
func WithSinkName(name string) Option {
	return func(w *InMemoryWorker) {
		if name != "" {
			w.sinkName = name
		}
	}
}

// WithDeliveryTimeout bounds a single OnEvent call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(w *InMemoryWorker) {
		if d > 0 {
			w.deliveryTimeout = d
		}
	}
}
