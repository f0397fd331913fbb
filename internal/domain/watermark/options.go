package watermark

import "time"

// Option applies a configuration option to the in-memory tracker.
type Option func(*inMemoryTracker)

// WithInitial seeds watermarks, e.g. when resuming from a known position.
// Zero times are ignored.
func WithInitial(marks map[string]time.Time) Option {
	return func(t *inMemoryTracker) {
		for id, end := range marks {
			if !end.IsZero() {
				t.last[id] = end
			}
		}
	}
}
