// Package watermark tracks the last fully processed window end per stream.
package watermark

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
)

// Tracker remembers the high-water mark of each stream so a poller never
// processes the same window twice.
type Tracker interface {
	// ShouldProcess reports whether candidateEnd is strictly newer than the
	// stream's watermark. Unknown streams always return true.
	ShouldProcess(ctx context.Context, streamID string, candidateEnd time.Time) (bool, error)

	// Advance moves the watermark to newEnd. A newEnd that is not after the
	// current watermark leaves it unchanged; watermarks never move back.
	Advance(ctx context.Context, streamID string, newEnd time.Time) error

	// Last returns the current watermark and whether one exists.
	Last(ctx context.Context, streamID string) (time.Time, bool, error)

	// Snapshot returns every known watermark ordered by stream ID.
	Snapshot(ctx context.Context) ([]model.WatermarkState, error)
}

// inMemoryTracker implements Tracker with a mutex-guarded map.
type inMemoryTracker struct {
	mu   sync.RWMutex
	last map[string]time.Time
}

// NewInMemoryTracker creates a tracker whose state lives for the process lifetime.
func NewInMemoryTracker(opts ...Option) Tracker {
	t := &inMemoryTracker{
		last: make(map[string]time.Time),
	}

	for _, opt := range opts {
		opt(t)
	}

	return t
}

// ShouldProcess compares against the zero instant for unseen streams, so
// the first window is always processed.
func (t *inMemoryTracker) ShouldProcess(_ context.Context, streamID string, candidateEnd time.Time) (bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last, ok := t.last[streamID]
	if !ok {
		return true, nil
	}
	return candidateEnd.After(last), nil
}

func (t *inMemoryTracker) Advance(_ context.Context, streamID string, newEnd time.Time) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if last, ok := t.last[streamID]; ok && !newEnd.After(last) {
		return nil
	}
	t.last[streamID] = newEnd
	return nil
}

func (t *inMemoryTracker) Last(_ context.Context, streamID string) (time.Time, bool, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	last, ok := t.last[streamID]
	return last, ok, nil
}

func (t *inMemoryTracker) Snapshot(_ context.Context) ([]model.WatermarkState, error) {
	t.mu.RLock()
	out := make([]model.WatermarkState, 0, len(t.last))
	for id, last := range t.last {
		out = append(out, model.WatermarkState{StreamID: id, LastSeenEnd: last})
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].StreamID < out[j].StreamID })
	return out, nil
}
