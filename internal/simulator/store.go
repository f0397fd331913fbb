// Package simulator is a local stand-in for the M2X stream values API: an
// in-memory store of device streams, an HTTP server speaking the same JSON
// shapes as the real service, and a generator of wearable-like readings.
package simulator

import (
	"sort"
	"sync"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
)

// Store keeps samples per device and stream, ordered by timestamp.
type Store struct {
	mu      sync.RWMutex
	streams map[string]map[string][]model.Sample
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{streams: make(map[string]map[string][]model.Sample)}
}

// Append inserts s keeping the stream ordered.
func (s *Store) Append(device, stream string, sample model.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	dev, ok := s.streams[device]
	if !ok {
		dev = make(map[string][]model.Sample)
		s.streams[device] = dev
	}
	values := dev[stream]
	i := sort.Search(len(values), func(i int) bool { return values[i].Timestamp.After(sample.Timestamp) })
	values = append(values, model.Sample{})
	copy(values[i+1:], values[i:])
	values[i] = sample
	dev[stream] = values
}

// Range returns the samples with start <= timestamp <= end, oldest first.
// A zero start or end leaves that side open.
func (s *Store) Range(device, stream string, start, end time.Time) []model.Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	values := s.streams[device][stream]
	lo := 0
	if !start.IsZero() {
		lo = sort.Search(len(values), func(i int) bool { return !values[i].Timestamp.Before(start) })
	}
	hi := len(values)
	if !end.IsZero() {
		hi = sort.Search(len(values), func(i int) bool { return values[i].Timestamp.After(end) })
	}
	if lo >= hi {
		return nil
	}
	out := make([]model.Sample, hi-lo)
	copy(out, values[lo:hi])
	return out
}

// Len returns the number of samples held for a stream.
func (s *Store) Len(device, stream string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.streams[device][stream])
}
