// Package model contains domain models passed between layers.
package model

import (
	"strconv"
	"strings"
	"time"
)

// Sample is one time-series value of a stream. String and numeric payloads
// are both kept as text; numeric rules parse on demand.
type Sample struct {
	Timestamp time.Time
	Value     string
}

// Float parses the value as a real number.
func (s Sample) Float() (float64, error) {
	v := strings.TrimSpace(s.Value)
	if v == "" {
		return 0, &MalformedDataError{Timestamp: s.Timestamp, Value: s.Value, Reason: "empty value"}
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, &MalformedDataError{Timestamp: s.Timestamp, Value: s.Value, Reason: "not a number", Err: err}
	}
	return f, nil
}

// Window is the result of one fetch: the server-reported end of the
// requested range plus the samples inside it, oldest first.
type Window struct {
	StreamID string
	Start    time.Time
	End      time.Time
	Samples  []Sample
	// Skipped counts wire samples dropped because they could not be decoded.
	Skipped int
}

// WatermarkState is the high-water mark of a single stream.
type WatermarkState struct {
	StreamID    string    `json:"stream_id"`
	LastSeenEnd time.Time `json:"last_seen_end"`
}

// ClassifierState exposes the cooldown bookkeeping of a classifier.
type ClassifierState struct {
	Kind        string        `json:"kind"`
	LastEventAt *time.Time    `json:"last_event_at,omitempty"`
	Cooldown    time.Duration `json:"cooldown"`
	Threshold   float64       `json:"threshold"`
	Level       string        `json:"level,omitempty"`
}
