package model

import (
	"time"

	"github.com/google/uuid"
)

// Event is a classified occurrence on a stream, e.g. a detected fall.
type Event struct {
	ID        string    `json:"id"`
	StreamID  string    `json:"stream_id"`
	Kind      string    `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	// Value is the sample value (or derived level) that triggered the event.
	Value string `json:"value"`
	// Level is set by level-tracking rules ("moving", "still", "0".."2").
	Level string `json:"level,omitempty"`
}

// NewEvent builds an event with a fresh random ID.
func NewEvent(streamID, kind string, ts time.Time, value string) Event {
	return Event{
		ID:        uuid.NewString(),
		StreamID:  streamID,
		Kind:      kind,
		Timestamp: ts,
		Value:     value,
	}
}
