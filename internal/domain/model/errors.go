package model

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel error kinds shared across layers. These allow errors.Is from callers.
var (
	ErrTransport     = errors.New("transport error")
	ErrMalformedData = errors.New("malformed data")
	ErrConfiguration = errors.New("configuration error")
)

// TransportError reports a failed fetch (network, auth, status, body).
// Pollers treat it as transient and skip the cycle.
type TransportError struct {
	Op         string
	StreamID   string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprintf("%s %s", e.Op, e.StreamID)
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(": status %d", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause.
func (e *TransportError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrTransport}
	}
	return []error{ErrTransport, e.Err}
}

// MalformedDataError reports a single sample that could not be interpreted.
type MalformedDataError struct {
	Timestamp time.Time
	Value     string
	Reason    string
	Err       error
}

func (e *MalformedDataError) Error() string {
	return fmt.Sprintf("malformed sample at %s (%q): %s", e.Timestamp.Format(time.RFC3339Nano), e.Value, e.Reason)
}

// Unwrap exposes both the sentinel and the cause.
func (e *MalformedDataError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrMalformedData}
	}
	return []error{ErrMalformedData, e.Err}
}
