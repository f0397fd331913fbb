package m2x

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
)

// TimeLayout is the ISO-8601 form the API uses for window bounds and sample
// timestamps.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// FormatTime renders t in the API layout (always UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime accepts the API layout and falls back to RFC 3339.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// ValuesResponse is the body of GET .../streams/{name}/values.json.
type ValuesResponse struct {
	Start  string      `json:"start,omitempty"`
	End    string      `json:"end,omitempty"`
	Limit  int         `json:"limit,omitempty"`
	Values []WireValue `json:"values"`
}

// WireValue is one sample as sent on the wire. Value is kept raw because
// streams carry either strings or numbers.
type WireValue struct {
	Timestamp string          `json:"timestamp"`
	Value     json.RawMessage `json:"value"`
}

// UpdateRequest is the body of PUT .../streams/{name}/value.
type UpdateRequest struct {
	Value     string `json:"value"`
	Timestamp string `json:"timestamp,omitempty"`
}

// decodeValue renders a raw JSON string or number as text.
func decodeValue(raw json.RawMessage) (string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return "", fmt.Errorf("missing value")
	}
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '-', '0', '1', '2', '3', '4', '5', '6', '7', '8', '9':
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	default:
		return "", fmt.Errorf("unsupported value %s", string(raw))
	}
}

// toSamples converts wire values into samples sorted oldest-first. Values
// that cannot be decoded are returned as malformed errors and left out.
func toSamples(values []WireValue) ([]model.Sample, []error) {
	out := make([]model.Sample, 0, len(values))
	var bad []error
	for _, wv := range values {
		ts, err := ParseTime(wv.Timestamp)
		if err != nil {
			bad = append(bad, &model.MalformedDataError{Value: string(wv.Value), Reason: "bad timestamp " + wv.Timestamp, Err: err})
			continue
		}
		v, err := decodeValue(wv.Value)
		if err != nil {
			bad = append(bad, &model.MalformedDataError{Timestamp: ts, Value: string(wv.Value), Reason: "bad value", Err: err})
			continue
		}
		out = append(out, model.Sample{Timestamp: ts, Value: v})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, bad
}
