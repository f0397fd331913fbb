// Package m2x is a minimal client for the M2X stream values API: reading a
// time window of a device stream and writing a single value back.
package m2x

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/pkg/logger"
)

// Defaults for the public API.
const (
	DefaultBaseURL   = "https://api-m2x.att.com/v2"
	defaultUserAgent = "telewatch/1"
	defaultTimeout   = 30 * time.Second
	// maxBodyBytes bounds how much of a response is read.
	maxBodyBytes = 8 << 20
)

// ErrMissingDevice is returned by New when no device ID is given.
var ErrMissingDevice = errors.New("m2x: device id is required")

// Client talks to one M2X device.
type Client struct {
	baseURL   string
	apiKey    string
	deviceID  string
	userAgent string
	http      *http.Client
	logger    logger.Logger
}

// New creates a client for deviceID.
func New(deviceID string, opts ...Option) (*Client, error) {
	if strings.TrimSpace(deviceID) == "" {
		return nil, fmt.Errorf("%w: %w", model.ErrConfiguration, ErrMissingDevice)
	}
	c := &Client{
		baseURL:   DefaultBaseURL,
		deviceID:  deviceID,
		userAgent: defaultUserAgent,
		http:      &http.Client{Timeout: defaultTimeout},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.Get().Named("m2x")
	}
	return c, nil
}

// DeviceID returns the device this client reads from.
func (c *Client) DeviceID() string { return c.deviceID }

// Fetch reads the values of streamID between windowStart and windowEnd.
// The returned window carries the server-reported end and the samples
// oldest-first. Failures of any kind up to and including decoding the body
// are reported as *model.TransportError; individual undecodable samples are
// skipped and counted.
func (c *Client) Fetch(ctx context.Context, streamID string, windowStart, windowEnd time.Time) (model.Window, error) {
	const op = "fetch"

	q := url.Values{}
	q.Set("start", FormatTime(windowStart))
	q.Set("end", FormatTime(windowEnd))
	endpoint := c.streamURL(streamID) + "/values.json?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return model.Window{}, &model.TransportError{Op: op, StreamID: streamID, Err: err}
	}
	c.decorate(req)
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return model.Window{}, withStream(err, op, streamID)
	}

	var resp ValuesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return model.Window{}, &model.TransportError{Op: op, StreamID: streamID, Err: fmt.Errorf("decode body: %w", err)}
	}

	end := windowEnd
	if resp.End != "" {
		end, err = ParseTime(resp.End)
		if err != nil {
			return model.Window{}, &model.TransportError{Op: op, StreamID: streamID, Err: fmt.Errorf("decode end: %w", err)}
		}
	}
	start := windowStart
	if resp.Start != "" {
		if s, err := ParseTime(resp.Start); err == nil {
			start = s
		}
	}

	samples, bad := toSamples(resp.Values)
	for _, e := range bad {
		c.logger.Debug(ctx, "skipping malformed sample",
			logger.String("stream", streamID),
			logger.Error(e))
	}

	return model.Window{
		StreamID: streamID,
		Start:    start,
		End:      end,
		Samples:  samples,
		Skipped:  len(bad),
	}, nil
}

// UpdateValue writes a single value to streamID. A zero ts lets the server
// stamp the value.
func (c *Client) UpdateValue(ctx context.Context, streamID, value string, ts time.Time) error {
	const op = "update"

	payload := UpdateRequest{Value: value}
	if !ts.IsZero() {
		payload.Timestamp = FormatTime(ts)
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return &model.TransportError{Op: op, StreamID: streamID, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.streamURL(streamID)+"/value", bytes.NewReader(data))
	if err != nil {
		return &model.TransportError{Op: op, StreamID: streamID, Err: err}
	}
	c.decorate(req)
	req.Header.Set("Content-Type", "application/json")

	if _, err := c.do(req); err != nil {
		return withStream(err, op, streamID)
	}
	return nil
}

func (c *Client) streamURL(streamID string) string {
	return c.baseURL + "/devices/" + url.PathEscape(c.deviceID) + "/streams/" + url.PathEscape(streamID)
}

func (c *Client) decorate(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("X-M2X-KEY", c.apiKey)
	}
	req.Header.Set("User-Agent", c.userAgent)
}

// do executes req and returns the body of a 2xx response.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &model.TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, &model.TransportError{StatusCode: resp.StatusCode, Err: fmt.Errorf("read body: %w", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &model.TransportError{StatusCode: resp.StatusCode, Err: apiError(body)}
	}
	return body, nil
}

// apiError extracts the message of an error body, if any.
func apiError(body []byte) error {
	var e struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &e); err == nil && e.Message != "" {
		return errors.New(e.Message)
	}
	msg := strings.TrimSpace(string(body))
	if len(msg) > 200 {
		msg = msg[:200]
	}
	if msg == "" {
		return errors.New("empty response")
	}
	return errors.New(msg)
}

func withStream(err error, op, streamID string) error {
	var te *model.TransportError
	if errors.As(err, &te) {
		te.Op = op
		te.StreamID = streamID
		return te
	}
	return &model.TransportError{Op: op, StreamID: streamID, Err: err}
}
