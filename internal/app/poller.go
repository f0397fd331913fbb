package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/telewatch/internal/domain/classify"
	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/internal/domain/watermark"
	"github.com/okian/telewatch/pkg/logger"
	"github.com/okian/telewatch/pkg/metrics"
)

// Default poller configuration constants.
const (
	DefaultInterval = 5 * time.Second
	DefaultLookback = 5 * time.Second
)

// ErrCycleInFlight is returned by PollOnce when a cycle is already running.
var ErrCycleInFlight = errors.New("poll cycle already in flight")

// Fetcher reads one window of a stream, e.g. *m2x.Client.
type Fetcher interface {
	Fetch(ctx context.Context, streamID string, windowStart, windowEnd time.Time) (model.Window, error)
}

// EmitFunc receives every event a poller emits.
type EmitFunc func(ctx context.Context, e model.Event)

// Poller drives fetch, classify and advance for one stream on a fixed
// interval. At most one cycle runs at a time; ticks that arrive while a
// cycle is in flight are dropped.
type Poller struct {
	streamID    string
	fetcher     Fetcher
	tracker     watermark.Tracker
	classifiers []*classify.Classifier
	emit        EmitFunc

	interval     time.Duration
	fetchTimeout time.Duration
	lookback     time.Duration
	now          func() time.Time

	// mu guards classifier state against concurrent stats reads.
	mu       sync.Mutex
	inFlight atomic.Bool
	cycles   sync.WaitGroup

	stats pollerCounters

	logger logger.Logger
}

type pollerCounters struct {
	cycles          atomic.Int64
	processed       atomic.Int64
	stale           atomic.Int64
	transportErrors atomic.Int64
	trackerErrors   atomic.Int64
	discarded       atomic.Int64
	ticksDropped    atomic.Int64
	samples         atomic.Int64
	malformed       atomic.Int64
	events          atomic.Int64
	suppressed      atomic.Int64

	mu        sync.Mutex
	lastPoll  time.Time
	lastError string
}

// PollerStats is a point-in-time view of a poller.
type PollerStats struct {
	StreamID        string                  `json:"stream_id"`
	Cycles          int64                   `json:"cycles"`
	Processed       int64                   `json:"processed"`
	Stale           int64                   `json:"stale"`
	TransportErrors int64                   `json:"transport_errors"`
	TrackerErrors   int64                   `json:"tracker_errors"`
	Discarded       int64                   `json:"discarded"`
	TicksDropped    int64                   `json:"ticks_dropped"`
	Samples         int64                   `json:"samples"`
	Malformed       int64                   `json:"malformed"`
	Events          int64                   `json:"events"`
	Suppressed      int64                   `json:"suppressed"`
	LastPollAt      *time.Time              `json:"last_poll_at,omitempty"`
	LastError       string                  `json:"last_error,omitempty"`
	Classifiers     []model.ClassifierState `json:"classifiers"`
}

// PollerOption applies a configuration option to the Poller.
type PollerOption func(*Poller)

// WithInterval sets the tick interval.
func WithInterval(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithFetchTimeout bounds a single fetch. It defaults to the interval.
func WithFetchTimeout(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.fetchTimeout = d
		}
	}
}

// WithLookback sets how far back the first window of an unseen stream reaches.
func WithLookback(d time.Duration) PollerOption {
	return func(p *Poller) {
		if d > 0 {
			p.lookback = d
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) PollerOption {
	return func(p *Poller) {
		if now != nil {
			p.now = now
		}
	}
}

// WithEmitter sets the event callback.
func WithEmitter(fn EmitFunc) PollerOption {
	return func(p *Poller) {
		if fn != nil {
			p.emit = fn
		}
	}
}

// WithPollerLogger sets a custom logger for the poller.
func WithPollerLogger(l logger.Logger) PollerOption {
	return func(p *Poller) {
		if l != nil {
			p.logger = l
		}
	}
}

// NewPoller creates a poller for streamID evaluating every rule in rules.
func NewPoller(streamID string, fetcher Fetcher, tracker watermark.Tracker, rules []classify.Config, opts ...PollerOption) (*Poller, error) {
	if streamID == "" {
		return nil, fmt.Errorf("%w: stream id must not be empty", model.ErrConfiguration)
	}
	if fetcher == nil || tracker == nil {
		return nil, fmt.Errorf("%w: stream %s needs a fetcher and a tracker", model.ErrConfiguration, streamID)
	}
	if len(rules) == 0 {
		return nil, fmt.Errorf("%w: stream %s has no rules", model.ErrConfiguration, streamID)
	}

	p := &Poller{
		streamID: streamID,
		fetcher:  fetcher,
		tracker:  tracker,
		emit:     func(context.Context, model.Event) {},
		interval: DefaultInterval,
		lookback: DefaultLookback,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logger.Get().Named("poller")
	}
	if p.fetchTimeout == 0 {
		p.fetchTimeout = p.interval
	}

	for _, rule := range rules {
		c, err := classify.New(rule)
		if err != nil {
			return nil, fmt.Errorf("stream %s: %w", streamID, err)
		}
		p.classifiers = append(p.classifiers, c)
	}

	return p, nil
}

// StreamID returns the polled stream.
func (p *Poller) StreamID() string { return p.streamID }

// Run polls immediately and then on every tick until ctx is canceled. It
// returns after the in-flight cycle, if any, has finished.
func (p *Poller) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	defer p.cycles.Wait()

	p.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.tick(ctx)
		}
	}
}

// tick starts a cycle unless one is running or a stop was requested.
func (p *Poller) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	if !p.inFlight.CompareAndSwap(false, true) {
		p.stats.ticksDropped.Add(1)
		metrics.RecordTickDropped(p.streamID)
		p.logger.Debug(ctx, "tick dropped, cycle in flight", logger.String("stream", p.streamID))
		return
	}
	p.cycles.Add(1)
	go func() {
		defer p.cycles.Done()
		defer p.inFlight.Store(false)
		p.cycle(ctx)
	}()
}

// PollOnce runs a single cycle synchronously and returns its outcome.
func (p *Poller) PollOnce(ctx context.Context) (string, error) {
	if !p.inFlight.CompareAndSwap(false, true) {
		return "", ErrCycleInFlight
	}
	defer p.inFlight.Store(false)
	return p.cycle(ctx)
}

// cycle is Idle -> Fetching -> Processing -> Idle. Fetch failures leave the
// watermark and classifier state untouched so the next tick retries the
// same window start.
func (p *Poller) cycle(ctx context.Context) (outcome string, err error) {
	p.stats.cycles.Add(1)
	defer func() {
		p.record(outcome, err)
	}()

	now := p.now()
	last, seen, err := p.tracker.Last(ctx, p.streamID)
	if err != nil {
		return metrics.PollTrackerError, fmt.Errorf("read watermark: %w", err)
	}
	windowStart := now.Add(-p.lookback)
	if seen {
		windowStart = last
	}

	// Fetching. A stop does not abort the request; its result is dropped below.
	fetchCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.fetchTimeout)
	started := time.Now()
	window, err := p.fetcher.Fetch(fetchCtx, p.streamID, windowStart, now)
	cancel()
	metrics.RecordFetchLatency(p.streamID, float64(time.Since(started).Milliseconds()))
	if err != nil {
		return metrics.PollTransportError, err
	}
	if ctx.Err() != nil {
		return metrics.PollDiscarded, nil
	}

	// Processing runs to completion once started.
	pctx := context.WithoutCancel(ctx)
	ok, err := p.tracker.ShouldProcess(pctx, p.streamID, window.End)
	if err != nil {
		return metrics.PollTrackerError, fmt.Errorf("check watermark: %w", err)
	}
	if !ok {
		return metrics.PollStale, nil
	}

	fresh := window.Samples
	if seen {
		fresh = newerThan(window.Samples, last)
	}
	p.classify(pctx, fresh, window.Skipped)

	if err := p.tracker.Advance(pctx, p.streamID, window.End); err != nil {
		return metrics.PollTrackerError, fmt.Errorf("advance watermark: %w", err)
	}
	metrics.UpdateWatermark(p.streamID, float64(window.End.Unix()), now.Sub(window.End).Seconds())

	return metrics.PollProcessed, nil
}

func (p *Poller) classify(ctx context.Context, samples []model.Sample, skipped int) {
	p.stats.samples.Add(int64(len(samples)))
	metrics.RecordSamples(p.streamID, len(samples))

	malformed := skipped
	var emitted []model.Event

	p.mu.Lock()
	for _, c := range p.classifiers {
		res := c.Process(p.streamID, samples)
		malformed += res.Malformed
		emitted = append(emitted, res.Events...)
		for i := 0; i < res.Suppressed; i++ {
			metrics.RecordEventSuppressed(p.streamID, c.Kind())
		}
		p.stats.suppressed.Add(int64(res.Suppressed))
	}
	p.mu.Unlock()

	// malformed counts per rule; a bad sample seen by two rules counts twice
	p.stats.malformed.Add(int64(malformed))
	metrics.RecordMalformedSamples(p.streamID, malformed)

	for _, ev := range emitted {
		p.stats.events.Add(1)
		metrics.RecordEventEmitted(p.streamID, ev.Kind)
		p.logger.Info(ctx, "event emitted",
			logger.String("stream", p.streamID),
			logger.String("kind", ev.Kind),
			logger.Time("timestamp", ev.Timestamp),
			logger.String("value", ev.Value),
		)
		p.emit(ctx, ev)
	}
}

func (p *Poller) record(outcome string, err error) {
	metrics.RecordPoll(p.streamID, outcome)

	switch outcome {
	case metrics.PollProcessed:
		p.stats.processed.Add(1)
	case metrics.PollStale:
		p.stats.stale.Add(1)
	case metrics.PollDiscarded:
		p.stats.discarded.Add(1)
	case metrics.PollTransportError:
		p.stats.transportErrors.Add(1)
	case metrics.PollTrackerError:
		p.stats.trackerErrors.Add(1)
		metrics.RecordErrorByComponent("poller", "tracker")
	}

	p.stats.mu.Lock()
	p.stats.lastPoll = p.now()
	p.stats.lastError = ""
	if err != nil {
		p.stats.lastError = err.Error()
	}
	p.stats.mu.Unlock()

	if err == nil {
		return
	}
	ctx := context.Background()
	if errors.Is(err, model.ErrTransport) {
		p.logger.Warn(ctx, "fetch failed, skipping cycle",
			logger.String("stream", p.streamID),
			logger.Error(err))
		return
	}
	p.logger.Error(ctx, "poll cycle failed",
		logger.String("stream", p.streamID),
		logger.String("outcome", outcome),
		logger.Error(err))
}

// Stats returns counters and classifier state.
func (p *Poller) Stats() PollerStats {
	st := PollerStats{
		StreamID:        p.streamID,
		Cycles:          p.stats.cycles.Load(),
		Processed:       p.stats.processed.Load(),
		Stale:           p.stats.stale.Load(),
		TransportErrors: p.stats.transportErrors.Load(),
		TrackerErrors:   p.stats.trackerErrors.Load(),
		Discarded:       p.stats.discarded.Load(),
		TicksDropped:    p.stats.ticksDropped.Load(),
		Samples:         p.stats.samples.Load(),
		Malformed:       p.stats.malformed.Load(),
		Events:          p.stats.events.Load(),
		Suppressed:      p.stats.suppressed.Load(),
	}

	p.stats.mu.Lock()
	if !p.stats.lastPoll.IsZero() {
		at := p.stats.lastPoll
		st.LastPollAt = &at
	}
	st.LastError = p.stats.lastError
	p.stats.mu.Unlock()

	p.mu.Lock()
	for _, c := range p.classifiers {
		st.Classifiers = append(st.Classifiers, c.State())
	}
	p.mu.Unlock()

	return st
}

// newerThan returns the samples strictly after mark.
func newerThan(samples []model.Sample, mark time.Time) []model.Sample {
	out := samples[:0:0]
	for _, s := range samples {
		if s.Timestamp.After(mark) {
			out = append(out, s)
		}
	}
	return out
}
