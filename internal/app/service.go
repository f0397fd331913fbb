// Package service wires pollers, the watermark tracker and the event
// dispatcher into the watcher that backs the ops API.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	eventqueue "github.com/okian/telewatch/internal/adapters/mq/queue"
	workerpool "github.com/okian/telewatch/internal/adapters/mq/worker"
	"github.com/okian/telewatch/internal/domain/classify"
	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/internal/domain/watermark"
	"github.com/okian/telewatch/pkg/logger"
	"github.com/okian/telewatch/pkg/metrics"
)

// Default watcher configuration constants.
const (
	defaultQueueSize       = 1024
	defaultWorkerCount     = 2
	defaultShutdownTimeout = 10 * time.Second
	defaultSinkName        = "sink"
)

// ErrNotStarted is returned by operations that need a running watcher.
var ErrNotStarted = errors.New("watcher not started")

// Stream is one monitored stream and the rules evaluated on it.
type Stream struct {
	ID    string
	Rules []classify.Config
}

// Watcher polls every configured stream and hands emitted events to the
// sink through a bounded queue.
type Watcher struct {
	mu sync.RWMutex

	// Core components
	fetcher Fetcher
	tracker watermark.Tracker
	sink    workerpool.Sink
	streams []Stream
	history *history
	dropped atomic.Int64

	// Configuration
	interval        time.Duration
	fetchTimeout    time.Duration
	lookback        time.Duration
	queueSize       int
	workerCount     int
	deliveryTimeout time.Duration
	shutdownTimeout time.Duration
	historySize     int
	sinkName        string
	now             func() time.Time

	// State
	pollers    []*Poller
	started    bool
	startedAt  time.Time
	eventQueue *eventqueue.InMemoryQueue
	workerPool *workerpool.Pool
	cancel     context.CancelFunc
	running    sync.WaitGroup

	// Logging
	logger logger.Logger
}

// Option applies a configuration option to the Watcher.
type Option func(*Watcher)

// WithPollInterval sets the tick interval of every poller.
func WithPollInterval(d time.Duration) Option {
	return func(w *Watcher) {
		w.interval = d
	}
}

// WithPollFetchTimeout bounds every fetch. Zero means the poll interval.
func WithPollFetchTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		w.fetchTimeout = d
	}
}

// WithPollLookback sets the reach of the first window of an unseen stream.
func WithPollLookback(d time.Duration) Option {
	return func(w *Watcher) {
		w.lookback = d
	}
}

// WithQueueSize sets the maximum number of undelivered events.
func WithQueueSize(size int) Option {
	return func(w *Watcher) {
		if size > 0 {
			w.queueSize = size
		}
	}
}

// WithWorkerCount sets the number of dispatch workers.
func WithWorkerCount(count int) Option {
	return func(w *Watcher) {
		if count > 0 {
			w.workerCount = count
		}
	}
}

// WithDeliveryTimeout bounds a single sink call.
func WithDeliveryTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.deliveryTimeout = d
		}
	}
}

// WithShutdownTimeout bounds how long Stop waits for the queue to drain.
func WithShutdownTimeout(d time.Duration) Option {
	return func(w *Watcher) {
		if d > 0 {
			w.shutdownTimeout = d
		}
	}
}

// WithHistorySize sets how many recent events are kept for RecentEvents.
func WithHistorySize(n int) Option {
	return func(w *Watcher) {
		if n > 0 {
			w.historySize = n
		}
	}
}

// WithSinkName sets the sink label used in dispatch metrics.
func WithSinkName(name string) Option {
	return func(w *Watcher) {
		if name != "" {
			w.sinkName = name
		}
	}
}

// WithNow replaces time.Now for every poller.
func WithNow(now func() time.Time) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
	}
}

// WithLogger sets a custom logger for the watcher.
func WithLogger(l logger.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// New constructs a watcher and validates its configuration. Invalid
// configuration is reported as model.ErrConfiguration.
func New(fetcher Fetcher, tracker watermark.Tracker, sink workerpool.Sink, streams []Stream, opts ...Option) (*Watcher, error) {
	w := &Watcher{
		fetcher:         fetcher,
		tracker:         tracker,
		sink:            sink,
		streams:         streams,
		interval:        DefaultInterval,
		lookback:        DefaultLookback,
		queueSize:       defaultQueueSize,
		workerCount:     defaultWorkerCount,
		shutdownTimeout: defaultShutdownTimeout,
		historySize:     defaultHistorySize,
		sinkName:        defaultSinkName,
		now:             time.Now,
	}

	for _, opt := range opts {
		opt(w)
	}

	if err := w.validate(); err != nil {
		return nil, err
	}
	if w.logger == nil {
		w.logger = logger.Get().Named("watcher")
	}
	w.history = newHistory(w.historySize)

	// Pollers own the classifier state, so they outlive Stop and Start.
	for _, s := range w.streams {
		p, err := NewPoller(s.ID, w.fetcher, w.tracker, s.Rules,
			WithInterval(w.interval),
			WithFetchTimeout(w.fetchTimeout),
			WithLookback(w.lookback),
			WithClock(w.now),
			WithEmitter(w.dispatch),
			WithPollerLogger(w.logger.Named("poller").Named(s.ID)),
		)
		if err != nil {
			return nil, err
		}
		w.pollers = append(w.pollers, p)
	}

	return w, nil
}

func (w *Watcher) validate() error {
	if w.fetcher == nil || w.tracker == nil || w.sink == nil {
		return fmt.Errorf("%w: fetcher, tracker and sink are required", model.ErrConfiguration)
	}
	if w.interval <= 0 {
		return fmt.Errorf("%w: poll interval must be positive, got %s", model.ErrConfiguration, w.interval)
	}
	if w.fetchTimeout < 0 || w.lookback < 0 {
		return fmt.Errorf("%w: fetch timeout and lookback must not be negative", model.ErrConfiguration)
	}
	if len(w.streams) == 0 {
		return fmt.Errorf("%w: no streams configured", model.ErrConfiguration)
	}
	seen := make(map[string]bool, len(w.streams))
	for _, s := range w.streams {
		if s.ID == "" {
			return fmt.Errorf("%w: stream id must not be empty", model.ErrConfiguration)
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: stream %s configured twice", model.ErrConfiguration, s.ID)
		}
		seen[s.ID] = true
		if len(s.Rules) == 0 {
			return fmt.Errorf("%w: stream %s has no rules", model.ErrConfiguration, s.ID)
		}
		for _, r := range s.Rules {
			if err := r.Validate(); err != nil {
				return fmt.Errorf("stream %s: %w", s.ID, err)
			}
		}
	}
	return nil
}

// Start builds the dispatcher and begins polling. Polling stops when ctx is
// canceled or Stop is called. A stopped watcher can be started again; its
// classifiers keep their cooldown state across restarts.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.started {
		return nil
	}

	w.logger.Info(ctx, "starting watcher...")

	w.eventQueue = eventqueue.NewInMemoryQueue(eventqueue.WithCapacity(w.queueSize))
	workerOpts := []workerpool.Option{workerpool.WithSinkName(w.sinkName)}
	if w.deliveryTimeout > 0 {
		workerOpts = append(workerOpts, workerpool.WithDeliveryTimeout(w.deliveryTimeout))
	}
	w.workerPool = workerpool.NewPool(w.workerCount, w.eventQueue, w.sink, workerOpts...)
	// Workers outlive ctx so Stop can drain the queue.
	w.workerPool.Start(context.WithoutCancel(ctx))

	runCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	for _, p := range w.pollers {
		w.running.Add(1)
		go func(p *Poller) {
			defer w.running.Done()
			p.Run(runCtx)
		}(p)
	}

	w.started = true
	w.startedAt = w.now()
	w.logger.Info(ctx, "watcher started",
		logger.Int("streams", len(w.pollers)),
		logger.Duration("interval", w.interval),
		logger.Int("workers", w.workerPool.Size()),
		logger.Int("queueSize", w.queueSize),
	)

	return nil
}

// Stop stops every poller before its next tick, waits for in-flight cycles,
// then drains queued events to the sink.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.started {
		return
	}

	ctx := context.Background()
	w.logger.Info(ctx, "stopping watcher...")

	w.cancel()
	w.running.Wait()

	shutdownCtx, cancel := context.WithTimeout(ctx, w.shutdownTimeout)
	defer cancel()
	if err := w.workerPool.Shutdown(shutdownCtx); err != nil {
		w.logger.Warn(ctx, "dispatcher did not drain", logger.Error(err))
	}

	w.started = false
	w.logger.Info(ctx, "watcher stopped")
}

// dispatch records e and queues it for delivery. A full queue drops the
// event rather than stalling the poller.
func (w *Watcher) dispatch(ctx context.Context, e model.Event) {
	w.history.add(e)

	if err := w.eventQueue.Enqueue(ctx, e); err != nil {
		w.dropped.Add(1)
		metrics.RecordDispatch(w.sinkName, metrics.DispatchDropped)
		w.logger.Warn(ctx, "event dropped",
			logger.String("event_id", e.ID),
			logger.String("stream", e.StreamID),
			logger.String("kind", e.Kind),
			logger.Error(err),
		)
	}
}

// PollOnce runs one synchronous cycle of the named stream.
func (w *Watcher) PollOnce(ctx context.Context, streamID string) (string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()

	if !w.started {
		return "", ErrNotStarted
	}
	for _, p := range w.pollers {
		if p.StreamID() == streamID {
			return p.PollOnce(ctx)
		}
	}
	return "", fmt.Errorf("unknown stream %q", streamID)
}

// Watermarks returns the high-water mark of every stream seen so far.
func (w *Watcher) Watermarks(ctx context.Context) ([]model.WatermarkState, error) {
	return w.tracker.Snapshot(ctx)
}

// RecentEvents returns up to n of the latest events, newest first.
func (w *Watcher) RecentEvents(n int) []model.Event {
	return w.history.recent(n)
}

// GetStats returns watcher statistics for monitoring.
func (w *Watcher) GetStats() map[string]interface{} {
	w.mu.RLock()
	defer w.mu.RUnlock()

	stats := map[string]interface{}{
		"started":       w.started,
		"interval":      w.interval.String(),
		"streamCount":   len(w.streams),
		"workerCount":   w.workerCount,
		"queueSize":     w.queueSize,
		"eventsEmitted": w.history.count(),
		"eventsDropped": w.dropped.Load(),
	}

	if w.started {
		stats["uptime"] = w.now().Sub(w.startedAt).Round(time.Second).String()
		stats["queueLength"] = w.eventQueue.Len(context.Background())
	}

	streams := make([]PollerStats, 0, len(w.pollers))
	for _, p := range w.pollers {
		streams = append(streams, p.Stats())
	}
	stats["streams"] = streams

	return stats
}
