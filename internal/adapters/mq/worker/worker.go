// Package worker delivers queued events to a sink on a pool of goroutines.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/okian/telewatch/internal/domain/model"
	"github.com/okian/telewatch/pkg/logger"
	"github.com/okian/telewatch/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkerCount     = 2
	defaultDeliveryTimeout = 10 * time.Second
	defaultSinkName        = "sink"
	poolShutdownTimeout    = 30 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = model.Event

// Sink receives classified events.
type Sink interface {
	OnEvent(ctx context.Context, e Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker delivers events from a queue to a sink.
type Worker interface {
	// Run starts the worker loop until the queue is drained or ctx is canceled.
	Run(ctx context.Context)

	// Shutdown waits for the worker to finish.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for delivering events.
type InMemoryWorker struct {
	queue Queue
	sink  Sink
	name  string

	sinkName        string
	deliveryTimeout time.Duration

	done chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, sink Sink, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:           queue,
		sink:            sink,
		name:            "worker",
		sinkName:        defaultSinkName,
		deliveryTimeout: defaultDeliveryTimeout,
		done:            make(chan struct{}),
		logger:          logger.Get().Named("worker"),
	}

	for _, opt := range opts {
		opt(w)
	}

	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}

	return w
}

// Run delivers events until the queue channel closes or ctx is canceled.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-eventChan:
			if !ok {
				return
			}
			if err := w.deliver(ctx, event); err != nil {
				w.logger.Error(ctx, "event delivery failed",
					logger.String("event_id", event.ID),
					logger.String("stream", event.StreamID),
					logger.String("kind", event.Kind),
					logger.Error(err),
				)
			}
		}
	}
}

// Shutdown waits for Run to return or ctx to expire.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

func (w *InMemoryWorker) deliver(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	start := time.Now()
	defer func() {
		metrics.RecordDispatchLatency(float64(time.Since(start).Milliseconds()))
	}()

	dctx, cancel := context.WithTimeout(ctx, w.deliveryTimeout)
	defer cancel()

	if err := w.sink.OnEvent(dctx, event); err != nil {
		metrics.RecordDispatch(w.sinkName, metrics.DispatchFailed)
		metrics.RecordErrorByComponent("worker", "delivery_error")
		return fmt.Errorf("deliver %s: %w", event.ID, err)
	}
	metrics.RecordDispatch(w.sinkName, metrics.DispatchDelivered)
	return nil
}

// Pool manages multiple workers sharing one queue and sink.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	logger logger.Logger
}

// NewPool creates a new worker pool. Options apply to every worker.
func NewPool(workerCount int, queue Queue, sink Sink, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkerCount
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}

	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, sink, workerOpts...)
	}

	return pool
}

// Size returns the number of workers.
func (p *Pool) Size() int { return len(p.workers) }

// Start starts all workers in the pool.
func (p *Pool) Start(ctx context.Context) {
	for _, worker := range p.workers {
		go worker.Run(ctx)
	}
	metrics.UpdateWorkerActiveCount(len(p.workers))
}

// Shutdown closes the queue, if it can be closed, and waits for the workers
// to drain it.
func (p *Pool) Shutdown(ctx context.Context) error {
	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, poolShutdownTimeout)
	defer cancel()

	var timedOut int
	for i, worker := range p.workers {
		if err := worker.Shutdown(shutdownCtx); err != nil {
			p.logger.Warn(ctx, "worker shutdown timed out", logger.Int("worker_id", i))
			timedOut++
		}
	}
	metrics.UpdateWorkerActiveCount(0)

	if timedOut > 0 {
		return fmt.Errorf("%d of %d workers did not drain: %w", timedOut, len(p.workers), shutdownCtx.Err())
	}
	return nil
}
