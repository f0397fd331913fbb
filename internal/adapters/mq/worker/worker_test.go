package worker_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	queue "github.com/okian/telewatch/internal/adapters/mq/queue"
	worker "github.com/okian/telewatch/internal/adapters/mq/worker"
	model "github.com/okian/telewatch/internal/domain/model"
	logging "github.com/okian/telewatch/pkg/logger"
	"github.com/smartystreets/goconvey/convey"
)

// Mock implementations for testing.
type mockQueue struct {
	eventChan chan queue.Event
	closeOnce sync.Once
}

func newMockQueue() *mockQueue {
	return &mockQueue{
		eventChan: make(chan queue.Event, 10),
	}
}

func (mq *mockQueue) Dequeue(ctx context.Context) <-chan queue.Event {
	return mq.eventChan
}

func (mq *mockQueue) Close() error {
	mq.closeOnce.Do(func() { close(mq.eventChan) })
	return nil
}

func (mq *mockQueue) addEvent(event queue.Event) { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	mq.eventChan <- event
}

type mockSink struct {
	mu        sync.Mutex
	delivered []string
	failures  map[string]error
	delay     time.Duration
}

func newMockSink() *mockSink {
	return &mockSink{failures: make(map[string]error)}
}

func (ms *mockSink) OnEvent(ctx context.Context, e model.Event) error {
	if ms.delay > 0 {
		select {
		case <-time.After(ms.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	ms.mu.Lock()
	defer ms.mu.Unlock()
	if err, ok := ms.failures[e.ID]; ok {
		return err
	}
	ms.delivered = append(ms.delivered, e.ID)
	return nil
}

func (ms *mockSink) count() int {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	return len(ms.delivered)
}

func (ms *mockSink) has(id string) bool {
	ms.mu.Lock()
	defer ms.mu.Unlock()
	for _, d := range ms.delivered {
		if d == id {
			return true
		}
	}
	return false
}

func event(id string) model.Event {
	return model.Event{ID: id, StreamID: "hasFallen", Kind: "fall", Timestamp: time.Now(), Value: "fall"}
}

func TestInMemoryWorker(t *testing.T) {
	convey.Convey("Given a new InMemoryWorker", t, func() {
		_ = logging.Init()

		q := newMockQueue()
		sink := newMockSink()

		convey.Convey("When running a worker", func() {
			w := worker.NewInMemoryWorker(q, sink, worker.WithName("test-worker"), worker.WithSinkName("mock"))
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			go w.Run(ctx)

			convey.Convey("And when events arrive", func() {
				q.addEvent(event("event-1"))
				q.addEvent(event("event-2"))
				_ = q.Close()

				err := w.Shutdown(withTimeout(t, time.Second))

				convey.Convey("Then they are delivered in order", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(sink.delivered, convey.ShouldResemble, []string{"event-1", "event-2"})
				})
			})

			convey.Convey("And when the sink fails", func() {
				sink.failures["event-3"] = errors.New("sink down")
				q.addEvent(event("event-3"))
				q.addEvent(event("event-4"))
				_ = q.Close()

				err := w.Shutdown(withTimeout(t, time.Second))

				convey.Convey("Then the worker keeps going", func() {
					convey.So(err, convey.ShouldBeNil)
					convey.So(sink.has("event-3"), convey.ShouldBeFalse)
					convey.So(sink.has("event-4"), convey.ShouldBeTrue)
				})
			})
		})

		convey.Convey("When the sink is slower than the delivery timeout", func() {
			sink.delay = time.Second
			w := worker.NewInMemoryWorker(q, sink, worker.WithDeliveryTimeout(20*time.Millisecond))
			go w.Run(context.Background())

			q.addEvent(event("slow"))
			_ = q.Close()
			err := w.Shutdown(withTimeout(t, 500*time.Millisecond))

			convey.Convey("Then the delivery is abandoned", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(sink.count(), convey.ShouldEqual, 0)
			})
		})

		convey.Convey("When context is cancelled", func() {
			w := worker.NewInMemoryWorker(q, sink)
			ctx, cancel := context.WithCancel(context.Background())
			go w.Run(ctx)
			cancel()

			convey.Convey("Then the worker stops", func() {
				convey.So(w.Shutdown(withTimeout(t, time.Second)), convey.ShouldBeNil)
			})
		})

		convey.Convey("When shutdown times out", func() {
			w := worker.NewInMemoryWorker(q, sink)
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go w.Run(ctx)

			err := w.Shutdown(withTimeout(t, 20*time.Millisecond))

			convey.Convey("Then it reports the timeout", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(errors.Is(err, context.DeadlineExceeded), convey.ShouldBeTrue)
			})
		})
	})
}

func TestWorkerPool(t *testing.T) {
	convey.Convey("Given a worker pool over a real queue", t, func() {
		_ = logging.Init()

		q := queue.NewInMemoryQueue(queue.WithCapacity(100))
		sink := newMockSink()
		pool := worker.NewPool(3, q, sink, worker.WithSinkName("mock"))

		convey.Convey("When creating with a non-positive count", func() {
			p := worker.NewPool(0, q, sink)

			convey.Convey("Then a default size is used", func() {
				convey.So(p.Size(), convey.ShouldBeGreaterThan, 0)
			})
		})

		convey.Convey("When processing multiple events", func() {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			pool.Start(ctx)

			for i := 0; i < 50; i++ {
				convey.So(q.Enqueue(ctx, event(fmt.Sprintf("e-%d", i))), convey.ShouldBeNil)
			}

			err := pool.Shutdown(context.Background())

			convey.Convey("Then shutdown drains every event", func() {
				convey.So(err, convey.ShouldBeNil)
				convey.So(sink.count(), convey.ShouldEqual, 50)
				convey.So(q.IsClosed(), convey.ShouldBeTrue)
			})
		})
	})
}

func withTimeout(t *testing.T, d time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	t.Cleanup(cancel)
	return ctx
}
