package service

import (
	"sync"

	"github.com/okian/telewatch/internal/domain/model"
)

const defaultHistorySize = 256

// history keeps the most recent events in a fixed-size ring.
type history struct {
	mu    sync.RWMutex
	buf   []model.Event
	next  int
	full  bool
	total int64
}

func newHistory(size int) *history {
	if size < 1 {
		size = defaultHistorySize
	}
	return &history{buf: make([]model.Event, size)}
}

func (h *history) add(e model.Event) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.total++
}

// recent returns up to n events, newest first. n <= 0 returns everything held.
func (h *history) recent(n int) []model.Event {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	if n <= 0 || n > size {
		n = size
	}

	out := make([]model.Event, 0, n)
	for i := 1; i <= n; i++ {
		idx := (h.next - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

func (h *history) count() int64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}
