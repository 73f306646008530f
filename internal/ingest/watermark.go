package ingest

import (
	"context"
	"sync"
)

// watermark is high/low flow control over the number of frames in flight.
// Once the count goes above high, acquire blocks until releases bring it
// below low.
type watermark struct {
	mu        sync.Mutex
	count     int
	high, low int
	throttled bool
	resume    chan struct{}
	throttles int64
}

func newWatermark(low, high int) *watermark {
	if high < 1 {
		high = 1
	}
	if low < 1 || low > high {
		low = high
	}
	return &watermark{high: high, low: low}
}

// acquire takes one in-flight slot, waiting while throttled.
func (w *watermark) acquire(ctx context.Context) error {
	w.mu.Lock()
	for w.throttled {
		resume := w.resume
		w.mu.Unlock()
		select {
		case <-resume:
		case <-ctx.Done():
			return ctx.Err()
		}
		w.mu.Lock()
	}
	w.count++
	if w.count > w.high {
		w.throttled = true
		w.throttles++
		w.resume = make(chan struct{})
	}
	w.mu.Unlock()
	return nil
}

// release returns a slot and wakes blocked producers once below low.
func (w *watermark) release() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.count--
	if w.throttled && w.count < w.low {
		w.throttled = false
		close(w.resume)
	}
}

func (w *watermark) snapshot() (count int, throttled bool, throttles int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count, w.throttled, w.throttles
}
