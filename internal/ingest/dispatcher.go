// Package ingest feeds decoded event frames to listeners on a dedicated
// goroutine, with high/low watermark backpressure on producers.
package ingest

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lockgraph/internal/protocol"
	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = apperrors.New(apperrors.CodeSessionClosed, "dispatcher closed")

// DefaultBucket is the bucket used when the caller does not name one.
const DefaultBucket = "locks"

// Config holds dispatcher configuration.
type Config struct {
	// QueueLow and QueueHigh are the in-flight watermarks.
	QueueLow  int
	QueueHigh int
	// Decoder is the frame layout of every bucket.
	Decoder protocol.Options
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{
		QueueLow:  2,
		QueueHigh: 8,
		Decoder:   protocol.Options{MonitorInfo: true},
	}
}

// FrameHook is called on the dispatcher goroutine after each frame.
type FrameHook func(bucket string, err error)

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithFrameHook registers the hook run after each processed frame.
func WithFrameHook(hook FrameHook) Option {
	return func(d *Dispatcher) {
		d.hook = hook
	}
}

type job struct {
	bucket string
	frame  []byte
	done   chan struct{} // set on barriers only
}

// Dispatcher decodes frames into the registered listeners. All frames run on
// one goroutine in submission order; each bucket keeps its own decoder state.
type Dispatcher struct {
	cfg    Config
	logger utils.Logger
	hook   FrameHook
	flow   *watermark

	mu        sync.RWMutex
	closed    bool
	listeners protocol.Listeners

	queue    chan job
	decoders map[string]*protocol.Decoder
	perFrame map[string]*atomic.Int64
	wg       sync.WaitGroup

	processed atomic.Int64
	failed    atomic.Int64
	busy      atomic.Int64
}

// New creates a dispatcher and starts its goroutine.
func New(cfg Config, logger utils.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	d := &Dispatcher{
		cfg:      cfg,
		logger:   logger,
		flow:     newWatermark(cfg.QueueLow, cfg.QueueHigh),
		decoders: make(map[string]*protocol.Decoder),
		perFrame: make(map[string]*atomic.Int64),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.queue = make(chan job, d.flow.high+1)

	d.wg.Add(1)
	go d.run()
	return d
}

// AddListener registers l for frames processed from now on.
func (d *Dispatcher) AddListener(l protocol.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls := make(protocol.Listeners, 0, len(d.listeners)+1)
	ls = append(ls, d.listeners...)
	d.listeners = append(ls, l)
}

// RemoveListener unregisters l.
func (d *Dispatcher) RemoveListener(l protocol.Listener) {
	d.mu.Lock()
	defer d.mu.Unlock()
	ls := make(protocol.Listeners, 0, len(d.listeners))
	for _, cur := range d.listeners {
		if cur != l {
			ls = append(ls, cur)
		}
	}
	d.listeners = ls
}

// Submit queues frame for bucket. It blocks while the dispatcher is
// throttled, until ctx is done.
func (d *Dispatcher) Submit(ctx context.Context, bucket string, frame []byte) error {
	if bucket == "" {
		bucket = DefaultBucket
	}
	return d.enqueue(ctx, job{bucket: bucket, frame: frame})
}

// Sync waits until every frame submitted before the call has been processed.
func (d *Dispatcher) Sync(ctx context.Context) error {
	done := make(chan struct{})
	if err := d.enqueue(ctx, job{done: done}); err != nil {
		return err
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (d *Dispatcher) enqueue(ctx context.Context, j job) error {
	if d.isClosed() {
		return ErrClosed
	}
	if err := d.flow.acquire(ctx); err != nil {
		return err
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		d.flow.release()
		return ErrClosed
	}
	select {
	case d.queue <- j:
		return nil
	case <-ctx.Done():
		d.flow.release()
		return ctx.Err()
	}
}

func (d *Dispatcher) isClosed() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.closed
}

// Close stops accepting frames, processes what is queued and waits for the
// dispatcher goroutine to exit.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.queue)
	d.mu.Unlock()

	d.wg.Wait()
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for j := range d.queue {
		if j.done != nil {
			close(j.done)
			d.flow.release()
			continue
		}

		d.busy.Store(1)
		start := time.Now()
		err := d.process(j)
		d.busy.Store(0)
		d.flow.release()

		if err != nil {
			d.failed.Add(1)
			d.logger.WithField("bucket", j.bucket).Warn("frame of %d bytes failed: %v", len(j.frame), err)
		} else {
			d.logger.Debug("processed %d byte frame in %v", len(j.frame), time.Since(start))
		}
		d.processed.Add(1)

		if d.hook != nil {
			d.hook(j.bucket, err)
		}
	}
}

func (d *Dispatcher) process(j job) error {
	dec, ok := d.decoders[j.bucket]
	if !ok {
		dec = protocol.NewDecoder(d.cfg.Decoder, d.logger.WithField("bucket", j.bucket))
		d.decoders[j.bucket] = dec
		d.mu.Lock()
		d.perFrame[j.bucket] = &atomic.Int64{}
		d.mu.Unlock()
	}
	d.mu.RLock()
	ls := d.listeners
	counter := d.perFrame[j.bucket]
	d.mu.RUnlock()
	counter.Add(1)

	ls.BatchStart()
	err := dec.Decode(j.frame, batchedListeners{ls})
	ls.BatchStop()
	return err
}

// batchedListeners applies an in-stream reset between two batches, since
// listeners drop a reset that arrives while their batch is open.
type batchedListeners struct {
	protocol.Listeners
}

func (b batchedListeners) Reset() {
	b.Listeners.BatchStop()
	b.Listeners.Reset()
	b.Listeners.BatchStart()
}

// Stats reports dispatcher counters.
type Stats struct {
	Processed int64            `json:"processed"`
	Failed    int64            `json:"failed"`
	InFlight  int              `json:"in_flight"`
	Throttled bool             `json:"throttled"`
	Throttles int64            `json:"throttles"`
	Busy      bool             `json:"busy"`
	Buckets   map[string]int64 `json:"buckets"`
}

// Stats returns the current counters.
func (d *Dispatcher) Stats() Stats {
	inFlight, throttled, throttles := d.flow.snapshot()
	st := Stats{
		Processed: d.processed.Load(),
		Failed:    d.failed.Load(),
		InFlight:  inFlight,
		Throttled: throttled,
		Throttles: throttles,
		Busy:      d.busy.Load() == 1,
		Buckets:   make(map[string]int64),
	}
	d.mu.RLock()
	for name, c := range d.perFrame {
		st.Buckets[name] = c.Load()
	}
	d.mu.RUnlock()
	return st
}
