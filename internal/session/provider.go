package session

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/pkg/utils"
)

// CCTListener is notified when a new presentation tree is available.
type CCTListener interface {
	// CCTEstablished delivers a fresh tree. empty is true when the snapshot
	// holds no contention data.
	CCTEstablished(root *lockcct.RuntimeNode, empty bool)
	// CCTReset is called after the collected data was discarded.
	CCTReset()
}

// ProviderStats reports refresh counters.
type ProviderStats struct {
	Refreshes   int64     `json:"refreshes"`
	Skipped     int64     `json:"skipped"`
	Forced      int64     `json:"forced"`
	LastRefresh time.Time `json:"last_refresh"`
	Pending     bool      `json:"pending"`
}

// Provider turns builder snapshots into trees for its listeners. Unforced
// refreshes are limited to one per min refresh interval.
type Provider struct {
	source  lockcct.Snapshotter
	limiter *rate.Limiter
	clock   utils.Clock
	logger  utils.Logger
	tracer  trace.Tracer

	mu        sync.Mutex
	listeners []CCTListener
	last      *lockcct.RuntimeNode
	lastAt    time.Time

	// pending is set when data arrived after the last refresh.
	pending   atomic.Bool
	refreshes atomic.Int64
	skipped   atomic.Int64
	forced    atomic.Int64
}

// NewProvider creates a provider over source.
func NewProvider(source lockcct.Snapshotter, minRefresh time.Duration, clock utils.Clock, logger utils.Logger) *Provider {
	if clock == nil {
		clock = utils.NewRealClock()
	}
	if logger == nil {
		logger = &utils.NullLogger{}
	}
	limit := rate.Inf
	if minRefresh > 0 {
		limit = rate.Every(minRefresh)
	}
	return &Provider{
		source:  source,
		limiter: rate.NewLimiter(limit, 1),
		clock:   clock,
		logger:  logger,
		tracer:  otel.Tracer("lockgraph/session"),
	}
}

// AddListener registers l.
func (p *Provider) AddListener(l CCTListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// RemoveListener unregisters l.
func (p *Provider) RemoveListener(l CCTListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, cur := range p.listeners {
		if cur == l {
			p.listeners = append(p.listeners[:i:i], p.listeners[i+1:]...)
			return
		}
	}
}

// MarkDirty records that new data arrived since the last refresh.
func (p *Provider) MarkDirty() {
	p.pending.Store(true)
}

// Refresh snapshots the source and notifies listeners. Unless force is set,
// the call is skipped when the previous refresh was too recent; it then
// returns nil.
func (p *Provider) Refresh(ctx context.Context, force bool) *lockcct.RuntimeNode {
	if !p.limiter.AllowN(p.clock.Now(), 1) && !force {
		p.skipped.Add(1)
		return nil
	}
	_, span := p.tracer.Start(ctx, "session.refresh")
	defer span.End()

	p.pending.Store(false)
	root := lockcct.AppRootNode(p.source)
	empty := root.Empty()
	span.SetAttributes(
		attribute.Bool("forced", force),
		attribute.Bool("empty", empty),
		attribute.Int("threads", len(root.Snapshot().Threads)),
		attribute.Int("monitors", len(root.Snapshot().Monitors)),
	)

	p.mu.Lock()
	p.last = root
	p.lastAt = p.clock.Now()
	listeners := append([]CCTListener(nil), p.listeners...)
	p.mu.Unlock()

	p.refreshes.Add(1)
	if force {
		p.forced.Add(1)
	}
	for _, l := range listeners {
		l.CCTEstablished(root, empty)
	}
	return root
}

// Latest returns the tree of the last refresh, or nil before the first one.
func (p *Provider) Latest() *lockcct.RuntimeNode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.last
}

// Stale reports whether data arrived and no refresh happened for maxAge.
func (p *Provider) Stale(maxAge time.Duration) bool {
	if !p.pending.Load() {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.clock.Since(p.lastAt) >= maxAge
}

// NotifyReset drops the cached tree and tells every listener.
func (p *Provider) NotifyReset() {
	p.mu.Lock()
	p.last = nil
	listeners := append([]CCTListener(nil), p.listeners...)
	p.mu.Unlock()

	p.pending.Store(false)
	for _, l := range listeners {
		l.CCTReset()
	}
}

// Stats returns the refresh counters.
func (p *Provider) Stats() ProviderStats {
	p.mu.Lock()
	lastAt := p.lastAt
	p.mu.Unlock()
	return ProviderStats{
		Refreshes:   p.refreshes.Load(),
		Skipped:     p.skipped.Load(),
		Forced:      p.forced.Load(),
		LastRefresh: lastAt,
		Pending:     p.pending.Load(),
	}
}
