// Package locks aggregates monitor contention events into per-thread and
// per-monitor wait statistics.
//
// A GraphBuilder consumes the event feed of one profiling session. Every
// closed wait episode is folded into four buckets: the waiting thread's wait
// map, the owner's owner map, and the monitor's wait and owner maps. This
// keeps the "by thread" and "by monitor" views consistent with each other.
// Consumers never touch the live registries; they read a Snapshot.
package locks

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/lockgraph/pkg/utils"
)

// Status describes the profiled session as reported at startup.
type Status struct {
	TimerCountsPerSecond int64 `json:"timer_counts_per_second"`
	CollectTwoTimestamps bool  `json:"collect_two_timestamps"`
	MonitorInfo          bool  `json:"monitor_info"`
}

// DefaultStatus assumes nanosecond timestamps with monitor info enabled.
func DefaultStatus() Status {
	return Status{TimerCountsPerSecond: int64(time.Second), MonitorInfo: true}
}

// CountsToDuration converts timer counts into a duration.
func (s Status) CountsToDuration(counts int64) time.Duration {
	if s.TimerCountsPerSecond <= 0 {
		return time.Duration(counts)
	}
	return time.Duration(float64(counts) * float64(time.Second) / float64(s.TimerCountsPerSecond))
}

// CountsToMicros converts timer counts into microseconds.
func (s Status) CountsToMicros(counts int64) int64 {
	return s.CountsToDuration(counts).Microseconds()
}

// Stats are cumulative counters of a builder.
type Stats struct {
	Threads       int   `json:"threads"`
	Monitors      int   `json:"monitors"`
	OpenEpisodes  int   `json:"open_episodes"`
	Events        int64 `json:"events"`
	IgnoredEvents int64 `json:"ignored_events"`
	DroppedEvents int64 `json:"dropped_events"`
	Resets        int64 `json:"resets"`
	DroppedResets int64 `json:"dropped_resets"`
}

// GraphBuilder is the event-driven contention aggregator.
//
// Event handlers and BatchStart/BatchStop must be called from a single
// goroutine, which owns the batch. Snapshot, Reset and Stats are safe from any
// goroutine.
type GraphBuilder struct {
	tx         TransactionalSupport
	batchDepth int

	threads  *ThreadInfos
	monitors map[int32]*MonitorInfo

	status  atomic.Pointer[Status]
	logger  utils.Logger
	clock   utils.Clock
	onReset func()

	events        atomic.Int64
	ignoredEvents atomic.Int64
	droppedEvents atomic.Int64
	resets        atomic.Int64
	droppedResets atomic.Int64

	// statsMu guards sizes published at the end of each transaction.
	statsMu sync.Mutex
	sizes   Stats
}

// Option configures a GraphBuilder.
type Option func(*GraphBuilder)

// WithLogger sets the logger.
func WithLogger(logger utils.Logger) Option {
	return func(b *GraphBuilder) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithClock sets the clock used to stamp snapshots.
func WithClock(clock utils.Clock) Option {
	return func(b *GraphBuilder) {
		if clock != nil {
			b.clock = clock
		}
	}
}

// WithResetHook sets fn to run after every applied reset, outside the
// builder's transaction.
func WithResetHook(fn func()) Option {
	return func(b *GraphBuilder) {
		b.onReset = fn
	}
}

// NewGraphBuilder creates a builder. It ignores events until Startup is called.
func NewGraphBuilder(opts ...Option) *GraphBuilder {
	b := &GraphBuilder{
		threads:  NewThreadInfos(),
		monitors: make(map[int32]*MonitorInfo),
		logger:   &utils.NullLogger{},
		clock:    utils.NewRealClock(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Startup makes the builder ready to accept events.
func (b *GraphBuilder) Startup(status Status) {
	b.status.Store(&status)
}

// Shutdown makes the builder ignore further events. Collected data stays
// available to Snapshot.
func (b *GraphBuilder) Shutdown() {
	b.status.Store(nil)
}

// Ready reports whether Startup has been called.
func (b *GraphBuilder) Ready() bool {
	return b.status.Load() != nil
}

// Status returns the session status, or the default when not started.
func (b *GraphBuilder) Status() Status {
	if st := b.status.Load(); st != nil {
		return *st
	}
	return DefaultStatus()
}

// BatchStart opens the mutable transaction for a burst of events. Nested
// calls only increase the depth.
func (b *GraphBuilder) BatchStart() {
	b.batchDepth++
	if b.batchDepth == 1 {
		b.tx.BeginTrans(true, false)
	}
}

// BatchStop closes the transaction opened by the matching BatchStart.
func (b *GraphBuilder) BatchStop() {
	if b.batchDepth == 0 {
		b.logger.Warn("batch stop without batch start")
		return
	}
	b.batchDepth--
	if b.batchDepth == 0 {
		b.publishSizes()
		b.tx.EndTrans(true)
	}
}

// mutate runs fn inside the current batch, or inside its own transaction
// when no batch is open.
func (b *GraphBuilder) mutate(fn func()) {
	b.events.Add(1)
	if b.batchDepth > 0 {
		fn()
		return
	}
	b.tx.BeginTrans(true, false)
	defer b.tx.EndTrans(true)
	fn()
	b.publishSizes()
}

// Reset clears all threads and monitors. The request is dropped when a
// transaction is in progress.
func (b *GraphBuilder) Reset() {
	b.TryReset()
}

// TryReset clears all state and reports whether it did.
func (b *GraphBuilder) TryReset() bool {
	if !b.tx.BeginTrans(true, true) {
		b.droppedResets.Add(1)
		b.logger.Debug("reset dropped: transaction in progress")
		return false
	}
	b.threads.Reset()
	b.monitors = make(map[int32]*MonitorInfo)
	b.resets.Add(1)
	b.publishSizes()
	b.tx.EndTrans(true)

	if b.onReset != nil {
		b.onReset()
	}
	return true
}

// NewThread registers a thread, replacing any previous thread with that id.
func (b *GraphBuilder) NewThread(threadID int, name, className string) {
	if !b.Ready() {
		return
	}
	b.mutate(func() {
		if b.threads.NewThreadInfo(threadID, name, className) == nil {
			b.ignoredEvents.Add(1)
		}
	})
}

// NewMonitor registers a monitor or corrects the class name of a monitor
// first seen in an entry or exit event.
func (b *GraphBuilder) NewMonitor(id int32, className string) {
	if !b.Ready() {
		return
	}
	b.mutate(func() {
		if mi, ok := b.monitors[id]; ok {
			mi.ClassName = className
			return
		}
		b.monitors[id] = newMonitorInfo(id, className)
	})
}

// MonitorEntry records that threadID started waiting for monitorID held by
// ownerThreadID. Only t0 is used.
func (b *GraphBuilder) MonitorEntry(threadID int, t0, t1 int64, monitorID int32, ownerThreadID int) {
	if !b.Ready() {
		return
	}
	b.mutate(func() {
		ti := b.threads.Get(threadID)
		owner := b.threads.Get(ownerThreadID)
		if ti == nil || owner == nil {
			b.ignore("monitor entry", threadID, monitorID)
			return
		}
		mi := b.monitor(monitorID)

		if ti.open != nil {
			b.violation(ti.openMonitor(owner, mi, t0), ti, mi)
			ti.abandon()
		}
		if err := ti.openMonitor(owner, mi, t0); err != nil {
			b.violation(err, ti, mi)
			return
		}
		if err := mi.openThread(ti, owner, t0); err != nil {
			b.violation(err, ti, mi)
			ti.open = nil
		}
	})
}

// MonitorExit records that threadID acquired monitorID after waiting.
func (b *GraphBuilder) MonitorExit(threadID int, t0, t1 int64, monitorID int32) {
	if !b.Ready() {
		return
	}
	b.mutate(func() {
		ti := b.threads.Get(threadID)
		if ti == nil {
			b.ignore("monitor exit", threadID, monitorID)
			return
		}
		mi := b.monitor(monitorID)

		if err := ti.closeMonitor(mi, t0); err != nil {
			b.violation(err, ti, mi)
			ti.abandon()
			return
		}
		if err := mi.closeThread(ti, t0); err != nil {
			b.violation(err, ti, mi)
		}
	})
}

// TimeAdjust shifts the open episode of threadID by the t0 difference.
func (b *GraphBuilder) TimeAdjust(threadID int, t0, t1 int64) {
	if !b.Ready() {
		return
	}
	b.mutate(func() {
		ti := b.threads.Get(threadID)
		if ti == nil {
			b.ignoredEvents.Add(1)
			return
		}
		ti.timeAdjust(t0)
	})
}

func (b *GraphBuilder) monitor(id int32) *MonitorInfo {
	mi, ok := b.monitors[id]
	if !ok {
		mi = newMonitorInfo(id, UnknownMonitorClass)
		b.monitors[id] = mi
	}
	return mi
}

func (b *GraphBuilder) ignore(event string, threadID int, monitorID int32) {
	b.ignoredEvents.Add(1)
	b.logger.Debug("%s ignored: unknown thread %d (monitor %#x)", event, threadID, uint32(monitorID))
}

func (b *GraphBuilder) violation(err error, ti *ThreadInfo, mi *MonitorInfo) {
	if err == nil {
		return
	}
	b.droppedEvents.Add(1)
	b.logger.WithFields(map[string]interface{}{
		"thread":  ti.ID,
		"monitor": mi.DisplayName(),
	}).Warn("dropping event: %v", err)
}

// Snapshot deep-copies the registries. It waits for an open batch to finish,
// so the copy always reflects whole frames.
func (b *GraphBuilder) Snapshot() *Snapshot {
	b.tx.BeginTrans(false, false)
	defer b.tx.EndTrans(false)

	snap := &Snapshot{
		TakenAt: b.clock.Now(),
		Status:  b.Status(),
	}
	b.threads.Each(func(ti *ThreadInfo) {
		if !ti.hasData() {
			return
		}
		snap.Threads = append(snap.Threads, ThreadStats{
			Thread: threadRef(ti),
			Wait:   cloneMonitorDetails(ti.waitMonitors),
			Owner:  cloneMonitorDetails(ti.ownerMonitors),
		})
	})
	sort.Slice(snap.Threads, func(i, j int) bool { return snap.Threads[i].Thread.less(snap.Threads[j].Thread) })

	for _, mi := range b.monitors {
		if !mi.hasData() {
			continue
		}
		snap.Monitors = append(snap.Monitors, MonitorStats{
			Monitor: monitorRef(mi),
			Wait:    cloneThreadDetails(mi.waitThreads),
			Owner:   cloneThreadDetails(mi.ownerThreads),
		})
	}
	sort.Slice(snap.Monitors, func(i, j int) bool {
		return uint32(snap.Monitors[i].Monitor.ID) < uint32(snap.Monitors[j].Monitor.ID)
	})
	return snap
}

// publishSizes records registry sizes for Stats. Callers hold the mutable
// transaction.
func (b *GraphBuilder) publishSizes() {
	threads := b.threads.Len()
	open := 0
	for _, mi := range b.monitors {
		open += mi.Waiters()
	}
	b.statsMu.Lock()
	b.sizes.Threads = threads
	b.sizes.Monitors = len(b.monitors)
	b.sizes.OpenEpisodes = open
	b.statsMu.Unlock()
}

// Stats returns the counters of the builder.
func (b *GraphBuilder) Stats() Stats {
	b.statsMu.Lock()
	st := b.sizes
	b.statsMu.Unlock()

	st.Events = b.events.Load()
	st.IgnoredEvents = b.ignoredEvents.Load()
	st.DroppedEvents = b.droppedEvents.Load()
	st.Resets = b.resets.Load()
	st.DroppedResets = b.droppedResets.Load()
	return st
}
