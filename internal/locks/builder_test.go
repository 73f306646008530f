package locks

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockgraph/pkg/utils"
)

func newReadyBuilder(t *testing.T) *GraphBuilder {
	t.Helper()
	clock := utils.NewMockClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	b := NewGraphBuilder(WithClock(clock))
	b.Startup(DefaultStatus())
	return b
}

// contend runs one closed episode of waiter on monitor held by owner.
func contend(b *GraphBuilder, waiter, owner int, monitor int32, start, end int64) {
	b.BatchStart()
	b.MonitorEntry(waiter, start, 0, monitor, owner)
	b.MonitorExit(waiter, end, 0, monitor)
	b.BatchStop()
}

func findThread(snap *Snapshot, id int) *ThreadStats {
	for i := range snap.Threads {
		if snap.Threads[i].Thread.ID == id {
			return &snap.Threads[i]
		}
	}
	return nil
}

func findMonitor(snap *Snapshot, id int32) *MonitorStats {
	for i := range snap.Monitors {
		if snap.Monitors[i].Monitor.ID == id {
			return &snap.Monitors[i]
		}
	}
	return nil
}

func TestGraphBuilder_Scenario(t *testing.T) {
	b := newReadyBuilder(t)
	b.BatchStart()
	b.NewThread(1, "T1", "C")
	b.NewThread(2, "T2", "C")
	b.NewMonitor(100, "java.lang.Object")
	b.MonitorEntry(1, 1000, 0, 100, 2)
	b.MonitorExit(1, 1500, 0, 100)
	b.BatchStop()

	snap := b.Snapshot()

	t1 := findThread(snap, 1)
	require.NotNil(t, t1)
	require.Len(t, t1.Wait, 1)
	assert.Equal(t, int32(100), t1.Wait[0].Monitor.ID)
	assert.Equal(t, "java.lang.Object", t1.Wait[0].Monitor.ClassName)
	assert.Equal(t, int64(500), t1.Wait[0].WaitTime)
	assert.Equal(t, int64(1), t1.Wait[0].Count)
	assert.Empty(t, t1.Owner)

	t2 := findThread(snap, 2)
	require.NotNil(t, t2)
	assert.Empty(t, t2.Wait)
	require.Len(t, t2.Owner, 1)
	assert.Equal(t, int64(500), t2.Owner[0].WaitTime)

	m := findMonitor(snap, 100)
	require.NotNil(t, m)
	require.Len(t, m.Wait, 1)
	assert.Equal(t, 1, m.Wait[0].Thread.ID)
	require.Len(t, m.Owner, 1)
	assert.Equal(t, 2, m.Owner[0].Thread.ID)
	assert.Equal(t, int64(500), m.Owner[0].WaitTime)
	assert.Equal(t, int64(1), m.Owner[0].Count)
}

func TestGraphBuilder_ConservationAcrossFourBuckets(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "waiter", "C")
	b.NewThread(2, "owner", "C")
	b.NewMonitor(7, "Lock")

	contend(b, 1, 2, 7, 100, 130)
	contend(b, 1, 2, 7, 200, 270)

	snap := b.Snapshot()
	waiter := findThread(snap, 1)
	owner := findThread(snap, 2)
	mon := findMonitor(snap, 7)
	require.NotNil(t, waiter)
	require.NotNil(t, owner)
	require.NotNil(t, mon)

	buckets := []struct {
		name  string
		time  int64
		count int64
	}{
		{"thread wait", waiter.Wait[0].WaitTime, waiter.Wait[0].Count},
		{"owner owned", owner.Owner[0].WaitTime, owner.Owner[0].Count},
		{"monitor wait", mon.Wait[0].WaitTime, mon.Wait[0].Count},
		{"monitor owner", mon.Owner[0].WaitTime, mon.Owner[0].Count},
	}
	for _, bucket := range buckets {
		t.Run(bucket.name, func(t *testing.T) {
			assert.Equal(t, int64(100), bucket.time)
			assert.Equal(t, int64(2), bucket.count)
		})
	}

	// Second drill-down level names the counterparty.
	require.Len(t, waiter.Wait[0].Threads, 1)
	assert.Equal(t, 2, waiter.Wait[0].Threads[0].Thread.ID)
	require.Len(t, owner.Owner[0].Threads, 1)
	assert.Equal(t, 1, owner.Owner[0].Threads[0].Thread.ID)
	require.Len(t, mon.Wait[0].Threads, 1)
	assert.Equal(t, 2, mon.Wait[0].Threads[0].Thread.ID)
	assert.Empty(t, mon.Wait[0].Threads[0].Threads)

	total, count := snap.TotalWait()
	assert.Equal(t, int64(100), total)
	assert.Equal(t, int64(2), count)
}

func TestGraphBuilder_ConcurrentWaitersOnOneMonitor(t *testing.T) {
	b := newReadyBuilder(t)
	for id := 1; id <= 3; id++ {
		b.NewThread(id, "T", "C")
	}

	b.BatchStart()
	b.MonitorEntry(1, 0, 0, 5, 3)
	b.MonitorEntry(2, 10, 0, 5, 3)
	b.MonitorExit(2, 40, 0, 5)
	b.MonitorExit(1, 50, 0, 5)
	b.BatchStop()

	snap := b.Snapshot()
	mon := findMonitor(snap, 5)
	require.NotNil(t, mon)
	require.Len(t, mon.Wait, 2)
	assert.Equal(t, int64(50), mon.Wait[0].WaitTime)
	assert.Equal(t, int64(30), mon.Wait[1].WaitTime)
	require.Len(t, mon.Owner, 1)
	assert.Equal(t, int64(80), mon.Owner[0].WaitTime)
	assert.Len(t, mon.Owner[0].Threads, 2)
	assert.Equal(t, 0, b.Stats().OpenEpisodes)
}

func TestGraphBuilder_ThreadIDReuse(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	b.NewThread(2, "T2", "C")
	contend(b, 1, 2, 100, 0, 100)

	b.NewThread(2, "T2-new", "C")
	contend(b, 1, 2, 100, 200, 250)

	b.MonitorEntry(1, 300, 0, 100, 2)
	require.Equal(t, 1, b.Stats().OpenEpisodes)
	b.NewThread(1, "T1-new", "C")
	assert.Equal(t, 0, b.Stats().OpenEpisodes, "the replaced thread's wait is abandoned")

	snap := b.Snapshot()
	m := findMonitor(snap, 100)
	require.NotNil(t, m)
	require.Len(t, m.Owner, 2)
	assert.Equal(t, "T2", m.Owner[0].Thread.Name)
	assert.Equal(t, "T2-new", m.Owner[1].Thread.Name)
	assert.Less(t, m.Owner[0].Thread.Gen, m.Owner[1].Thread.Gen)
	assert.Equal(t, int64(100), m.Owner[0].WaitTime)
	assert.Equal(t, int64(50), m.Owner[1].WaitTime)

	// The old T1 keeps its two closed waits; the new T1 has none.
	require.Len(t, m.Wait, 1)
	assert.Equal(t, "T1", m.Wait[0].Thread.Name)
	assert.Equal(t, int64(2), m.Wait[0].Count)
}

func TestGraphBuilder_UnknownThreadIgnored(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")

	b.MonitorEntry(42, 0, 0, 9, 1)
	b.MonitorExit(42, 10, 0, 9)
	b.TimeAdjust(42, 5, 0)
	b.MonitorEntry(1, 0, 0, 9, 77)

	snap := b.Snapshot()
	assert.True(t, snap.Empty())
	st := b.Stats()
	assert.Equal(t, 0, st.Monitors)
	assert.Equal(t, int64(4), st.IgnoredEvents)
	assert.Equal(t, int64(0), st.DroppedEvents)
}

func TestGraphBuilder_UnknownOwnerSentinel(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	contend(b, 1, UnknownThreadID, 3, 0, 25)

	snap := b.Snapshot()
	sentinel := findThread(snap, UnknownThreadID)
	require.NotNil(t, sentinel)
	assert.Equal(t, UnknownThreadName, sentinel.Thread.Name)
	require.Len(t, sentinel.Owner, 1)
	assert.Equal(t, int64(25), sentinel.Owner[0].WaitTime)
}

func TestGraphBuilder_NotReady(t *testing.T) {
	b := NewGraphBuilder()
	b.NewThread(1, "T1", "C")
	b.MonitorEntry(1, 0, 0, 1, -1)
	b.MonitorExit(1, 10, 0, 1)

	assert.False(t, b.Ready())
	assert.True(t, b.Snapshot().Empty())
	assert.Equal(t, int64(0), b.Stats().Events)

	b.Startup(DefaultStatus())
	b.NewThread(1, "T1", "C")
	b.Shutdown()
	b.MonitorEntry(1, 0, 0, 1, -1)
	assert.Equal(t, int64(1), b.Stats().Events)
}

func TestGraphBuilder_MonitorPlaceholderName(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	contend(b, 1, -1, 11, 0, 5)

	before := b.Snapshot()
	assert.Equal(t, UnknownMonitorClass, findMonitor(before, 11).Monitor.ClassName)

	b.NewMonitor(11, "java.util.HashMap")
	after := b.Snapshot()
	assert.Equal(t, "java.util.HashMap", findMonitor(after, 11).Monitor.ClassName)
	assert.Equal(t, "java.util.HashMap", findThread(after, 1).Wait[0].Monitor.ClassName)
	// Earlier snapshots are not rewritten.
	assert.Equal(t, UnknownMonitorClass, findMonitor(before, 11).Monitor.ClassName)
}

func TestGraphBuilder_TimeAdjust(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	b.NewThread(2, "T2", "C")

	b.BatchStart()
	b.MonitorEntry(1, 1000, 0, 8, 2)
	b.TimeAdjust(1, 300, 0)
	b.MonitorExit(1, 1500, 0, 8)
	b.BatchStop()

	snap := b.Snapshot()
	assert.Equal(t, int64(200), findThread(snap, 1).Wait[0].WaitTime)
	assert.Equal(t, int64(200), findMonitor(snap, 8).Owner[0].WaitTime)
}

func TestGraphBuilder_ContractViolations(t *testing.T) {
	tests := []struct {
		name        string
		events      func(b *GraphBuilder)
		wantDropped int64
		wantWait    int64
	}{
		{
			name: "exit without entry",
			events: func(b *GraphBuilder) {
				b.MonitorExit(1, 10, 0, 4)
			},
			wantDropped: 1,
		},
		{
			name: "entry while waiting replaces stale episode",
			events: func(b *GraphBuilder) {
				b.MonitorEntry(1, 0, 0, 4, 2)
				b.MonitorEntry(1, 100, 0, 5, 2)
				b.MonitorExit(1, 130, 0, 5)
			},
			wantDropped: 1,
			wantWait:    30,
		},
		{
			name: "exit of another monitor abandons episode",
			events: func(b *GraphBuilder) {
				b.MonitorEntry(1, 0, 0, 4, 2)
				b.MonitorExit(1, 10, 0, 5)
				b.MonitorExit(1, 20, 0, 4)
			},
			wantDropped: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newReadyBuilder(t)
			b.NewThread(1, "T1", "C")
			b.NewThread(2, "T2", "C")

			assert.NotPanics(t, func() {
				b.BatchStart()
				tt.events(b)
				b.BatchStop()
			})

			snap := b.Snapshot()
			total, _ := snap.TotalWait()
			assert.Equal(t, tt.wantWait, total)
			st := b.Stats()
			assert.Equal(t, tt.wantDropped, st.DroppedEvents)
			assert.Equal(t, 0, st.OpenEpisodes)
		})
	}
}

func TestGraphBuilder_ResetDuringBatchIsDropped(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	contend(b, 1, -1, 2, 0, 10)

	b.BatchStart()
	assert.False(t, b.TryReset())
	b.BatchStop()

	assert.False(t, b.Snapshot().Empty())
	assert.Equal(t, int64(1), b.Stats().DroppedResets)
}

func TestGraphBuilder_ResetHook(t *testing.T) {
	var calls int
	var b *GraphBuilder
	b = NewGraphBuilder(WithResetHook(func() {
		calls++
		// The hook runs outside the transaction, so snapshots do not block.
		assert.True(t, b.Snapshot().Empty())
	}))
	b.Startup(DefaultStatus())
	contend(b, 1, 2, 100, 0, 10)

	b.BatchStart()
	assert.False(t, b.TryReset())
	b.BatchStop()
	assert.Zero(t, calls, "dropped resets do not fire the hook")

	assert.True(t, b.TryReset())
	assert.Equal(t, 1, calls)
}

func TestGraphBuilder_ResetClearsState(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	contend(b, 1, -1, 2, 0, 10)

	assert.True(t, b.TryReset())

	snap := b.Snapshot()
	assert.True(t, snap.Empty())
	assert.Empty(t, snap.Threads)
	assert.Empty(t, snap.Monitors)
	st := b.Stats()
	assert.Equal(t, 0, st.Threads)
	assert.Equal(t, 0, st.Monitors)
	assert.Equal(t, int64(1), st.Resets)

	// Thread ids must be announced again after a reset.
	b.MonitorEntry(1, 0, 0, 2, -1)
	assert.Equal(t, int64(1), b.Stats().IgnoredEvents)
}

func TestGraphBuilder_SnapshotIsIndependent(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")
	b.NewThread(2, "T2", "C")
	contend(b, 1, 2, 3, 0, 10)

	first := b.Snapshot()
	second := b.Snapshot()
	assert.Equal(t, first, second)

	contend(b, 1, 2, 3, 20, 50)
	assert.Equal(t, int64(10), findThread(first, 1).Wait[0].WaitTime)
	assert.Equal(t, int64(40), findThread(b.Snapshot(), 1).Wait[0].WaitTime)
}

func TestGraphBuilder_SnapshotWaitsForBatch(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")

	b.BatchStart()
	b.MonitorEntry(1, 0, 0, 2, -1)

	done := make(chan *Snapshot)
	go func() { done <- b.Snapshot() }()

	select {
	case <-done:
		t.Fatal("snapshot must wait for the batch to finish")
	case <-time.After(50 * time.Millisecond):
	}

	b.MonitorExit(1, 10, 0, 2)
	b.BatchStop()

	snap := <-done
	total, count := snap.TotalWait()
	assert.Equal(t, int64(10), total)
	assert.Equal(t, int64(1), count)
}

func TestGraphBuilder_ConcurrentSnapshots(t *testing.T) {
	b := newReadyBuilder(t)
	b.NewThread(1, "T1", "C")

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				_ = b.Snapshot()
				_ = b.Stats()
			}
		}()
	}
	for i := int64(0); i < 100; i++ {
		contend(b, 1, -1, 2, i*10, i*10+5)
	}
	wg.Wait()

	_, count := b.Snapshot().TotalWait()
	assert.Equal(t, int64(100), count)
}

func TestStatus_Conversions(t *testing.T) {
	st := Status{TimerCountsPerSecond: 1_000_000}
	assert.Equal(t, 1500*time.Microsecond, st.CountsToDuration(1500))
	assert.Equal(t, int64(1500), st.CountsToMicros(1500))

	ns := DefaultStatus()
	assert.Equal(t, int64(2), ns.CountsToMicros(2500))
	assert.Equal(t, time.Duration(7), Status{}.CountsToDuration(7))
}
