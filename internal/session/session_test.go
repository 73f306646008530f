package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/locks"
	"github.com/lockgraph/internal/protocol"
	"github.com/lockgraph/internal/testutil"
	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
)

type treeRecorder struct {
	mu          sync.Mutex
	established []*lockcct.RuntimeNode
	empties     []bool
	resets      int
}

func (r *treeRecorder) CCTEstablished(root *lockcct.RuntimeNode, empty bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.established = append(r.established, root)
	r.empties = append(r.empties, empty)
}

func (r *treeRecorder) CCTReset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resets++
}

func (r *treeRecorder) counts() (established, resets int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.established), r.resets
}

func scenarioBuilder() *locks.GraphBuilder {
	b := locks.NewGraphBuilder()
	b.Startup(locks.DefaultStatus())
	b.NewThread(1, "T1", "C")
	b.NewThread(2, "T2", "C")
	b.NewMonitor(100, "java.lang.Object")
	b.MonitorEntry(1, 1000, 0, 100, 2)
	b.MonitorExit(1, 1500, 0, 100)
	return b
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func TestProvider_Throttling(t *testing.T) {
	clock := utils.NewMockClock(epoch)
	p := NewProvider(scenarioBuilder(), time.Second, clock, nil)
	rec := &treeRecorder{}
	p.AddListener(rec)
	ctx := context.Background()

	first := p.Refresh(ctx, false)
	require.NotNil(t, first)
	assert.Nil(t, p.Refresh(ctx, false))

	forced := p.Refresh(ctx, true)
	require.NotNil(t, forced)
	assert.Same(t, forced, p.Latest())

	clock.Advance(1500 * time.Millisecond)
	assert.NotNil(t, p.Refresh(ctx, false))

	st := p.Stats()
	assert.Equal(t, int64(3), st.Refreshes)
	assert.Equal(t, int64(1), st.Skipped)
	assert.Equal(t, int64(1), st.Forced)
	assert.Equal(t, epoch.Add(1500*time.Millisecond), st.LastRefresh)

	established, _ := rec.counts()
	assert.Equal(t, 3, established)
	assert.Equal(t, []bool{false, false, false}, rec.empties)
}

func TestProvider_EmptySnapshot(t *testing.T) {
	b := locks.NewGraphBuilder()
	b.Startup(locks.DefaultStatus())
	p := NewProvider(b, 0, nil, nil)
	rec := &treeRecorder{}
	p.AddListener(rec)

	root := p.Refresh(context.Background(), false)
	require.NotNil(t, root)
	assert.True(t, root.Empty())
	assert.Equal(t, []bool{true}, rec.empties)
}

func TestProvider_Staleness(t *testing.T) {
	clock := utils.NewMockClock(epoch)
	p := NewProvider(scenarioBuilder(), time.Second, clock, nil)

	assert.False(t, p.Stale(time.Second))
	p.MarkDirty()
	assert.True(t, p.Stale(time.Second))

	p.Refresh(context.Background(), true)
	assert.False(t, p.Stale(time.Second))

	p.MarkDirty()
	assert.False(t, p.Stale(time.Second))
	clock.Advance(time.Second)
	assert.True(t, p.Stale(time.Second))
}

func TestProvider_ResetAndRemove(t *testing.T) {
	p := NewProvider(scenarioBuilder(), 0, nil, nil)
	kept, removed := &treeRecorder{}, &treeRecorder{}
	p.AddListener(kept)
	p.AddListener(removed)
	p.RemoveListener(removed)

	p.Refresh(context.Background(), true)
	p.NotifyReset()

	assert.Nil(t, p.Latest())
	established, resets := kept.counts()
	assert.Equal(t, 1, established)
	assert.Equal(t, 1, resets)
	established, resets = removed.counts()
	assert.Zero(t, established)
	assert.Zero(t, resets)
}

func newSession(t *testing.T, mutate func(*Config)) *Session {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxRefresh = 0
	if mutate != nil {
		mutate(&cfg)
	}
	s := New(cfg, nil)
	t.Cleanup(s.Close)
	return s
}

func TestSession_FramesToTree(t *testing.T) {
	s := newSession(t, nil)
	rec := &treeRecorder{}
	s.Provider().AddListener(rec)
	ctx := context.Background()

	require.NotEmpty(t, s.ID())
	require.NoError(t, s.Submit(ctx, "", testutil.ScenarioFrame(t)))
	require.NoError(t, s.Sync(ctx))

	// The frame hook published a tree as soon as the frame was applied.
	established, _ := rec.counts()
	assert.Equal(t, 1, established)

	root := s.Tree(ctx)
	threads := root.Threads()
	assert.Equal(t, int64(500), threads.Time())
	assert.Equal(t, int64(1), threads.Waits())

	monitors := root.Monitors()
	require.Equal(t, 1, monitors.NChildren())
	assert.Equal(t, "java.lang.Object(0x64)", monitors.Child(0).Name())

	st := s.Stats()
	assert.Equal(t, s.ID(), st.ID)
	assert.Equal(t, int64(1), st.Dispatcher.Processed)
	assert.Equal(t, 2, st.Builder.Threads)
	assert.False(t, st.Closed)
}

func TestSession_Reset(t *testing.T) {
	s := newSession(t, nil)
	rec := &treeRecorder{}
	s.Provider().AddListener(rec)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "", testutil.ScenarioFrame(t)))
	require.NoError(t, s.Sync(ctx))

	assert.True(t, s.Reset())
	_, resets := rec.counts()
	assert.Equal(t, 1, resets)
	assert.True(t, s.Tree(ctx).Empty())
}

func TestSession_ResetInFrameNotifiesListeners(t *testing.T) {
	s := newSession(t, nil)
	rec := &treeRecorder{}
	s.Provider().AddListener(rec)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "", testutil.ScenarioFrame(t)))
	require.NoError(t, s.Sync(ctx))
	require.NotNil(t, s.Tree(ctx))
	require.NotNil(t, s.Provider().Latest())

	enc := protocol.NewEncoder(testutil.Options)
	enc.NewThread(1, "T1", "C").ResetCollectors()
	require.NoError(t, enc.Err())
	require.NoError(t, s.Submit(ctx, "", enc.Frame()))
	require.NoError(t, s.Sync(ctx))

	assert.Equal(t, int64(1), s.Stats().Builder.Resets)
	_, resets := rec.counts()
	assert.Equal(t, 1, resets)
	if latest := s.Provider().Latest(); latest != nil {
		assert.True(t, latest.Empty(), "no pre-reset tree is served")
	}
	assert.True(t, s.Tree(ctx).Empty())
}

func TestSession_MaxRefreshForcesStaleTree(t *testing.T) {
	s := newSession(t, func(cfg *Config) {
		cfg.MinRefresh = time.Hour
		cfg.MaxRefresh = 20 * time.Millisecond
	})
	rec := &treeRecorder{}
	s.Provider().AddListener(rec)
	ctx := context.Background()

	require.NoError(t, s.Submit(ctx, "", testutil.ScenarioFrame(t)))
	require.NoError(t, s.Submit(ctx, "", testutil.ContentionFrame(t, 2, 1, 100, 2000, 2300)))
	require.NoError(t, s.Sync(ctx))

	// Only the first frame got an unforced refresh; the watcher publishes
	// the second.
	assert.Eventually(t, func() bool {
		latest := s.Provider().Latest()
		if latest == nil {
			return false
		}
		total, count := latest.Snapshot().TotalWait()
		return total == 800 && count == 2
	}, 2*time.Second, 5*time.Millisecond)
	assert.GreaterOrEqual(t, s.Provider().Stats().Forced, int64(1))
}

func TestSession_Close(t *testing.T) {
	s := New(DefaultConfig(), nil)
	rec := &treeRecorder{}
	s.Provider().AddListener(rec)

	s.Close()
	s.Close()

	assert.True(t, s.Closed())
	assert.False(t, s.Builder().Ready())
	_, resets := rec.counts()
	assert.Equal(t, 1, resets)

	err := s.Submit(context.Background(), "", testutil.ScenarioFrame(t))
	assert.True(t, apperrors.IsSessionClosed(err))
	_, err = s.ReplayFile(context.Background(), "", "frames.bin")
	assert.True(t, apperrors.IsSessionClosed(err))
}

func TestSession_ToDuration(t *testing.T) {
	s := newSession(t, func(cfg *Config) {
		cfg.Status.TimerCountsPerSecond = 1000
	})
	assert.Equal(t, 5*time.Millisecond, s.ToDuration(5))
	assert.Equal(t, int64(1000), s.Status().TimerCountsPerSecond)
}
