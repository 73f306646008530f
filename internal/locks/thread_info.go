package locks

import (
	apperrors "github.com/lockgraph/pkg/errors"
)

// UnknownThreadID is the id reserved for the "Unknown" sentinel thread.
const UnknownThreadID = -1

// UnknownThreadName is the display name of the sentinel thread.
const UnknownThreadName = "Unknown"

// episode is an in-progress wait: a thread blocked on a monitor held by owner
// since start.
type episode struct {
	monitor *MonitorInfo
	owner   *ThreadInfo
	start   int64
}

// ThreadInfo is the live bookkeeping for one profiled thread.
type ThreadInfo struct {
	ID        int
	Name      string
	ClassName string
	// Gen tells apart threads registered under the same id.
	Gen uint64

	waitMonitors  map[*MonitorInfo]*detail
	ownerMonitors map[*MonitorInfo]*detail
	open          *episode
}

func newThreadInfo(id int, name, className string) *ThreadInfo {
	return &ThreadInfo{
		ID:            id,
		Name:          name,
		ClassName:     className,
		waitMonitors:  make(map[*MonitorInfo]*detail),
		ownerMonitors: make(map[*MonitorInfo]*detail),
	}
}

// Waiting reports whether the thread has an open wait episode.
func (t *ThreadInfo) Waiting() bool {
	return t.open != nil
}

func (t *ThreadInfo) hasData() bool {
	return len(t.waitMonitors) > 0 || len(t.ownerMonitors) > 0
}

// openMonitor starts a wait episode on m held by owner.
func (t *ThreadInfo) openMonitor(owner *ThreadInfo, m *MonitorInfo, t0 int64) error {
	if t.open != nil {
		return apperrors.Newf(apperrors.CodeContractViolation,
			"thread %d entered monitor %#x while waiting on %#x", t.ID, m.ID, t.open.monitor.ID)
	}
	t.open = &episode{monitor: m, owner: owner, start: t0}
	return nil
}

// closeMonitor ends the open episode on m at t1 and folds the wait into this
// thread's wait bucket and the owner's owner bucket.
func (t *ThreadInfo) closeMonitor(m *MonitorInfo, t1 int64) error {
	ep := t.open
	if ep == nil {
		return apperrors.Newf(apperrors.CodeContractViolation,
			"thread %d exited monitor %#x without entering it", t.ID, m.ID)
	}
	if ep.monitor != m {
		return apperrors.Newf(apperrors.CodeContractViolation,
			"thread %d exited monitor %#x while waiting on %#x", t.ID, m.ID, ep.monitor.ID)
	}
	t.open = nil

	wait := waitBetween(ep.start, t1)
	detailFor(t.waitMonitors, m).addWait(ep.owner, wait)
	detailFor(ep.owner.ownerMonitors, m).addWait(t, wait)
	return nil
}

// timeAdjust shifts the start of the open episode, if any, on both sides.
func (t *ThreadInfo) timeAdjust(diff int64) {
	if t.open == nil {
		return
	}
	t.open.start += diff
	t.open.monitor.timeAdjust(t, diff)
}

// abandon discards the open episode on both sides without recording it.
func (t *ThreadInfo) abandon() {
	if t.open == nil {
		return
	}
	t.open.monitor.abandon(t)
	t.open = nil
}

// waitBetween clamps episodes that end before they start to zero.
func waitBetween(start, end int64) int64 {
	if end < start {
		return 0
	}
	return end - start
}
