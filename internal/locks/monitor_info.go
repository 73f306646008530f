package locks

import (
	"fmt"

	apperrors "github.com/lockgraph/pkg/errors"
)

// UnknownMonitorClass is the placeholder class name of a monitor first seen in
// an entry or exit event.
const UnknownMonitorClass = "*unknown*"

// threadEpisode is the monitor-side view of an open wait.
type threadEpisode struct {
	owner *ThreadInfo
	start int64
}

// MonitorInfo is the live bookkeeping for one lock object.
type MonitorInfo struct {
	ID        int32
	ClassName string

	waitThreads  map[*ThreadInfo]*detail
	ownerThreads map[*ThreadInfo]*detail
	openThreads  map[*ThreadInfo]*threadEpisode
}

func newMonitorInfo(id int32, className string) *MonitorInfo {
	return &MonitorInfo{
		ID:           id,
		ClassName:    className,
		waitThreads:  make(map[*ThreadInfo]*detail),
		ownerThreads: make(map[*ThreadInfo]*detail),
		openThreads:  make(map[*ThreadInfo]*threadEpisode),
	}
}

// DisplayName renders the monitor as "class(0xhash)".
func (m *MonitorInfo) DisplayName() string {
	return MonitorDisplayName(m.ClassName, m.ID)
}

// MonitorDisplayName formats a monitor class and identity hash.
func MonitorDisplayName(className string, id int32) string {
	return fmt.Sprintf("%s(%#x)", className, uint32(id))
}

// Waiters returns the number of threads currently blocked on the monitor.
func (m *MonitorInfo) Waiters() int {
	return len(m.openThreads)
}

func (m *MonitorInfo) hasData() bool {
	return len(m.waitThreads) > 0 || len(m.ownerThreads) > 0
}

// openThread starts the monitor side of a wait episode for t.
func (m *MonitorInfo) openThread(t, owner *ThreadInfo, t0 int64) error {
	if _, ok := m.openThreads[t]; ok {
		return apperrors.Newf(apperrors.CodeContractViolation,
			"thread %d already waits on monitor %#x", t.ID, m.ID)
	}
	m.openThreads[t] = &threadEpisode{owner: owner, start: t0}
	return nil
}

// closeThread ends t's episode at t1 and folds the wait into the monitor's
// wait bucket for t and owner bucket for the owner.
func (m *MonitorInfo) closeThread(t *ThreadInfo, t1 int64) error {
	ep, ok := m.openThreads[t]
	if !ok {
		return apperrors.Newf(apperrors.CodeContractViolation,
			"monitor %#x has no open episode for thread %d", m.ID, t.ID)
	}
	delete(m.openThreads, t)

	wait := waitBetween(ep.start, t1)
	detailFor(m.waitThreads, t).addWait(ep.owner, wait)
	detailFor(m.ownerThreads, ep.owner).addWait(t, wait)
	return nil
}

func (m *MonitorInfo) timeAdjust(t *ThreadInfo, diff int64) {
	if ep, ok := m.openThreads[t]; ok {
		ep.start += diff
	}
}

func (m *MonitorInfo) abandon(t *ThreadInfo) {
	delete(m.openThreads, t)
}
