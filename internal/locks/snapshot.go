package locks

import (
	"sort"
	"time"
)

// ThreadRef identifies a thread inside a snapshot.
type ThreadRef struct {
	ID        int    `json:"id"`
	Name      string `json:"name"`
	ClassName string `json:"class_name,omitempty"`
	Gen       uint64 `json:"gen,omitempty"`
}

func (t ThreadRef) less(o ThreadRef) bool {
	if t.ID != o.ID {
		return t.ID < o.ID
	}
	return t.Gen < o.Gen
}

// MonitorRef identifies a monitor inside a snapshot.
type MonitorRef struct {
	ID        int32  `json:"id"`
	ClassName string `json:"class_name"`
}

// DisplayName renders the monitor as "class(0xhash)".
func (m MonitorRef) DisplayName() string {
	return MonitorDisplayName(m.ClassName, m.ID)
}

// ThreadDetail is the aggregated wait against one counterparty thread.
// Threads holds the next drill-down level and is empty on leaves.
type ThreadDetail struct {
	Thread   ThreadRef      `json:"thread"`
	WaitTime int64          `json:"wait_time"`
	Count    int64          `json:"count"`
	Threads  []ThreadDetail `json:"threads,omitempty"`
}

// MonitorDetail is the aggregated wait against one monitor, broken down by
// counterparty thread.
type MonitorDetail struct {
	Monitor  MonitorRef     `json:"monitor"`
	WaitTime int64          `json:"wait_time"`
	Count    int64          `json:"count"`
	Threads  []ThreadDetail `json:"threads,omitempty"`
}

// ThreadStats holds the monitors a thread waited on and the monitors it owned
// while others waited.
type ThreadStats struct {
	Thread ThreadRef       `json:"thread"`
	Wait   []MonitorDetail `json:"wait,omitempty"`
	Owner  []MonitorDetail `json:"owner,omitempty"`
}

// MonitorStats holds the threads that waited on a monitor and the threads
// that owned it meanwhile.
type MonitorStats struct {
	Monitor MonitorRef     `json:"monitor"`
	Wait    []ThreadDetail `json:"wait,omitempty"`
	Owner   []ThreadDetail `json:"owner,omitempty"`
}

// Snapshot is a deep, immutable copy of the live registries. It shares no
// memory with the builder and may be read from any goroutine.
type Snapshot struct {
	TakenAt  time.Time      `json:"taken_at"`
	Status   Status         `json:"status"`
	Threads  []ThreadStats  `json:"threads"`
	Monitors []MonitorStats `json:"monitors"`
}

// Empty reports whether the snapshot holds no contention data.
func (s *Snapshot) Empty() bool {
	return len(s.Threads) == 0 && len(s.Monitors) == 0
}

// TotalWait sums every closed episode once.
func (s *Snapshot) TotalWait() (waitTime int64, count int64) {
	for _, ms := range s.Monitors {
		for _, d := range ms.Wait {
			waitTime += d.WaitTime
			count += d.Count
		}
	}
	return waitTime, count
}

func threadRef(t *ThreadInfo) ThreadRef {
	return ThreadRef{ID: t.ID, Name: t.Name, ClassName: t.ClassName, Gen: t.Gen}
}

func monitorRef(m *MonitorInfo) MonitorRef {
	return MonitorRef{ID: m.ID, ClassName: m.ClassName}
}

func cloneThreadDetails(m map[*ThreadInfo]*detail) []ThreadDetail {
	if len(m) == 0 {
		return nil
	}
	out := make([]ThreadDetail, 0, len(m))
	for ti, d := range m {
		out = append(out, ThreadDetail{
			Thread:   threadRef(ti),
			WaitTime: d.waitTime,
			Count:    d.count,
			Threads:  cloneThreadDetails(d.threads),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Thread.less(out[j].Thread) })
	return out
}

func cloneMonitorDetails(m map[*MonitorInfo]*detail) []MonitorDetail {
	if len(m) == 0 {
		return nil
	}
	out := make([]MonitorDetail, 0, len(m))
	for mi, d := range m {
		out = append(out, MonitorDetail{
			Monitor:  monitorRef(mi),
			WaitTime: d.waitTime,
			Count:    d.count,
			Threads:  cloneThreadDetails(d.threads),
		})
	}
	sort.Slice(out, func(i, j int) bool { return uint32(out[i].Monitor.ID) < uint32(out[j].Monitor.ID) })
	return out
}
