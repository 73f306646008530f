package repository

import (
	"fmt"
	"time"

	"github.com/lockgraph/internal/lockcct"
)

// EntityKind tells thread rows from monitor rows.
type EntityKind string

const (
	KindThread  EntityKind = "thread"
	KindMonitor EntityKind = "monitor"
)

// ParseEntityKind maps a view mode or kind name to an EntityKind.
func ParseEntityKind(s string) (EntityKind, error) {
	switch s {
	case "thread", "threads":
		return KindThread, nil
	case "monitor", "monitors":
		return KindMonitor, nil
	}
	return "", fmt.Errorf("unknown entity kind: %q", s)
}

// SnapshotRecord represents the lock_snapshot table.
type SnapshotRecord struct {
	ID                   uint64    `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SessionID            string    `gorm:"column:session_id;type:varchar(64);index" json:"session_id"`
	TakenAt              time.Time `gorm:"column:taken_at;index" json:"taken_at"`
	Mode                 string    `gorm:"column:mode;type:varchar(16)" json:"mode"`
	TotalTime            int64     `gorm:"column:total_time" json:"total_time"`
	TotalWaits           int64     `gorm:"column:total_waits" json:"total_waits"`
	ThreadCount          int       `gorm:"column:thread_count" json:"thread_count"`
	MonitorCount         int       `gorm:"column:monitor_count" json:"monitor_count"`
	TimerCountsPerSecond int64     `gorm:"column:timer_counts_per_second" json:"timer_counts_per_second"`
	ArchiveKey           string    `gorm:"column:archive_key;type:varchar(512)" json:"archive_key,omitempty"`
	CreateTime           time.Time `gorm:"column:create_time;autoCreateTime" json:"create_time"`
}

// TableName returns the table name for SnapshotRecord.
func (SnapshotRecord) TableName() string {
	return "lock_snapshot"
}

// ContentionRow represents the lock_contention_row table: one top-level
// thread or monitor of a snapshot.
type ContentionRow struct {
	ID         uint64     `gorm:"column:id;primaryKey;autoIncrement" json:"id"`
	SnapshotID uint64     `gorm:"column:snapshot_id;index" json:"snapshot_id"`
	Kind       EntityKind `gorm:"column:kind;type:varchar(16)" json:"kind"`
	EntityID   int64      `gorm:"column:entity_id" json:"entity_id"`
	Name       string     `gorm:"column:name;type:varchar(512)" json:"name"`
	Time       int64      `gorm:"column:time" json:"time"`
	Waits      int64      `gorm:"column:waits" json:"waits"`
}

// TableName returns the table name for ContentionRow.
func (ContentionRow) TableName() string {
	return "lock_contention_row"
}

// NewRecord summarizes rt as a record for mode plus one row per thread and
// per monitor with data. Rows of both views are kept regardless of mode.
func NewRecord(sessionID string, mode lockcct.Mode, rt *lockcct.RuntimeNode) (*SnapshotRecord, []ContentionRow) {
	snap := rt.Snapshot()
	root := rt.Root(mode)
	rec := &SnapshotRecord{
		SessionID:            sessionID,
		TakenAt:              snap.TakenAt,
		Mode:                 string(mode),
		TotalTime:            root.Time(),
		TotalWaits:           root.Waits(),
		ThreadCount:          len(snap.Threads),
		MonitorCount:         len(snap.Monitors),
		TimerCountsPerSecond: snap.Status.TimerCountsPerSecond,
	}

	var rows []ContentionRow
	for _, n := range rt.Threads().Children() {
		ref, _ := n.Thread()
		rows = append(rows, ContentionRow{
			Kind: KindThread, EntityID: int64(ref.ID), Name: n.Name(), Time: n.Time(), Waits: n.Waits(),
		})
	}
	for _, n := range rt.Monitors().Children() {
		ref, _ := n.Monitor()
		rows = append(rows, ContentionRow{
			Kind: KindMonitor, EntityID: int64(ref.ID), Name: n.Name(), Time: n.Time(), Waits: n.Waits(),
		})
	}
	return rec, rows
}
