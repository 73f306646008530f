// Package repository persists contention snapshots so they outlive a
// session.
package repository

import (
	"context"
	"time"
)

// SnapshotRepository stores archived snapshots and their top-level rows.
type SnapshotRepository interface {
	// Save stores rec and rows in one transaction. rec.ID is set on return.
	Save(ctx context.Context, rec *SnapshotRecord, rows []ContentionRow) error

	// Get retrieves a snapshot record by id.
	Get(ctx context.Context, id uint64) (*SnapshotRecord, error)

	// ListBySession returns the newest records of a session first.
	ListBySession(ctx context.Context, sessionID string, limit int) ([]SnapshotRecord, error)

	// TopContended returns the rows of a snapshot with the most wait time.
	TopContended(ctx context.Context, snapshotID uint64, kind EntityKind, limit int) ([]ContentionRow, error)

	// DeleteBefore removes snapshots taken before t and reports how many.
	DeleteBefore(ctx context.Context, t time.Time) (int64, error)
}

// SummaryRepository answers aggregate questions across snapshots.
type SummaryRepository interface {
	// SessionTotals summarizes every snapshot of a session.
	SessionTotals(ctx context.Context, sessionID string) (*SessionTotals, error)

	// HotEntities returns the entities with the highest wait time seen in
	// any snapshot of a session.
	HotEntities(ctx context.Context, sessionID string, kind EntityKind, limit int) ([]EntitySummary, error)
}

// SessionTotals is the aggregate of a session's snapshots. Totals are
// cumulative, so the maximum is the latest complete figure.
type SessionTotals struct {
	SessionID     string     `json:"session_id"`
	Snapshots     int64      `json:"snapshots"`
	MaxTotalTime  int64      `json:"max_total_time"`
	MaxTotalWaits int64      `json:"max_total_waits"`
	FirstAt       *time.Time `json:"first_at,omitempty"`
	LastAt        *time.Time `json:"last_at,omitempty"`
}

// EntitySummary is one thread or monitor across a session's snapshots.
type EntitySummary struct {
	Kind     EntityKind `json:"kind"`
	EntityID int64      `json:"entity_id"`
	Name     string     `json:"name"`
	MaxTime  int64      `json:"max_time"`
	MaxWaits int64      `json:"max_waits"`
}
