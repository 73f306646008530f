package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	apperrors "github.com/lockgraph/pkg/errors"
)

// GormSnapshotRepository implements SnapshotRepository using GORM.
type GormSnapshotRepository struct {
	db *gorm.DB
}

// NewGormSnapshotRepository creates a new GormSnapshotRepository.
func NewGormSnapshotRepository(db *gorm.DB) *GormSnapshotRepository {
	return &GormSnapshotRepository{db: db}
}

// AutoMigrate creates or updates the snapshot tables.
func (r *GormSnapshotRepository) AutoMigrate(ctx context.Context) error {
	if err := r.db.WithContext(ctx).AutoMigrate(&SnapshotRecord{}, &ContentionRow{}); err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to migrate snapshot tables", err)
	}
	return nil
}

// Save stores rec and rows in one transaction.
func (r *GormSnapshotRepository) Save(ctx context.Context, rec *SnapshotRecord, rows []ContentionRow) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(rec).Error; err != nil {
			return fmt.Errorf("failed to insert snapshot: %w", err)
		}
		if len(rows) == 0 {
			return nil
		}
		for i := range rows {
			rows[i].SnapshotID = rec.ID
		}
		if err := tx.CreateInBatches(rows, 100).Error; err != nil {
			return fmt.Errorf("failed to insert contention rows: %w", err)
		}
		return nil
	})
	if err != nil {
		return apperrors.Wrap(apperrors.CodeDatabaseError, "failed to save snapshot", err)
	}
	return nil
}

// Get retrieves a snapshot record by id.
func (r *GormSnapshotRepository) Get(ctx context.Context, id uint64) (*SnapshotRecord, error) {
	var rec SnapshotRecord
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, apperrors.Newf(apperrors.CodeNotFound, "snapshot not found: %d", id)
		}
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to get snapshot", err)
	}
	return &rec, nil
}

// ListBySession returns the newest records of a session first.
func (r *GormSnapshotRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]SnapshotRecord, error) {
	var recs []SnapshotRecord
	q := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("taken_at DESC").
		Order("id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to list snapshots", err)
	}
	return recs, nil
}

// TopContended returns the rows of a snapshot with the most wait time.
func (r *GormSnapshotRepository) TopContended(ctx context.Context, snapshotID uint64, kind EntityKind, limit int) ([]ContentionRow, error) {
	var rows []ContentionRow
	q := r.db.WithContext(ctx).
		Where("snapshot_id = ? AND kind = ?", snapshotID, kind).
		Order("time DESC").
		Order("waits DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to query contention rows", err)
	}
	return rows, nil
}

// DeleteBefore removes snapshots taken before t together with their rows.
func (r *GormSnapshotRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	var deleted int64
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint64
		if err := tx.Model(&SnapshotRecord{}).Where("taken_at < ?", t).Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("snapshot_id IN ?", ids).Delete(&ContentionRow{}).Error; err != nil {
			return err
		}
		res := tx.Where("id IN ?", ids).Delete(&SnapshotRecord{})
		deleted = res.RowsAffected
		return res.Error
	})
	if err != nil {
		return 0, apperrors.Wrap(apperrors.CodeDatabaseError, "failed to delete snapshots", err)
	}
	return deleted, nil
}
