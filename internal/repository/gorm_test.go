package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/lockgraph/internal/lockcct"
	"github.com/lockgraph/internal/locks"
	apperrors "github.com/lockgraph/pkg/errors"
	"github.com/lockgraph/pkg/utils"
)

func newTestGormDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	return db
}

func setupSnapshotRepo(t *testing.T) *GormSnapshotRepository {
	t.Helper()
	repo := NewGormSnapshotRepository(newTestGormDB(t))
	require.NoError(t, repo.AutoMigrate(context.Background()))
	return repo
}

var epoch = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

func scenarioTree(t *testing.T) *lockcct.RuntimeNode {
	t.Helper()
	b := locks.NewGraphBuilder(locks.WithClock(utils.NewMockClock(epoch)))
	b.Startup(locks.DefaultStatus())
	b.NewThread(1, "T1", "C")
	b.NewThread(2, "T2", "C")
	b.NewThread(3, "T3", "C")
	b.NewMonitor(100, "java.lang.Object")
	b.MonitorEntry(1, 1000, 0, 100, 2)
	b.MonitorExit(1, 1500, 0, 100)
	b.MonitorEntry(3, 1000, 0, 100, 2)
	b.MonitorExit(3, 1200, 0, 100)
	return lockcct.AppRootNode(b)
}

func TestNewRecord(t *testing.T) {
	rec, rows := NewRecord("s1", lockcct.ModeThreads, scenarioTree(t))

	assert.Equal(t, "s1", rec.SessionID)
	assert.Equal(t, epoch, rec.TakenAt)
	assert.Equal(t, "threads", rec.Mode)
	assert.Equal(t, int64(700), rec.TotalTime)
	assert.Equal(t, int64(2), rec.TotalWaits)
	assert.Equal(t, 3, rec.ThreadCount)
	assert.Equal(t, 1, rec.MonitorCount)
	assert.Equal(t, int64(1e9), rec.TimerCountsPerSecond)

	require.Len(t, rows, 4)
	assert.Equal(t, ContentionRow{Kind: KindThread, EntityID: 1, Name: "T1", Time: 500, Waits: 1}, rows[0])
	assert.Equal(t, ContentionRow{Kind: KindThread, EntityID: 2, Name: "T2", Time: 0, Waits: 0}, rows[1])
	assert.Equal(t, KindMonitor, rows[3].Kind)
	assert.Equal(t, int64(100), rows[3].EntityID)
	assert.Equal(t, int64(700), rows[3].Time)
}

func TestGormSnapshotRepository_SaveAndQuery(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()

	rec, rows := NewRecord("s1", lockcct.ModeThreads, scenarioTree(t))
	require.NoError(t, repo.Save(ctx, rec, rows))
	require.NotZero(t, rec.ID)
	for _, r := range rows {
		assert.Equal(t, rec.ID, r.SnapshotID)
	}

	t.Run("Get", func(t *testing.T) {
		got, err := repo.Get(ctx, rec.ID)
		require.NoError(t, err)
		assert.Equal(t, int64(700), got.TotalTime)
		assert.True(t, epoch.Equal(got.TakenAt))
	})

	t.Run("Get_NotFound", func(t *testing.T) {
		_, err := repo.Get(ctx, 999)
		assert.True(t, apperrors.IsNotFound(err))
	})

	t.Run("TopContended", func(t *testing.T) {
		top, err := repo.TopContended(ctx, rec.ID, KindThread, 2)
		require.NoError(t, err)
		require.Len(t, top, 2)
		assert.Equal(t, "T1", top[0].Name)
		assert.Equal(t, "T3", top[1].Name)

		monitors, err := repo.TopContended(ctx, rec.ID, KindMonitor, 0)
		require.NoError(t, err)
		require.Len(t, monitors, 1)
		assert.Equal(t, "java.lang.Object(0x64)", monitors[0].Name)
	})
}

func TestGormSnapshotRepository_ListAndDelete(t *testing.T) {
	repo := setupSnapshotRepo(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		rec := &SnapshotRecord{SessionID: "s1", Mode: "threads", TakenAt: epoch.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, repo.Save(ctx, rec, []ContentionRow{{Kind: KindThread, EntityID: 1, Name: "T1"}}))
	}
	require.NoError(t, repo.Save(ctx, &SnapshotRecord{SessionID: "s2", TakenAt: epoch}, nil))

	recs, err := repo.ListBySession(ctx, "s1", 2)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.True(t, recs[0].TakenAt.After(recs[1].TakenAt))

	deleted, err := repo.DeleteBefore(ctx, epoch.Add(90*time.Second))
	require.NoError(t, err)
	assert.Equal(t, int64(3), deleted)

	recs, err = repo.ListBySession(ctx, "s1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 1)

	var rowCount int64
	require.NoError(t, repo.db.Model(&ContentionRow{}).Count(&rowCount).Error)
	assert.Equal(t, int64(1), rowCount)

	deleted, err = repo.DeleteBefore(ctx, epoch)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}

func TestParseEntityKind(t *testing.T) {
	k, err := ParseEntityKind("monitors")
	require.NoError(t, err)
	assert.Equal(t, KindMonitor, k)

	k, err = ParseEntityKind("thread")
	require.NoError(t, err)
	assert.Equal(t, KindThread, k)

	_, err = ParseEntityKind("lock")
	assert.Error(t, err)
}
