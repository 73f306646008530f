package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/lockgraph/pkg/errors"
)

func TestSQLSummaryRepository_Rebind(t *testing.T) {
	pg := NewSQLSummaryRepository(nil, DBTypePostgres)
	assert.Equal(t, "a = $1 AND b = $2", pg.rebind("a = ? AND b = ?"))

	my := NewSQLSummaryRepository(nil, DBTypeMySQL)
	assert.Equal(t, "a = ? AND b = ?", my.rebind("a = ? AND b = ?"))
}

func TestSQLSummaryRepository_SessionTotals(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLSummaryRepository(db, DBTypePostgres)
	first := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	last := first.Add(time.Hour)

	t.Run("SessionTotals_Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"count", "max_time", "max_waits", "min", "max"}).
			AddRow(int64(3), int64(700), int64(2), first, last)
		mock.ExpectQuery(`SELECT COUNT\(\*\).*WHERE session_id = \$1`).
			WithArgs("s1").
			WillReturnRows(rows)

		totals, err := repo.SessionTotals(context.Background(), "s1")
		require.NoError(t, err)
		assert.Equal(t, "s1", totals.SessionID)
		assert.Equal(t, int64(3), totals.Snapshots)
		assert.Equal(t, int64(700), totals.MaxTotalTime)
		assert.Equal(t, int64(2), totals.MaxTotalWaits)
		require.NotNil(t, totals.FirstAt)
		assert.Equal(t, first, *totals.FirstAt)
		require.NotNil(t, totals.LastAt)
		assert.Equal(t, last, *totals.LastAt)
	})

	t.Run("SessionTotals_Empty", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"count", "max_time", "max_waits", "min", "max"}).
			AddRow(int64(0), int64(0), int64(0), nil, nil)
		mock.ExpectQuery("SELECT COUNT").WithArgs("none").WillReturnRows(rows)

		totals, err := repo.SessionTotals(context.Background(), "none")
		require.NoError(t, err)
		assert.Zero(t, totals.Snapshots)
		assert.Nil(t, totals.FirstAt)
		assert.Nil(t, totals.LastAt)
	})

	t.Run("SessionTotals_Error", func(t *testing.T) {
		mock.ExpectQuery("SELECT COUNT").WillReturnError(errors.New("connection reset"))

		_, err := repo.SessionTotals(context.Background(), "s1")
		require.Error(t, err)
		assert.True(t, apperrors.IsDatabaseError(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLSummaryRepository_HotEntities(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewSQLSummaryRepository(db, DBTypeMySQL)

	t.Run("HotEntities_Success", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"entity_id", "name", "max_time", "max_waits"}).
			AddRow(int64(1), "T1", int64(500), int64(1)).
			AddRow(int64(3), "T3", int64(200), int64(1))
		mock.ExpectQuery(`SELECT r.entity_id, r.name.*LIMIT \?`).
			WithArgs("s1", "thread", 10).
			WillReturnRows(rows)

		got, err := repo.HotEntities(context.Background(), "s1", KindThread, 0)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, EntitySummary{Kind: KindThread, EntityID: 1, Name: "T1", MaxTime: 500, MaxWaits: 1}, got[0])
		assert.Equal(t, "T3", got[1].Name)
	})

	t.Run("HotEntities_ScanError", func(t *testing.T) {
		rows := sqlmock.NewRows([]string{"entity_id", "name", "max_time", "max_waits"}).
			AddRow("not-a-number", "M", int64(1), int64(1))
		mock.ExpectQuery("SELECT r.entity_id").
			WithArgs("s1", "monitor", 5).
			WillReturnRows(rows)

		_, err := repo.HotEntities(context.Background(), "s1", KindMonitor, 5)
		require.Error(t, err)
		assert.True(t, apperrors.IsDatabaseError(err))
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}
