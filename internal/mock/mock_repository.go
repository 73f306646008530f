package mock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/lockgraph/internal/repository"
)

// MockSnapshotRepository is a mock implementation of
// repository.SnapshotRepository.
type MockSnapshotRepository struct {
	mock.Mock
}

// Save mocks the Save method. The returned id, if any, is assigned to rec.
func (m *MockSnapshotRepository) Save(ctx context.Context, rec *repository.SnapshotRecord, rows []repository.ContentionRow) error {
	args := m.Called(ctx, rec, rows)
	if id, ok := args.Get(0).(uint64); ok {
		rec.ID = id
		for i := range rows {
			rows[i].SnapshotID = id
		}
	}
	return args.Error(1)
}

// Get mocks the Get method.
func (m *MockSnapshotRepository) Get(ctx context.Context, id uint64) (*repository.SnapshotRecord, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.SnapshotRecord), args.Error(1)
}

// ListBySession mocks the ListBySession method.
func (m *MockSnapshotRepository) ListBySession(ctx context.Context, sessionID string, limit int) ([]repository.SnapshotRecord, error) {
	args := m.Called(ctx, sessionID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.SnapshotRecord), args.Error(1)
}

// TopContended mocks the TopContended method.
func (m *MockSnapshotRepository) TopContended(ctx context.Context, snapshotID uint64, kind repository.EntityKind, limit int) ([]repository.ContentionRow, error) {
	args := m.Called(ctx, snapshotID, kind, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.ContentionRow), args.Error(1)
}

// DeleteBefore mocks the DeleteBefore method.
func (m *MockSnapshotRepository) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	args := m.Called(ctx, t)
	return args.Get(0).(int64), args.Error(1)
}

// ExpectSave sets up an expectation for any Save call returning id.
func (m *MockSnapshotRepository) ExpectSave(id uint64, err error) *mock.Call {
	return m.On("Save", mock.Anything, mock.Anything, mock.Anything).Return(id, err)
}

// MockSummaryRepository is a mock implementation of
// repository.SummaryRepository.
type MockSummaryRepository struct {
	mock.Mock
}

// SessionTotals mocks the SessionTotals method.
func (m *MockSummaryRepository) SessionTotals(ctx context.Context, sessionID string) (*repository.SessionTotals, error) {
	args := m.Called(ctx, sessionID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.SessionTotals), args.Error(1)
}

// HotEntities mocks the HotEntities method.
func (m *MockSummaryRepository) HotEntities(ctx context.Context, sessionID string, kind repository.EntityKind, limit int) ([]repository.EntitySummary, error) {
	args := m.Called(ctx, sessionID, kind, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]repository.EntitySummary), args.Error(1)
}
