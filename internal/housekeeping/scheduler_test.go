package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/runnerr0/pagelog/internal/storage"
)

// --- Mocks ---

type MockMaintainer struct {
	mock.Mock
}

func (m *MockMaintainer) PruneTransactionHistory(ctx context.Context, olderThan time.Duration) (int64, error) {
	args := m.Called(ctx, olderThan)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockMaintainer) PerformHousekeeping(ctx context.Context) (storage.HousekeepingResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(storage.HousekeepingResult), args.Error(1)
}

func TestNew_InvalidSchedule(t *testing.T) {
	_, err := New(new(MockMaintainer), "every tuesday", time.Hour)
	assert.Error(t, err)
}

func TestRunOnce(t *testing.T) {
	m := new(MockMaintainer)
	m.On("PruneTransactionHistory", mock.Anything, 48*time.Hour).Return(int64(12), nil)
	m.On("PerformHousekeeping", mock.Anything).Return(storage.HousekeepingResult{Pages: 2, Categories: 5}, nil)

	s, err := New(m, "", 48*time.Hour)
	require.NoError(t, err)

	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{PrunedHistory: 12, Pages: 2, Categories: 5}, res)
	m.AssertExpectations(t)
}

func TestRunOnce_PruneFailureSkipsHousekeeping(t *testing.T) {
	m := new(MockMaintainer)
	m.On("PruneTransactionHistory", mock.Anything, time.Hour).Return(int64(0), errors.New("disk full"))

	s, err := New(m, "@daily", time.Hour)
	require.NoError(t, err)

	_, err = s.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	m.AssertNotCalled(t, "PerformHousekeeping", mock.Anything)
}

func TestRunOnce_AgainstStore(t *testing.T) {
	store, err := storage.Open(context.Background(), storage.Options{
		ContainerDir: t.TempDir(),
		Model:        storage.DefaultModel(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	s, err := New(store, DefaultSchedule, 0)
	require.NoError(t, err)
	res, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Result{}, res)
}

func TestStartStop(t *testing.T) {
	s, err := New(new(MockMaintainer), "0 3 * * *", time.Hour, WithLocation(time.UTC))
	require.NoError(t, err)
	assert.True(t, s.Next().IsZero())

	s.Start()
	s.Start()
	next := s.Next()
	assert.False(t, next.IsZero())
	assert.Equal(t, 3, next.In(time.UTC).Hour())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Stop(ctx)
	s.Stop(ctx)
	assert.True(t, s.Next().IsZero())
}
