package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parkstatus-backend/internal/db"
	"parkstatus-backend/internal/model"
)

const testDest = "22222222-2222-2222-2222-222222222222"

func newTestCheckpoints(t *testing.T) (CheckpointStore, *clockwork.FakeClock) {
	t.Helper()

	dsn := fmt.Sprintf("file:cp_%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(gormDB))

	clock := clockwork.NewFakeClockAt(time.Date(2023, 6, 1, 12, 0, 0, 0, time.UTC))
	return NewGormCheckpointStore(gormDB, clock), clock
}

func TestCheckpointStore_CreateAndGet(t *testing.T) {
	s, clock := newTestCheckpoints(t)
	ctx := context.Background()

	cp, err := s.Create(ctx, testDest)
	require.NoError(t, err)
	assert.Len(t, cp.ImportID, 36)
	assert.Equal(t, model.ImportPending, cp.Status)
	assert.Equal(t, clock.Now().UTC(), cp.StartedAt)
	assert.False(t, cp.CanResume())

	got, err := s.Get(ctx, cp.ImportID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, cp.ImportID, got.ImportID)
	assert.Equal(t, testDest, got.DestinationID)

	got, err = s.Get(ctx, "no-such-import")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestCheckpointStore_Advance(t *testing.T) {
	s, _ := newTestCheckpoints(t)
	ctx := context.Background()

	cp, err := s.Create(ctx, testDest)
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))

	day1 := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Advance(ctx, cp.ImportID, 100, 2, "2023-06-01.json.zz", day1))

	// A mid-file flush advances counters without moving the cursor.
	require.NoError(t, s.Advance(ctx, cp.ImportID, 50, 0, "", time.Time{}))

	got, err := s.Get(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.Equal(t, int64(150), got.RecordsImported)
	assert.Equal(t, int64(2), got.ErrorsEncountered)
	assert.Equal(t, "2023-06-01.json.zz", got.LastProcessedFile)
	require.NotNil(t, got.LastProcessedDate)
	assert.Equal(t, day1, got.LastProcessedDate.UTC())

	day2 := day1.AddDate(0, 0, 1)
	require.NoError(t, s.Advance(ctx, cp.ImportID, 80, 0, "2023-06-02.json.zz", day2))

	got, err = s.Get(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.Equal(t, int64(230), got.RecordsImported)
	assert.Equal(t, "2023-06-02.json.zz", got.LastProcessedFile)
}

func TestCheckpointStore_Lifecycle(t *testing.T) {
	s, _ := newTestCheckpoints(t)
	ctx := context.Background()

	cp, err := s.Create(ctx, testDest)
	require.NoError(t, err)

	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))
	got, _ := s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportInProgress, got.Status)
	assert.True(t, got.CanResume())

	require.NoError(t, s.MarkCompleted(ctx, cp.ImportID))
	got, _ = s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.False(t, got.CanResume())

	// A completed job cannot be restarted.
	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))
	got, _ = s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportCompleted, got.Status)
}

func TestCheckpointStore_FailedIsResumable(t *testing.T) {
	s, _ := newTestCheckpoints(t)
	ctx := context.Background()

	cp, err := s.Create(ctx, testDest)
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))
	require.NoError(t, s.MarkFailed(ctx, cp.ImportID))

	got, _ := s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportFailed, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.True(t, got.CanResume())

	// Resuming clears the completion stamp.
	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))
	got, _ = s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
}

func TestCheckpointStore_PauseAndCancel(t *testing.T) {
	s, _ := newTestCheckpoints(t)
	ctx := context.Background()

	cp, err := s.Create(ctx, testDest)
	require.NoError(t, err)

	// Neither transition is valid from PENDING.
	ok, err := s.RequestPause(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.False(t, ok)
	ok, err = s.RequestCancel(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))
	ok, err = s.RequestPause(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ := s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportPaused, got.Status)

	// Pausing twice is rejected the second time.
	ok, err = s.RequestPause(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Cancel requires IN_PROGRESS as well.
	require.NoError(t, s.MarkRunning(ctx, cp.ImportID))
	ok, err = s.RequestCancel(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.True(t, ok)

	got, _ = s.Get(ctx, cp.ImportID)
	assert.Equal(t, model.ImportCancelled, got.Status)
	assert.False(t, got.CanResume())
}

func TestCheckpointStore_ActiveAndResumable(t *testing.T) {
	s, clock := newTestCheckpoints(t)
	ctx := context.Background()
	otherDest := "33333333-3333-3333-3333-333333333333"

	first, err := s.Create(ctx, testDest)
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, first.ImportID))

	clock.Advance(time.Minute)
	second, err := s.Create(ctx, testDest)
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, second.ImportID))
	_, err = s.RequestPause(ctx, second.ImportID)
	require.NoError(t, err)

	clock.Advance(time.Minute)
	done, err := s.Create(ctx, otherDest)
	require.NoError(t, err)
	require.NoError(t, s.MarkRunning(ctx, done.ImportID))
	require.NoError(t, s.MarkCompleted(ctx, done.ImportID))

	active, err := s.GetActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, first.ImportID, active[0].ImportID)
	assert.Equal(t, second.ImportID, active[1].ImportID)

	// The most recent resumable checkpoint per destination wins.
	resumable, err := s.FindResumable(ctx, testDest)
	require.NoError(t, err)
	require.NotNil(t, resumable)
	assert.Equal(t, second.ImportID, resumable.ImportID)

	resumable, err = s.FindResumable(ctx, otherDest)
	require.NoError(t, err)
	assert.Nil(t, resumable)
}
