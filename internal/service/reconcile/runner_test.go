package reconcile

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/pkg/audit"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
	"github.com/clinika/attendance-reconciler/internal/repository/memory"
)

// flakyRepo fails the close of one specific record, everything else is
// delegated to the wrapped repository.
type flakyRepo struct {
	attendance.Repository
	failID string
}

func (f flakyRepo) CloseIfOpen(ctx context.Context, c attendance.Closure) (bool, error) {
	if c.RecordID == f.failID {
		return false, errors.New("storage offline")
	}
	return f.Repository.CloseIfOpen(ctx, c)
}

func newTestRunner(t *testing.T, store *memory.Store, repo attendance.Repository, now time.Time) *Runner {
	t.Helper()
	clk := clock.NewFixed(now)
	tolerances, err := NewToleranceResolver(store.Workers(), store.Tolerances(), 60)
	require.NoError(t, err)
	engine := NewDecisionEngine()
	recorder := NewRecorder(repo, store.Workers(), audit.NewHub(), clk)
	return NewRunner(
		repo,
		NewShiftWindowResolver(store.Shifts(), wib),
		tolerances,
		engine,
		recorder,
		clk,
		12*time.Hour,
	)
}

// seedExpired adds n open records whose tolerance deadline has long passed
// by 2025-08-06 20:00.
func seedExpired(t *testing.T, store *memory.Store, n int) []string {
	t.Helper()
	ids := make([]string, 0, n)
	for i := 0; i < n; i++ {
		rec := openRecord(t, "2025-08-06 09:00:00")
		rec.ID = fmt.Sprintf("att-%d", i+1)
		rec.WorkerID = fmt.Sprintf("wrk-%d", i+1)
		rec.RawShiftStart = strPtr("09:00:00")
		rec.RawShiftEnd = strPtr("17:00:00")
		store.PutRecord(rec)
		ids = append(ids, rec.ID)
	}
	return ids
}

func TestRun_PerRecordFailureDoesNotAbortBatch(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	ids := seedExpired(t, store, 5)
	runner := newTestRunner(t, store, flakyRepo{Repository: store, failID: ids[2]}, now)

	summary, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)

	assert.Equal(t, 5, summary.Processed)
	assert.Equal(t, 4, summary.AutoClosed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.StillOpen)

	for i, id := range ids {
		rec, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		if i == 2 {
			assert.True(t, rec.IsOpen(), "failed record stays open")
		} else {
			assert.False(t, rec.IsOpen())
		}
	}
}

func TestRun_DryRunNeverMutates(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	ids := seedExpired(t, store, 3)
	runner := newTestRunner(t, store, store, now)

	summary, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeDryRun, AsOf: now})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 3, summary.AutoClosed, "dry run still reports what would close")

	for _, id := range ids {
		rec, err := store.GetByID(context.Background(), id)
		require.NoError(t, err)
		assert.True(t, rec.IsOpen())
		assert.Nil(t, rec.Metadata["auto_closed"])
	}
}

func TestRun_SecondPassIsIdempotent(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	seedExpired(t, store, 2)
	runner := newTestRunner(t, store, store, now)

	first, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)
	assert.Equal(t, 2, first.AutoClosed)

	second, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)
	assert.Equal(t, 0, second.Processed, "closed records are no longer listed")
	assert.Equal(t, 0, second.AutoClosed)
}

func TestRun_MixedOutcomes(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()

	expired := openRecord(t, "2025-08-06 09:00:00")
	expired.ID = "att-expired"
	expired.RawShiftStart = strPtr("09:00:00")
	expired.RawShiftEnd = strPtr("17:00:00")
	store.PutRecord(expired)

	within := openRecord(t, "2025-08-06 13:00:00")
	within.ID = "att-within"
	within.WorkerID = "wrk-2"
	within.RawShiftStart = strPtr("13:00:00")
	within.RawShiftEnd = strPtr("21:00:00")
	store.PutRecord(within)

	malformed := openRecord(t, "2025-08-06 09:00:00")
	malformed.ID = "att-bad"
	malformed.WorkerID = "wrk-3"
	malformed.RawShiftStart = strPtr("morningish")
	malformed.RawShiftEnd = strPtr("17:00:00")
	store.PutRecord(malformed)

	runner := newTestRunner(t, store, store, now)
	summary, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)

	assert.Equal(t, 3, summary.Processed)
	assert.Equal(t, 1, summary.AutoClosed)
	assert.Equal(t, 1, summary.StillOpen)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)

	rec, err := store.GetByID(context.Background(), "att-bad")
	require.NoError(t, err)
	assert.True(t, rec.IsOpen(), "unresolvable record left untouched")
}

func TestRun_FallbackWindowStillCloses(t *testing.T) {
	// No template, no raw fields: the 8-hour fallback window plus the
	// 60-minute default tolerance expires 9 hours after check-in.
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	rec := openRecord(t, "2025-08-06 08:00:00")
	store.PutRecord(rec)

	runner := newTestRunner(t, store, store, now)
	summary, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)

	assert.Equal(t, 1, summary.AutoClosed)
	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.False(t, stored.IsOpen())
}

func TestRun_CancelledContextAborts(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	seedExpired(t, store, 3)
	runner := newTestRunner(t, store, store, now)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := runner.Run(ctx, domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestSweepAbandoned(t *testing.T) {
	now := at(t, "2025-08-06 23:30:00")
	store := memory.NewStore()

	stale := openRecord(t, "2025-08-06 08:00:00")
	stale.ID = "att-stale"
	store.PutRecord(stale)

	fresh := openRecord(t, "2025-08-06 18:00:00")
	fresh.ID = "att-fresh"
	fresh.WorkerID = "wrk-2"
	store.PutRecord(fresh)

	runner := newTestRunner(t, store, store, now)
	summary, err := runner.SweepAbandoned(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)

	assert.Equal(t, PolicyAbandonedSession, summary.Policy)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.AutoClosed)
	assert.Equal(t, 1, summary.StillOpen)

	closed, err := store.GetByID(context.Background(), "att-stale")
	require.NoError(t, err)
	assert.False(t, closed.IsOpen())
	assert.Equal(t, ReasonAbandonedSession, closed.Metadata["reason"])

	open, err := store.GetByID(context.Background(), "att-fresh")
	require.NoError(t, err)
	assert.True(t, open.IsOpen())
}

func TestLastRunIsRemembered(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	seedExpired(t, store, 1)
	runner := newTestRunner(t, store, store, now)

	require.Nil(t, runner.LastRun())

	summary, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)

	last := runner.LastRun()
	require.NotNil(t, last)
	assert.Equal(t, summary.RunID, last.RunID)
	assert.Equal(t, 1, last.AutoClosed)
	assert.False(t, last.FinishedAt.Before(last.StartedAt))

	second, err := runner.Run(context.Background(), domain.RunRequest{Mode: domain.ModeLive, AsOf: now})
	require.NoError(t, err)

	history := runner.History()
	require.Len(t, history, 2)
	assert.Equal(t, second.RunID, history[0].RunID, "most recent first")
	assert.Equal(t, summary.RunID, history[1].RunID)
}
