package reconcile

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
	"github.com/clinika/attendance-reconciler/internal/pkg/audit"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
	"github.com/clinika/attendance-reconciler/internal/repository/memory"
)

func closeDecision(t *testing.T, now time.Time) (attendance.Record, domain.Decision) {
	t.Helper()
	rec := openRecord(t, "2025-08-06 17:30:00")
	window := domain.ShiftWindow{
		Start:  at(t, "2025-08-06 17:30:00"),
		End:    at(t, "2025-08-06 18:30:00"),
		Source: domain.WindowSourceShiftTemplate,
	}
	tol := tolerance.Window{LateMinutes: 60, Source: tolerance.SourceSystemDefault}
	d := NewDecisionEngine().Decide(rec, window, tol, now)
	require.Equal(t, domain.OutcomeCloseNow, d.Outcome)
	return rec, d
}

func TestRecorder_ClosesAndEmitsAuditEvent(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	store.PutWorker(worker.Worker{ID: "wrk-1", FullName: "Sari Dewi"})
	hub := audit.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	rec, d := closeDecision(t, now)
	prior := "Forgot badge"
	rec.Note = &prior
	store.PutRecord(rec)

	recorder := NewRecorder(store, store.Workers(), hub, clock.NewFixed(now))
	require.NoError(t, recorder.Record(context.Background(), rec, d))

	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.CheckOut)
	assert.True(t, stored.CheckOut.Equal(at(t, "2025-08-06 17:31:00")))
	require.NotNil(t, stored.WorkMinutes)
	assert.Equal(t, 1, *stored.WorkMinutes)

	require.NotNil(t, stored.Metadata)
	assert.Equal(t, true, stored.Metadata["auto_closed"])
	assert.Equal(t, ReasonExceededTolerance, stored.Metadata["reason"])
	assert.Equal(t, 60, stored.Metadata["tolerance_minutes"])
	assert.Equal(t, "system-default", stored.Metadata["tolerance_source"])
	assert.Equal(t, 1, stored.Metadata["penalty_work_minutes"])
	assert.Equal(t, 30, stored.Metadata["exceeded_by_minutes"])
	assert.Equal(t, now.Format(time.RFC3339), stored.Metadata["auto_closed_at"])
	assert.Equal(t, at(t, "2025-08-06 19:30:00").Format(time.RFC3339), stored.Metadata["max_checkout_time"])

	require.NotNil(t, stored.Note)
	assert.Contains(t, *stored.Note, "Forgot badge"+attendance.NoteSeparator)
	assert.Contains(t, *stored.Note, "Auto-closed")

	select {
	case ev := <-events:
		assert.Equal(t, audit.TypeAttendanceAutoClosed, ev.Type)
		assert.Equal(t, rec.ID, ev.AttendanceID)
		assert.Equal(t, "Sari Dewi", ev.WorkerName)
		assert.Equal(t, 30, ev.ExceededByMinutes)
		assert.Equal(t, 1, ev.PenaltyWorkMinutes)
	case <-time.After(time.Second):
		t.Fatal("expected an audit event")
	}
}

func TestRecorder_AlreadyClosedIsNoOp(t *testing.T) {
	now := at(t, "2025-08-06 20:00:00")
	store := memory.NewStore()
	hub := audit.NewHub()
	events, cancel := hub.Subscribe()
	defer cancel()

	rec, d := closeDecision(t, now)
	store.PutRecord(rec)

	recorder := NewRecorder(store, store.Workers(), hub, clock.NewFixed(now))
	require.NoError(t, recorder.Record(context.Background(), rec, d))
	require.NoError(t, recorder.Record(context.Background(), rec, d), "second apply is a no-op success")

	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Note)
	assert.Equal(t, 1, strings.Count(*stored.Note, "Auto-closed"), "note appended exactly once")

	<-events
	select {
	case <-events:
		t.Fatal("no second audit event expected")
	default:
	}
}

func TestRecorder_IgnoresNonCloseDecisions(t *testing.T) {
	now := at(t, "2025-08-06 18:00:00")
	store := memory.NewStore()
	rec := openRecord(t, "2025-08-06 17:30:00")
	store.PutRecord(rec)

	recorder := NewRecorder(store, store.Workers(), audit.NewHub(), clock.NewFixed(now))
	require.NoError(t, recorder.Record(context.Background(), rec, NewDecisionEngine().Skip(ReasonMissingShiftData)))

	stored, err := store.GetByID(context.Background(), rec.ID)
	require.NoError(t, err)
	assert.True(t, stored.IsOpen())
}
