package reconcile

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
)

var wib = time.FixedZone("WIB", 7*3600)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	parsed, err := time.ParseInLocation("2006-01-02 15:04:05", value, wib)
	require.NoError(t, err)
	return parsed
}

func timePtr(v time.Time) *time.Time { return &v }
func strPtr(v string) *string        { return &v }

func openRecord(t *testing.T, checkIn string) attendance.Record {
	t.Helper()
	in := at(t, checkIn)
	return attendance.Record{
		ID:           "att-1",
		WorkerID:     "wrk-1",
		CalendarDate: time.Date(in.Year(), in.Month(), in.Day(), 0, 0, 0, 0, wib),
		CheckIn:      &in,
	}
}

func TestDecide_ToleranceBoundaryIsInclusive(t *testing.T) {
	engine := NewDecisionEngine()
	rec := openRecord(t, "2025-08-06 17:30:00")
	window := domain.ShiftWindow{
		Start:  at(t, "2025-08-06 17:30:00"),
		End:    at(t, "2025-08-06 18:30:00"),
		Source: domain.WindowSourceShiftTemplate,
	}
	tol := tolerance.Window{LateMinutes: 60, Source: tolerance.SourceSystemDefault}

	tests := []struct {
		name    string
		now     string
		outcome domain.Outcome
	}{
		{"well before deadline", "2025-08-06 18:45:00", domain.OutcomeStillOpen},
		{"exactly at deadline", "2025-08-06 19:30:00", domain.OutcomeStillOpen},
		{"one second past deadline", "2025-08-06 19:30:01", domain.OutcomeCloseNow},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Decide(rec, window, tol, at(t, tt.now))
			assert.Equal(t, tt.outcome, d.Outcome)
			assert.True(t, d.MaxAllowedCheckout.Equal(at(t, "2025-08-06 19:30:00")))
		})
	}
}

func TestDecide_CloseNowShape(t *testing.T) {
	engine := NewDecisionEngine()
	rec := openRecord(t, "2025-08-06 17:30:00")
	window := domain.ShiftWindow{
		Start:  at(t, "2025-08-06 17:30:00"),
		End:    at(t, "2025-08-06 18:30:00"),
		Source: domain.WindowSourceShiftTemplate,
	}
	tol := tolerance.Window{LateMinutes: 60, Source: tolerance.SourceSystemDefault}

	d := engine.Decide(rec, window, tol, at(t, "2025-08-06 20:00:00"))

	require.Equal(t, domain.OutcomeCloseNow, d.Outcome)
	assert.Equal(t, ReasonExceededTolerance, d.Reason)
	require.NotNil(t, d.SyntheticCheckOut)
	assert.True(t, d.SyntheticCheckOut.Equal(at(t, "2025-08-06 17:31:00")))
	require.NotNil(t, d.PenaltyMinutes)
	assert.Equal(t, 1, *d.PenaltyMinutes)
	require.NotNil(t, d.ExceededByMinutes)
	assert.Equal(t, 30, *d.ExceededByMinutes)
	assert.Equal(t, 60, d.ToleranceMinutes)
	assert.Equal(t, tolerance.SourceSystemDefault, d.ToleranceSource)
}

func TestDecide_StillOpenReportsRemaining(t *testing.T) {
	engine := NewDecisionEngine()
	rec := openRecord(t, "2025-08-06 09:00:00")
	window := domain.ShiftWindow{
		Start:  at(t, "2025-08-06 09:00:00"),
		End:    at(t, "2025-08-06 17:00:00"),
		Source: domain.WindowSourceShiftTemplate,
	}
	tol := tolerance.Window{LateMinutes: 30, Source: tolerance.SourceLocationDefault}

	d := engine.Decide(rec, window, tol, at(t, "2025-08-06 17:10:00"))

	require.Equal(t, domain.OutcomeStillOpen, d.Outcome)
	require.NotNil(t, d.RemainingMinutes)
	assert.Equal(t, 20, *d.RemainingMinutes)
	require.NotNil(t, d.ExceededByMinutes)
	assert.Equal(t, 0, *d.ExceededByMinutes)
	assert.Nil(t, d.SyntheticCheckOut)
}

func TestDecide_SyntheticCheckoutClampedToNow(t *testing.T) {
	// Check-in with no shift data resolved to a window already long past:
	// the synthetic checkout must never land in the future relative to now.
	engine := NewDecisionEngine()
	rec := openRecord(t, "2025-08-06 19:59:30")
	window := domain.ShiftWindow{
		Start:  at(t, "2025-08-06 08:00:00"),
		End:    at(t, "2025-08-06 16:00:00"),
		Source: domain.WindowSourceRecordOverride,
	}
	tol := tolerance.Window{LateMinutes: 60, Source: tolerance.SourceSystemDefault}
	now := at(t, "2025-08-06 20:00:00")

	d := engine.Decide(rec, window, tol, now)

	require.Equal(t, domain.OutcomeCloseNow, d.Outcome)
	require.NotNil(t, d.SyntheticCheckOut)
	assert.True(t, d.SyntheticCheckOut.Equal(now), "synthetic checkout clamped to now")
}

func TestDecideAbandoned(t *testing.T) {
	engine := NewDecisionEngine()
	rec := openRecord(t, "2025-08-06 08:00:00")

	t.Run("within threshold stays open", func(t *testing.T) {
		d := engine.DecideAbandoned(rec, 12*time.Hour, at(t, "2025-08-06 19:00:00"))
		assert.Equal(t, domain.OutcomeStillOpen, d.Outcome)
	})

	t.Run("deadline itself stays open", func(t *testing.T) {
		d := engine.DecideAbandoned(rec, 12*time.Hour, at(t, "2025-08-06 20:00:00"))
		assert.Equal(t, domain.OutcomeStillOpen, d.Outcome)
	})

	t.Run("past threshold closes with penalty", func(t *testing.T) {
		d := engine.DecideAbandoned(rec, 12*time.Hour, at(t, "2025-08-06 21:30:00"))
		require.Equal(t, domain.OutcomeCloseNow, d.Outcome)
		assert.Equal(t, ReasonAbandonedSession, d.Reason)
		require.NotNil(t, d.SyntheticCheckOut)
		assert.True(t, d.SyntheticCheckOut.Equal(at(t, "2025-08-06 08:01:00")))
		require.NotNil(t, d.ExceededByMinutes)
		assert.Equal(t, 90, *d.ExceededByMinutes)
	})
}

func TestSkip(t *testing.T) {
	d := NewDecisionEngine().Skip(ReasonMissingShiftData)
	assert.Equal(t, domain.OutcomeSkipMissingData, d.Outcome)
	assert.Equal(t, ReasonMissingShiftData, d.Reason)
}
