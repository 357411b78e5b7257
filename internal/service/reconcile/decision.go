package reconcile

import (
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
)

// PenaltyWorkMinutes is the logical work duration credited on auto-close.
// The worker is deliberately NOT credited for time present but never
// checked out; the 1-minute penalty is an intentional business rule, not
// an estimate.
const PenaltyWorkMinutes = 1

const (
	ReasonExceededTolerance = "exceeded_checkout_tolerance"
	ReasonAbandonedSession  = "abandoned_session"
	ReasonMissingShiftData  = "missing_shift_data"
)

// DecisionEngine decides, per open record, whether the checkout tolerance
// has been exceeded. Stateless; identical inputs always yield the same
// decision.
type DecisionEngine struct{}

func NewDecisionEngine() *DecisionEngine {
	return &DecisionEngine{}
}

// Decide applies the tolerance rule to one open record.
//
// The boundary is inclusive: at now == shift end + tolerance the record is
// still open; only strictly past it does the engine close.
func (e *DecisionEngine) Decide(rec attendance.Record, window domain.ShiftWindow, tol tolerance.Window, now time.Time) domain.Decision {
	maxAllowed := window.End.Add(time.Duration(tol.LateMinutes) * time.Minute)
	d := domain.Decision{
		MaxAllowedCheckout: maxAllowed,
		ToleranceMinutes:   tol.LateMinutes,
		ToleranceSource:    tol.Source,
		WindowSource:       window.Source,
	}

	if !now.After(maxAllowed) {
		remaining := wholeMinutes(maxAllowed.Sub(now))
		zero := 0
		d.Outcome = domain.OutcomeStillOpen
		d.ExceededByMinutes = &zero
		d.RemainingMinutes = &remaining
		return d
	}

	return e.closeNow(d, rec, ReasonExceededTolerance, maxAllowed, now)
}

// DecideAbandoned is the coarser same-day policy used by the cleanup
// sweep: any session still open threshold after check-in is closed,
// regardless of schedule or tolerance.
func (e *DecisionEngine) DecideAbandoned(rec attendance.Record, threshold time.Duration, now time.Time) domain.Decision {
	deadline := rec.CheckIn.Add(threshold)
	d := domain.Decision{MaxAllowedCheckout: deadline}

	if !now.After(deadline) {
		remaining := wholeMinutes(deadline.Sub(now))
		zero := 0
		d.Outcome = domain.OutcomeStillOpen
		d.ExceededByMinutes = &zero
		d.RemainingMinutes = &remaining
		return d
	}

	return e.closeNow(d, rec, ReasonAbandonedSession, deadline, now)
}

// Skip builds the SKIP_MISSING_DATA decision used when shift window or
// tolerance resolution failed.
func (e *DecisionEngine) Skip(reason string) domain.Decision {
	return domain.Decision{Outcome: domain.OutcomeSkipMissingData, Reason: reason}
}

func (e *DecisionEngine) closeNow(d domain.Decision, rec attendance.Record, reason string, deadline, now time.Time) domain.Decision {
	// Synthetic checkout is check-in + 1 minute, clamped to now so the
	// checkout can never land in the future.
	synthetic := rec.CheckIn.Add(time.Duration(PenaltyWorkMinutes) * time.Minute)
	if synthetic.After(now) {
		synthetic = now
	}
	penalty := PenaltyWorkMinutes
	exceeded := wholeMinutes(now.Sub(deadline))

	d.Outcome = domain.OutcomeCloseNow
	d.Reason = reason
	d.SyntheticCheckOut = &synthetic
	d.PenaltyMinutes = &penalty
	d.ExceededByMinutes = &exceeded
	return d
}

func wholeMinutes(d time.Duration) int {
	return int(d / time.Minute)
}
