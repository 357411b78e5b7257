package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
)

const (
	PolicyCheckoutTolerance = "checkout_tolerance"
	PolicyAbandonedSession  = "abandoned_session"
)

// historyLimit bounds the in-memory run history kept for the ops API.
const historyLimit = 20

// Runner orchestrates one reconciliation batch: list open records, decide
// each one, persist closures in live mode. Per-record failures are counted
// and logged, never fatal; only context cancellation aborts a batch.
type Runner struct {
	attendances    attendance.Repository
	windows        *ShiftWindowResolver
	tolerances     *ToleranceResolver
	engine         *DecisionEngine
	recorder       *Recorder
	clock          clock.Clock
	abandonedAfter time.Duration

	mu      sync.Mutex
	history []domain.RunSummary
}

func NewRunner(
	attendances attendance.Repository,
	windows *ShiftWindowResolver,
	tolerances *ToleranceResolver,
	engine *DecisionEngine,
	recorder *Recorder,
	clk clock.Clock,
	abandonedAfter time.Duration,
) *Runner {
	return &Runner{
		attendances:    attendances,
		windows:        windows,
		tolerances:     tolerances,
		engine:         engine,
		recorder:       recorder,
		clock:          clk,
		abandonedAfter: abandonedAfter,
	}
}

// Run executes the tolerance policy over all open records.
func (r *Runner) Run(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	return r.run(ctx, req, PolicyCheckoutTolerance, r.decideTolerance)
}

// SweepAbandoned executes the abandoned-session policy: any record still
// open this long after check-in is closed regardless of shift data.
func (r *Runner) SweepAbandoned(ctx context.Context, req domain.RunRequest) (domain.RunSummary, error) {
	return r.run(ctx, req, PolicyAbandonedSession, r.decideAbandoned)
}

// LastRun returns the most recent completed summary, or nil.
func (r *Runner) LastRun() *domain.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.history) == 0 {
		return nil
	}
	last := r.history[len(r.history)-1]
	return &last
}

// History returns completed run summaries, most recent first.
func (r *Runner) History() []domain.RunSummary {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]domain.RunSummary, 0, len(r.history))
	for i := len(r.history) - 1; i >= 0; i-- {
		out = append(out, r.history[i])
	}
	return out
}

type decideFunc func(ctx context.Context, rec attendance.Record, asOf time.Time) (domain.Decision, error)

func (r *Runner) run(ctx context.Context, req domain.RunRequest, policy string, decide decideFunc) (domain.RunSummary, error) {
	asOf := req.AsOf
	if asOf.IsZero() {
		asOf = r.clock.Now()
	}
	asOf = asOf.In(r.clock.Location())

	summary := domain.RunSummary{
		RunID:     uuid.NewString(),
		Mode:      req.Mode,
		Policy:    policy,
		StartedAt: r.clock.Now(),
	}

	slog.Info("reconciliation run started",
		"run_id", summary.RunID, "policy", policy, "mode", string(req.Mode),
		"as_of", asOf.Format(time.RFC3339), "lookback_days", req.LookbackDays)

	records, err := r.attendances.ListOpen(ctx, asOf, req.LookbackDays)
	if err != nil {
		return summary, fmt.Errorf("list open attendances: %w", err)
	}

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		summary.Processed++

		d, err := decide(ctx, rec, asOf)
		if err != nil {
			summary.Skipped++
			summary.Lines = append(summary.Lines, domain.RunLine{
				AttendanceID: rec.ID,
				WorkerID:     rec.WorkerID,
				Outcome:      domain.OutcomeSkipMissingData,
				Detail:       err.Error(),
			})
			slog.Warn("attendance skipped",
				"run_id", summary.RunID, "attendance_id", rec.ID,
				"worker_id", rec.WorkerID, "error", err)
			continue
		}

		line := domain.RunLine{
			AttendanceID: rec.ID,
			WorkerID:     rec.WorkerID,
			Outcome:      d.Outcome,
			Detail:       lineDetail(d),
		}

		switch d.Outcome {
		case domain.OutcomeCloseNow:
			if req.Mode == domain.ModeLive {
				if err := r.recorder.Record(ctx, rec, d); err != nil {
					summary.Failed++
					line.Detail = err.Error()
					summary.Lines = append(summary.Lines, line)
					slog.Error("attendance close failed",
						"run_id", summary.RunID, "attendance_id", rec.ID,
						"worker_id", rec.WorkerID, "error", err)
					continue
				}
			}
			summary.AutoClosed++
		case domain.OutcomeStillOpen:
			summary.StillOpen++
		default:
			summary.Skipped++
		}
		summary.Lines = append(summary.Lines, line)
	}

	summary.FinishedAt = r.clock.Now()
	r.remember(summary)

	slog.Info("reconciliation run finished",
		"run_id", summary.RunID, "policy", policy, "mode", string(req.Mode),
		"processed", summary.Processed, "auto_closed", summary.AutoClosed,
		"still_open", summary.StillOpen, "skipped", summary.Skipped,
		"failed", summary.Failed)

	return summary, nil
}

func (r *Runner) decideTolerance(ctx context.Context, rec attendance.Record, asOf time.Time) (domain.Decision, error) {
	if rec.CheckIn == nil {
		return domain.Decision{}, attendance.ErrMissingCheckIn
	}

	window, err := r.windows.Resolve(ctx, rec)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("resolve shift window: %w", err)
	}

	tol, err := r.tolerances.Resolve(ctx, rec.WorkerID, rec.CalendarDate)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("resolve tolerance: %w", err)
	}

	return r.engine.Decide(rec, window, tol, asOf), nil
}

func (r *Runner) decideAbandoned(_ context.Context, rec attendance.Record, asOf time.Time) (domain.Decision, error) {
	if rec.CheckIn == nil {
		return domain.Decision{}, attendance.ErrMissingCheckIn
	}
	return r.engine.DecideAbandoned(rec, r.abandonedAfter, asOf), nil
}

func (r *Runner) remember(s domain.RunSummary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.history = append(r.history, s)
	if len(r.history) > historyLimit {
		r.history = r.history[len(r.history)-historyLimit:]
	}
}

func lineDetail(d domain.Decision) string {
	switch d.Outcome {
	case domain.OutcomeCloseNow:
		return fmt.Sprintf("%s, exceeded deadline %s by %d min",
			d.Reason, d.MaxAllowedCheckout.Format(time.RFC3339), *d.ExceededByMinutes)
	case domain.OutcomeStillOpen:
		return fmt.Sprintf("within tolerance until %s, %d min remaining",
			d.MaxAllowedCheckout.Format(time.RFC3339), *d.RemainingMinutes)
	default:
		return d.Reason
	}
}
