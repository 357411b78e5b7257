package cron

import (
	"context"
	"time"

	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
	"github.com/clinika/attendance-reconciler/internal/service/reconcile"
)

// ReconcileJobs wires the reconciliation runner into the scheduler: an
// hourly tolerance pass plus a once-a-day abandoned-session sweep.
type ReconcileJobs struct {
	runner       *reconcile.Runner
	clock        clock.Clock
	lookbackDays int
	sweepHour    int
}

func NewReconcileJobs(runner *reconcile.Runner, clk clock.Clock, lookbackDays, sweepHour int) *ReconcileJobs {
	return &ReconcileJobs{
		runner:       runner,
		clock:        clk,
		lookbackDays: lookbackDays,
		sweepHour:    sweepHour,
	}
}

func (j *ReconcileJobs) RegisterJobs(scheduler *Scheduler) {
	scheduler.AddJob("attendance_auto_close", 1*time.Hour, j.AutoClose)
	scheduler.AddJob("abandoned_session_sweep", 1*time.Hour, j.SweepAbandoned)
}

// AutoClose runs the tolerance policy live over the lookback window.
func (j *ReconcileJobs) AutoClose(ctx context.Context) error {
	_, err := j.runner.Run(ctx, domain.RunRequest{
		Mode:         domain.ModeLive,
		LookbackDays: j.lookbackDays,
	})
	return err
}

// SweepAbandoned runs the abandoned-session policy, but only during the
// configured civil hour so the sweep fires once per day.
func (j *ReconcileJobs) SweepAbandoned(ctx context.Context) error {
	if j.clock.Now().Hour() != j.sweepHour {
		return nil
	}
	_, err := j.runner.SweepAbandoned(ctx, domain.RunRequest{
		Mode:         domain.ModeLive,
		LookbackDays: j.lookbackDays,
	})
	return err
}
