package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
	"github.com/clinika/attendance-reconciler/internal/pkg/audit"
	"github.com/clinika/attendance-reconciler/internal/pkg/clock"
)

// Recorder persists CLOSE_NOW decisions and emits the audit event. Each
// record closes in its own guarded write, so one failure never taints the
// rest of the batch and overlapping runs stay idempotent.
type Recorder struct {
	attendances attendance.Repository
	workers     worker.Repository
	hub         *audit.Hub
	clock       clock.Clock
}

func NewRecorder(attendances attendance.Repository, workers worker.Repository, hub *audit.Hub, clk clock.Clock) *Recorder {
	return &Recorder{
		attendances: attendances,
		workers:     workers,
		hub:         hub,
		clock:       clk,
	}
}

// Record applies d to rec. Decisions other than CLOSE_NOW are no-ops. A
// record found already closed at write time is also a no-op success.
func (r *Recorder) Record(ctx context.Context, rec attendance.Record, d domain.Decision) error {
	if d.Outcome != domain.OutcomeCloseNow {
		return nil
	}

	closedAt := r.clock.Now()
	closure := attendance.Closure{
		RecordID:    rec.ID,
		CheckOut:    *d.SyntheticCheckOut,
		WorkMinutes: *d.PenaltyMinutes,
		Metadata:    auditMetadata(d, closedAt),
		Note:        noteFor(d),
	}

	closed, err := r.attendances.CloseIfOpen(ctx, closure)
	if err != nil {
		return fmt.Errorf("close attendance %s: %w", rec.ID, err)
	}
	if !closed {
		slog.Info("attendance already closed, skipping",
			"attendance_id", rec.ID, "worker_id", rec.WorkerID)
		return nil
	}

	workerName := ""
	if rec.WorkerName != nil {
		workerName = *rec.WorkerName
	} else if w, err := r.workers.GetByID(ctx, rec.WorkerID); err == nil {
		workerName = w.FullName
	}

	r.hub.Publish(audit.Event{
		Type:               audit.TypeAttendanceAutoClosed,
		AttendanceID:       rec.ID,
		WorkerID:           rec.WorkerID,
		WorkerName:         workerName,
		Reason:             d.Reason,
		ToleranceMinutes:   d.ToleranceMinutes,
		ToleranceSource:    string(d.ToleranceSource),
		MaxCheckoutTime:    d.MaxAllowedCheckout,
		SyntheticCheckOut:  *d.SyntheticCheckOut,
		AutoClosedAt:       closedAt,
		PenaltyWorkMinutes: *d.PenaltyMinutes,
		ExceededByMinutes:  *d.ExceededByMinutes,
	})

	slog.Info("attendance auto-closed",
		"attendance_id", rec.ID,
		"worker_id", rec.WorkerID,
		"worker_name", workerName,
		"reason", d.Reason,
		"synthetic_check_out", d.SyntheticCheckOut.Format(time.RFC3339),
		"exceeded_by_minutes", *d.ExceededByMinutes,
		"tolerance_minutes", d.ToleranceMinutes,
		"tolerance_source", string(d.ToleranceSource),
	)

	return nil
}

// auditMetadata is the fixed schema merged into the record's metadata blob.
func auditMetadata(d domain.Decision, closedAt time.Time) map[string]any {
	return map[string]any{
		"auto_closed":          true,
		"reason":               d.Reason,
		"tolerance_minutes":    d.ToleranceMinutes,
		"tolerance_source":     string(d.ToleranceSource),
		"max_checkout_time":    d.MaxAllowedCheckout.Format(time.RFC3339),
		"auto_closed_at":       closedAt.Format(time.RFC3339),
		"penalty_work_minutes": *d.PenaltyMinutes,
		"exceeded_by_minutes":  *d.ExceededByMinutes,
	}
}

func noteFor(d domain.Decision) string {
	switch d.Reason {
	case ReasonAbandonedSession:
		return fmt.Sprintf(
			"Auto-closed: abandoned session, no check-out since check-in (deadline %s). Contact your supervisor if this is incorrect.",
			d.MaxAllowedCheckout.Format("2006-01-02 15:04:05"))
	default:
		return fmt.Sprintf(
			"Auto-closed: no check-out within %d minute tolerance after shift end (deadline %s). Contact your supervisor if this is incorrect.",
			d.ToleranceMinutes, d.MaxAllowedCheckout.Format("2006-01-02 15:04:05"))
	}
}
