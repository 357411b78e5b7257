package reconcile

import (
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
)

// WindowSource tags how a shift window was resolved.
type WindowSource string

const (
	WindowSourceShiftTemplate  WindowSource = "shift-template"
	WindowSourceRecordOverride WindowSource = "record-override"
	WindowSourceFallback       WindowSource = "fallback-8h"
)

// ShiftWindow is the resolved expected start/end for one attendance record.
// End is always after Start once overnight normalization has been applied.
// Derived per decision, never persisted.
type ShiftWindow struct {
	Start  time.Time
	End    time.Time
	Source WindowSource
}

// Outcome is the decision engine's verdict for one open record.
type Outcome string

const (
	OutcomeCloseNow        Outcome = "CLOSE_NOW"
	OutcomeStillOpen       Outcome = "STILL_OPEN"
	OutcomeSkipMissingData Outcome = "SKIP_MISSING_DATA"
)

// Decision is the engine's output for one record. Transient; consumed
// immediately by the recorder.
type Decision struct {
	Outcome            Outcome
	Reason             string
	MaxAllowedCheckout time.Time
	SyntheticCheckOut  *time.Time
	PenaltyMinutes     *int
	ExceededByMinutes  *int
	RemainingMinutes   *int

	// Carried along so the recorder can build audit metadata without
	// re-resolving.
	ToleranceMinutes int
	ToleranceSource  tolerance.Source
	WindowSource     WindowSource
}

// Mode selects whether a run mutates storage or only reports.
type Mode string

const (
	ModeDryRun Mode = "dry_run"
	ModeLive   Mode = "live"
)

// RunRequest describes one reconciliation batch.
type RunRequest struct {
	Mode         Mode
	AsOf         time.Time // zero value means "now"
	LookbackDays int       // 0 means unbounded
}

// RunLine is one per-record result, suitable for CLI or log display.
type RunLine struct {
	AttendanceID string  `json:"attendance_id"`
	WorkerID     string  `json:"worker_id"`
	Outcome      Outcome `json:"outcome"`
	Detail       string  `json:"detail"`
}

// RunSummary aggregates one run. Failed counts records whose closure could
// not be persisted; they never abort the batch.
type RunSummary struct {
	RunID      string    `json:"run_id"`
	Mode       Mode      `json:"mode"`
	Policy     string    `json:"policy"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Processed  int       `json:"processed"`
	AutoClosed int       `json:"auto_closed"`
	StillOpen  int       `json:"still_open"`
	Skipped    int       `json:"skipped"`
	Failed     int       `json:"failed"`
	Lines      []RunLine `json:"lines,omitempty"`
}
