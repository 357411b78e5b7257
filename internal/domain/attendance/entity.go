package attendance

import (
	"time"
)

// Record is one check-in/check-out cycle for one worker on one civil date.
// The reconciliation engine only ever fills CheckOut, WorkMinutes, Metadata
// and Note when auto-closing; it never creates or deletes records.
type Record struct {
	ID              string
	WorkerID        string
	CalendarDate    time.Time // civil date, midnight in the civil timezone
	ShiftTemplateID *string
	RawShiftStart   *string // override field, time-of-day or full datetime
	RawShiftEnd     *string
	CheckIn         *time.Time
	CheckOut        *time.Time
	WorkMinutes     *int
	Metadata        map[string]any
	Note            *string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	// Joined for display and audit enrichment.
	WorkerName *string
}

// IsOpen reports whether the record has a check-in but no check-out yet.
func (r Record) IsOpen() bool {
	return r.CheckIn != nil && r.CheckOut == nil
}

// NoteSeparator joins the auto-close note to any note already present.
// Existing notes are never overwritten.
const NoteSeparator = " | "

// AppendNote returns prior joined with next via NoteSeparator.
func AppendNote(prior *string, next string) string {
	if prior == nil || *prior == "" {
		return next
	}
	return *prior + NoteSeparator + next
}
