package attendance

import (
	"context"
	"time"
)

// Closure carries the fields the engine writes when auto-closing a record.
// Metadata is merged into the record's existing metadata; Note is appended
// with NoteSeparator, never overwriting prior notes.
type Closure struct {
	RecordID    string
	CheckOut    time.Time
	WorkMinutes int
	Metadata    map[string]any
	Note        string
}

// Repository defines data access for attendance records.
type Repository interface {
	// GetByID retrieves a single record with the worker name joined.
	GetByID(ctx context.Context, id string) (Record, error)

	// ListOpen returns records with a check-in and no check-out whose
	// calendar date is on or before asOf, bounded to the last lookbackDays
	// when lookbackDays > 0, ordered by check-in ascending. Each call
	// reflects current storage state; no snapshot isolation.
	ListOpen(ctx context.Context, asOf time.Time, lookbackDays int) ([]Record, error)

	// CloseIfOpen applies the closure atomically, guarded by the record
	// still having no check-out at write time. Returns false with a nil
	// error when the record was already closed; overlapping runs rely on
	// this being a no-op success.
	CloseIfOpen(ctx context.Context, c Closure) (bool, error)
}
