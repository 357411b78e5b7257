// Package sqlite provides a single-file SQLite implementation of the
// repository interfaces, for deployments without a PostgreSQL server.
// Use ":memory:" as the path for an ephemeral database.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	"github.com/clinika/attendance-reconciler/internal/domain/schedule"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
	_ "github.com/mattn/go-sqlite3"
)

// Store implements all repository interfaces on one SQLite database.
type Store struct {
	db *sql.DB
}

func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS workers (
		id TEXT PRIMARY KEY,
		full_name TEXT NOT NULL,
		role TEXT NOT NULL DEFAULT '',
		location_id TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS work_locations (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		checkout_tolerance_minutes INTEGER
	);

	CREATE TABLE IF NOT EXISTS shift_templates (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		start_time TEXT NOT NULL,
		end_time TEXT NOT NULL,
		next_day_end INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);

	CREATE TABLE IF NOT EXISTS tolerance_overrides (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		worker_id TEXT NOT NULL,
		late_minutes INTEGER NOT NULL,
		valid_from TEXT NOT NULL,
		valid_to TEXT NOT NULL,
		created_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_tolerance_overrides_worker
		ON tolerance_overrides(worker_id, valid_from, valid_to);

	CREATE TABLE IF NOT EXISTS attendances (
		id TEXT PRIMARY KEY,
		worker_id TEXT NOT NULL,
		calendar_date TEXT NOT NULL,
		shift_template_id TEXT,
		raw_shift_start TEXT,
		raw_shift_end TEXT,
		check_in TEXT,
		check_out TEXT,
		work_minutes INTEGER,
		metadata TEXT,
		note TEXT,
		created_at TEXT NOT NULL DEFAULT (datetime('now')),
		updated_at TEXT NOT NULL DEFAULT (datetime('now'))
	);
	CREATE INDEX IF NOT EXISTS idx_attendances_open
		ON attendances(calendar_date) WHERE check_out IS NULL;
	`

	_, err := s.db.Exec(schema)
	return err
}

const timeLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.Format(timeLayout)
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	if loc != nil {
		t = t.In(loc)
	}
	return t, nil
}

// GetByID implements attendance.Repository.
func (s *Store) GetByID(ctx context.Context, id string) (attendance.Record, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT a.id, a.worker_id, a.calendar_date, a.shift_template_id,
		       a.raw_shift_start, a.raw_shift_end,
		       a.check_in, a.check_out, a.work_minutes,
		       a.metadata, a.note,
		       w.full_name
		FROM attendances a
		LEFT JOIN workers w ON w.id = a.worker_id
		WHERE a.id = ?
	`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return attendance.Record{}, attendance.ErrRecordNotFound
		}
		return attendance.Record{}, fmt.Errorf("failed to get attendance by ID: %w", err)
	}
	return rec, nil
}

// ListOpen implements attendance.Repository.
func (s *Store) ListOpen(ctx context.Context, asOf time.Time, lookbackDays int) ([]attendance.Record, error) {
	query := `
		SELECT a.id, a.worker_id, a.calendar_date, a.shift_template_id,
		       a.raw_shift_start, a.raw_shift_end,
		       a.check_in, a.check_out, a.work_minutes,
		       a.metadata, a.note,
		       w.full_name
		FROM attendances a
		LEFT JOIN workers w ON w.id = a.worker_id
		WHERE a.check_in IS NOT NULL
		  AND a.check_out IS NULL
		  AND a.calendar_date <= ?
	`
	args := []interface{}{formatTime(asOf)}

	if lookbackDays > 0 {
		query += ` AND a.calendar_date >= ?`
		args = append(args, formatTime(asOf.AddDate(0, 0, -lookbackDays)))
	}
	query += ` ORDER BY a.check_in ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query open attendances: %w", err)
	}
	defer rows.Close()

	var records []attendance.Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan attendance: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// CloseIfOpen implements attendance.Repository. SQLite has no jsonb merge
// operator, so the read-merge-write happens inside one transaction with the
// check_out IS NULL guard repeated on the final UPDATE.
func (s *Store) CloseIfOpen(ctx context.Context, c attendance.Closure) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	var metaRaw, note sql.NullString
	var checkOut sql.NullString
	err = tx.QueryRowContext(ctx,
		`SELECT metadata, note, check_out FROM attendances WHERE id = ?`, c.RecordID,
	).Scan(&metaRaw, &note, &checkOut)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, attendance.ErrRecordNotFound
		}
		return false, fmt.Errorf("failed to read attendance for close: %w", err)
	}
	if checkOut.Valid {
		return false, nil
	}

	merged := make(map[string]any)
	if metaRaw.Valid && metaRaw.String != "" {
		if err := json.Unmarshal([]byte(metaRaw.String), &merged); err != nil {
			return false, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}
	for k, v := range c.Metadata {
		merged[k] = v
	}
	mergedRaw, err := json.Marshal(merged)
	if err != nil {
		return false, fmt.Errorf("failed to encode metadata: %w", err)
	}

	var notePtr *string
	if note.Valid {
		notePtr = &note.String
	}
	newNote := attendance.AppendNote(notePtr, c.Note)

	res, err := tx.ExecContext(ctx, `
		UPDATE attendances
		SET check_out = ?, work_minutes = ?, metadata = ?, note = ?,
		    updated_at = datetime('now')
		WHERE id = ? AND check_out IS NULL
	`, formatTime(c.CheckOut), c.WorkMinutes, string(mergedRaw), newNote, c.RecordID)
	if err != nil {
		return false, fmt.Errorf("failed to close attendance: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if affected == 0 {
		return false, nil
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit transaction: %w", err)
	}
	return true, nil
}

// Shifts returns the schedule.Repository view.
func (s *Store) Shifts() schedule.Repository { return shiftView{s: s} }

type shiftView struct{ s *Store }

func (v shiftView) GetByID(ctx context.Context, id string) (schedule.ShiftTemplate, error) {
	var t schedule.ShiftTemplate
	var start, end string
	var nextDay int
	err := v.s.db.QueryRowContext(ctx, `
		SELECT id, name, start_time, end_time, next_day_end
		FROM shift_templates WHERE id = ?
	`, id).Scan(&t.ID, &t.Name, &start, &end, &nextDay)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return schedule.ShiftTemplate{}, schedule.ErrShiftTemplateNotFound
		}
		return schedule.ShiftTemplate{}, fmt.Errorf("failed to get shift template: %w", err)
	}

	if t.StartTime, err = time.Parse("15:04:05", start); err != nil {
		return schedule.ShiftTemplate{}, fmt.Errorf("malformed start_time %q: %w", start, err)
	}
	if t.EndTime, err = time.Parse("15:04:05", end); err != nil {
		return schedule.ShiftTemplate{}, fmt.Errorf("malformed end_time %q: %w", end, err)
	}
	t.NextDayEnd = nextDay != 0

	return t, nil
}

// Workers returns the worker.Repository view.
func (s *Store) Workers() worker.Repository { return workerView{s: s} }

type workerView struct{ s *Store }

func (v workerView) GetByID(ctx context.Context, id string) (worker.Worker, error) {
	var w worker.Worker
	err := v.s.db.QueryRowContext(ctx, `
		SELECT id, full_name, role, location_id FROM workers WHERE id = ?
	`, id).Scan(&w.ID, &w.FullName, &w.Role, &w.LocationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return worker.Worker{}, worker.ErrWorkerNotFound
		}
		return worker.Worker{}, fmt.Errorf("failed to get worker: %w", err)
	}
	return w, nil
}

// Tolerances returns the tolerance.Repository view.
func (s *Store) Tolerances() tolerance.Repository { return toleranceView{s: s} }

type toleranceView struct{ s *Store }

func (v toleranceView) GetWorkerOverride(ctx context.Context, workerID string, date time.Time) (*int, error) {
	var minutes int
	err := v.s.db.QueryRowContext(ctx, `
		SELECT late_minutes FROM tolerance_overrides
		WHERE worker_id = ? AND ? BETWEEN valid_from AND valid_to
		ORDER BY created_at DESC LIMIT 1
	`, workerID, date.Format("2006-01-02")).Scan(&minutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get worker tolerance override: %w", err)
	}
	return &minutes, nil
}

func (v toleranceView) GetLocationDefault(ctx context.Context, locationID string) (*int, error) {
	var minutes sql.NullInt64
	err := v.s.db.QueryRowContext(ctx, `
		SELECT checkout_tolerance_minutes FROM work_locations WHERE id = ?
	`, locationID).Scan(&minutes)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get location tolerance default: %w", err)
	}
	if !minutes.Valid {
		return nil, nil
	}
	m := int(minutes.Int64)
	return &m, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (attendance.Record, error) {
	var rec attendance.Record
	var calendarDate string
	var checkIn, checkOut, metaRaw sql.NullString

	err := row.Scan(
		&rec.ID, &rec.WorkerID, &calendarDate, &rec.ShiftTemplateID,
		&rec.RawShiftStart, &rec.RawShiftEnd,
		&checkIn, &checkOut, &rec.WorkMinutes,
		&metaRaw, &rec.Note,
		&rec.WorkerName,
	)
	if err != nil {
		return attendance.Record{}, err
	}

	if rec.CalendarDate, err = parseTime(calendarDate, nil); err != nil {
		return attendance.Record{}, fmt.Errorf("malformed calendar_date %q: %w", calendarDate, err)
	}
	if checkIn.Valid {
		t, err := parseTime(checkIn.String, nil)
		if err != nil {
			return attendance.Record{}, fmt.Errorf("malformed check_in %q: %w", checkIn.String, err)
		}
		rec.CheckIn = &t
	}
	if checkOut.Valid {
		t, err := parseTime(checkOut.String, nil)
		if err != nil {
			return attendance.Record{}, fmt.Errorf("malformed check_out %q: %w", checkOut.String, err)
		}
		rec.CheckOut = &t
	}
	if metaRaw.Valid && metaRaw.String != "" {
		if err := json.Unmarshal([]byte(metaRaw.String), &rec.Metadata); err != nil {
			return attendance.Record{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	return rec, nil
}
