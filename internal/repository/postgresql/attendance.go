package postgresql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	"github.com/clinika/attendance-reconciler/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

type attendanceRepository struct {
	db *database.DB
}

func NewAttendanceRepository(db *database.DB) attendance.Repository {
	return &attendanceRepository{db: db}
}

const attendanceColumns = `
	a.id, a.worker_id, a.calendar_date, a.shift_template_id,
	a.raw_shift_start, a.raw_shift_end,
	a.check_in, a.check_out, a.work_minutes,
	a.metadata, a.note, a.created_at, a.updated_at,
	w.full_name AS worker_name`

// GetByID implements attendance.Repository.
func (a *attendanceRepository) GetByID(ctx context.Context, id string) (attendance.Record, error) {
	q := GetQuerier(ctx, a.db)

	query := `
		SELECT ` + attendanceColumns + `
		FROM attendances a
		LEFT JOIN workers w ON w.id = a.worker_id
		WHERE a.id = $1
	`

	rec, err := scanRecord(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return attendance.Record{}, attendance.ErrRecordNotFound
		}
		return attendance.Record{}, fmt.Errorf("failed to get attendance by ID: %w", err)
	}

	return rec, nil
}

// ListOpen implements attendance.Repository.
func (a *attendanceRepository) ListOpen(ctx context.Context, asOf time.Time, lookbackDays int) ([]attendance.Record, error) {
	q := GetQuerier(ctx, a.db)

	query := `
		SELECT ` + attendanceColumns + `
		FROM attendances a
		LEFT JOIN workers w ON w.id = a.worker_id
		WHERE a.check_in IS NOT NULL
		  AND a.check_out IS NULL
		  AND a.calendar_date <= $1
	`
	args := []interface{}{asOf}

	if lookbackDays > 0 {
		query += ` AND a.calendar_date >= $2`
		args = append(args, asOf.AddDate(0, 0, -lookbackDays))
	}

	query += ` ORDER BY a.check_in ASC`

	rows, err := q.Query(ctx, query, args...)
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
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate open attendances: %w", err)
	}

	return records, nil
}

// CloseIfOpen implements attendance.Repository. The write is guarded by
// check_out IS NULL so overlapping runs cannot close a record twice; the
// metadata merge and note append happen in the same statement, so one
// record either closes completely or not at all.
func (a *attendanceRepository) CloseIfOpen(ctx context.Context, c attendance.Closure) (bool, error) {
	q := GetQuerier(ctx, a.db)

	metaJSON, err := json.Marshal(c.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to encode audit metadata: %w", err)
	}

	query := `
		UPDATE attendances
		SET check_out = $1,
		    work_minutes = $2,
		    metadata = COALESCE(metadata, '{}'::jsonb) || $3::jsonb,
		    note = CASE
		        WHEN note IS NULL OR note = '' THEN $4
		        ELSE note || $5 || $4
		    END,
		    updated_at = now()
		WHERE id = $6
		  AND check_out IS NULL
	`

	tag, err := q.Exec(ctx, query,
		c.CheckOut,
		c.WorkMinutes,
		metaJSON,
		c.Note,
		attendance.NoteSeparator,
		c.RecordID,
	)
	if err != nil {
		return false, fmt.Errorf("failed to close attendance: %w", err)
	}

	return tag.RowsAffected() == 1, nil
}

func scanRecord(row pgx.Row) (attendance.Record, error) {
	var rec attendance.Record
	var metaRaw []byte

	err := row.Scan(
		&rec.ID, &rec.WorkerID, &rec.CalendarDate, &rec.ShiftTemplateID,
		&rec.RawShiftStart, &rec.RawShiftEnd,
		&rec.CheckIn, &rec.CheckOut, &rec.WorkMinutes,
		&metaRaw, &rec.Note, &rec.CreatedAt, &rec.UpdatedAt,
		&rec.WorkerName,
	)
	if err != nil {
		return attendance.Record{}, err
	}

	if len(metaRaw) > 0 {
		if err := json.Unmarshal(metaRaw, &rec.Metadata); err != nil {
			return attendance.Record{}, fmt.Errorf("failed to decode metadata: %w", err)
		}
	}

	return rec, nil
}
