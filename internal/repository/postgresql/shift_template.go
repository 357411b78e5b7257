package postgresql

import (
	"context"
	"errors"
	"fmt"

	"github.com/clinika/attendance-reconciler/internal/domain/schedule"
	"github.com/clinika/attendance-reconciler/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

type shiftTemplateRepository struct {
	db *database.DB
}

func NewShiftTemplateRepository(db *database.DB) schedule.Repository {
	return &shiftTemplateRepository{db: db}
}

// GetByID implements schedule.Repository.
func (r *shiftTemplateRepository) GetByID(ctx context.Context, id string) (schedule.ShiftTemplate, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT id, name, start_time, end_time, next_day_end, created_at, updated_at
		FROM shift_templates
		WHERE id = $1
	`

	var t schedule.ShiftTemplate
	err := q.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.Name, &t.StartTime, &t.EndTime, &t.NextDayEnd,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return schedule.ShiftTemplate{}, schedule.ErrShiftTemplateNotFound
		}
		return schedule.ShiftTemplate{}, fmt.Errorf("failed to get shift template: %w", err)
	}

	return t, nil
}
