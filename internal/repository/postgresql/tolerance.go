package postgresql

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
	"github.com/clinika/attendance-reconciler/internal/pkg/database"
	"github.com/jackc/pgx/v5"
)

type toleranceRepository struct {
	db *database.DB
}

func NewToleranceRepository(db *database.DB) tolerance.Repository {
	return &toleranceRepository{db: db}
}

// GetWorkerOverride implements tolerance.Repository. Overrides are valid
// for a date range; the most recently created one wins when ranges overlap.
func (r *toleranceRepository) GetWorkerOverride(ctx context.Context, workerID string, date time.Time) (*int, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT late_minutes
		FROM tolerance_overrides
		WHERE worker_id = $1
		  AND $2::date BETWEEN valid_from AND valid_to
		ORDER BY created_at DESC
		LIMIT 1
	`

	var minutes int
	err := q.QueryRow(ctx, query, workerID, date).Scan(&minutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get worker tolerance override: %w", err)
	}

	return &minutes, nil
}

// GetLocationDefault implements tolerance.Repository.
func (r *toleranceRepository) GetLocationDefault(ctx context.Context, locationID string) (*int, error) {
	q := GetQuerier(ctx, r.db)

	query := `
		SELECT checkout_tolerance_minutes
		FROM work_locations
		WHERE id = $1
		  AND checkout_tolerance_minutes IS NOT NULL
	`

	var minutes int
	err := q.QueryRow(ctx, query, locationID).Scan(&minutes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get location tolerance default: %w", err)
	}

	return &minutes, nil
}
