package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
)

// ToleranceResolver looks up the checkout tolerance for a worker on a
// date: worker override, then work-location default, then the system
// default. Pure lookup, no side effects.
type ToleranceResolver struct {
	workers        worker.Repository
	tolerances     tolerance.Repository
	defaultMinutes int
}

// NewToleranceResolver fails with domain.ErrConfiguration for a
// non-positive system default; a deployment without any resolvable
// tolerance must abort before mutating anything.
func NewToleranceResolver(workers worker.Repository, tolerances tolerance.Repository, defaultMinutes int) (*ToleranceResolver, error) {
	if defaultMinutes <= 0 {
		return nil, fmt.Errorf("%w: system default is %d minutes", domain.ErrConfiguration, defaultMinutes)
	}
	return &ToleranceResolver{
		workers:        workers,
		tolerances:     tolerances,
		defaultMinutes: defaultMinutes,
	}, nil
}

// Resolve returns the first matching tolerance with its source tag.
func (r *ToleranceResolver) Resolve(ctx context.Context, workerID string, date time.Time) (tolerance.Window, error) {
	if minutes, err := r.tolerances.GetWorkerOverride(ctx, workerID, date); err != nil {
		return tolerance.Window{}, fmt.Errorf("resolve worker override: %w", err)
	} else if minutes != nil {
		return tolerance.Window{LateMinutes: *minutes, Source: tolerance.SourceWorkerOverride}, nil
	}

	w, err := r.workers.GetByID(ctx, workerID)
	if err != nil && !errors.Is(err, worker.ErrWorkerNotFound) {
		return tolerance.Window{}, fmt.Errorf("resolve worker: %w", err)
	}
	if err == nil && w.LocationID != nil {
		if minutes, err := r.tolerances.GetLocationDefault(ctx, *w.LocationID); err != nil {
			return tolerance.Window{}, fmt.Errorf("resolve location default: %w", err)
		} else if minutes != nil {
			return tolerance.Window{LateMinutes: *minutes, Source: tolerance.SourceLocationDefault}, nil
		}
	}

	return tolerance.Window{LateMinutes: r.defaultMinutes, Source: tolerance.SourceSystemDefault}, nil
}
