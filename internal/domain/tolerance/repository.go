package tolerance

import (
	"context"
	"time"
)

// Repository looks up configured checkout tolerances. Both lookups return
// (nil, nil) when nothing is configured at that level; the resolver then
// falls through to the next source in the hierarchy.
type Repository interface {
	// GetWorkerOverride returns the per-worker tolerance valid on date.
	GetWorkerOverride(ctx context.Context, workerID string, date time.Time) (*int, error)

	// GetLocationDefault returns the work location's default tolerance.
	GetLocationDefault(ctx context.Context, locationID string) (*int, error)
}
