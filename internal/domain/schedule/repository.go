package schedule

import "context"

// Repository resolves shift templates referenced by attendance records.
type Repository interface {
	GetByID(ctx context.Context, id string) (ShiftTemplate, error)
}
