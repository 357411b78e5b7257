package worker

import (
	"context"
	"errors"
)

var ErrWorkerNotFound = errors.New("worker not found")

// Repository is the read-only worker directory.
type Repository interface {
	GetByID(ctx context.Context, id string) (Worker, error)
}
