package worker

import "time"

// Worker is the directory entry for one staff member. LocationID points at
// the work location whose checkout tolerance applies when the worker has no
// override of their own.
type Worker struct {
	ID         string
	FullName   string
	Role       string
	LocationID *string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
