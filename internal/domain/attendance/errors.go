package attendance

import "errors"

var (
	ErrRecordNotFound = errors.New("attendance record not found")
	ErrMissingCheckIn = errors.New("attendance record has no check-in")
)
