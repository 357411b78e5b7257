package schedule

import "time"

// ShiftTemplate is the expected working window for a shift, expressed as
// time-of-day values. NextDayEnd marks shifts whose checkout falls on the
// following calendar day (night shifts).
type ShiftTemplate struct {
	ID         string
	Name       string
	StartTime  time.Time // only the time-of-day component is meaningful
	EndTime    time.Time
	NextDayEnd bool
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
