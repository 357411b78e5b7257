// Package clock provides the injected time source for the reconciliation
// engine. All shift and tolerance arithmetic happens in one fixed civil
// timezone; core logic never reads time.Now directly.
package clock

import (
	"fmt"
	"sync"
	"time"
)

// Clock supplies the current time in the civil timezone.
type Clock interface {
	Now() time.Time
	Location() *time.Location
}

// Civil is the production clock, pinned to a single configured timezone.
type Civil struct {
	loc *time.Location
}

func NewCivil(timezone string) (*Civil, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("load civil timezone %q: %w", timezone, err)
	}
	return &Civil{loc: loc}, nil
}

func (c *Civil) Now() time.Time {
	return time.Now().In(c.loc)
}

func (c *Civil) Location() *time.Location {
	return c.loc
}

// Fixed is a settable clock for tests.
type Fixed struct {
	mu  sync.Mutex
	now time.Time
}

func NewFixed(now time.Time) *Fixed {
	return &Fixed{now: now}
}

func (f *Fixed) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *Fixed) Location() *time.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now.Location()
}

func (f *Fixed) Set(now time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = now
}

func (f *Fixed) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

// DateOf truncates t to midnight in its own location.
func DateOf(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}
