package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	domain "github.com/clinika/attendance-reconciler/internal/domain/reconcile"
	"github.com/clinika/attendance-reconciler/internal/domain/schedule"
)

// fallbackShiftDuration applies when a record has neither a shift template
// nor raw override fields: the shift is assumed to start at check-in and
// run for eight hours.
const fallbackShiftDuration = 8 * time.Hour

// ShiftWindowResolver turns an attendance record into concrete expected
// start/end timestamps on the record's calendar date, in the civil
// timezone, with overnight shifts normalized so End is always after Start.
type ShiftWindowResolver struct {
	shifts schedule.Repository
	loc    *time.Location
}

func NewShiftWindowResolver(shifts schedule.Repository, loc *time.Location) *ShiftWindowResolver {
	return &ShiftWindowResolver{shifts: shifts, loc: loc}
}

// Resolve resolves the shift window for rec. Malformed raw shift fields
// yield an error wrapping domain.ErrShiftParse; the caller treats that as
// SKIP_MISSING_DATA rather than silently defaulting.
func (r *ShiftWindowResolver) Resolve(ctx context.Context, rec attendance.Record) (domain.ShiftWindow, error) {
	if rec.ShiftTemplateID != nil {
		tpl, err := r.shifts.GetByID(ctx, *rec.ShiftTemplateID)
		switch {
		case err == nil:
			return r.fromTemplate(rec, tpl), nil
		case errors.Is(err, schedule.ErrShiftTemplateNotFound):
			// Dangling reference: fall through to the override fields.
		default:
			return domain.ShiftWindow{}, fmt.Errorf("resolve shift template: %w", err)
		}
	}

	if rec.RawShiftStart != nil && rec.RawShiftEnd != nil {
		return r.fromRawFields(rec)
	}

	if rec.CheckIn == nil {
		return domain.ShiftWindow{}, fmt.Errorf("%w: %s", attendance.ErrMissingCheckIn, rec.ID)
	}
	return normalizeOvernight(domain.ShiftWindow{
		Start:  rec.CheckIn.In(r.loc),
		End:    rec.CheckIn.In(r.loc).Add(fallbackShiftDuration),
		Source: domain.WindowSourceFallback,
	}), nil
}

func (r *ShiftWindowResolver) fromTemplate(rec attendance.Record, tpl schedule.ShiftTemplate) domain.ShiftWindow {
	start := combine(rec.CalendarDate, tpl.StartTime, r.loc)
	end := combine(rec.CalendarDate, tpl.EndTime, r.loc)
	if tpl.NextDayEnd {
		end = end.Add(24 * time.Hour)
	}
	return normalizeOvernight(domain.ShiftWindow{
		Start:  start,
		End:    end,
		Source: domain.WindowSourceShiftTemplate,
	})
}

func (r *ShiftWindowResolver) fromRawFields(rec attendance.Record) (domain.ShiftWindow, error) {
	start, err := r.resolveRaw(rec, *rec.RawShiftStart)
	if err != nil {
		return domain.ShiftWindow{}, err
	}
	end, err := r.resolveRaw(rec, *rec.RawShiftEnd)
	if err != nil {
		return domain.ShiftWindow{}, err
	}
	return normalizeOvernight(domain.ShiftWindow{
		Start:  start,
		End:    end,
		Source: domain.WindowSourceRecordOverride,
	}), nil
}

// resolveRaw parses one raw shift field as a tagged variant: either an
// absolute datetime or a bare time-of-day combined with the record's
// calendar date. Format detection is explicit, never inferred from
// substring matching.
func (r *ShiftWindowResolver) resolveRaw(rec attendance.Record, raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if t, err := time.ParseInLocation(layout, raw, r.loc); err == nil {
			return t, nil
		}
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.In(r.loc), nil
	}
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return combine(rec.CalendarDate, t, r.loc), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q on record %s", domain.ErrShiftParse, raw, rec.ID)
}

// combine places a time-of-day on the given calendar date in loc.
func combine(date time.Time, timeOfDay time.Time, loc *time.Location) time.Time {
	return time.Date(
		date.Year(), date.Month(), date.Day(),
		timeOfDay.Hour(), timeOfDay.Minute(), timeOfDay.Second(), 0,
		loc,
	)
}

// normalizeOvernight pushes End across midnight whenever the resolved pair
// encodes an overnight boundary. Applied unconditionally on every path.
func normalizeOvernight(w domain.ShiftWindow) domain.ShiftWindow {
	if !w.End.After(w.Start) {
		w.End = w.End.Add(24 * time.Hour)
	}
	return w
}
