// Package memory provides an in-memory implementation of all repository
// interfaces, used in tests and for the memory store driver in development.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/clinika/attendance-reconciler/internal/domain/attendance"
	"github.com/clinika/attendance-reconciler/internal/domain/schedule"
	"github.com/clinika/attendance-reconciler/internal/domain/tolerance"
	"github.com/clinika/attendance-reconciler/internal/domain/worker"
)

type overrideKey struct {
	workerID string
}

type override struct {
	minutes   int
	validFrom time.Time
	validTo   time.Time
}

// Store holds all entities behind one RWMutex. It implements
// attendance.Repository, schedule.Repository, tolerance.Repository and
// worker.Repository.
type Store struct {
	mu               sync.RWMutex
	records          map[string]attendance.Record
	shifts           map[string]schedule.ShiftTemplate
	workers          map[string]worker.Worker
	workerOverrides  map[overrideKey][]override
	locationDefaults map[string]int
}

func NewStore() *Store {
	return &Store{
		records:          make(map[string]attendance.Record),
		shifts:           make(map[string]schedule.ShiftTemplate),
		workers:          make(map[string]worker.Worker),
		workerOverrides:  make(map[overrideKey][]override),
		locationDefaults: make(map[string]int),
	}
}

// Seeding helpers.

func (s *Store) PutRecord(rec attendance.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = cloneRecord(rec)
}

func (s *Store) PutShiftTemplate(t schedule.ShiftTemplate) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.shifts[t.ID] = t
}

func (s *Store) PutWorker(w worker.Worker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.workers[w.ID] = w
}

func (s *Store) SetWorkerOverride(workerID string, minutes int, validFrom, validTo time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := overrideKey{workerID: workerID}
	s.workerOverrides[k] = append(s.workerOverrides[k], override{
		minutes:   minutes,
		validFrom: validFrom,
		validTo:   validTo,
	})
}

func (s *Store) SetLocationDefault(locationID string, minutes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locationDefaults[locationID] = minutes
}

// GetByID implements attendance.Repository.
func (s *Store) GetByID(_ context.Context, id string) (attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[id]
	if !ok {
		return attendance.Record{}, attendance.ErrRecordNotFound
	}
	return s.withWorkerName(cloneRecord(rec)), nil
}

// ListOpen implements attendance.Repository.
func (s *Store) ListOpen(_ context.Context, asOf time.Time, lookbackDays int) ([]attendance.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var open []attendance.Record
	for _, rec := range s.records {
		if !rec.IsOpen() {
			continue
		}
		if rec.CalendarDate.After(asOf) {
			continue
		}
		if lookbackDays > 0 && rec.CalendarDate.Before(asOf.AddDate(0, 0, -lookbackDays)) {
			continue
		}
		open = append(open, s.withWorkerName(cloneRecord(rec)))
	}

	sort.Slice(open, func(i, j int) bool {
		return open[i].CheckIn.Before(*open[j].CheckIn)
	})

	return open, nil
}

// CloseIfOpen implements attendance.Repository. The compare-and-set happens
// under the write lock, mirroring the SQL stores' check_out IS NULL guard.
func (s *Store) CloseIfOpen(_ context.Context, c attendance.Closure) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[c.RecordID]
	if !ok {
		return false, attendance.ErrRecordNotFound
	}
	if rec.CheckOut != nil {
		return false, nil
	}

	checkOut := c.CheckOut
	workMinutes := c.WorkMinutes
	rec.CheckOut = &checkOut
	rec.WorkMinutes = &workMinutes

	if rec.Metadata == nil {
		rec.Metadata = make(map[string]any, len(c.Metadata))
	}
	for k, v := range c.Metadata {
		rec.Metadata[k] = v
	}

	note := attendance.AppendNote(rec.Note, c.Note)
	rec.Note = &note
	rec.UpdatedAt = checkOut

	s.records[c.RecordID] = rec
	return true, nil
}

type shiftView struct{ s *Store }

// Shifts returns the store's schedule.Repository view.
func (s *Store) Shifts() schedule.Repository { return shiftView{s: s} }

func (v shiftView) GetByID(_ context.Context, id string) (schedule.ShiftTemplate, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	t, ok := v.s.shifts[id]
	if !ok {
		return schedule.ShiftTemplate{}, schedule.ErrShiftTemplateNotFound
	}
	return t, nil
}

// Workers returns the store's worker.Repository view.
func (s *Store) Workers() worker.Repository { return workerView{s: s} }

type workerView struct{ s *Store }

func (v workerView) GetByID(_ context.Context, id string) (worker.Worker, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	w, ok := v.s.workers[id]
	if !ok {
		return worker.Worker{}, worker.ErrWorkerNotFound
	}
	return w, nil
}

// Tolerances returns the store's tolerance.Repository view.
func (s *Store) Tolerances() tolerance.Repository { return toleranceView{s: s} }

type toleranceView struct{ s *Store }

func (v toleranceView) GetWorkerOverride(_ context.Context, workerID string, date time.Time) (*int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	for _, o := range v.s.workerOverrides[overrideKey{workerID: workerID}] {
		if !date.Before(o.validFrom) && !date.After(o.validTo) {
			minutes := o.minutes
			return &minutes, nil
		}
	}
	return nil, nil
}

func (v toleranceView) GetLocationDefault(_ context.Context, locationID string) (*int, error) {
	v.s.mu.RLock()
	defer v.s.mu.RUnlock()

	minutes, ok := v.s.locationDefaults[locationID]
	if !ok {
		return nil, nil
	}
	return &minutes, nil
}

func (s *Store) withWorkerName(rec attendance.Record) attendance.Record {
	if w, ok := s.workers[rec.WorkerID]; ok {
		name := w.FullName
		rec.WorkerName = &name
	}
	return rec
}

func cloneRecord(rec attendance.Record) attendance.Record {
	out := rec
	if rec.Metadata != nil {
		out.Metadata = make(map[string]any, len(rec.Metadata))
		for k, v := range rec.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
