package appointment

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

type scheduleKey struct {
	doctorID uuid.UUID
	weekday  time.Weekday
}

type exceptionKey struct {
	scope workhours.ExceptionScope
	date  string
}

// MemoryRepository is a map-backed Repository for tests and local runs.
type MemoryRepository struct {
	mu           sync.RWMutex
	doctors      map[uuid.UUID]Doctor
	services     map[uuid.UUID]Service
	patients     map[uuid.UUID]Patient
	schedules    map[scheduleKey]workhours.WeeklySchedule
	exceptions   map[exceptionKey]workhours.LunchException
	appointments map[uuid.UUID]Appointment
	blackouts    map[uuid.UUID]BlackoutPeriod
	history      []HistoryRecord
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]Doctor),
		services:     make(map[uuid.UUID]Service),
		patients:     make(map[uuid.UUID]Patient),
		schedules:    make(map[scheduleKey]workhours.WeeklySchedule),
		exceptions:   make(map[exceptionKey]workhours.LunchException),
		appointments: make(map[uuid.UUID]Appointment),
		blackouts:    make(map[uuid.UUID]BlackoutPeriod),
	}
}

func (m *MemoryRepository) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

func (m *MemoryRepository) AddService(s Service) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[s.ID] = s
}

func (m *MemoryRepository) AddPatient(p Patient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.patients[p.ID] = p
}

func (m *MemoryRepository) AddSchedule(ws workhours.WeeklySchedule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[scheduleKey{ws.DoctorID, ws.Weekday}] = ws
}

func (m *MemoryRepository) AddLunchException(date time.Time, scope workhours.ExceptionScope, exc workhours.LunchException) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.exceptions[exceptionKey{scope, date.Format(time.DateOnly)}] = exc
}

// AddAppointment stores a without running any scheduling validation.
func (m *MemoryRepository) AddAppointment(a Appointment) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.appointments[a.ID] = a
}

func (m *MemoryRepository) AddBlackout(b BlackoutPeriod) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blackouts[b.ID] = b
}

// History returns a copy of the stored history records.
func (m *MemoryRepository) History() []HistoryRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.history)
}

// Appointments returns every stored appointment ordered by start.
func (m *MemoryRepository) Appointments() []Appointment {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Appointment, 0, len(m.appointments))
	for _, a := range m.appointments {
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Appointment) int { return a.Start.Compare(b.Start) })
	return out
}

func (m *MemoryRepository) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.doctors[id]
	if !ok {
		return nil, NotFound("doctor", id)
	}
	return &d, nil
}

func (m *MemoryRepository) GetService(_ context.Context, id uuid.UUID) (*Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.services[id]
	if !ok {
		return nil, NotFound("service", id)
	}
	return &s, nil
}

func (m *MemoryRepository) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.patients[id]
	if !ok {
		return nil, NotFound("patient", id)
	}
	return &p, nil
}

func (m *MemoryRepository) GetWeeklySchedule(_ context.Context, doctorID uuid.UUID, weekday time.Weekday) (*workhours.WeeklySchedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ws, ok := m.schedules[scheduleKey{doctorID, weekday}]
	if !ok {
		return nil, nil
	}
	return &ws, nil
}

func (m *MemoryRepository) GetLunchException(_ context.Context, date time.Time, scope workhours.ExceptionScope) (*workhours.LunchException, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	exc, ok := m.exceptions[exceptionKey{scope, date.Format(time.DateOnly)}]
	if !ok {
		return nil, nil
	}
	return &exc, nil
}

// withDuration re-derives the duration from the service row, as the SQL join does.
func (m *MemoryRepository) withDuration(a Appointment) Appointment {
	if s, ok := m.services[a.ServiceID]; ok {
		a.DurationMinutes = s.DurationMinutes
	}
	return a
}

func (m *MemoryRepository) ListAppointments(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	window := interval.Span{Start: from, End: to}
	var out []Appointment
	for _, a := range m.appointments {
		a = m.withDuration(a)
		if a.DoctorID != doctorID || !a.Blocking() || !a.Span().Overlaps(window) {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Appointment) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (m *MemoryRepository) ListBlackouts(_ context.Context, doctorID uuid.UUID, from, to time.Time) ([]BlackoutPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	window := interval.Span{Start: from, End: to}
	var out []BlackoutPeriod
	for _, b := range m.blackouts {
		if b.DoctorID != doctorID || !b.Active || !b.Span().Overlaps(window) {
			continue
		}
		out = append(out, b)
	}
	slices.SortFunc(out, func(a, b BlackoutPeriod) int { return a.Start.Compare(b.Start) })
	return out, nil
}

func (m *MemoryRepository) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return nil, NotFound("appointment", id)
	}
	a = m.withDuration(a)
	return &a, nil
}

func (m *MemoryRepository) InsertAppointment(_ context.Context, a *Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	a.CreatedAt, a.UpdatedAt = now, now
	m.appointments[a.ID] = *a
	return nil
}

func (m *MemoryRepository) UpdateAppointment(_ context.Context, a *Appointment, expected Status) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateLocked(a, expected)
}

func (m *MemoryRepository) updateLocked(a *Appointment, expected Status) error {
	stored, ok := m.appointments[a.ID]
	if !ok {
		return NotFound("appointment", a.ID)
	}
	if !stored.Active || stored.Status != expected {
		return staleWrite(a.ID, expected)
	}
	a.UpdatedAt = time.Now()
	m.appointments[a.ID] = *a
	return nil
}

func (m *MemoryRepository) FinalizeAppointment(_ context.Context, a *Appointment, expected Status, rec *HistoryRecord) error {
	if err := a.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.updateLocked(a, expected); err != nil {
		return err
	}
	rec.CreatedAt = time.Now()
	m.history = append(m.history, *rec)
	return nil
}

func (m *MemoryRepository) GetBlackout(_ context.Context, id uuid.UUID) (*BlackoutPeriod, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blackouts[id]
	if !ok {
		return nil, NotFound("blackout", id)
	}
	return &b, nil
}

func (m *MemoryRepository) InsertBlackout(_ context.Context, b *BlackoutPeriod) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	b.CreatedAt, b.UpdatedAt = now, now
	m.blackouts[b.ID] = *b
	return nil
}

func (m *MemoryRepository) UpdateBlackout(_ context.Context, b *BlackoutPeriod) error {
	if err := b.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.blackouts[b.ID]; !ok {
		return NotFound("blackout", b.ID)
	}
	b.UpdatedAt = time.Now()
	m.blackouts[b.ID] = *b
	return nil
}
