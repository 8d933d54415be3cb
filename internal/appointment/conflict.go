package appointment

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

// DefaultBlackoutMargin widens blackout queries so periods crossing midnight
// are still fetched.
const DefaultBlackoutMargin = 8 * time.Hour

// Detector tests candidate intervals against a doctor's appointments and
// blackout periods.
type Detector struct {
	store  ConflictStore
	loc    *time.Location
	margin time.Duration
}

func NewDetector(store ConflictStore, loc *time.Location, margin time.Duration) *Detector {
	if loc == nil {
		loc = time.Local
	}
	if margin <= 0 {
		margin = DefaultBlackoutMargin
	}
	return &Detector{store: store, loc: loc, margin: margin}
}

// AppointmentConflicts returns every blocking appointment of the doctor on the
// candidate's calendar day that overlaps it. exclude is skipped so an
// appointment never conflicts with itself while being rescheduled.
func (d *Detector) AppointmentConflicts(ctx context.Context, doctorID uuid.UUID, candidate interval.Span, exclude uuid.UUID) ([]Appointment, error) {
	dayStart := interval.StartOfDay(candidate.Start, d.loc)
	dayEnd := dayStart.AddDate(0, 0, 1)
	if candidate.End.After(dayEnd) {
		dayEnd = candidate.End
	}

	appts, err := d.store.ListAppointments(ctx, doctorID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return overlappingAppointments(appts, candidate, exclude), nil
}

// AppointmentsIn returns the blocking appointments overlapping span, querying a
// window widened by the detector margin first.
func (d *Detector) AppointmentsIn(ctx context.Context, doctorID uuid.UUID, span interval.Span) ([]Appointment, error) {
	wide := span.Widen(d.margin)
	appts, err := d.store.ListAppointments(ctx, doctorID, wide.Start, wide.End)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	return overlappingAppointments(appts, span, uuid.Nil), nil
}

// BlackoutConflicts returns the active blackouts overlapping candidate.
func (d *Detector) BlackoutConflicts(ctx context.Context, doctorID uuid.UUID, candidate interval.Span) ([]BlackoutPeriod, error) {
	wide := candidate.Widen(d.margin)
	blackouts, err := d.store.ListBlackouts(ctx, doctorID, wide.Start, wide.End)
	if err != nil {
		return nil, fmt.Errorf("list blackouts: %w", err)
	}

	var hits []BlackoutPeriod
	for _, b := range blackouts {
		if b.Active && b.Span().Overlaps(candidate) {
			hits = append(hits, b)
		}
	}
	return hits, nil
}

// Check runs the blackout check, which nothing bypasses, then the appointment
// check unless the candidate is an encaixe.
func (d *Detector) Check(ctx context.Context, doctorID uuid.UUID, candidate interval.Span, encaixe bool, exclude uuid.UUID) error {
	blackouts, err := d.BlackoutConflicts(ctx, doctorID, candidate)
	if err != nil {
		return err
	}
	if len(blackouts) > 0 {
		metrics.ConflictsTotal.WithLabelValues("blackout").Inc()
		return &BlackoutConflictError{Blackouts: blackouts}
	}

	if encaixe {
		return nil
	}

	conflicts, err := d.AppointmentConflicts(ctx, doctorID, candidate, exclude)
	if err != nil {
		return err
	}
	if len(conflicts) > 0 {
		metrics.ConflictsTotal.WithLabelValues("appointment").Inc()
		return &AppointmentConflictError{Conflicts: conflicts}
	}
	return nil
}

// Busy is a preloaded view of everything that occupies a doctor's day.
type Busy struct {
	spans []interval.Span
}

// DayBusy loads the appointments and blackouts touching day once so that a
// whole slot list can be filtered without further queries.
func (d *Detector) DayBusy(ctx context.Context, doctorID uuid.UUID, day time.Time) (Busy, error) {
	dayStart := interval.StartOfDay(day, d.loc)
	span := interval.Span{Start: dayStart, End: dayStart.AddDate(0, 0, 1)}

	appts, err := d.store.ListAppointments(ctx, doctorID, span.Start, span.End)
	if err != nil {
		return Busy{}, fmt.Errorf("list appointments: %w", err)
	}
	blackouts, err := d.BlackoutConflicts(ctx, doctorID, span)
	if err != nil {
		return Busy{}, err
	}

	busy := Busy{spans: make([]interval.Span, 0, len(appts)+len(blackouts))}
	for _, a := range appts {
		if a.Blocking() {
			busy.spans = append(busy.spans, a.Span())
		}
	}
	for _, b := range blackouts {
		busy.spans = append(busy.spans, b.Span())
	}
	return busy, nil
}

// With returns a copy of b that also treats span as occupied.
func (b Busy) With(span interval.Span) Busy {
	spans := make([]interval.Span, len(b.spans), len(b.spans)+1)
	copy(spans, b.spans)
	return Busy{spans: append(spans, span)}
}

// Free reports whether [start, start+duration) touches nothing busy.
func (b Busy) Free(start time.Time, duration time.Duration) bool {
	candidate := interval.Span{Start: start, End: start.Add(duration)}
	for _, s := range b.spans {
		if s.Overlaps(candidate) {
			return false
		}
	}
	return true
}

func overlappingAppointments(appts []Appointment, candidate interval.Span, exclude uuid.UUID) []Appointment {
	var hits []Appointment
	for _, a := range appts {
		if a.ID == exclude || !a.Blocking() {
			continue
		}
		if a.Span().Overlaps(candidate) {
			hits = append(hits, a)
		}
	}
	return hits
}
