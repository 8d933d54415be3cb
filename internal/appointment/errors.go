package appointment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

var (
	ErrNotFound                = errors.New("not found")
	ErrOutOfScope              = errors.New("actor has no rights over this doctor")
	ErrInvalidAppointment      = errors.New("invalid appointment")
	ErrInvalidStatusTransition = errors.New("invalid status transition")
	ErrSelfOverlap             = errors.New("new interval overlaps the appointment's current interval")
	ErrMissingSummary          = errors.New("finalizing requires a visit summary")
	ErrDoctorBusy              = errors.New("doctor schedule is being changed, please retry")
)

// NotFound wraps ErrNotFound with the missing entity.
func NotFound(entity string, id uuid.UUID) error {
	return fmt.Errorf("%s %s: %w", entity, id, ErrNotFound)
}

// staleWrite reports that the stored appointment is no longer active with the
// status the caller read.
func staleWrite(id uuid.UUID, expected Status) error {
	return fmt.Errorf("%w: appointment %s is no longer %s", ErrInvalidStatusTransition, id, expected)
}

// LunchBreakConflictError carries the lunch window that was actually resolved
// for the day, after exceptions and defaults were applied.
type LunchBreakConflictError struct {
	Lunch interval.Window
}

func (e *LunchBreakConflictError) Error() string {
	return "appointment overlaps the lunch break " + e.Lunch.String()
}

type OutsideWorkingHoursError struct {
	Window interval.Window
}

func (e *OutsideWorkingHoursError) Error() string {
	return "appointment falls outside working hours " + e.Window.String()
}

type BlackoutConflictError struct {
	Blackouts []BlackoutPeriod
}

func (e *BlackoutConflictError) Error() string {
	parts := make([]string, 0, len(e.Blackouts))
	for _, b := range e.Blackouts {
		parts = append(parts, b.Start.Format(time.RFC3339)+"/"+b.End.Format(time.RFC3339))
	}
	return "appointment overlaps blackout period " + strings.Join(parts, ", ")
}

type AppointmentConflictError struct {
	Conflicts []Appointment
}

func (e *AppointmentConflictError) Error() string {
	return fmt.Sprintf("appointment overlaps %d existing appointment(s)", len(e.Conflicts))
}

type InvalidCancellationError struct {
	Reason string
}

func (e *InvalidCancellationError) Error() string {
	return "invalid cancellation: " + e.Reason
}
