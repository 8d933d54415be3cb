package appointment

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

type Status string

const (
	StatusPending        Status = "pendente"
	StatusPendingAI      Status = "pendente_ia"
	StatusEncaixePending Status = "encaixe_pendente"
	StatusConfirmed      Status = "confirmado"
	StatusFinalized      Status = "finalizado"
	StatusCanceled       Status = "cancelado"
)

var transitions = map[Status][]Status{
	StatusPending:        {StatusConfirmed, StatusCanceled},
	StatusPendingAI:      {StatusConfirmed, StatusCanceled},
	StatusEncaixePending: {StatusConfirmed, StatusCanceled},
	StatusConfirmed:      {StatusFinalized, StatusCanceled},
}

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusPendingAI, StatusEncaixePending,
		StatusConfirmed, StatusFinalized, StatusCanceled:
		return true
	}
	return false
}

func (s Status) Terminal() bool {
	return s == StatusFinalized || s == StatusCanceled
}

// CanTransitionTo reports whether the lifecycle allows moving from s to next.
// Restoring out of cancelado is an administrative override handled by Update,
// not a lifecycle transition.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Origin tells who asked for the booking.
type Origin string

const (
	OriginHuman Origin = "human"
	OriginAI    Origin = "ai"
)

type Role string

const (
	RoleAdmin        Role = "admin"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
)

// Actor is the already-authenticated caller of a scheduling operation.
type Actor struct {
	ID       uuid.UUID
	Role     Role
	ClinicID *uuid.UUID
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

type Doctor struct {
	ID                uuid.UUID      `json:"id"`
	ClinicID          *uuid.UUID     `json:"clinic_id,omitempty"`
	Name              string         `json:"name"`
	Active            bool           `json:"active"`
	DefaultLunchStart *string        `json:"default_lunch_start,omitempty"`
	DefaultLunchEnd   *string        `json:"default_lunch_end,omitempty"`
	BlockedWeekdays   []time.Weekday `json:"blocked_weekdays,omitempty"`
	CreatedAt         time.Time      `json:"created_at"`
	UpdatedAt         time.Time      `json:"updated_at"`
}

// WorkDoctor projects the fields the working-hours resolver needs.
func (d Doctor) WorkDoctor() workhours.Doctor {
	return workhours.Doctor{
		ID:                d.ID,
		ClinicID:          d.ClinicID,
		DefaultLunchStart: d.DefaultLunchStart,
		DefaultLunchEnd:   d.DefaultLunchEnd,
		BlockedWeekdays:   d.BlockedWeekdays,
	}
}

type Service struct {
	ID              uuid.UUID `json:"id"`
	Name            string    `json:"name"`
	DurationMinutes int       `json:"duration_minutes"`
	Active          bool      `json:"active"`
}

type Patient struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

type Cancellation struct {
	Reason  string    `json:"reason"`
	ActorID uuid.UUID `json:"actor_id"`
	At      time.Time `json:"at"`
}

type Appointment struct {
	ID                uuid.UUID     `json:"id"`
	DoctorID          uuid.UUID     `json:"doctor_id"`
	ClinicID          *uuid.UUID    `json:"clinic_id,omitempty"`
	ServiceID         uuid.UUID     `json:"service_id"`
	PatientID         uuid.UUID     `json:"patient_id"`
	Start             time.Time     `json:"start"`
	DurationMinutes   int           `json:"duration_minutes"` // always the service duration
	Status            Status        `json:"status"`
	Origin            Origin        `json:"origin"`
	Encaixe           bool          `json:"encaixe"`
	ConfirmedByDoctor bool          `json:"confirmed_by_doctor"`
	Active            bool          `json:"active"`
	Notes             *string       `json:"notes,omitempty"`
	Cancellation      *Cancellation `json:"cancellation,omitempty"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (a Appointment) End() time.Time {
	return a.Start.Add(time.Duration(a.DurationMinutes) * time.Minute)
}

func (a Appointment) Span() interval.Span {
	return interval.Span{Start: a.Start, End: a.End()}
}

// Validate rejects field combinations the lifecycle cannot produce.
func (a Appointment) Validate() error {
	switch {
	case !a.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidAppointment, a.Status)
	case a.DurationMinutes <= 0:
		return fmt.Errorf("%w: duration must be positive", ErrInvalidAppointment)
	case a.Status == StatusEncaixePending && !a.Encaixe:
		return fmt.Errorf("%w: encaixe_pendente requires an encaixe appointment", ErrInvalidAppointment)
	case a.Status == StatusPendingAI && a.Origin != OriginAI:
		return fmt.Errorf("%w: pendente_ia requires an AI-origin booking", ErrInvalidAppointment)
	case a.ConfirmedByDoctor && !a.Encaixe:
		return fmt.Errorf("%w: doctor confirmation only applies to encaixe", ErrInvalidAppointment)
	case a.Cancellation != nil && a.Status != StatusCanceled:
		return fmt.Errorf("%w: cancellation metadata outside cancelado", ErrInvalidAppointment)
	case a.Status == StatusCanceled && a.Cancellation == nil:
		return fmt.Errorf("%w: cancelado without cancellation metadata", ErrInvalidAppointment)
	}
	return nil
}

// Blocking reports whether the appointment occupies its interval for
// conflict detection.
func (a Appointment) Blocking() bool {
	return a.Active && a.Status != StatusCanceled
}

// BlackoutPeriod is a half-open range during which the doctor takes no bookings.
type BlackoutPeriod struct {
	ID        uuid.UUID `json:"id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Reason    string    `json:"reason"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (b BlackoutPeriod) Span() interval.Span {
	return interval.Span{Start: b.Start, End: b.End}
}

func (b BlackoutPeriod) Validate() error {
	if !b.End.After(b.Start) {
		return fmt.Errorf("%w: blackout end %s is not after start %s",
			interval.ErrInvalidWindow, b.End.Format(time.RFC3339), b.Start.Format(time.RFC3339))
	}
	return nil
}

// HistoryRecord is the clinical history entry written when a visit is finalized.
type HistoryRecord struct {
	ID              uuid.UUID `json:"id"`
	PatientID       uuid.UUID `json:"patient_id"`
	AppointmentID   uuid.UUID `json:"appointment_id"`
	Summary         string    `json:"summary"`
	PerformedAt     time.Time `json:"performed_at"`
	DurationMinutes *int      `json:"duration_minutes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// Detail is an appointment with every referenced entity loaded.
type Detail struct {
	Appointment
	Doctor  *Doctor  `json:"doctor"`
	Service *Service `json:"service"`
	Patient *Patient `json:"patient"`
}
