package appointment

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

// ConflictStore is the read side used by the Detector. Both lists return only
// active rows overlapping [from, to); ListAppointments also drops cancelado.
type ConflictStore interface {
	ListAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error)
	ListBlackouts(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]BlackoutPeriod, error)
}

// Repository contains all DB interactions needed by the scheduler and the
// blackout resolver. Getters return an error wrapping ErrNotFound when the
// row does not exist.
type Repository interface {
	workhours.Store
	ConflictStore

	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetService(ctx context.Context, id uuid.UUID) (*Service, error)
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)

	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	InsertAppointment(ctx context.Context, a *Appointment) error
	// UpdateAppointment and FinalizeAppointment write only while the stored
	// row is still active with status expected, and return an error wrapping
	// ErrInvalidStatusTransition otherwise.
	UpdateAppointment(ctx context.Context, a *Appointment, expected Status) error
	// FinalizeAppointment stores the finalized appointment and appends the
	// history record atomically.
	FinalizeAppointment(ctx context.Context, a *Appointment, expected Status, rec *HistoryRecord) error

	GetBlackout(ctx context.Context, id uuid.UUID) (*BlackoutPeriod, error)
	InsertBlackout(ctx context.Context, b *BlackoutPeriod) error
	UpdateBlackout(ctx context.Context, b *BlackoutPeriod) error
}
