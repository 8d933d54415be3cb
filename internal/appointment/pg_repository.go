package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Duration is joined from services so it can never drift from the service row.
const appointmentColumns = `
	a.id, a.doctor_id, a.clinic_id, a.service_id, a.patient_id, a.start_time,
	s.duration_minutes, a.status, a.origin, a.encaixe, a.confirmed_by_doctor, a.active, a.notes,
	a.cancel_reason, a.canceled_by, a.canceled_at, a.created_at, a.updated_at`

const appointmentFrom = `
	FROM appointments a
	JOIN services s ON s.id = a.service_id`

const blackoutColumns = `id, doctor_id, start_time, end_time, reason, active, created_at, updated_at`

// Helpers

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var blocked []int16

	err := row.Scan(
		&d.ID,
		&d.ClinicID,
		&d.Name,
		&d.Active,
		&d.DefaultLunchStart,
		&d.DefaultLunchEnd,
		&blocked,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	for _, wd := range blocked {
		d.BlockedWeekdays = append(d.BlockedWeekdays, time.Weekday(wd))
	}
	return &d, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var (
		reason     *string
		canceledBy *uuid.UUID
		canceledAt *time.Time
	)

	err := row.Scan(
		&a.ID,
		&a.DoctorID,
		&a.ClinicID,
		&a.ServiceID,
		&a.PatientID,
		&a.Start,
		&a.DurationMinutes,
		&a.Status,
		&a.Origin,
		&a.Encaixe,
		&a.ConfirmedByDoctor,
		&a.Active,
		&a.Notes,
		&reason,
		&canceledBy,
		&canceledAt,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if reason != nil && canceledBy != nil && canceledAt != nil {
		a.Cancellation = &Cancellation{Reason: *reason, ActorID: *canceledBy, At: *canceledAt}
	}

	if err := a.Validate(); err != nil {
		return nil, fmt.Errorf("appointment %s: %w", a.ID, err)
	}
	return &a, nil
}

func scanBlackout(row pgx.Row) (*BlackoutPeriod, error) {
	var b BlackoutPeriod
	err := row.Scan(
		&b.ID,
		&b.DoctorID,
		&b.Start,
		&b.End,
		&b.Reason,
		&b.Active,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func notFoundOr(err error, entity string, id uuid.UUID) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFound(entity, id)
	}
	return fmt.Errorf("load %s: %w", entity, err)
}

func cancellationColumns(c *Cancellation) (reason *string, by *uuid.UUID, at *time.Time) {
	if c == nil {
		return nil, nil, nil
	}
	return &c.Reason, &c.ActorID, &c.At
}

// Interface methods

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, clinic_id, name, active, default_lunch_start, default_lunch_end,
		       blocked_weekdays, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	d, err := scanDoctor(row)
	if err != nil {
		return nil, notFoundOr(err, "doctor", id)
	}
	return d, nil
}

func (r *PgRepository) GetService(ctx context.Context, id uuid.UUID) (*Service, error) {
	var s Service
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, duration_minutes, active
		FROM services
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.DurationMinutes, &s.Active)
	if err != nil {
		return nil, notFoundOr(err, "service", id)
	}
	return &s, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, notFoundOr(err, "patient", id)
	}
	return &p, nil
}

func (r *PgRepository) GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*workhours.WeeklySchedule, error) {
	ws := workhours.WeeklySchedule{DoctorID: doctorID, Weekday: weekday}
	err := r.pool.QueryRow(ctx, `
		SELECT start_time, end_time, lunch_start, lunch_end
		FROM weekly_schedules
		WHERE doctor_id = $1 AND weekday = $2 AND active
	`, doctorID, int16(weekday)).Scan(&ws.Start, &ws.End, &ws.LunchStart, &ws.LunchEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query weekly schedule: %w", err)
	}
	return &ws, nil
}

func (r *PgRepository) GetLunchException(ctx context.Context, date time.Time, scope workhours.ExceptionScope) (*workhours.LunchException, error) {
	column := "doctor_id"
	if scope.Kind == workhours.ScopeClinic {
		column = "clinic_id"
	}

	var exc workhours.LunchException
	err := r.pool.QueryRow(ctx, `
		SELECT lunch_start, lunch_end
		FROM lunch_exceptions
		WHERE `+column+` = $1 AND exception_date = $2::date
	`, scope.ID, date.Format(time.DateOnly)).Scan(&exc.LunchStart, &exc.LunchEnd)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query lunch exception: %w", err)
	}
	return &exc, nil
}

func (r *PgRepository) ListAppointments(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]Appointment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.doctor_id = $1
		  AND a.active
		  AND a.status <> 'cancelado'
		  AND a.start_time < $3
		  AND a.start_time + make_interval(mins => s.duration_minutes) > $2
		ORDER BY a.start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list appointments: %w", err)
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListBlackouts(ctx context.Context, doctorID uuid.UUID, from, to time.Time) ([]BlackoutPeriod, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+blackoutColumns+`
		FROM blackout_periods
		WHERE doctor_id = $1
		  AND active
		  AND start_time < $3
		  AND end_time > $2
		ORDER BY start_time
	`, doctorID, from, to)
	if err != nil {
		return nil, fmt.Errorf("list blackouts: %w", err)
	}
	defer rows.Close()

	var result []BlackoutPeriod
	for rows.Next() {
		b, err := scanBlackout(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *b)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+appointmentFrom+` WHERE a.id = $1`, id)
	a, err := scanAppointment(row)
	if err != nil {
		return nil, notFoundOr(err, "appointment", id)
	}
	return a, nil
}

func (r *PgRepository) InsertAppointment(ctx context.Context, a *Appointment) error {
	if err := a.Validate(); err != nil {
		return err
	}
	reason, by, at := cancellationColumns(a.Cancellation)

	err := r.pool.QueryRow(ctx, `
		INSERT INTO appointments (
			id, doctor_id, clinic_id, service_id, patient_id, start_time, status, origin,
			encaixe, confirmed_by_doctor, active, notes,
			cancel_reason, canceled_by, canceled_at, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING created_at, updated_at
	`, a.ID, a.DoctorID, a.ClinicID, a.ServiceID, a.PatientID, a.Start, a.Status, a.Origin,
		a.Encaixe, a.ConfirmedByDoctor, a.Active, a.Notes, reason, by, at,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointment(ctx context.Context, a *Appointment, expected Status) error {
	return updateAppointment(ctx, r.pool, a, expected)
}

// FinalizeAppointment runs the status update and the history insert in one transaction.
func (r *PgRepository) FinalizeAppointment(ctx context.Context, a *Appointment, expected Status, rec *HistoryRecord) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if err := updateAppointment(ctx, tx, a, expected); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			INSERT INTO history_records (id, patient_id, appointment_id, summary, performed_at, duration_minutes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, now())
			RETURNING created_at
		`, rec.ID, rec.PatientID, rec.AppointmentID, rec.Summary, rec.PerformedAt, rec.DurationMinutes,
		).Scan(&rec.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert history record: %w", err)
		}
		return nil
	})
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// updateAppointment overwrites the row guarded by its previous status, so a
// concurrent transition makes this write fail instead of being lost.
func updateAppointment(ctx context.Context, q querier, a *Appointment, expected Status) error {
	if err := a.Validate(); err != nil {
		return err
	}
	reason, by, at := cancellationColumns(a.Cancellation)

	err := q.QueryRow(ctx, `
		UPDATE appointments
		SET doctor_id = $2,
		    clinic_id = $3,
		    service_id = $4,
		    patient_id = $5,
		    start_time = $6,
		    status = $7,
		    origin = $8,
		    encaixe = $9,
		    confirmed_by_doctor = $10,
		    active = $11,
		    notes = $12,
		    cancel_reason = $13,
		    canceled_by = $14,
		    canceled_at = $15,
		    updated_at = now()
		WHERE id = $1 AND active AND status = $16
		RETURNING updated_at
	`, a.ID, a.DoctorID, a.ClinicID, a.ServiceID, a.PatientID, a.Start, a.Status, a.Origin,
		a.Encaixe, a.ConfirmedByDoctor, a.Active, a.Notes, reason, by, at, expected,
	).Scan(&a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return staleWrite(a.ID, expected)
		}
		return fmt.Errorf("update appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) GetBlackout(ctx context.Context, id uuid.UUID) (*BlackoutPeriod, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+blackoutColumns+` FROM blackout_periods WHERE id = $1`, id)
	b, err := scanBlackout(row)
	if err != nil {
		return nil, notFoundOr(err, "blackout", id)
	}
	return b, nil
}

func (r *PgRepository) InsertBlackout(ctx context.Context, b *BlackoutPeriod) error {
	if err := b.Validate(); err != nil {
		return err
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO blackout_periods (id, doctor_id, start_time, end_time, reason, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now(), now())
		RETURNING created_at, updated_at
	`, b.ID, b.DoctorID, b.Start, b.End, b.Reason, b.Active).Scan(&b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert blackout: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateBlackout(ctx context.Context, b *BlackoutPeriod) error {
	if err := b.Validate(); err != nil {
		return err
	}
	err := r.pool.QueryRow(ctx, `
		UPDATE blackout_periods
		SET start_time = $2,
		    end_time = $3,
		    reason = $4,
		    active = $5,
		    updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, b.ID, b.Start, b.End, b.Reason, b.Active).Scan(&b.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return NotFound("blackout", b.ID)
		}
		return fmt.Errorf("update blackout: %w", err)
	}
	return nil
}

// InsertEvent appends an appointment event to event_logs.
func (r *PgRepository) InsertEvent(ctx context.Context, rec events.LogRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, rec.EventType, rec.AppointmentID, rec.Payload, nullableTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
