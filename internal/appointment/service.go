package appointment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/events"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

// Config holds the scheduling policies that come from deployment settings.
type Config struct {
	MinLeadTime time.Duration   // slots earlier than now+MinLeadTime are not offered
	AIFallback  interval.Window // working window for AI bookings on days without a schedule
}

type Scheduler struct {
	repo     Repository
	resolver *workhours.Resolver
	detector *Detector
	locker   redisclient.Locker
	emitter  events.Emitter
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

type Option func(*Scheduler)

func WithLocker(l redisclient.Locker) Option {
	return func(s *Scheduler) { s.locker = l }
}

func WithEmitter(e events.Emitter) Option {
	return func(s *Scheduler) { s.emitter = e }
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Scheduler) { s.log = l }
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func NewScheduler(repo Repository, resolver *workhours.Resolver, detector *Detector, cfg Config, opts ...Option) *Scheduler {
	s := &Scheduler{
		repo:     repo,
		resolver: resolver,
		detector: detector,
		locker:   redisclient.NewLocalLocker(),
		emitter:  events.Nop{},
		log:      zap.NewNop(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Location() *time.Location {
	return s.resolver.Location()
}

// LockDoctor runs fn while holding the doctor's scheduling lock.
func LockDoctor(ctx context.Context, l redisclient.Locker, doctorID uuid.UUID, fn func(ctx context.Context) error) error {
	err := l.WithDoctorLock(ctx, doctorID, fn)
	if errors.Is(err, redisclient.ErrLockNotAcquired) {
		return ErrDoctorBusy
	}
	return err
}

// Authorize checks that actor may act on doc's calendar. Administrators act
// everywhere; everyone else only inside their own clinic. Doctors with no
// clinic belong to the whole deployment.
func Authorize(actor Actor, doc *Doctor) error {
	if actor.IsAdmin() || doc.ClinicID == nil {
		return nil
	}
	if actor.ClinicID == nil || *actor.ClinicID != *doc.ClinicID {
		return fmt.Errorf("%w: doctor %s", ErrOutOfScope, doc.ID)
	}
	return nil
}

// ActiveDoctor loads a doctor and treats inactive ones as missing.
func ActiveDoctor(ctx context.Context, repo Repository, id uuid.UUID) (*Doctor, error) {
	doc, err := repo.GetDoctor(ctx, id)
	if err != nil {
		return nil, err
	}
	if !doc.Active {
		return nil, NotFound("doctor", id)
	}
	return doc, nil
}

func (s *Scheduler) activeService(ctx context.Context, id uuid.UUID) (*Service, error) {
	svc, err := s.repo.GetService(ctx, id)
	if err != nil {
		return nil, err
	}
	if !svc.Active {
		return nil, NotFound("service", id)
	}
	return svc, nil
}

func (s *Scheduler) activeAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	a, err := s.repo.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Active {
		return nil, NotFound("appointment", id)
	}
	return a, nil
}

func (s *Scheduler) policyFor(origin Origin) workhours.Policy {
	if origin == OriginAI {
		return workhours.WithFallback(s.cfg.AIFallback)
	}
	return workhours.Strict
}

func initialStatus(encaixe bool, origin Origin) Status {
	switch {
	case encaixe:
		return StatusEncaixePending
	case origin == OriginAI:
		return StatusPendingAI
	default:
		return StatusPending
	}
}

// validateSlot checks a candidate against working hours, lunch, blackouts and,
// unless it is an encaixe, the doctor's other appointments.
func (s *Scheduler) validateSlot(ctx context.Context, doc *Doctor, a *Appointment, exclude uuid.UUID) error {
	hours, err := s.resolver.Resolve(ctx, doc.WorkDoctor(), a.Start, s.policyFor(a.Origin))
	if err != nil {
		return err
	}

	candidate := a.Span()
	if !hours.Window.On(hours.Date, s.Location()).Contains(candidate) {
		metrics.ConflictsTotal.WithLabelValues("working_hours").Inc()
		return &OutsideWorkingHoursError{Window: hours.Window}
	}
	if hours.Lunch != nil && hours.Lunch.On(hours.Date, s.Location()).Overlaps(candidate) {
		metrics.ConflictsTotal.WithLabelValues("lunch").Inc()
		return &LunchBreakConflictError{Lunch: *hours.Lunch}
	}

	return s.detector.Check(ctx, doc.ID, a.Span(), a.Encaixe, exclude)
}

type CreateInput struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	PatientID uuid.UUID
	Start     time.Time
	Encaixe   bool
	Origin    Origin
	Notes     *string
}

// Create books a new appointment. The conflict checks and the insert run under
// the doctor's lock.
func (s *Scheduler) Create(ctx context.Context, actor Actor, in CreateInput) (detail *Detail, err error) {
	defer func() { metrics.BookingsTotal.WithLabelValues("create", metrics.Outcome(err)).Inc() }()

	doc, err := ActiveDoctor(ctx, s.repo, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, doc); err != nil {
		return nil, err
	}
	svc, err := s.activeService(ctx, in.ServiceID)
	if err != nil {
		return nil, err
	}
	patient, err := s.repo.GetPatient(ctx, in.PatientID)
	if err != nil {
		return nil, err
	}

	origin := in.Origin
	if origin == "" {
		origin = OriginHuman
	}

	appt := &Appointment{
		ID:              uuid.New(),
		DoctorID:        doc.ID,
		ClinicID:        doc.ClinicID,
		ServiceID:       svc.ID,
		PatientID:       patient.ID,
		Start:           in.Start.In(s.Location()),
		DurationMinutes: svc.DurationMinutes,
		Status:          initialStatus(in.Encaixe, origin),
		Origin:          origin,
		Encaixe:         in.Encaixe,
		Active:          true,
		Notes:           in.Notes,
	}

	err = LockDoctor(ctx, s.locker, doc.ID, func(ctx context.Context) error {
		if err := s.validateSlot(ctx, doc, appt, uuid.Nil); err != nil {
			return err
		}
		return s.repo.InsertAppointment(ctx, appt)
	})
	if err != nil {
		return nil, err
	}

	detail = &Detail{Appointment: *appt, Doctor: doc, Service: svc, Patient: patient}
	s.emit(events.ActionCreated, detail)

	s.log.Info("appointment created",
		zap.String("appointment_id", appt.ID.String()),
		zap.String("doctor_id", doc.ID.String()),
		zap.String("status", string(appt.Status)),
		zap.Time("start", appt.Start),
	)
	return detail, nil
}

// UpdateInput lists the fields to change; nil means unchanged.
type UpdateInput struct {
	Start     *time.Time
	DoctorID  *uuid.UUID
	ServiceID *uuid.UUID
	PatientID *uuid.UUID
	Notes     *string
	Status    *Status
}

// Update edits or reschedules an appointment. A change of start, doctor or
// service is validated like a new booking (ignoring the appointment itself).
// When the start moves on the same doctor and day, the new interval may not
// overlap the old one.
func (s *Scheduler) Update(ctx context.Context, actor Actor, id uuid.UUID, in UpdateInput) (detail *Detail, err error) {
	defer func() { metrics.BookingsTotal.WithLabelValues("update", metrics.Outcome(err)).Inc() }()

	cur, err := s.activeAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	curDoc, err := s.repo.GetDoctor(ctx, cur.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, curDoc); err != nil {
		return nil, err
	}

	next := *cur
	doc := curDoc
	var svc *Service
	var patient *Patient
	moved := false

	if in.DoctorID != nil && *in.DoctorID != cur.DoctorID {
		if doc, err = ActiveDoctor(ctx, s.repo, *in.DoctorID); err != nil {
			return nil, err
		}
		if err := Authorize(actor, doc); err != nil {
			return nil, err
		}
		next.DoctorID, next.ClinicID = doc.ID, doc.ClinicID
		moved = true
	}
	if in.ServiceID != nil && *in.ServiceID != cur.ServiceID {
		if svc, err = s.activeService(ctx, *in.ServiceID); err != nil {
			return nil, err
		}
		next.ServiceID, next.DurationMinutes = svc.ID, svc.DurationMinutes
		moved = true
	}
	startMoved := in.Start != nil && !in.Start.Equal(cur.Start)
	if startMoved {
		next.Start = in.Start.In(s.Location())
		moved = true
	}
	if in.PatientID != nil && *in.PatientID != cur.PatientID {
		if patient, err = s.repo.GetPatient(ctx, *in.PatientID); err != nil {
			return nil, err
		}
		next.PatientID = patient.ID
	}
	if in.Notes != nil {
		next.Notes = in.Notes
	}

	restoring := false
	if in.Status != nil && *in.Status != cur.Status {
		if restoring, err = applyStatusChange(actor, &next, *in.Status); err != nil {
			return nil, err
		}
	}

	if moved && cur.Status.Terminal() && !restoring {
		return nil, fmt.Errorf("%w: cannot reschedule a %s appointment", ErrInvalidStatusTransition, cur.Status)
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	write := func(ctx context.Context) error { return s.repo.UpdateAppointment(ctx, &next, cur.Status) }
	if moved || restoring {
		err = LockDoctor(ctx, s.locker, next.DoctorID, func(ctx context.Context) error {
			if startMoved && next.DoctorID == cur.DoctorID &&
				interval.SameDay(cur.Start, next.Start, s.Location()) &&
				cur.Span().Overlaps(next.Span()) {
				return ErrSelfOverlap
			}
			if err := s.validateSlot(ctx, doc, &next, next.ID); err != nil {
				return err
			}
			return write(ctx)
		})
	} else {
		err = write(ctx)
	}
	if err != nil {
		return nil, err
	}

	detail, err = s.hydrate(ctx, &next, doc, svc, patient)
	if err != nil {
		return nil, err
	}
	s.emit(events.ActionUpdated, detail)

	s.log.Info("appointment updated",
		zap.String("appointment_id", next.ID.String()),
		zap.Bool("rescheduled", moved),
		zap.Bool("restored", restoring),
		zap.String("status", string(next.Status)),
	)
	return detail, nil
}

// applyStatusChange handles status edits made through Update. Cancelling,
// finalizing and encaixe confirmation have dedicated operations. Leaving
// cancelado is an administrative restore that drops the stale cancellation.
func applyStatusChange(actor Actor, a *Appointment, to Status) (restoring bool, err error) {
	from := a.Status
	switch {
	case !to.Valid():
		return false, fmt.Errorf("%w: unknown status %q", ErrInvalidStatusTransition, to)
	case to == StatusCanceled:
		return false, fmt.Errorf("%w: use cancel to cancel an appointment", ErrInvalidStatusTransition)
	case to == StatusFinalized:
		return false, fmt.Errorf("%w: use finalize to close a visit", ErrInvalidStatusTransition)
	case from == StatusCanceled:
		if !actor.IsAdmin() {
			return false, fmt.Errorf("%w: only administrators can restore a cancelled appointment", ErrInvalidStatusTransition)
		}
		if to == StatusConfirmed && a.Encaixe && !a.ConfirmedByDoctor {
			return false, fmt.Errorf("%w: an encaixe needs doctor confirmation", ErrInvalidStatusTransition)
		}
		a.Status = to
		a.Cancellation = nil
		return true, nil
	case from == StatusEncaixePending && to == StatusConfirmed:
		return false, fmt.Errorf("%w: an encaixe needs doctor confirmation", ErrInvalidStatusTransition)
	case !from.CanTransitionTo(to):
		return false, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, from, to)
	}
	a.Status = to
	return false, nil
}

// Confirm moves a regular pending appointment to confirmado.
func (s *Scheduler) Confirm(ctx context.Context, actor Actor, id uuid.UUID) (*Detail, error) {
	return s.transition(ctx, actor, id, "confirm", events.ActionUpdated, func(a *Appointment) error {
		if a.Status != StatusPending && a.Status != StatusPendingAI {
			return fmt.Errorf("%w: cannot confirm a %s appointment", ErrInvalidStatusTransition, a.Status)
		}
		a.Status = StatusConfirmed
		return nil
	})
}

// ConfirmEncaixe records the doctor's acceptance of an overbooking. The overlap
// was intentional, so conflicts are not checked again.
func (s *Scheduler) ConfirmEncaixe(ctx context.Context, actor Actor, id uuid.UUID) (*Detail, error) {
	if actor.Role != RoleDoctor && !actor.IsAdmin() {
		return nil, fmt.Errorf("%w: only the doctor can confirm an encaixe", ErrOutOfScope)
	}
	return s.transition(ctx, actor, id, "confirm_encaixe", events.ActionEncaixeConfirmed, func(a *Appointment) error {
		if !a.Encaixe || a.Status != StatusEncaixePending {
			return fmt.Errorf("%w: appointment is not a pending encaixe", ErrInvalidStatusTransition)
		}
		a.Status = StatusConfirmed
		a.ConfirmedByDoctor = true
		return nil
	})
}

// Cancel cancels an appointment with a mandatory reason. Appointments that
// already started can only be cancelled by an administrator.
func (s *Scheduler) Cancel(ctx context.Context, actor Actor, id uuid.UUID, reason string) (*Detail, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		metrics.BookingsTotal.WithLabelValues("cancel", "rejected").Inc()
		return nil, &InvalidCancellationError{Reason: "a cancellation reason is required"}
	}

	now := s.now()
	return s.transition(ctx, actor, id, "cancel", events.ActionCanceled, func(a *Appointment) error {
		if !a.Status.CanTransitionTo(StatusCanceled) {
			return fmt.Errorf("%w: cannot cancel a %s appointment", ErrInvalidStatusTransition, a.Status)
		}
		if a.Start.Before(now) && !actor.IsAdmin() {
			return &InvalidCancellationError{Reason: "past appointments can only be cancelled by an administrator"}
		}
		a.Status = StatusCanceled
		a.Cancellation = &Cancellation{Reason: reason, ActorID: actor.ID, At: now}
		return nil
	})
}

// Delete soft-deletes an appointment.
func (s *Scheduler) Delete(ctx context.Context, actor Actor, id uuid.UUID) error {
	_, err := s.transition(ctx, actor, id, "delete", events.ActionDeleted, func(a *Appointment) error {
		a.Active = false
		return nil
	})
	return err
}

type FinalizeInput struct {
	Summary          string
	DurationOverride *int
}

// Finalize closes a confirmed visit and appends its history record in the same
// transaction.
func (s *Scheduler) Finalize(ctx context.Context, actor Actor, id uuid.UUID, in FinalizeInput) (detail *Detail, rec *HistoryRecord, err error) {
	defer func() { metrics.BookingsTotal.WithLabelValues("finalize", metrics.Outcome(err)).Inc() }()

	summary := strings.TrimSpace(in.Summary)
	if summary == "" {
		return nil, nil, ErrMissingSummary
	}
	if in.DurationOverride != nil && *in.DurationOverride <= 0 {
		return nil, nil, fmt.Errorf("%w: duration override must be positive", ErrInvalidAppointment)
	}

	cur, err := s.activeAppointment(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	doc, err := s.repo.GetDoctor(ctx, cur.DoctorID)
	if err != nil {
		return nil, nil, err
	}
	if err := Authorize(actor, doc); err != nil {
		return nil, nil, err
	}
	if !cur.Status.CanTransitionTo(StatusFinalized) {
		return nil, nil, fmt.Errorf("%w: cannot finalize a %s appointment", ErrInvalidStatusTransition, cur.Status)
	}

	next := *cur
	next.Status = StatusFinalized
	rec = &HistoryRecord{
		ID:              uuid.New(),
		PatientID:       next.PatientID,
		AppointmentID:   next.ID,
		Summary:         summary,
		PerformedAt:     s.now(),
		DurationMinutes: in.DurationOverride,
	}
	if err := s.repo.FinalizeAppointment(ctx, &next, cur.Status, rec); err != nil {
		return nil, nil, fmt.Errorf("finalize appointment: %w", err)
	}

	detail, err = s.hydrate(ctx, &next, doc, nil, nil)
	if err != nil {
		return nil, nil, err
	}
	s.emit(events.ActionFinalized, detail)
	return detail, rec, nil
}

// Get returns an appointment with its doctor, service and patient.
func (s *Scheduler) Get(ctx context.Context, actor Actor, id uuid.UUID) (*Detail, error) {
	a, err := s.activeAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	detail, err := s.hydrate(ctx, a, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, detail.Doctor); err != nil {
		return nil, err
	}
	return detail, nil
}

// transition loads an active appointment, applies mutate and stores the result.
// None of the callers change the interval, so no lock is taken.
func (s *Scheduler) transition(ctx context.Context, actor Actor, id uuid.UUID, op string, action events.Action, mutate func(*Appointment) error) (detail *Detail, err error) {
	defer func() { metrics.BookingsTotal.WithLabelValues(op, metrics.Outcome(err)).Inc() }()

	cur, err := s.activeAppointment(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := s.repo.GetDoctor(ctx, cur.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, doc); err != nil {
		return nil, err
	}

	next := *cur
	if err := mutate(&next); err != nil {
		return nil, err
	}
	if err := s.repo.UpdateAppointment(ctx, &next, cur.Status); err != nil {
		return nil, err
	}

	detail, err = s.hydrate(ctx, &next, doc, nil, nil)
	if err != nil {
		return nil, err
	}
	s.emit(action, detail)

	s.log.Info("appointment "+op,
		zap.String("appointment_id", next.ID.String()),
		zap.String("actor_id", actor.ID.String()),
		zap.String("status", string(next.Status)),
	)
	return detail, nil
}

// hydrate loads whichever of doctor, service and patient was not passed in.
func (s *Scheduler) hydrate(ctx context.Context, a *Appointment, doc *Doctor, svc *Service, patient *Patient) (*Detail, error) {
	var err error
	if doc == nil || doc.ID != a.DoctorID {
		if doc, err = s.repo.GetDoctor(ctx, a.DoctorID); err != nil {
			return nil, err
		}
	}
	if svc == nil || svc.ID != a.ServiceID {
		if svc, err = s.repo.GetService(ctx, a.ServiceID); err != nil {
			return nil, err
		}
	}
	if patient == nil || patient.ID != a.PatientID {
		if patient, err = s.repo.GetPatient(ctx, a.PatientID); err != nil {
			return nil, err
		}
	}
	return &Detail{Appointment: *a, Doctor: doc, Service: svc, Patient: patient}, nil
}

func (s *Scheduler) emit(action events.Action, d *Detail) {
	snapshot := *d
	s.emitter.EmitAppointmentEvent(events.AppointmentEvent{
		ID:         d.ID,
		DoctorID:   d.DoctorID,
		ClinicID:   d.ClinicID,
		Action:     action,
		Snapshot:   snapshot,
		OccurredAt: s.now(),
	})
}

type SlotQuery struct {
	DoctorID  uuid.UUID
	ServiceID uuid.UUID
	Date      time.Time
	Policy    availability.StepPolicy
	Limit     int // 0 returns every slot
}

// AvailableSlots lists the bookable start times of a doctor for a service on a
// date, ascending.
func (s *Scheduler) AvailableSlots(ctx context.Context, actor Actor, q SlotQuery) ([]time.Time, error) {
	started := time.Now()
	defer func() { metrics.SlotQueryDuration.Observe(time.Since(started).Seconds()) }()

	doc, err := ActiveDoctor(ctx, s.repo, q.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := Authorize(actor, doc); err != nil {
		return nil, err
	}
	svc, err := s.activeService(ctx, q.ServiceID)
	if err != nil {
		return nil, err
	}

	slots, err := s.FreeSlots(ctx, doc, svc.DurationMinutes, q.Date, q.Policy, q.Limit)
	if errors.Is(err, workhours.ErrBlockedDay) || errors.Is(err, workhours.ErrNoWorkingHours) {
		return []time.Time{}, nil
	}
	return slots, err
}

// FreeSlots generates the day's candidates, drops those before now plus the
// lead time, and keeps the ones clear of appointments, blackouts and extra.
func (s *Scheduler) FreeSlots(ctx context.Context, doc *Doctor, duration int, day time.Time, policy availability.StepPolicy, limit int, extra ...interval.Span) ([]time.Time, error) {
	hours, err := s.resolver.Resolve(ctx, doc.WorkDoctor(), day, workhours.Strict)
	if err != nil {
		return nil, err
	}

	busy, err := s.detector.DayBusy(ctx, doc.ID, hours.Date)
	if err != nil {
		return nil, err
	}
	for _, span := range extra {
		busy = busy.With(span)
	}

	loc := s.Location()
	length := time.Duration(duration) * time.Minute
	seq := availability.Times(availability.Generate(hours, duration, policy.Step(duration)), hours.Date, loc)
	seq = availability.NotBefore(seq, s.now().Add(s.cfg.MinLeadTime))
	seq = availability.Filter(seq, func(t time.Time) bool { return busy.Free(t, length) })

	slots := availability.Take(seq, limit)
	if slots == nil {
		slots = []time.Time{}
	}
	return slots, nil
}
