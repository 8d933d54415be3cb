// Package blackout manages doctor blackout periods and resolves the
// appointments a new or widened blackout would invalidate.
package blackout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/metrics"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

// SlotFinder lists free slots of a doctor on a day, treating extra as busy.
// *appointment.Scheduler implements it.
type SlotFinder interface {
	FreeSlots(ctx context.Context, doc *appointment.Doctor, duration int, day time.Time, policy availability.StepPolicy, limit int, extra ...interval.Span) ([]time.Time, error)
	Location() *time.Location
}

type Config struct {
	SuggestionDays int // days with free slots returned per appointment
	HorizonDays    int // how far forward from tomorrow to scan
	SlotsPerDay    int
	Parallelism    int // concurrent day queries
}

func DefaultConfig() Config {
	return Config{SuggestionDays: 5, HorizonDays: 30, SlotsPerDay: 5, Parallelism: 5}
}

// DaySuggestion is one alternative day for a conflicting appointment.
type DaySuggestion struct {
	Date  time.Time   `json:"date"`
	Slots []time.Time `json:"slots"`
}

// HasConflictsError rejects a blackout that overlaps appointments. It can be
// overridden by retrying with IgnoreConflicts.
type HasConflictsError struct {
	Conflicts   []appointment.Appointment
	Suggestions map[uuid.UUID][]DaySuggestion
}

func (e *HasConflictsError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, a := range e.Conflicts {
		ids = append(ids, a.ID.String())
	}
	return fmt.Sprintf("blackout overlaps %d appointment(s): %s", len(e.Conflicts), strings.Join(ids, ", "))
}

// Advisory reports conflicts that were knowingly left in place.
type Advisory struct {
	ConflictCount int    `json:"conflict_count"`
	Message       string `json:"message"`
}

type Result struct {
	Blackout appointment.BlackoutPeriod
	Advisory *Advisory
}

type CreateInput struct {
	DoctorID        uuid.UUID
	Start           time.Time
	End             time.Time
	Reason          string
	IgnoreConflicts bool
}

type UpdateInput struct {
	Start           *time.Time
	End             *time.Time
	Reason          *string
	IgnoreConflicts bool
}

type Resolver struct {
	repo     appointment.Repository
	detector *appointment.Detector
	slots    SlotFinder
	locker   redisclient.Locker
	log      *zap.Logger
	cfg      Config
	now      func() time.Time
}

type Option func(*Resolver)

func WithClock(now func() time.Time) Option {
	return func(r *Resolver) { r.now = now }
}

func WithLogger(l *zap.Logger) Option {
	return func(r *Resolver) { r.log = l }
}

func NewResolver(repo appointment.Repository, detector *appointment.Detector, slots SlotFinder, locker redisclient.Locker, cfg Config, opts ...Option) *Resolver {
	def := DefaultConfig()
	if cfg.SuggestionDays <= 0 {
		cfg.SuggestionDays = def.SuggestionDays
	}
	if cfg.HorizonDays <= 0 {
		cfg.HorizonDays = def.HorizonDays
	}
	if cfg.SlotsPerDay <= 0 {
		cfg.SlotsPerDay = def.SlotsPerDay
	}
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = def.Parallelism
	}
	r := &Resolver{
		repo:     repo,
		detector: detector,
		slots:    slots,
		locker:   locker,
		log:      zap.NewNop(),
		cfg:      cfg,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) Create(ctx context.Context, actor appointment.Actor, in CreateInput) (*Result, error) {
	doc, err := appointment.ActiveDoctor(ctx, r.repo, in.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := appointment.Authorize(actor, doc); err != nil {
		return nil, err
	}

	b := &appointment.BlackoutPeriod{
		ID:       uuid.New(),
		DoctorID: doc.ID,
		Start:    in.Start,
		End:      in.End,
		Reason:   strings.TrimSpace(in.Reason),
		Active:   true,
	}
	return r.save(ctx, doc, b, in.IgnoreConflicts, r.repo.InsertBlackout)
}

func (r *Resolver) Update(ctx context.Context, actor appointment.Actor, id uuid.UUID, in UpdateInput) (*Result, error) {
	cur, err := r.activeBlackout(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := r.repo.GetDoctor(ctx, cur.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := appointment.Authorize(actor, doc); err != nil {
		return nil, err
	}

	next := *cur
	if in.Start != nil {
		next.Start = *in.Start
	}
	if in.End != nil {
		next.End = *in.End
	}
	if in.Reason != nil {
		next.Reason = strings.TrimSpace(*in.Reason)
	}
	return r.save(ctx, doc, &next, in.IgnoreConflicts, r.repo.UpdateBlackout)
}

// Deactivate switches a blackout off. Freeing time never creates conflicts.
func (r *Resolver) Deactivate(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.BlackoutPeriod, error) {
	cur, err := r.activeBlackout(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := r.repo.GetDoctor(ctx, cur.DoctorID)
	if err != nil {
		return nil, err
	}
	if err := appointment.Authorize(actor, doc); err != nil {
		return nil, err
	}

	next := *cur
	next.Active = false
	if err := r.repo.UpdateBlackout(ctx, &next); err != nil {
		return nil, err
	}
	r.log.Info("blackout deactivated", zap.String("blackout_id", id.String()))
	return &next, nil
}

func (r *Resolver) activeBlackout(ctx context.Context, id uuid.UUID) (*appointment.BlackoutPeriod, error) {
	b, err := r.repo.GetBlackout(ctx, id)
	if err != nil {
		return nil, err
	}
	if !b.Active {
		return nil, appointment.NotFound("blackout", id)
	}
	return b, nil
}

var errHasConflicts = errors.New("blackout has conflicts")

func (r *Resolver) save(ctx context.Context, doc *appointment.Doctor, b *appointment.BlackoutPeriod, ignore bool, write func(context.Context, *appointment.BlackoutPeriod) error) (res *Result, err error) {
	defer func() { metrics.BookingsTotal.WithLabelValues("blackout_save", metrics.Outcome(err)).Inc() }()

	if err := b.Validate(); err != nil {
		return nil, err
	}

	var conflicts []appointment.Appointment
	err = appointment.LockDoctor(ctx, r.locker, doc.ID, func(ctx context.Context) error {
		found, err := r.detector.AppointmentsIn(ctx, doc.ID, b.Span())
		if err != nil {
			return err
		}
		conflicts = found
		if len(conflicts) > 0 && !ignore {
			return errHasConflicts
		}
		return write(ctx, b)
	})

	if errors.Is(err, errHasConflicts) {
		metrics.ConflictsTotal.WithLabelValues("blackout_appointments").Inc()
		suggestions, serr := r.Suggest(ctx, doc, conflicts, b.Span())
		if serr != nil {
			return nil, fmt.Errorf("build reschedule suggestions: %w", serr)
		}
		return nil, &HasConflictsError{Conflicts: conflicts, Suggestions: suggestions}
	}
	if err != nil {
		return nil, err
	}

	res = &Result{Blackout: *b}
	if len(conflicts) > 0 {
		res.Advisory = &Advisory{
			ConflictCount: len(conflicts),
			Message:       fmt.Sprintf("blackout saved; %d appointment(s) now overlap it and should be rescheduled", len(conflicts)),
		}
		r.log.Warn("blackout saved over existing appointments",
			zap.String("blackout_id", b.ID.String()),
			zap.Int("conflicts", len(conflicts)),
		)
	}
	return res, nil
}

// Suggest proposes alternative days for each conflicting appointment, keyed by
// appointment id. blocked is treated as busy even if it is not stored yet.
func (r *Resolver) Suggest(ctx context.Context, doc *appointment.Doctor, conflicts []appointment.Appointment, blocked interval.Span) (map[uuid.UUID][]DaySuggestion, error) {
	started := time.Now()
	defer func() { metrics.SuggestionDuration.Observe(time.Since(started).Seconds()) }()

	out := make(map[uuid.UUID][]DaySuggestion, len(conflicts))
	for _, a := range conflicts {
		days, err := r.suggestFor(ctx, doc, a, blocked)
		if err != nil {
			return nil, err
		}
		out[a.ID] = days
	}
	return out, nil
}

// suggestFor scans forward from tomorrow in batches of parallel day queries.
// Batches are appended in date order, so the result stays ascending.
func (r *Resolver) suggestFor(ctx context.Context, doc *appointment.Doctor, a appointment.Appointment, blocked interval.Span) ([]DaySuggestion, error) {
	loc := r.slots.Location()
	tomorrow := interval.StartOfDay(r.now(), loc).AddDate(0, 0, 1)

	var days []DaySuggestion
	for offset := 0; offset < r.cfg.HorizonDays && len(days) < r.cfg.SuggestionDays; offset += r.cfg.Parallelism {
		batch := min(r.cfg.Parallelism, r.cfg.HorizonDays-offset)
		found := make([][]time.Time, batch)

		g, gctx := errgroup.WithContext(ctx)
		for i := 0; i < batch; i++ {
			day := tomorrow.AddDate(0, 0, offset+i)
			if interval.SameDay(day, a.Start, loc) {
				continue
			}
			g.Go(func() error {
				slots, err := r.slots.FreeSlots(gctx, doc, a.DurationMinutes, day, availability.StepDuration, r.cfg.SlotsPerDay, blocked)
				if errors.Is(err, workhours.ErrBlockedDay) || errors.Is(err, workhours.ErrNoWorkingHours) {
					return nil
				}
				if err != nil {
					return fmt.Errorf("free slots on %s: %w", day.Format(time.DateOnly), err)
				}
				found[i] = slots
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		for i, slots := range found {
			if len(slots) == 0 {
				continue
			}
			days = append(days, DaySuggestion{Date: tomorrow.AddDate(0, 0, offset+i), Slots: slots})
			if len(days) == r.cfg.SuggestionDays {
				break
			}
		}
	}
	return days, nil
}
