package workhours

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/interval"
)

var (
	ErrBlockedDay     = errors.New("doctor does not work on this weekday")
	ErrNoWorkingHours = errors.New("doctor has no working hours on this day")
)

// InvalidLunchWindowError is returned when the lunch window resolved for a day
// is malformed. Source names the level of the override chain it came from.
type InvalidLunchWindowError struct {
	Source string
	Err    error
}

func (e *InvalidLunchWindowError) Error() string {
	return fmt.Sprintf("invalid lunch window from %s: %v", e.Source, e.Err)
}

func (e *InvalidLunchWindowError) Unwrap() error { return e.Err }

// WeeklySchedule is the stored working-hours row for a doctor and weekday.
type WeeklySchedule struct {
	DoctorID   uuid.UUID
	Weekday    time.Weekday
	Start      string
	End        string
	LunchStart *string
	LunchEnd   *string
}

// LunchException overrides the lunch break for a single date.
type LunchException struct {
	LunchStart string
	LunchEnd   string
}

// ScopeKind selects which owner a lunch exception belongs to.
type ScopeKind string

const (
	ScopeDoctor ScopeKind = "doctor"
	ScopeClinic ScopeKind = "clinic"
)

// ExceptionScope identifies exactly one owner of a lunch exception.
type ExceptionScope struct {
	Kind ScopeKind
	ID   uuid.UUID
}

// Store is the read side the resolver needs. Both methods return (nil, nil) when
// no row exists.
type Store interface {
	GetWeeklySchedule(ctx context.Context, doctorID uuid.UUID, weekday time.Weekday) (*WeeklySchedule, error)
	GetLunchException(ctx context.Context, date time.Time, scope ExceptionScope) (*LunchException, error)
}

// Doctor carries the doctor-level inputs of the resolution.
type Doctor struct {
	ID                uuid.UUID
	ClinicID          *uuid.UUID
	DefaultLunchStart *string
	DefaultLunchEnd   *string
	BlockedWeekdays   []time.Weekday
}

// Hours is the effective working day of a doctor.
type Hours struct {
	Date   time.Time // midnight of the civil date
	Window interval.Window
	Lunch  *interval.Window
}

// Policy controls what happens when the weekday has no schedule row.
// The zero value is strict.
type Policy struct {
	Fallback *interval.Window
}

// Strict rejects days without a schedule row.
var Strict = Policy{}

// WithFallback substitutes window for days without a schedule row.
func WithFallback(window interval.Window) Policy {
	return Policy{Fallback: &window}
}

type Resolver struct {
	store Store
	loc   *time.Location
}

func NewResolver(store Store, loc *time.Location) *Resolver {
	if loc == nil {
		loc = time.Local
	}
	return &Resolver{store: store, loc: loc}
}

func (r *Resolver) Location() *time.Location {
	return r.loc
}

// Resolve returns the doctor's effective working window and lunch break for date.
func (r *Resolver) Resolve(ctx context.Context, doc Doctor, date time.Time, policy Policy) (Hours, error) {
	day := interval.StartOfDay(date, r.loc)
	weekday := day.Weekday()

	if slices.Contains(doc.BlockedWeekdays, weekday) {
		return Hours{}, fmt.Errorf("%w: %s", ErrBlockedDay, weekday)
	}

	sched, err := r.store.GetWeeklySchedule(ctx, doc.ID, weekday)
	if err != nil {
		return Hours{}, fmt.Errorf("load weekly schedule: %w", err)
	}

	var window interval.Window
	switch {
	case sched != nil:
		window, err = interval.ParseWindow(sched.Start, sched.End)
		if err != nil {
			return Hours{}, fmt.Errorf("weekly schedule for %s: %w", weekday, err)
		}
	case policy.Fallback != nil:
		window = *policy.Fallback
	default:
		return Hours{}, fmt.Errorf("%w: %s", ErrNoWorkingHours, day.Format(time.DateOnly))
	}

	lunch, err := r.resolveLunch(ctx, doc, day, sched)
	if err != nil {
		return Hours{}, err
	}

	return Hours{Date: day, Window: window, Lunch: lunch}, nil
}

// lunchLookup returns (nil, nil) when its level has nothing to say.
type lunchLookup func(ctx context.Context) (*interval.Window, error)

func (r *Resolver) resolveLunch(ctx context.Context, doc Doctor, day time.Time, sched *WeeklySchedule) (*interval.Window, error) {
	chain := []lunchLookup{
		r.exceptionLookup(day, ExceptionScope{Kind: ScopeDoctor, ID: doc.ID}),
	}
	if doc.ClinicID != nil {
		chain = append(chain, r.exceptionLookup(day, ExceptionScope{Kind: ScopeClinic, ID: *doc.ClinicID}))
	}
	if sched != nil {
		chain = append(chain, optionalWindow("weekly schedule", sched.LunchStart, sched.LunchEnd))
	}
	chain = append(chain, optionalWindow("doctor default", doc.DefaultLunchStart, doc.DefaultLunchEnd))

	for _, lookup := range chain {
		w, err := lookup(ctx)
		if err != nil {
			return nil, err
		}
		if w != nil {
			return w, nil
		}
	}
	return nil, nil
}

func (r *Resolver) exceptionLookup(day time.Time, scope ExceptionScope) lunchLookup {
	return func(ctx context.Context) (*interval.Window, error) {
		exc, err := r.store.GetLunchException(ctx, day, scope)
		if err != nil {
			return nil, fmt.Errorf("load %s lunch exception: %w", scope.Kind, err)
		}
		if exc == nil {
			return nil, nil
		}
		w, err := interval.ParseWindow(exc.LunchStart, exc.LunchEnd)
		if err != nil {
			return nil, &InvalidLunchWindowError{Source: string(scope.Kind) + " exception", Err: err}
		}
		return &w, nil
	}
}

// optionalWindow treats a half-filled pair as absent.
func optionalWindow(source string, start, end *string) lunchLookup {
	return func(context.Context) (*interval.Window, error) {
		if start == nil || end == nil || *start == "" || *end == "" {
			return nil, nil
		}
		w, err := interval.ParseWindow(*start, *end)
		if err != nil {
			return nil, &InvalidLunchWindowError{Source: source, Err: err}
		}
		return &w, nil
	}
}
