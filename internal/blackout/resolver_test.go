package blackout

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	redisclient "github.com/hackgods/clinic-scheduling/internal/redis"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

var saoPaulo = func() *time.Location {
	loc, err := time.LoadLocation("America/Sao_Paulo")
	if err != nil {
		panic(err)
	}
	return loc
}()

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, saoPaulo)
}

type fixture struct {
	repo     *appointment.MemoryRepository
	resolver *Resolver
	sched    *appointment.Scheduler
	doctor   appointment.Doctor
	appt     appointment.Appointment
	staff    appointment.Actor
}

// newFixture has a doctor working weekdays 08:00-17:00, one appointment on
// Monday 2025-03-10 10:00 and the clock on Friday 2025-03-07 09:00.
func newFixture(t *testing.T) *fixture {
	t.Helper()

	clinicID := uuid.New()
	repo := appointment.NewMemoryRepository()
	doctor := appointment.Doctor{ID: uuid.New(), ClinicID: &clinicID, Name: "Dr. Paulo Reis", Active: true}
	service := appointment.Service{ID: uuid.New(), Name: "Consulta", DurationMinutes: 30, Active: true}
	patient := appointment.Patient{ID: uuid.New(), Name: "Lucia Costa"}
	repo.AddDoctor(doctor)
	repo.AddService(service)
	repo.AddPatient(patient)
	for wd := time.Monday; wd <= time.Friday; wd++ {
		repo.AddSchedule(workhours.WeeklySchedule{DoctorID: doctor.ID, Weekday: wd, Start: "08:00", End: "17:00"})
	}

	appt := appointment.Appointment{
		ID: uuid.New(), DoctorID: doctor.ID, ClinicID: &clinicID, ServiceID: service.ID, PatientID: patient.ID,
		Start: at(10, 10, 0), DurationMinutes: 30, Status: appointment.StatusConfirmed,
		Origin: appointment.OriginHuman, Active: true,
	}
	repo.AddAppointment(appt)

	now := func() time.Time { return at(7, 9, 0) }
	locker := redisclient.NewLocalLocker()
	detector := appointment.NewDetector(repo, saoPaulo, appointment.DefaultBlackoutMargin)
	sched := appointment.NewScheduler(repo, workhours.NewResolver(repo, saoPaulo), detector,
		appointment.Config{MinLeadTime: 30 * time.Minute},
		appointment.WithLocker(locker), appointment.WithClock(now))

	return &fixture{
		repo:     repo,
		resolver: NewResolver(repo, detector, sched, locker, DefaultConfig(), WithClock(now)),
		sched:    sched,
		doctor:   doctor,
		appt:     appt,
		staff:    appointment.Actor{ID: uuid.New(), Role: appointment.RoleReceptionist, ClinicID: &clinicID},
	}
}

func (f *fixture) input(start, end time.Time, ignore bool) CreateInput {
	return CreateInput{DoctorID: f.doctor.ID, Start: start, End: end, Reason: "congresso", IgnoreConflicts: ignore}
}

func TestCreate_ConflictsCarrySuggestions(t *testing.T) {
	f := newFixture(t)

	_, err := f.resolver.Create(context.Background(), f.staff, f.input(at(10, 9, 0), at(10, 12, 0), false))

	var hc *HasConflictsError
	require.ErrorAs(t, err, &hc)
	require.Len(t, hc.Conflicts, 1)
	assert.Equal(t, f.appt.ID, hc.Conflicts[0].ID)

	days := hc.Suggestions[f.appt.ID]
	require.NotEmpty(t, days)
	assert.LessOrEqual(t, len(days), 5)

	// Tomorrow is Saturday; the weekend has no hours and Monday is the conflicted date.
	assert.Equal(t, "2025-03-11", days[0].Date.Format(time.DateOnly))
	for i, d := range days {
		assert.True(t, d.Date.After(at(10, 23, 59)), "suggested %s", d.Date)
		assert.NotEmpty(t, d.Slots)
		assert.LessOrEqual(t, len(d.Slots), 5)
		if i > 0 {
			assert.True(t, days[i-1].Date.Before(d.Date), "suggestions must be in date order")
		}
	}
	assert.Equal(t, at(11, 8, 0), days[0].Slots[0])

	blackouts, _ := f.repo.ListBlackouts(context.Background(), f.doctor.ID, at(10, 0, 0), at(11, 0, 0))
	assert.Empty(t, blackouts, "rejected blackouts are not stored")
}

func TestCreate_IgnoreConflictsReturnsAdvisory(t *testing.T) {
	f := newFixture(t)

	res, err := f.resolver.Create(context.Background(), f.staff, f.input(at(10, 9, 0), at(10, 12, 0), true))
	require.NoError(t, err)
	require.NotNil(t, res.Advisory)
	assert.Equal(t, 1, res.Advisory.ConflictCount)
	assert.NotEmpty(t, res.Advisory.Message)
	assert.True(t, res.Blackout.Active)

	stored, err := f.repo.GetBlackout(context.Background(), res.Blackout.ID)
	require.NoError(t, err)
	assert.Equal(t, "congresso", stored.Reason)

	// New bookings inside the blackout are now refused.
	_, err = f.sched.Create(context.Background(), f.staff, appointment.CreateInput{
		DoctorID: f.doctor.ID, ServiceID: f.appt.ServiceID, PatientID: f.appt.PatientID, Start: at(10, 11, 0),
	})
	var bc *appointment.BlackoutConflictError
	assert.ErrorAs(t, err, &bc)
}

func TestCreate_NoConflictsNoAdvisory(t *testing.T) {
	f := newFixture(t)

	// Ends exactly when the appointment starts.
	res, err := f.resolver.Create(context.Background(), f.staff, f.input(at(10, 8, 0), at(10, 10, 0), false))
	require.NoError(t, err)
	assert.Nil(t, res.Advisory)
}

func TestCreate_InvalidWindowAndScope(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.resolver.Create(ctx, f.staff, f.input(at(10, 12, 0), at(10, 12, 0), false))
	assert.ErrorIs(t, err, interval.ErrInvalidWindow)

	other := uuid.New()
	outsider := appointment.Actor{ID: uuid.New(), Role: appointment.RoleDoctor, ClinicID: &other}
	_, err = f.resolver.Create(ctx, outsider, f.input(at(10, 9, 0), at(10, 9, 30), false))
	assert.ErrorIs(t, err, appointment.ErrOutOfScope)

	in := f.input(at(10, 9, 0), at(10, 9, 30), false)
	in.DoctorID = uuid.New()
	_, err = f.resolver.Create(ctx, f.staff, in)
	assert.ErrorIs(t, err, appointment.ErrNotFound)
}

func TestSuggestions_SkipBusyAndBlockedSlots(t *testing.T) {
	f := newFixture(t)
	// Tuesday morning is already taken until 11:00.
	f.repo.AddBlackout(appointment.BlackoutPeriod{
		ID: uuid.New(), DoctorID: f.doctor.ID, Start: at(11, 8, 0), End: at(11, 11, 0), Active: true,
	})
	// Wednesday is fully blocked.
	f.doctor.BlockedWeekdays = []time.Weekday{time.Wednesday}
	f.repo.AddDoctor(f.doctor)

	_, err := f.resolver.Create(context.Background(), f.staff, f.input(at(10, 9, 0), at(10, 12, 0), false))
	var hc *HasConflictsError
	require.ErrorAs(t, err, &hc)

	days := hc.Suggestions[f.appt.ID]
	require.GreaterOrEqual(t, len(days), 2)
	assert.Equal(t, at(11, 11, 0), days[0].Slots[0])
	assert.Equal(t, "2025-03-13", days[1].Date.Format(time.DateOnly))
}

func TestSuggestions_ProposedBlackoutCountsAsBusy(t *testing.T) {
	f := newFixture(t)
	doc, err := f.repo.GetDoctor(context.Background(), f.doctor.ID)
	require.NoError(t, err)

	// A blackout covering every Tuesday slot leaves Tuesday out.
	blocked := interval.Span{Start: at(11, 0, 0), End: at(12, 0, 0)}
	suggestions, err := f.resolver.Suggest(context.Background(), doc, []appointment.Appointment{f.appt}, blocked)
	require.NoError(t, err)

	days := suggestions[f.appt.ID]
	require.Len(t, days, 5)
	assert.Equal(t, "2025-03-12", days[0].Date.Format(time.DateOnly))
	assert.Equal(t, "2025-03-18", days[4].Date.Format(time.DateOnly))
}

func TestUpdateWidensAndDeactivate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.resolver.Create(ctx, f.staff, f.input(at(10, 8, 0), at(10, 9, 0), false))
	require.NoError(t, err)
	id := res.Blackout.ID

	wider := at(10, 11, 0)
	_, err = f.resolver.Update(ctx, f.staff, id, UpdateInput{End: &wider})
	var hc *HasConflictsError
	require.ErrorAs(t, err, &hc)

	stored, err := f.repo.GetBlackout(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, at(10, 9, 0), stored.End, "rejected update leaves the stored period untouched")

	res, err = f.resolver.Update(ctx, f.staff, id, UpdateInput{End: &wider, IgnoreConflicts: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Advisory.ConflictCount)

	off, err := f.resolver.Deactivate(ctx, f.staff, id)
	require.NoError(t, err)
	assert.False(t, off.Active)

	_, err = f.resolver.Deactivate(ctx, f.staff, id)
	assert.ErrorIs(t, err, appointment.ErrNotFound)
}

func TestHasConflictsErrorMessage(t *testing.T) {
	id := uuid.New()
	err := error(&HasConflictsError{Conflicts: []appointment.Appointment{{ID: id}}})
	assert.Contains(t, err.Error(), id.String())

	var hc *HasConflictsError
	assert.True(t, errors.As(err, &hc))
}
