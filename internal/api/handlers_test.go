package api

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/blackout"
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

type testServer struct {
	handler  http.Handler
	repo     *appointment.MemoryRepository
	clinicID uuid.UUID
	doctor   appointment.Doctor
	service  appointment.Service
	patient  appointment.Patient
	staff    appointment.Actor
}

// newTestServer wires the real scheduler and blackout resolver over the
// in-memory store. The doctor works weekdays 08:00-17:00 with lunch 12:00-13:00
// and the clock is Friday 2025-03-07 12:00.
func newTestServer(t *testing.T, checks ...DependencyCheck) *testServer {
	t.Helper()

	clinicID := uuid.New()
	lunchStart, lunchEnd := "12:00", "13:00"
	ts := &testServer{
		repo:     appointment.NewMemoryRepository(),
		clinicID: clinicID,
		doctor: appointment.Doctor{
			ID: uuid.New(), ClinicID: &clinicID, Name: "Dra. Helena Prado", Active: true,
			DefaultLunchStart: &lunchStart, DefaultLunchEnd: &lunchEnd,
		},
		service: appointment.Service{ID: uuid.New(), Name: "Retorno", DurationMinutes: 30, Active: true},
		patient: appointment.Patient{ID: uuid.New(), Name: "Joao Lima"},
		staff:   appointment.Actor{ID: uuid.New(), Role: appointment.RoleReceptionist, ClinicID: &clinicID},
	}
	ts.repo.AddDoctor(ts.doctor)
	ts.repo.AddService(ts.service)
	ts.repo.AddPatient(ts.patient)
	for wd := time.Monday; wd <= time.Friday; wd++ {
		ts.repo.AddSchedule(workhours.WeeklySchedule{DoctorID: ts.doctor.ID, Weekday: wd, Start: "08:00", End: "17:00"})
	}

	now := func() time.Time { return at(7, 12, 0) }
	locker := redisclient.NewLocalLocker()
	detector := appointment.NewDetector(ts.repo, saoPaulo, appointment.DefaultBlackoutMargin)
	sched := appointment.NewScheduler(ts.repo, workhours.NewResolver(ts.repo, saoPaulo), detector,
		appointment.Config{MinLeadTime: 30 * time.Minute},
		appointment.WithLocker(locker), appointment.WithClock(now))
	blackouts := blackout.NewResolver(ts.repo, detector, sched, locker, blackout.DefaultConfig(), blackout.WithClock(now))

	ts.handler = NewRouter(RouterConfig{
		Appointments: sched,
		Blackouts:    blackouts,
		Checks:       checks,
		Env:          "test",
		Version:      "test",
		CORSOrigins:  []string{"*"},
	})
	return ts
}

func (ts *testServer) do(t *testing.T, actor *appointment.Actor, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if actor != nil {
		req.Header.Set(HeaderActorID, actor.ID.String())
		req.Header.Set(HeaderActorRole, string(actor.Role))
		if actor.ClinicID != nil {
			req.Header.Set(HeaderClinicID, actor.ClinicID.String())
		}
	}

	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) book(t *testing.T, start time.Time) map[string]any {
	t.Helper()
	rec := ts.do(t, &ts.staff, http.MethodPost, "/appointments", map[string]any{
		"doctor_id":  ts.doctor.ID,
		"service_id": ts.service.ID,
		"patient_id": ts.patient.ID,
		"start":      start,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode(t, rec)
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestActorHeadersRequired(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, nil, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	bad := appointment.Actor{ID: uuid.New(), Role: "janitor"}
	rec = ts.do(t, &bad, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "invalid_role", decode(t, rec)["error"])
}

func TestCreateAndGetAppointment(t *testing.T) {
	ts := newTestServer(t)

	body := ts.book(t, at(10, 10, 0))
	assert.Equal(t, "pendente", body["status"])
	assert.Equal(t, "Dra. Helena Prado", body["doctor"].(map[string]any)["name"])

	rec := ts.do(t, &ts.staff, http.MethodGet, "/appointments/"+body["id"].(string), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, body["id"], decode(t, rec)["id"])

	rec = ts.do(t, &ts.staff, http.MethodGet, "/appointments/"+uuid.NewString(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, &ts.staff, http.MethodGet, "/appointments/not-a-uuid", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCreateAppointment_ErrorMapping(t *testing.T) {
	ts := newTestServer(t)
	first := ts.book(t, at(10, 10, 0))

	req := map[string]any{
		"doctor_id": ts.doctor.ID, "service_id": ts.service.ID, "patient_id": ts.patient.ID,
		"start": at(10, 10, 15),
	}
	rec := ts.do(t, &ts.staff, http.MethodPost, "/appointments", req)
	require.Equal(t, http.StatusConflict, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "appointment_conflict", body["error"])
	conflicts := body["data"].(map[string]any)["conflicts"].([]any)
	require.Len(t, conflicts, 1)
	assert.Equal(t, first["id"], conflicts[0].(map[string]any)["id"])

	req["start"] = at(10, 11, 45)
	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments", req)
	require.Equal(t, http.StatusConflict, rec.Code)
	body = decode(t, rec)
	assert.Equal(t, "lunch_break_conflict", body["error"])
	assert.Equal(t, "12:00-13:00", body["data"].(map[string]any)["lunch"])

	req["start"] = at(8, 10, 0) // Saturday
	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments", req)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Equal(t, "no_working_hours", decode(t, rec)["error"])

	req["start"] = at(10, 10, 0)
	req["doctor_id"] = "nope"
	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments", req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "validation_failed", decode(t, rec)["error"])

	other := uuid.New()
	outsider := appointment.Actor{ID: uuid.New(), Role: appointment.RoleReceptionist, ClinicID: &other}
	req["doctor_id"] = ts.doctor.ID
	req["start"] = at(11, 9, 0)
	rec = ts.do(t, &outsider, http.MethodPost, "/appointments", req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t)
	id := ts.book(t, at(10, 9, 0))["id"].(string)

	rec := ts.do(t, &ts.staff, http.MethodPost, "/appointments/"+id+"/confirm", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "confirmado", decode(t, rec)["status"])

	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments/"+id+"/finalize", map[string]any{"summary": ""})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments/"+id+"/finalize", map[string]any{
		"summary": "Retorno sem intercorrencias", "duration_minutes": 25,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "finalizado", body["appointment"].(map[string]any)["status"])
	assert.Equal(t, "Retorno sem intercorrencias", body["history"].(map[string]any)["summary"])
	assert.Len(t, ts.repo.History(), 1)

	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments/"+id+"/cancel", map[string]any{"reason": "paciente desistiu"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decode(t, rec)["error"])
}

func TestCancelAndDelete(t *testing.T) {
	ts := newTestServer(t)
	id := ts.book(t, at(11, 9, 0))["id"].(string)

	rec := ts.do(t, &ts.staff, http.MethodPost, "/appointments/"+id+"/cancel", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, &ts.staff, http.MethodPost, "/appointments/"+id+"/cancel", map[string]any{"reason": "remarcado por telefone"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "cancelado", body["status"])
	assert.Equal(t, "remarcado por telefone", body["cancellation"].(map[string]any)["reason"])

	other := ts.book(t, at(11, 9, 0))["id"].(string)
	rec = ts.do(t, &ts.staff, http.MethodDelete, "/appointments/"+other, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = ts.do(t, &ts.staff, http.MethodGet, "/appointments/"+other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateAppointment(t *testing.T) {
	ts := newTestServer(t)
	id := ts.book(t, at(10, 9, 0))["id"].(string)

	rec := ts.do(t, &ts.staff, http.MethodPatch, "/appointments/"+id, map[string]any{"start": at(10, 14, 0)})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var got appointment.Detail
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.True(t, got.Start.Equal(at(10, 14, 0)))

	rec = ts.do(t, &ts.staff, http.MethodPatch, "/appointments/"+id, map[string]any{"start": at(10, 14, 15)})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "self_overlap", decode(t, rec)["error"])

	rec = ts.do(t, &ts.staff, http.MethodPatch, "/appointments/"+id, map[string]any{"status": "agendado"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAvailableSlots(t *testing.T) {
	ts := newTestServer(t)
	base := "/doctors/" + ts.doctor.ID.String() + "/slots?service_id=" + ts.service.ID.String()

	rec := ts.do(t, &ts.staff, http.MethodGet, base+"&date=2025-03-10", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp SlotsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "duration", resp.Policy)
	require.Len(t, resp.Slots, 16)
	assert.True(t, resp.Slots[0].Equal(at(10, 8, 0)))
	assert.True(t, resp.Slots[15].Equal(at(10, 16, 30)))

	rec = ts.do(t, &ts.staff, http.MethodGet, base+"&date=2025-03-10&policy=dense&limit=3", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Slots, 3)
	assert.True(t, resp.Slots[1].Equal(at(10, 8, 15)))

	rec = ts.do(t, &ts.staff, http.MethodGet, base+"&date=2025-03-08", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []any{}, decode(t, rec)["slots"])

	rec = ts.do(t, &ts.staff, http.MethodGet, base+"&date=10/03/2025", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBlackoutEndpoints(t *testing.T) {
	ts := newTestServer(t)
	apptID := ts.book(t, at(10, 10, 0))["id"].(string)

	req := map[string]any{
		"doctor_id": ts.doctor.ID, "start": at(10, 9, 0), "end": at(10, 12, 0), "reason": "congresso",
	}
	rec := ts.do(t, &ts.staff, http.MethodPost, "/blackouts", req)
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "blackout_has_conflicts", body["error"])
	suggestions := body["data"].(map[string]any)["suggestions"].(map[string]any)
	days := suggestions[apptID].([]any)
	require.NotEmpty(t, days)
	assert.LessOrEqual(t, len(days), 5)

	req["ignore_conflicts"] = true
	rec = ts.do(t, &ts.staff, http.MethodPost, "/blackouts", req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	body = decode(t, rec)
	assert.EqualValues(t, 1, body["advisory"].(map[string]any)["conflict_count"])
	blackoutID := body["blackout"].(map[string]any)["id"].(string)

	rec = ts.do(t, &ts.staff, http.MethodPatch, "/blackouts/"+blackoutID, map[string]any{"end": at(10, 8, 0)})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_window", decode(t, rec)["error"])

	rec = ts.do(t, &ts.staff, http.MethodDelete, "/blackouts/"+blackoutID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["blackout"].(map[string]any)["active"])
}

func TestHealth(t *testing.T) {
	down := func(context.Context) error { return errors.New("connection refused") }
	up := func(context.Context) error { return nil }

	ts := newTestServer(t,
		DependencyCheck{Name: "postgres", Critical: true, Ping: up},
		DependencyCheck{Name: "redis", Ping: down},
	)
	rec := ts.do(t, nil, http.MethodGet, "/health/live", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, nil, http.MethodGet, "/health/ready", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "down", body["dependencies"].(map[string]any)["redis"])

	ts = newTestServer(t, DependencyCheck{Name: "postgres", Critical: true, Ping: down})
	rec = ts.do(t, nil, http.MethodGet, "/health/ready", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
