package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/availability"
)

// AppointmentService is the scheduling surface the HTTP layer drives.
type AppointmentService interface {
	Create(ctx context.Context, actor appointment.Actor, in appointment.CreateInput) (*appointment.Detail, error)
	Update(ctx context.Context, actor appointment.Actor, id uuid.UUID, in appointment.UpdateInput) (*appointment.Detail, error)
	Confirm(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Detail, error)
	ConfirmEncaixe(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Detail, error)
	Cancel(ctx context.Context, actor appointment.Actor, id uuid.UUID, reason string) (*appointment.Detail, error)
	Finalize(ctx context.Context, actor appointment.Actor, id uuid.UUID, in appointment.FinalizeInput) (*appointment.Detail, *appointment.HistoryRecord, error)
	Delete(ctx context.Context, actor appointment.Actor, id uuid.UUID) error
	Get(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Detail, error)
	AvailableSlots(ctx context.Context, actor appointment.Actor, q appointment.SlotQuery) ([]time.Time, error)
	Location() *time.Location
}

func pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func createAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDecodeError(w, r, log, err)
			return
		}
		if req.Start.IsZero() {
			writeError(w, http.StatusBadRequest, "validation_failed", "start is required")
			return
		}

		origin := appointment.OriginHuman
		if req.Origin != "" {
			origin = appointment.Origin(req.Origin)
		}

		detail, err := svc.Create(r.Context(), actorFrom(r.Context()), appointment.CreateInput{
			DoctorID:  uuid.MustParse(req.DoctorID),
			ServiceID: uuid.MustParse(req.ServiceID),
			PatientID: uuid.MustParse(req.PatientID),
			Start:     req.Start,
			Encaixe:   req.Encaixe,
			Origin:    origin,
			Notes:     req.Notes,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusCreated, detail)
	}
}

func getAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		detail, err := svc.Get(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func updateAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req UpdateAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDecodeError(w, r, log, err)
			return
		}

		in := appointment.UpdateInput{Start: req.Start, Notes: req.Notes}
		// uuid tags already validated the id strings
		in.DoctorID, _ = parseOptionalUUID(req.DoctorID)
		in.ServiceID, _ = parseOptionalUUID(req.ServiceID)
		in.PatientID, _ = parseOptionalUUID(req.PatientID)
		if req.Status != nil {
			status := appointment.Status(*req.Status)
			in.Status = &status
		}

		detail, err := svc.Update(r.Context(), actorFrom(r.Context()), id, in)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func deleteAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		if err := svc.Delete(r.Context(), actorFrom(r.Context()), id); err != nil {
			handleError(w, r, log, err)
			return
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

type transitionFunc func(ctx context.Context, actor appointment.Actor, id uuid.UUID) (*appointment.Detail, error)

// transitionHandler serves the body-less lifecycle endpoints.
func transitionHandler(fn transitionFunc, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		detail, err := fn(r.Context(), actorFrom(r.Context()), id)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func cancelAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req CancelAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDecodeError(w, r, log, err)
			return
		}

		detail, err := svc.Cancel(r.Context(), actorFrom(r.Context()), id, req.Reason)
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, detail)
	}
}

func finalizeAppointmentHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}

		var req FinalizeAppointmentRequest
		if err := decodeJSON(r, &req); err != nil {
			handleDecodeError(w, r, log, err)
			return
		}

		detail, rec, err := svc.Finalize(r.Context(), actorFrom(r.Context()), id, appointment.FinalizeInput{
			Summary:          req.Summary,
			DurationOverride: req.DurationOverride,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, FinalizeResponse{Appointment: detail, History: rec})
	}
}

// availableSlotsHandler serves GET /doctors/{id}/slots?service_id=&date=YYYY-MM-DD[&policy=dense][&limit=n].
func availableSlotsHandler(svc AppointmentService, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, ok := pathID(w, r)
		if !ok {
			return
		}

		q := r.URL.Query()
		serviceID, err := uuid.Parse(q.Get("service_id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_service_id", "service_id must be a valid UUID")
			return
		}
		date, err := time.ParseInLocation(time.DateOnly, q.Get("date"), svc.Location())
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}
		limit := 0
		if raw := q.Get("limit"); raw != "" {
			if limit, err = strconv.Atoi(raw); err != nil || limit < 0 {
				writeError(w, http.StatusBadRequest, "invalid_limit", "limit must be a non-negative integer")
				return
			}
		}
		policy := availability.ParseStepPolicy(q.Get("policy"))

		slots, err := svc.AvailableSlots(r.Context(), actorFrom(r.Context()), appointment.SlotQuery{
			DoctorID:  doctorID,
			ServiceID: serviceID,
			Date:      date,
			Policy:    policy,
			Limit:     limit,
		})
		if err != nil {
			handleError(w, r, log, err)
			return
		}

		writeJSON(w, http.StatusOK, SlotsResponse{
			DoctorID:  doctorID,
			ServiceID: serviceID,
			Date:      date.Format(time.DateOnly),
			Policy:    policy.String(),
			Slots:     slots,
		})
	}
}

func handleDecodeError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	if isValidationError(err) {
		handleError(w, r, log, err)
		return
	}
	writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
}
