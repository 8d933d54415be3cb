package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/blackout"
	"github.com/hackgods/clinic-scheduling/internal/interval"
	"github.com/hackgods/clinic-scheduling/internal/workhours"
)

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

type conflictRef struct {
	ID    uuid.UUID          `json:"id"`
	Start time.Time          `json:"start"`
	End   time.Time          `json:"end"`
	State appointment.Status `json:"status"`
}

func conflictRefs(appts []appointment.Appointment) []conflictRef {
	out := make([]conflictRef, 0, len(appts))
	for _, a := range appts {
		out = append(out, conflictRef{ID: a.ID, Start: a.Start, End: a.End(), State: a.Status})
	}
	return out
}

func suggestionsByID(in map[uuid.UUID][]blackout.DaySuggestion) map[string][]blackout.DaySuggestion {
	out := make(map[string][]blackout.DaySuggestion, len(in))
	for id, days := range in {
		out[id.String()] = days
	}
	return out
}

// handleError maps domain errors to responses. Anything unrecognised is logged
// and rendered as a generic 500.
func handleError(w http.ResponseWriter, r *http.Request, log *zap.Logger, err error) {
	var (
		validationErrs validator.ValidationErrors
		lunchErr       *appointment.LunchBreakConflictError
		hoursErr       *appointment.OutsideWorkingHoursError
		blackoutErr    *appointment.BlackoutConflictError
		apptErr        *appointment.AppointmentConflictError
		cancelErr      *appointment.InvalidCancellationError
		hasConflicts   *blackout.HasConflictsError
		lunchWindowErr *workhours.InvalidLunchWindowError
	)

	switch {
	case errors.As(err, &validationErrs):
		writeError(w, http.StatusBadRequest, "validation_failed", validationErrs.Error())
	case errors.Is(err, appointment.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, appointment.ErrOutOfScope):
		writeError(w, http.StatusForbidden, "out_of_scope", err.Error())
	case errors.As(err, &lunchWindowErr):
		writeError(w, http.StatusUnprocessableEntity, "invalid_lunch_window", err.Error())
	case errors.Is(err, interval.ErrInvalidWindow), errors.Is(err, interval.ErrInvalidClock):
		writeError(w, http.StatusBadRequest, "invalid_window", err.Error())
	case errors.Is(err, appointment.ErrInvalidAppointment):
		writeError(w, http.StatusBadRequest, "invalid_appointment", err.Error())
	case errors.Is(err, appointment.ErrMissingSummary):
		writeError(w, http.StatusBadRequest, "missing_summary", err.Error())
	case errors.Is(err, workhours.ErrBlockedDay):
		writeError(w, http.StatusUnprocessableEntity, "blocked_day", err.Error())
	case errors.Is(err, workhours.ErrNoWorkingHours):
		writeError(w, http.StatusUnprocessableEntity, "no_working_hours", err.Error())
	case errors.As(err, &hoursErr):
		writeJSON(w, http.StatusUnprocessableEntity, ErrorResponse{
			Error: "outside_working_hours", Details: err.Error(),
			Data: map[string]string{"working_hours": hoursErr.Window.String()},
		})
	case errors.As(err, &cancelErr):
		writeError(w, http.StatusUnprocessableEntity, "invalid_cancellation", err.Error())
	case errors.As(err, &lunchErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "lunch_break_conflict", Details: err.Error(),
			Data: map[string]string{"lunch": lunchErr.Lunch.String()},
		})
	case errors.As(err, &blackoutErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "blackout_conflict", Details: err.Error(),
			Data: map[string]any{"blackouts": blackoutErr.Blackouts},
		})
	case errors.As(err, &apptErr):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "appointment_conflict", Details: err.Error(),
			Data: map[string]any{"conflicts": conflictRefs(apptErr.Conflicts)},
		})
	case errors.As(err, &hasConflicts):
		writeJSON(w, http.StatusConflict, ErrorResponse{
			Error: "blackout_has_conflicts", Details: err.Error(),
			Data: map[string]any{
				"conflicts":   conflictRefs(hasConflicts.Conflicts),
				"suggestions": suggestionsByID(hasConflicts.Suggestions),
			},
		})
	case errors.Is(err, appointment.ErrSelfOverlap):
		writeError(w, http.StatusConflict, "self_overlap", err.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	case errors.Is(err, appointment.ErrDoctorBusy):
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusConflict, "doctor_busy", err.Error())
	default:
		log.Error("request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "something went wrong")
	}
}

func isValidationError(err error) bool {
	var validationErrs validator.ValidationErrors
	return errors.As(err, &validationErrs)
}
