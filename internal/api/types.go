package api

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/hackgods/clinic-scheduling/internal/appointment"
	"github.com/hackgods/clinic-scheduling/internal/blackout"
)

var validate = validator.New()

type CreateAppointmentRequest struct {
	DoctorID  string    `json:"doctor_id" validate:"required,uuid"`
	ServiceID string    `json:"service_id" validate:"required,uuid"`
	PatientID string    `json:"patient_id" validate:"required,uuid"`
	Start     time.Time `json:"start"`
	Encaixe   bool      `json:"encaixe"`
	Origin    string    `json:"origin" validate:"omitempty,oneof=human ai"`
	Notes     *string   `json:"notes" validate:"omitempty,max=2000"`
}

type UpdateAppointmentRequest struct {
	Start     *time.Time `json:"start"`
	DoctorID  *string    `json:"doctor_id" validate:"omitempty,uuid"`
	ServiceID *string    `json:"service_id" validate:"omitempty,uuid"`
	PatientID *string    `json:"patient_id" validate:"omitempty,uuid"`
	Notes     *string    `json:"notes" validate:"omitempty,max=2000"`
	Status    *string    `json:"status" validate:"omitempty,oneof=pendente pendente_ia encaixe_pendente confirmado finalizado cancelado"`
}

type CancelAppointmentRequest struct {
	Reason string `json:"reason" validate:"required"`
}

type FinalizeAppointmentRequest struct {
	Summary          string `json:"summary" validate:"required"`
	DurationOverride *int   `json:"duration_minutes" validate:"omitempty,gt=0"`
}

type FinalizeResponse struct {
	Appointment *appointment.Detail        `json:"appointment"`
	History     *appointment.HistoryRecord `json:"history"`
}

type SlotsResponse struct {
	DoctorID  uuid.UUID   `json:"doctor_id"`
	ServiceID uuid.UUID   `json:"service_id"`
	Date      string      `json:"date"`
	Policy    string      `json:"policy"`
	Slots     []time.Time `json:"slots"`
}

type CreateBlackoutRequest struct {
	DoctorID        string    `json:"doctor_id" validate:"required,uuid"`
	Start           time.Time `json:"start"`
	End             time.Time `json:"end"`
	Reason          string    `json:"reason" validate:"max=500"`
	IgnoreConflicts bool      `json:"ignore_conflicts"`
}

type UpdateBlackoutRequest struct {
	Start           *time.Time `json:"start"`
	End             *time.Time `json:"end"`
	Reason          *string    `json:"reason" validate:"omitempty,max=500"`
	IgnoreConflicts bool       `json:"ignore_conflicts"`
}

type BlackoutResponse struct {
	Blackout appointment.BlackoutPeriod `json:"blackout"`
	Advisory *blackout.Advisory         `json:"advisory,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	Data    any    `json:"data,omitempty"`
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return err
	}
	return validate.Struct(dst)
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func parseOptionalUUID(raw *string) (*uuid.UUID, error) {
	if raw == nil {
		return nil, nil
	}
	id, err := uuid.Parse(*raw)
	if err != nil {
		return nil, err
	}
	return &id, nil
}
