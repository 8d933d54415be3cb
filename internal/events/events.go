// Package events delivers appointment domain events to downstream consumers.
// Emission is fire-and-forget: the scheduler never waits on delivery.
package events

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionCreated          Action = "created"
	ActionUpdated          Action = "updated"
	ActionDeleted          Action = "deleted"
	ActionFinalized        Action = "finalized"
	ActionEncaixeConfirmed Action = "encaixe_confirmed"
	ActionCanceled         Action = "canceled"
)

// EventType is the name stored in event_logs, e.g. APPOINTMENT_CREATED.
func (a Action) EventType() string {
	return "APPOINTMENT_" + strings.ToUpper(string(a))
}

// AppointmentEvent carries a complete snapshot of the appointment with its
// doctor, service and patient already loaded.
type AppointmentEvent struct {
	ID         uuid.UUID  `json:"id"`
	DoctorID   uuid.UUID  `json:"doctor_id"`
	ClinicID   *uuid.UUID `json:"clinic_id,omitempty"`
	Action     Action     `json:"action"`
	Snapshot   any        `json:"snapshot"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Emitter accepts events without blocking the caller.
type Emitter interface {
	EmitAppointmentEvent(ev AppointmentEvent)
}

// Publisher delivers one event to one destination.
type Publisher interface {
	Name() string
	Publish(ctx context.Context, ev AppointmentEvent) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) EmitAppointmentEvent(AppointmentEvent) {}

// Recorder keeps emitted events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []AppointmentEvent
}

func (r *Recorder) EmitAppointmentEvent(ev AppointmentEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *Recorder) Events() []AppointmentEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]AppointmentEvent, len(r.events))
	copy(out, r.events)
	return out
}

// Actions lists the recorded actions in emission order.
func (r *Recorder) Actions() []Action {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Action, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Action)
	}
	return out
}
