package events

import (
	"context"
	"fmt"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// LogRecord is one row of the event_logs table.
type LogRecord struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type LogStore interface {
	InsertEvent(ctx context.Context, rec LogRecord) error
}

// LogPublisher persists events to event_logs.
type LogPublisher struct {
	store LogStore
}

func NewLogPublisher(store LogStore) *LogPublisher {
	return &LogPublisher{store: store}
}

func (p *LogPublisher) Name() string { return "event_logs" }

func (p *LogPublisher) Publish(ctx context.Context, ev AppointmentEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event payload: %w", err)
	}

	apptID := ev.ID
	return p.store.InsertEvent(ctx, LogRecord{
		EventType:     ev.Action.EventType(),
		AppointmentID: &apptID,
		Payload:       payload,
		CreatedAt:     ev.OccurredAt,
	})
}
