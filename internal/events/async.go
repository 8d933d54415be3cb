package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hackgods/clinic-scheduling/internal/metrics"
)

const (
	DefaultBufferSize = 1024
	publishTimeout    = 5 * time.Second
)

// AsyncEmitter queues events on a buffered channel and fans each one out to
// every publisher from a single worker. A full buffer drops the event.
type AsyncEmitter struct {
	publishers []Publisher
	log        *zap.Logger
	queue      chan AppointmentEvent
	done       chan struct{}

	mu     sync.RWMutex
	closed bool
}

func NewAsyncEmitter(log *zap.Logger, buffer int, publishers ...Publisher) *AsyncEmitter {
	if buffer <= 0 {
		buffer = DefaultBufferSize
	}
	e := &AsyncEmitter{
		publishers: publishers,
		log:        log,
		queue:      make(chan AppointmentEvent, buffer),
		done:       make(chan struct{}),
	}
	go e.worker()
	return e
}

func (e *AsyncEmitter) EmitAppointmentEvent(ev AppointmentEvent) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.closed {
		return
	}

	select {
	case e.queue <- ev:
	default:
		metrics.EventsDropped.Inc()
		e.log.Warn("event buffer full, dropping appointment event",
			zap.String("action", string(ev.Action)),
			zap.String("appointment_id", ev.ID.String()),
		)
	}
}

// Shutdown stops accepting events and waits for the queue to drain or ctx to end.
func (e *AsyncEmitter) Shutdown(ctx context.Context) {
	e.mu.Lock()
	if !e.closed {
		e.closed = true
		close(e.queue)
	}
	e.mu.Unlock()

	select {
	case <-e.done:
	case <-ctx.Done():
		e.log.Warn("event emitter shutdown timed out; some events may be lost")
	}
}

func (e *AsyncEmitter) worker() {
	defer close(e.done)
	for ev := range e.queue {
		for _, p := range e.publishers {
			ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
			err := p.Publish(ctx, ev)
			cancel()
			if err != nil {
				metrics.EventsPublished.WithLabelValues(p.Name(), "error").Inc()
				e.log.Error("failed to publish appointment event",
					zap.String("publisher", p.Name()),
					zap.String("action", string(ev.Action)),
					zap.String("appointment_id", ev.ID.String()),
					zap.Error(err),
				)
				continue
			}
			metrics.EventsPublished.WithLabelValues(p.Name(), "ok").Inc()
		}
	}
}
