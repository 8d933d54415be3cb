// Package metrics registers the scheduling engine's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "clinic"

var (
	BookingsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "operations_total",
		Help:      "Scheduling operations by operation and outcome.",
	}, []string{"operation", "outcome"})

	ConflictsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "conflicts_total",
		Help:      "Rejected candidates by conflict kind.",
	}, []string{"kind"})

	SlotQueryDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "scheduling",
		Name:      "slot_query_duration_seconds",
		Help:      "Latency of available slot listings.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	})

	SuggestionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "blackout",
		Name:      "suggestion_duration_seconds",
		Help:      "Time spent building reschedule suggestions for a blackout.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
	})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "dropped_total",
		Help:      "Appointment events dropped because the buffer was full. Alert if non-zero.",
	})

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Appointment events handed to each publisher, by result.",
	}, []string{"publisher", "result"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "HTTP requests by method, route and status code.",
	}, []string{"method", "route", "status"})
)

// Outcome labels an operation result for BookingsTotal.
func Outcome(err error) string {
	if err != nil {
		return "rejected"
	}
	return "ok"
}

func Handler() http.Handler {
	return promhttp.Handler()
}
