// Package metrics holds the prometheus collectors exposed by the agent.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Submissions counts attempt submissions by activity kind and outcome (submitted, failed, invalid).
	Submissions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_agent",
		Name:      "submissions_total",
		Help:      "Attempt submissions by kind and outcome.",
	}, []string{"kind", "outcome"})

	// AutoSubmits counts submissions triggered by timer expiry.
	AutoSubmits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "session_agent",
		Name:      "auto_submits_total",
		Help:      "Submissions triggered by countdown expiry.",
	})

	// Flushes counts attendance flushes by outcome (delivered, deferred, empty).
	Flushes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "session_agent",
		Name:      "attendance_flushes_total",
		Help:      "Attendance queue flushes by outcome.",
	}, []string{"outcome"})

	// PendingRecords is the number of attendance records waiting for delivery.
	PendingRecords = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "session_agent",
		Name:      "attendance_pending_records",
		Help:      "Attendance records buffered locally.",
	})

	registry = prometheus.NewRegistry()
)

func init() {
	registry.MustRegister(
		Submissions,
		AutoSubmits,
		Flushes,
		PendingRecords,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the agent registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
