// Package metrics holds the Prometheus collectors of the server
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Conversation
	TurnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allergy_checker_turns_total",
		Help: "Conversation turns by resolved intent and outcome",
	}, []string{"intent", "outcome"})

	TurnLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "allergy_checker_turn_latency_seconds",
		Help:    "Time from end of recording to end of spoken response",
		Buckets: prometheus.DefBuckets,
	})

	SilentRecordingsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "allergy_checker_silent_recordings_total",
		Help: "Recordings discarded because nothing was said",
	})

	ActiveDevices = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "allergy_checker_active_devices",
		Help: "Devices with a live conversation",
	})

	// Remote services
	RemoteCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allergy_checker_remote_calls_total",
		Help: "Calls to remote services by service and status",
	}, []string{"service", "status"})

	RemoteLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "allergy_checker_remote_latency_seconds",
		Help:    "Latency of remote service calls",
		Buckets: prometheus.DefBuckets,
	}, []string{"service"})

	// Login
	ChallengesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allergy_checker_challenges_total",
		Help: "Login challenge rounds by result",
	}, []string{"result"})

	EnrollmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "allergy_checker_enrollments_total",
		Help: "Patient enrollment sagas by final state",
	}, []string{"state"})
)

// ObserveRemote records one call to a remote service
func ObserveRemote(service string, started time.Time, err error) {
	status := "ok"
	if err != nil {
		status = "error"
	}
	RemoteCallsTotal.WithLabelValues(service, status).Inc()
	RemoteLatency.WithLabelValues(service).Observe(time.Since(started).Seconds())
}
