// Package metrics exposes the Router's operational counters and
// histograms as Prometheus collectors, registered against a private
// registry so /metrics never leaks the default Go runtime collector
// noise unless explicitly added.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "router"

// Registry is the private Prometheus registry every collector in this
// package registers against.
var Registry = prometheus.NewRegistry()

var (
	// ChallengesIssued counts Auth.initiate calls, labeled by peer kind.
	ChallengesIssued = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "challenges_issued_total",
			Help:      "Total number of auth challenges issued",
		},
		[]string{"peer_kind"}, // controller, cardhost
	)

	// AuthVerifications counts Auth.verify outcomes.
	AuthVerifications = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "verifications_total",
			Help:      "Total number of auth verification attempts",
		},
		[]string{"peer_kind", "result"}, // result: success, failure, no_challenge, expired, mismatch
	)

	// SessionsCreated counts Session.create calls.
	SessionsCreated = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "created_total",
			Help:      "Total number of sessions created",
		},
	)

	// SessionsActive tracks currently live sessions.
	SessionsActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "active",
			Help:      "Number of currently live sessions",
		},
	)

	// SessionsExpired counts sessions reaped by the cleanup ticker,
	// labeled by the reason they were reaped.
	SessionsExpired = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sessions",
			Name:      "expired_total",
			Help:      "Total number of sessions reaped by cleanup",
		},
		[]string{"reason"}, // absolute_ttl_or_idle (both are checked in one pass)
	)

	// RelayRequests counts relay_to_cardhost outcomes.
	RelayRequests = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "relay_requests_total",
			Help:      "Total number of rpc-request relays, labeled by outcome",
		},
		[]string{"outcome"}, // completed, timeout, cardhost_offline, send_failed, duplicate_id, error
	)

	// RelayLatency records time from relay_to_cardhost to resolution,
	// covering both successful responses and synthesized errors.
	RelayLatency = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "relay_latency_seconds",
			Help:      "Time from relay dispatch to resolution",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14), // ~5ms .. ~40s
		},
	)

	// ActiveControllerConnections and ActiveCardhostConnections track
	// live WebSocket registrations by peer kind.
	ActiveControllerConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_controller_connections",
			Help:      "Number of registered controller sinks",
		},
	)

	ActiveCardhostConnections = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "active_cardhost_connections",
			Help:      "Number of registered cardhost sinks",
		},
	)
)
