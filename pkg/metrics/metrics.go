// Jukebot - Nostr mention bot for Spotify playlists
// License: MIT

// Package metrics holds the prometheus collectors exposed on /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "jukebot"

var (
	// Relay Metrics
	RelaysConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "relays_connected",
			Help:      "Number of relay connections currently open",
		},
	)

	RelayMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_messages_total",
			Help:      "Inbound relay messages by envelope label",
		},
		[]string{"relay", "label"}, // label: EVENT, EOSE, NOTICE, OK, CLOSED, AUTH, invalid
	)

	RelayReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "relay_reconnects_total",
			Help:      "Reconnect attempts by result",
		},
		[]string{"relay", "result"},
	)

	PublishResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "publish_results_total",
			Help:      "Per-relay publish attempts by result",
		},
		[]string{"relay", "result"}, // result: "ok", "error"
	)

	InboundDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "inbound_dropped_total",
			Help:      "Inbound events dropped because their relay lane stayed full",
		},
		[]string{"relay"},
	)

	// Pipeline Metrics
	MentionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mentions_total",
			Help:      "Processed inbound events by terminal state",
		},
		[]string{"outcome"},
	)

	MentionDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mention_duration_seconds",
			Help:      "Time spent processing one accepted mention",
			Buckets:   prometheus.DefBuckets,
		},
	)

	TracksAdded = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracks_added_total",
			Help:      "Tracks appended to owner playlists",
		},
	)

	DegradedMutations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "degraded_mutations_total",
			Help:      "Mutations that skipped the membership check after a read failure",
		},
	)

	PlaylistsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "playlists_created_total",
			Help:      "Playlists created on first use",
		},
	)

	// Spotify Metrics
	SpotifyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "spotify_requests_total",
			Help:      "Spotify Web API requests by operation and status class",
		},
		[]string{"operation", "status"},
	)

	SpotifyRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "spotify_request_duration_seconds",
			Help:      "Duration of Spotify Web API requests",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_requests_total",
			Help:      "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "circuit_breaker_state_transitions_total",
			Help:      "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// HTTP Metrics
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP API requests by route and status code",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Scheduler Metrics
	MetadataPublishes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metadata_publishes_total",
			Help:      "Profile metadata publish runs by result",
		},
		[]string{"result"},
	)
)

// RecordPublish records the outcome of one relay publish attempt.
func RecordPublish(relay string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	PublishResults.WithLabelValues(relay, result).Inc()
}

// RecordSpotifyRequest records a Spotify API call. status is the HTTP status
// code, or 0 when the request never got a response.
func RecordSpotifyRequest(operation string, status int, duration time.Duration) {
	SpotifyRequests.WithLabelValues(operation, statusClass(status)).Inc()
	SpotifyRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status < 300:
		return "2xx"
	case status < 400:
		return "3xx"
	case status == 429:
		return "429"
	case status < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
