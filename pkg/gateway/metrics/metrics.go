package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vango-go/voicebridge/pkg/core"
)

// Metrics holds all Prometheus metrics for the gateway. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// HTTP
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec

	// Sessions
	SessionsTotal    *prometheus.CounterVec
	SessionDuration  *prometheus.HistogramVec
	StateTransitions *prometheus.CounterVec

	// Providers
	ProviderDuration *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec

	// Media
	AudioFramesTotal *prometheus.CounterVec
	EchoDiscards     prometheus.Counter
	MalformedFrames  prometheus.Counter
}

// New creates a Metrics instance on its own registry. activeSessions, when
// non-nil, is sampled for the active sessions gauge.
func New(namespace string, activeSessions func() int) *Metrics {
	if namespace == "" {
		namespace = "voicebridge"
	}

	registry := prometheus.NewRegistry()

	requestsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	requestDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.005, 0.025, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"route"},
	)

	sessionsTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Total number of ended call sessions by outcome",
		},
		[]string{"origin", "reason"},
	)

	sessionDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_duration_seconds",
			Help:      "Call session duration in seconds",
			Buckets:   []float64{5, 15, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"origin"},
	)

	stateTransitions := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Conversation state machine transitions",
		},
		[]string{"from", "to"},
	)

	providerDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_duration_seconds",
			Help:      "Provider adapter call duration in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"capability", "vendor"},
	)

	providerErrors := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider adapter failures",
		},
		[]string{"capability", "vendor", "error_type"},
	)

	audioFramesTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "audio_frames_total",
			Help:      "Media frames relayed by the audio bridge",
		},
		[]string{"direction"},
	)

	echoDiscards := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "echo_discards_total",
		Help:      "Transcripts discarded as echoes of the agent's own speech",
	})

	malformedFrames := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "malformed_frames_total",
		Help:      "Inbound media frames that failed to parse",
	})

	registry.MustRegister(
		requestsTotal,
		requestDuration,
		sessionsTotal,
		sessionDuration,
		stateTransitions,
		providerDuration,
		providerErrors,
		audioFramesTotal,
		echoDiscards,
		malformedFrames,
	)
	if activeSessions != nil {
		registry.MustRegister(prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sessions_active",
				Help:      "Number of active call sessions",
			},
			func() float64 { return float64(activeSessions()) },
		))
	}

	return &Metrics{
		registry:         registry,
		RequestsTotal:    requestsTotal,
		RequestDuration:  requestDuration,
		SessionsTotal:    sessionsTotal,
		SessionDuration:  sessionDuration,
		StateTransitions: stateTransitions,
		ProviderDuration: providerDuration,
		ProviderErrors:   providerErrors,
		AudioFramesTotal: audioFramesTotal,
		EchoDiscards:     echoDiscards,
		MalformedFrames:  malformedFrames,
	}
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry (tests gather from it).
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordRequest records a completed HTTP request.
func (m *Metrics) RecordRequest(route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
	m.RequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordSessionEnd records an ended session.
func (m *Metrics) RecordSessionEnd(origin, reason string, duration time.Duration) {
	if m == nil {
		return
	}
	m.SessionsTotal.WithLabelValues(origin, reason).Inc()
	m.SessionDuration.WithLabelValues(origin).Observe(duration.Seconds())
}

// RecordTransition records one state machine transition.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.StateTransitions.WithLabelValues(from, to).Inc()
}

// ObserveProvider records one adapter call.
func (m *Metrics) ObserveProvider(capability, vendor string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.ProviderDuration.WithLabelValues(capability, vendor).Observe(elapsed.Seconds())
	if err != nil {
		errType := string(core.ErrProviderUnavailable)
		if ce, ok := core.AsError(err); ok {
			errType = string(ce.Type)
		}
		m.ProviderErrors.WithLabelValues(capability, vendor, errType).Inc()
	}
}

// RecordFrames records relayed media frames; direction is "in" or "out".
func (m *Metrics) RecordFrames(direction string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.AudioFramesTotal.WithLabelValues(direction).Add(float64(n))
}

func (m *Metrics) RecordEchoDiscard() {
	if m == nil {
		return
	}
	m.EchoDiscards.Inc()
}

func (m *Metrics) RecordMalformedFrame() {
	if m == nil {
		return
	}
	m.MalformedFrames.Inc()
}
