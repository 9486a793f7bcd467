package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Session metrics
	activeSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_agent_active_sessions",
		Help: "Number of interview sessions currently running",
	})

	sessionDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_agent_session_duration_seconds",
		Help:    "Duration of interview sessions in seconds",
		Buckets: []float64{30, 60, 300, 600, 1200, 1800, 3600},
	})

	sessionPhase = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_agent_session_phase",
		Help: "1 for the phase the session is currently in",
	}, []string{"phase"})

	sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_session_outcomes_total",
		Help: "Sessions finished by outcome (completed, terminated, abandoned)",
	}, []string{"outcome"})

	// Turn metrics
	turnsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_turns_total",
		Help: "Transcript messages appended by sender",
	}, []string{"sender"})

	duplicateTurns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_duplicate_turns_total",
		Help: "Turns suppressed as duplicates by sender",
	}, []string{"sender"})

	finalizations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_stt_finalizations_total",
		Help: "Utterance finalizations by source (native, silence)",
	}, []string{"source"})

	// Warning metrics
	warningsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_media_warnings_total",
		Help: "Media revocation warnings by resource",
	}, []string{"resource"})

	// Channel metrics
	channelState = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "interview_agent_channel_state",
		Help: "Interview channel state (0=connecting, 1=open, 2=closed, 3=errored)",
	})

	channelReconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "interview_agent_channel_reconnects_total",
		Help: "Interview channel reconnection attempts",
	})

	// Summary and upload metrics
	summaryRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_summary_requests_total",
		Help: "Summary generation requests by status",
	}, []string{"status"})

	summaryLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "interview_agent_summary_latency_seconds",
		Help:    "Summary generation latency in seconds",
		Buckets: []float64{1, 2.5, 5, 10, 20, 40, 80},
	})

	uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_recording_uploads_total",
		Help: "Recording uploads by status",
	}, []string{"status"})

	recordedBytes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_recorded_bytes_total",
		Help: "Bytes buffered by the recording pipeline",
	}, []string{"stream"})

	// Error metrics
	errorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_errors_total",
		Help: "Total number of errors",
	}, []string{"type", "component"})

	// Circuit breaker metrics
	circuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "interview_agent_circuit_breaker_state",
		Help: "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"service"})

	circuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "interview_agent_circuit_breaker_failures_total",
		Help: "Total circuit breaker failures",
	}, []string{"service"})
)

// SessionMetrics tracks metrics for a single interview session
type SessionMetrics struct {
	sessionID        string
	startTime        time.Time
	summaryStartTime time.Time
	phase            string
	mu               sync.Mutex
}

// NewSessionMetrics creates a new metrics tracker for a session
func NewSessionMetrics(sessionID string) *SessionMetrics {
	return &SessionMetrics{
		sessionID: sessionID,
		startTime: time.Now(),
	}
}

// RecordSessionStart records the start of a session
func (m *SessionMetrics) RecordSessionStart() {
	activeSessions.Inc()
}

// RecordSessionEnd records the end of a session with its outcome
func (m *SessionMetrics) RecordSessionEnd(outcome string) {
	activeSessions.Dec()
	sessionDuration.Observe(time.Since(m.startTime).Seconds())
	sessionOutcomes.WithLabelValues(outcome).Inc()
}

// RecordPhase moves the phase gauge from the previous phase to the new one
func (m *SessionMetrics) RecordPhase(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phase != "" {
		sessionPhase.WithLabelValues(m.phase).Set(0)
	}
	sessionPhase.WithLabelValues(phase).Set(1)
	m.phase = phase
}

// RecordTurn records an appended transcript message
func (m *SessionMetrics) RecordTurn(sender string) {
	turnsTotal.WithLabelValues(sender).Inc()
}

// RecordDuplicate records a suppressed duplicate turn
func (m *SessionMetrics) RecordDuplicate(sender string) {
	duplicateTurns.WithLabelValues(sender).Inc()
}

// RecordFinalization records how an utterance was finalized
func (m *SessionMetrics) RecordFinalization(forced bool) {
	source := "native"
	if forced {
		source = "silence"
	}
	finalizations.WithLabelValues(source).Inc()
}

// RecordWarning records a media revocation warning
func (m *SessionMetrics) RecordWarning(resource string) {
	warningsTotal.WithLabelValues(resource).Inc()
}

// RecordSummaryStart records the start of summary generation
func (m *SessionMetrics) RecordSummaryStart() {
	m.mu.Lock()
	m.summaryStartTime = time.Now()
	m.mu.Unlock()
}

// RecordSummaryEnd records the end of summary generation
func (m *SessionMetrics) RecordSummaryEnd(success bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.summaryStartTime.IsZero() {
		summaryLatency.Observe(time.Since(m.summaryStartTime).Seconds())
	}

	summaryRequests.WithLabelValues(status(success)).Inc()
}

// RecordUpload records the outcome of a recording upload
func (m *SessionMetrics) RecordUpload(success bool) {
	uploads.WithLabelValues(status(success)).Inc()
}

// RecordError records an error
func (m *SessionMetrics) RecordError(errorType, component string) {
	errorsTotal.WithLabelValues(errorType, component).Inc()
}

// RecordRecordedBytes records bytes captured by one recorder
func RecordRecordedBytes(stream string, n int) {
	recordedBytes.WithLabelValues(stream).Add(float64(n))
}

// UpdateChannelState updates the interview channel state gauge
func UpdateChannelState(state int) {
	channelState.Set(float64(state))
}

// IncrementChannelReconnects counts one reconnection attempt
func IncrementChannelReconnects() {
	channelReconnects.Inc()
}

// UpdateCircuitBreakerState updates circuit breaker state metric
func UpdateCircuitBreakerState(service string, state int) {
	circuitBreakerState.WithLabelValues(service).Set(float64(state))
}

// IncrementCircuitBreakerFailures increments circuit breaker failure counter
func IncrementCircuitBreakerFailures(service string) {
	circuitBreakerFailures.WithLabelValues(service).Inc()
}

func status(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
