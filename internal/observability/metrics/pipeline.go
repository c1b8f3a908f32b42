package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
)

// PipelineMetrics implements ports.PipelineObserver.
type PipelineMetrics struct {
	service string

	stageTotal     *prometheus.CounterVec
	stageDuration  *prometheus.HistogramVec
	recordTotal    *prometheus.CounterVec
	recordDuration *prometheus.HistogramVec
	degradedTotal  *prometheus.CounterVec

	collaboratorCalls    *prometheus.CounterVec
	collaboratorAttempts *prometheus.HistogramVec
	breakerState         *prometheus.GaugeVec
}

func NewPipelineMetrics(service string, registerer prometheus.Registerer) *PipelineMetrics {
	stageTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_total",
			Help:      "Stage attempts by stage and outcome.",
		},
		[]string{"service", "stage", "status"},
	)
	stageDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "stage_duration_seconds",
			Help:      "Stage attempt duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"service", "stage"},
	)
	recordTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "records_total",
			Help:      "Pipeline runs by resulting record status.",
		},
		[]string{"service", "status"},
	)
	recordDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "record_duration_seconds",
			Help:      "Duration of one pipeline run over an email.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"service", "status"},
	)
	degradedTotal := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "degraded_classifications_total",
			Help:      "Classifications that needed defaults, by reason.",
		},
		[]string{"service", "reason"},
	)

	collaboratorCalls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "calls_total",
			Help:      "Calls to external collaborators by operation and result.",
		},
		[]string{"service", "operation", "result"},
	)
	collaboratorAttempts := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "call_attempts",
			Help:      "Attempts spent per collaborator call, retries included.",
			Buckets:   []float64{1, 2, 3, 5, 8},
		},
		[]string{"service", "operation"},
	)
	breakerState := prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "collaborator",
			Name:      "breaker_open",
			Help:      "1 while the circuit breaker of an operation is open, 0.5 half-open, 0 closed.",
		},
		[]string{"service", "operation"},
	)

	registerer.MustRegister(
		stageTotal, stageDuration, recordTotal, recordDuration, degradedTotal,
		collaboratorCalls, collaboratorAttempts, breakerState,
	)

	return &PipelineMetrics{
		service:        service,
		stageTotal:     stageTotal,
		stageDuration:  stageDuration,
		recordTotal:    recordTotal,
		recordDuration: recordDuration,
		degradedTotal:  degradedTotal,

		collaboratorCalls:    collaboratorCalls,
		collaboratorAttempts: collaboratorAttempts,
		breakerState:         breakerState,
	}
}

func (m *PipelineMetrics) ObserveStage(stage domain.Stage, status domain.OutcomeStatus, duration time.Duration) {
	m.stageTotal.WithLabelValues(m.service, string(stage), string(status)).Inc()
	m.stageDuration.WithLabelValues(m.service, string(stage)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveRecord(status domain.RecordStatus, duration time.Duration) {
	m.recordTotal.WithLabelValues(m.service, string(status)).Inc()
	m.recordDuration.WithLabelValues(m.service, string(status)).Observe(duration.Seconds())
}

func (m *PipelineMetrics) ObserveDegraded(reasons []string) {
	for _, reason := range reasons {
		m.degradedTotal.WithLabelValues(m.service, degradedLabel(reason)).Inc()
	}
}

// ObserveCall implements resilience.Observer.
func (m *PipelineMetrics) ObserveCall(operation string, attempts int, err error) {
	result := "success"
	switch {
	case err == nil:
	case attempts == 0:
		result = "rejected"
	default:
		result = "error"
	}
	m.collaboratorCalls.WithLabelValues(m.service, operation, result).Inc()
	if attempts > 0 {
		m.collaboratorAttempts.WithLabelValues(m.service, operation).Observe(float64(attempts))
	}
}

// ObserveBreakerState implements resilience.Observer.
func (m *PipelineMetrics) ObserveBreakerState(operation, state string) {
	value := 0.0
	switch state {
	case "open":
		value = 1
	case "half-open":
		value = 0.5
	}
	m.breakerState.WithLabelValues(m.service, operation).Set(value)
}

// degradedLabel collapses free-text reasons to the field they concern.
func degradedLabel(reason string) string {
	switch {
	case strings.HasPrefix(reason, "category"):
		return "category"
	case strings.HasPrefix(reason, "priority"):
		return "priority"
	default:
		return "other"
	}
}
