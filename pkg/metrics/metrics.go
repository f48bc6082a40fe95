package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	registry           *prometheus.Registry
	registryOnce       sync.Once
	defaultMetricsPath = "/metrics"
	metricsEnabled     = true

	// Session metrics
	SessionsActive    prometheus.Gauge
	SessionsStarted   *prometheus.CounterVec
	SessionsStopped   *prometheus.CounterVec
	SessionDuration   *prometheus.HistogramVec
	SessionRejections *prometheus.CounterVec

	// Tick metrics
	AudioTicksTotal   *prometheus.CounterVec
	PatternTicksTotal *prometheus.CounterVec
	TickLatency       *prometheus.HistogramVec

	// Detector metrics
	DetectorRuns    *prometheus.CounterVec
	DetectorErrors  *prometheus.CounterVec
	DetectorLatency *prometheus.HistogramVec
	ViolationsFound *prometheus.CounterVec

	// Scoring metrics
	RiskScoreDistribution *prometheus.HistogramVec
	SessionStatusChanges  *prometheus.CounterVec

	// Alert metrics
	AlertsCreated  *prometheus.CounterVec
	AlertsResolved *prometheus.CounterVec
	FastPathAlerts *prometheus.CounterVec

	// Escalation metrics
	EscalationActions *prometheus.CounterVec

	// Threshold metrics
	AlertThreshold       prometheus.Gauge
	ThresholdAdjustments *prometheus.CounterVec
	FeedbackReceived     *prometheus.CounterVec

	// AMQP metrics
	AMQPPublishedMessages *prometheus.CounterVec
	AMQPConnectionErrors  *prometheus.CounterVec
	AMQPReconnectAttempts *prometheus.CounterVec
	AMQPConnectionStatus  prometheus.Gauge
)

// Init initializes all metrics and registers them with Prometheus
func Init(logger *logrus.Logger) {
	registryOnce.Do(func() {
		registry = prometheus.NewRegistry()

		// Initialize session metrics
		SessionsActive = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "watchdog_sessions_active",
				Help: "Number of sessions currently under monitoring",
			},
		)

		SessionsStarted = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_sessions_started_total",
				Help: "Total number of monitoring sessions started",
			},
			[]string{"session_type"},
		)

		SessionsStopped = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_sessions_stopped_total",
				Help: "Total number of monitoring sessions stopped",
			},
			[]string{"session_type", "final_status"},
		)

		SessionDuration = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchdog_session_duration_seconds",
				Help:    "Duration of monitoring sessions",
				Buckets: prometheus.ExponentialBuckets(1, 2, 15), // 1s to ~9 hours
			},
			[]string{"session_type"},
		)

		SessionRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_session_rejections_total",
				Help: "Total number of rejected monitoring start requests",
			},
			[]string{"reason"},
		)

		// Initialize tick metrics
		AudioTicksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_audio_ticks_total",
				Help: "Total number of audio analysis ticks executed",
			},
			[]string{"session_id"},
		)

		PatternTicksTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_pattern_ticks_total",
				Help: "Total number of pattern analysis ticks executed",
			},
			[]string{"session_id"},
		)

		TickLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchdog_tick_latency_seconds",
				Help:    "Latency of analysis ticks",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12), // 0.1ms to ~400ms
			},
			[]string{"tick_type"},
		)

		// Initialize detector metrics
		DetectorRuns = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_detector_runs_total",
				Help: "Total number of detector invocations",
			},
			[]string{"detector"},
		)

		DetectorErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_detector_errors_total",
				Help: "Total number of detector failures",
			},
			[]string{"detector"},
		)

		DetectorLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchdog_detector_latency_seconds",
				Help:    "Latency of detector invocations",
				Buckets: prometheus.ExponentialBuckets(0.0001, 2, 10),
			},
			[]string{"detector"},
		)

		ViolationsFound = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_violations_found_total",
				Help: "Total number of detected content violations",
			},
			[]string{"violation_type", "severity"},
		)

		// Initialize scoring metrics
		RiskScoreDistribution = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchdog_risk_score",
				Help:    "Distribution of computed composite risk scores",
				Buckets: prometheus.LinearBuckets(0, 10, 11), // 0 to 100
			},
			[]string{"path"},
		)

		SessionStatusChanges = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_session_status_changes_total",
				Help: "Total number of session classification changes",
			},
			[]string{"from", "to"},
		)

		// Initialize alert metrics
		AlertsCreated = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_alerts_created_total",
				Help: "Total number of alerts created",
			},
			[]string{"alert_type", "severity"},
		)

		AlertsResolved = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_alerts_resolved_total",
				Help: "Total number of alerts resolved by reviewers",
			},
			[]string{"feedback"},
		)

		FastPathAlerts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_fast_path_alerts_total",
				Help: "Total number of alerts raised by the emotional fast path",
			},
			[]string{"emotion"},
		)

		// Initialize escalation metrics
		EscalationActions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_escalation_actions_total",
				Help: "Total number of escalation actions executed",
			},
			[]string{"action", "outcome"},
		)

		// Initialize threshold metrics
		AlertThreshold = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "watchdog_alert_threshold",
				Help: "Current adaptive alert threshold",
			},
		)

		ThresholdAdjustments = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_threshold_adjustments_total",
				Help: "Total number of adaptive threshold adjustments",
			},
			[]string{"direction"},
		)

		FeedbackReceived = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_feedback_received_total",
				Help: "Total number of reviewer feedback records received",
			},
			[]string{"feedback"},
		)

		// Initialize AMQP metrics
		AMQPPublishedMessages = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_amqp_published_messages_total",
				Help: "Total number of messages published to AMQP",
			},
			[]string{"queue", "status"},
		)

		AMQPConnectionErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_amqp_connection_errors_total",
				Help: "Total number of AMQP connection errors",
			},
			[]string{"error_type"},
		)

		AMQPReconnectAttempts = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchdog_amqp_reconnect_attempts_total",
				Help: "Total number of AMQP reconnection attempts",
			},
			[]string{"status"},
		)

		AMQPConnectionStatus = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "watchdog_amqp_connection_status",
				Help: "Status of AMQP connection (1 = connected, 0 = disconnected)",
			},
		)

		// Register all metrics
		registry.MustRegister(
			// Session metrics
			SessionsActive,
			SessionsStarted,
			SessionsStopped,
			SessionDuration,
			SessionRejections,

			// Tick metrics
			AudioTicksTotal,
			PatternTicksTotal,
			TickLatency,

			// Detector metrics
			DetectorRuns,
			DetectorErrors,
			DetectorLatency,
			ViolationsFound,

			// Scoring metrics
			RiskScoreDistribution,
			SessionStatusChanges,

			// Alert metrics
			AlertsCreated,
			AlertsResolved,
			FastPathAlerts,

			// Escalation metrics
			EscalationActions,

			// Threshold metrics
			AlertThreshold,
			ThresholdAdjustments,
			FeedbackReceived,

			// AMQP metrics
			AMQPPublishedMessages,
			AMQPConnectionErrors,
			AMQPReconnectAttempts,
			AMQPConnectionStatus,
		)

		logger.Info("Prometheus metrics initialized")
	})
}

// GetRegistry returns the prometheus registry
func GetRegistry() *prometheus.Registry {
	return registry
}

// SetMetricsPath sets the HTTP path for metrics endpoint
func SetMetricsPath(path string) {
	defaultMetricsPath = path
}

// EnableMetrics enables or disables metrics collection
func EnableMetrics(enabled bool) {
	metricsEnabled = enabled
}

// IsMetricsEnabled returns whether metrics are enabled
func IsMetricsEnabled() bool {
	return metricsEnabled
}

// RegisterHandler registers the metrics HTTP handler
func RegisterHandler(mux *http.ServeMux) {
	if metricsEnabled {
		handler := promhttp.HandlerFor(
			registry,
			promhttp.HandlerOpts{
				EnableOpenMetrics: true,
				Registry:          registry,
			},
		)
		mux.Handle(defaultMetricsPath, handler)
	}
}

// StartMetrics initializes the metrics service
func StartMetrics(logger *logrus.Logger, enabled bool) {
	if !enabled {
		EnableMetrics(false)
		logger.Info("Metrics collection is disabled")
		return
	}

	Init(logger)
	EnableMetrics(true)
	logger.WithField("metrics_path", defaultMetricsPath).Info("Metrics endpoint initialized")
}
