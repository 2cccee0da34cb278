package metrics

import (
	"database/sql"
	"log"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	resultSuccess = "success"
	resultError   = "error"

	pushDelivered = "delivered"
	pushDropped   = "dropped"
	pushFailed    = "failed"
)

var (
	registerOnce sync.Once

	incidentsTotal     *prometheus.CounterVec
	incidentEvents     *prometheus.CounterVec
	incidentRejections *prometheus.CounterVec
	incidentMTTA       prometheus.Histogram
	incidentMTTR       prometheus.Histogram
	autoAssignTotal    *prometheus.CounterVec

	ingestRequests *prometheus.CounterVec
	ingestErrors   *prometheus.CounterVec
	ingestLatency  *prometheus.HistogramVec

	notificationsSent   *prometheus.CounterVec
	notificationPushes  *prometheus.CounterVec
	hubConnections      prometheus.Gauge
	escalationsTotal    prometheus.Counter
	relayPublishFailure prometheus.Counter

	consumerLag *prometheus.GaugeVec

	outboxPublishTotal    *prometheus.CounterVec
	outboxPublishLatency  *prometheus.HistogramVec
	outboxDispatchTotal   *prometheus.CounterVec
	outboxDispatchLatency *prometheus.HistogramVec
	outboxDispatchRecords *prometheus.CounterVec

	exportTotal   *prometheus.CounterVec
	exportLatency *prometheus.HistogramVec
)

// Init registers observability metrics and DB-backed gauges.
func Init(db *sql.DB, logger *log.Logger) {
	registerOnce.Do(func() {
		incidentsTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incidents_total",
				Help: "Total incidents created",
			},
			[]string{"severity"},
		)
		incidentEvents = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_events_total",
				Help: "Total accepted incident lifecycle events by type",
			},
			[]string{"event"},
		)
		incidentRejections = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_rejections_total",
				Help: "Total rejected incident mutations by action and reason",
			},
			[]string{"action", "reason"},
		)
		incidentMTTA = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "incident_mtta_seconds",
				Help:    "Mean Time To Acknowledge",
				Buckets: []float64{5, 10, 30, 60, 300, 600},
			},
		)
		incidentMTTR = prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "incident_mttr_seconds",
				Help:    "Mean Time To Resolve",
				Buckets: []float64{60, 300, 600, 1800, 3600, 7200},
			},
		)
		autoAssignTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_auto_assign_total",
				Help: "Total auto-assignment attempts by result",
			},
			[]string{"result"},
		)

		ingestRequests = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alerts_received_total",
				Help: "Total alerts received by source and result",
			},
			[]string{"source", "result"},
		)
		ingestErrors = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alert_ingest_errors_total",
				Help: "Total alert ingest errors by reason",
			},
			[]string{"reason"},
		)
		ingestLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "alert_ingest_latency_seconds",
				Help:    "Alert ingest latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"source"},
		)

		notificationsSent = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_sent_total",
				Help: "Total notifications persisted by type",
			},
			[]string{"type"},
		)
		notificationPushes = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "notifications_delivered_total",
				Help: "Live notification pushes by result",
			},
			[]string{"result"},
		)
		hubConnections = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "notification_hub_connections",
				Help: "Registered live notification connections",
			},
		)
		escalationsTotal = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "escalations_total",
				Help: "Total escalations",
			},
		)
		relayPublishFailure = prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "notification_relay_publish_failures_total",
				Help: "Cross-instance relay publishes that fell back to local delivery",
			},
		)

		consumerLag = prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "event_consumer_lag_seconds",
				Help: "Consumer processing lag in seconds",
			},
			[]string{"consumer"},
		)

		outboxPublishTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_outbox_publish_total",
				Help: "Total outbox writes by result",
			},
			[]string{"result"},
		)
		outboxPublishLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "event_outbox_publish_latency_seconds",
				Help:    "Outbox write latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_outbox_dispatch_total",
				Help: "Total outbox dispatch runs by result",
			},
			[]string{"result"},
		)
		outboxDispatchLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "event_outbox_dispatch_latency_seconds",
				Help:    "Outbox dispatch run latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"result"},
		)
		outboxDispatchRecords = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "event_outbox_records_total",
				Help: "Outbox records processed by outcome",
			},
			[]string{"outcome"},
		)

		exportTotal = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "incident_export_total",
				Help: "Total incident exports by format and result",
			},
			[]string{"format", "result"},
		)
		exportLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "incident_export_latency_seconds",
				Help:    "Incident export latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"format", "result"},
		)

		prometheus.MustRegister(
			incidentsTotal,
			incidentEvents,
			incidentRejections,
			incidentMTTA,
			incidentMTTR,
			autoAssignTotal,
			ingestRequests,
			ingestErrors,
			ingestLatency,
			notificationsSent,
			notificationPushes,
			hubConnections,
			escalationsTotal,
			relayPublishFailure,
			consumerLag,
			outboxPublishTotal,
			outboxPublishLatency,
			outboxDispatchTotal,
			outboxDispatchLatency,
			outboxDispatchRecords,
			exportTotal,
			exportLatency,
		)

		if db != nil {
			registerDBMetrics(db, logger)
		}
	})
}

// IncIncidentCreated increments the created counter for a severity.
func IncIncidentCreated(severity string) {
	if severity == "" {
		severity = "unknown"
	}
	if incidentsTotal != nil {
		incidentsTotal.WithLabelValues(severity).Inc()
	}
}

// IncIncidentEvent increments incident lifecycle counters.
func IncIncidentEvent(event string) {
	if event == "" {
		event = "unknown"
	}
	if incidentEvents != nil {
		incidentEvents.WithLabelValues(event).Inc()
	}
}

// IncIncidentRejection counts a refused mutation.
func IncIncidentRejection(action, reason string) {
	if action == "" {
		action = "unknown"
	}
	if reason == "" {
		reason = "unknown"
	}
	if incidentRejections != nil {
		incidentRejections.WithLabelValues(action, reason).Inc()
	}
}

// ObserveAcknowledge records time to acknowledge in seconds.
func ObserveAcknowledge(seconds int64) {
	if seconds < 0 || incidentMTTA == nil {
		return
	}
	incidentMTTA.Observe(float64(seconds))
}

// ObserveResolve records time to resolve in seconds.
func ObserveResolve(seconds int64) {
	if seconds < 0 || incidentMTTR == nil {
		return
	}
	incidentMTTR.Observe(float64(seconds))
}

// IncAutoAssign counts auto-assignment outcomes.
func IncAutoAssign(result string) {
	if result == "" {
		result = "unknown"
	}
	if autoAssignTotal != nil {
		autoAssignTotal.WithLabelValues(result).Inc()
	}
}

// ObserveIngest records alert ingest duration and result.
func ObserveIngest(source, result string, duration time.Duration) {
	if source == "" {
		source = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if ingestRequests != nil {
		ingestRequests.WithLabelValues(source, result).Inc()
	}
	if ingestLatency != nil {
		ingestLatency.WithLabelValues(source).Observe(duration.Seconds())
	}
}

// IncIngestError increments ingest error counter.
func IncIngestError(reason string) {
	if reason == "" {
		reason = "unknown"
	}
	if ingestErrors != nil {
		ingestErrors.WithLabelValues(reason).Inc()
	}
}

// IncNotificationSent counts a persisted notification.
func IncNotificationSent(notificationType string) {
	if notificationType == "" {
		notificationType = "unknown"
	}
	if notificationsSent != nil {
		notificationsSent.WithLabelValues(notificationType).Inc()
	}
}

// IncPush counts one live push outcome.
func IncPush(result string) {
	if result == "" {
		result = pushFailed
	}
	if notificationPushes != nil {
		notificationPushes.WithLabelValues(result).Inc()
	}
}

// SetHubConnections sets the live connection gauge.
func SetHubConnections(count int) {
	if count < 0 {
		count = 0
	}
	if hubConnections != nil {
		hubConnections.Set(float64(count))
	}
}

// IncEscalation counts an escalation page.
func IncEscalation() {
	if escalationsTotal != nil {
		escalationsTotal.Inc()
	}
}

// IncRelayFallback counts relay publishes that fell back to local delivery.
func IncRelayFallback() {
	if relayPublishFailure != nil {
		relayPublishFailure.Inc()
	}
}

// ObserveConsumerLag sets consumer lag in seconds.
func ObserveConsumerLag(consumer string, lag time.Duration) {
	if consumer == "" {
		consumer = "unknown"
	}
	if lag < 0 {
		lag = 0
	}
	if consumerLag != nil {
		consumerLag.WithLabelValues(consumer).Set(lag.Seconds())
	}
}

// ObserveOutboxPublish records an outbox write.
func ObserveOutboxPublish(result string, duration time.Duration) {
	if result == "" {
		result = resultSuccess
	}
	if outboxPublishTotal != nil {
		outboxPublishTotal.WithLabelValues(result).Inc()
	}
	if outboxPublishLatency != nil {
		outboxPublishLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
}

// ObserveOutboxDispatch records one dispatch run and its record outcomes.
func ObserveOutboxDispatch(result string, duration time.Duration, sent, failed, dlq int) {
	if result == "" {
		result = resultSuccess
	}
	if outboxDispatchTotal != nil {
		outboxDispatchTotal.WithLabelValues(result).Inc()
	}
	if outboxDispatchLatency != nil {
		outboxDispatchLatency.WithLabelValues(result).Observe(duration.Seconds())
	}
	if outboxDispatchRecords == nil {
		return
	}
	if sent > 0 {
		outboxDispatchRecords.WithLabelValues("sent").Add(float64(sent))
	}
	if failed > 0 {
		outboxDispatchRecords.WithLabelValues("failed").Add(float64(failed))
	}
	if dlq > 0 {
		outboxDispatchRecords.WithLabelValues("dlq").Add(float64(dlq))
	}
}

// ObserveExport records export latency and result.
func ObserveExport(format, result string, duration time.Duration) {
	if format == "" {
		format = "unknown"
	}
	if result == "" {
		result = resultSuccess
	}
	if exportTotal != nil {
		exportTotal.WithLabelValues(format, result).Inc()
	}
	if exportLatency != nil {
		exportLatency.WithLabelValues(format, result).Observe(duration.Seconds())
	}
}

// Exported constants for callers.
const (
	ResultSuccess = resultSuccess
	ResultError   = resultError

	PushDelivered = pushDelivered
	PushDropped   = pushDropped
	PushFailed    = pushFailed
)
