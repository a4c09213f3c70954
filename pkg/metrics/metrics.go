package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the Prometheus-backed instrumentation surface for pkg/remote.
// A nil *Metrics is valid: every method is a no-op, so components can hold
// one unconditionally and skip an IsEnabled check at every call site.
type Metrics struct {
	transferBytes    *prometheus.CounterVec
	transferDuration *prometheus.HistogramVec
	transferRetries  *prometheus.CounterVec
	batchJobDuration *prometheus.HistogramVec
	batchItems       *prometheus.CounterVec
	longPollDuration *prometheus.HistogramVec
	longPollBackoffs prometheus.Counter
	errorsByKind     *prometheus.CounterVec
}

func newMetrics(reg *prometheus.Registry) *Metrics {
	return &Metrics{
		transferBytes: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestral_transfer_bytes_total",
				Help: "Total bytes transferred, by direction",
			},
			[]string{"direction"}, // "download", "upload"
		),
		transferDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "maestral_transfer_duration_seconds",
				Help: "Duration of a single download or upload call",
				Buckets: []float64{
					0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300,
				},
			},
			[]string{"direction"},
		),
		transferRetries: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestral_transfer_retries_total",
				Help: "Total transfer retry attempts, by direction and reason",
			},
			[]string{"direction", "reason"}, // reason: "data_corruption", "offset_correction"
		),
		batchJobDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "maestral_batch_job_duration_seconds",
				Help: "Duration of a batched create/delete job, including polling",
				Buckets: []float64{
					0.1, 0.5, 1, 5, 10, 30, 60, 300,
				},
			},
			[]string{"op"}, // "create_dirs", "delete"
		),
		batchItems: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestral_batch_items_total",
				Help: "Total items submitted to a batch operation, by outcome",
			},
			[]string{"op", "outcome"}, // outcome: "success", "failure"
		),
		longPollDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "maestral_longpoll_duration_seconds",
				Help: "Duration of a WaitForChanges long-poll call",
				Buckets: []float64{
					1, 5, 15, 30, 60, 120, 300, 480,
				},
			},
			[]string{"result"}, // "changes", "timeout"
		),
		longPollBackoffs: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "maestral_longpoll_backoffs_total",
				Help: "Total times the long-poll honored a server-directed backoff",
			},
		),
		errorsByKind: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "maestral_errors_total",
				Help: "Total mapped errors, by ErrorKind",
			},
			[]string{"kind"},
		),
	}
}

// ObserveTransfer records one completed download or upload.
func (m *Metrics) ObserveTransfer(direction string, bytes int64, duration time.Duration) {
	if m == nil {
		return
	}
	m.transferBytes.WithLabelValues(direction).Add(float64(bytes))
	m.transferDuration.WithLabelValues(direction).Observe(duration.Seconds())
}

// ObserveTransferRetry records one transfer retry attempt.
func (m *Metrics) ObserveTransferRetry(direction, reason string) {
	if m == nil {
		return
	}
	m.transferRetries.WithLabelValues(direction, reason).Inc()
}

// ObserveBatchJob records one completed batch operation (all chunks).
func (m *Metrics) ObserveBatchJob(op string, duration time.Duration, succeeded, failed int) {
	if m == nil {
		return
	}
	m.batchJobDuration.WithLabelValues(op).Observe(duration.Seconds())
	if succeeded > 0 {
		m.batchItems.WithLabelValues(op, "success").Add(float64(succeeded))
	}
	if failed > 0 {
		m.batchItems.WithLabelValues(op, "failure").Add(float64(failed))
	}
}

// ObserveLongPoll records one completed WaitForChanges call.
func (m *Metrics) ObserveLongPoll(changed bool, duration time.Duration) {
	if m == nil {
		return
	}
	result := "timeout"
	if changed {
		result = "changes"
	}
	m.longPollDuration.WithLabelValues(result).Observe(duration.Seconds())
}

// ObserveLongPollBackoff records one server-directed long-poll backoff.
func (m *Metrics) ObserveLongPollBackoff() {
	if m == nil {
		return
	}
	m.longPollBackoffs.Inc()
}

// ObserveError records one mapped error, by its ErrorKind string.
func (m *Metrics) ObserveError(kind string) {
	if m == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}
