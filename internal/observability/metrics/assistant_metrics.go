package metrics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	JobReasonDeadlineExceeded     = "deadline_exceeded"
	JobReasonDBLockTimeout        = "db_lock_timeout"
	JobReasonSerializationFailure = "serialization_failure"
	JobReasonUniqueViolation      = "unique_violation"
	JobReasonPartitionUnavailable = "partition_unavailable"
	JobReasonUnknown              = "unknown"
)

const (
	OracleClassifier = "classifier"
	OracleEmbedder   = "embedder"
)

// Breaker state gauge values.
const (
	BreakerClosed   = 0
	BreakerHalfOpen = 1
	BreakerOpen     = 2
)

// AssistantMetrics captures the chat pipeline health signals scraped from /metrics.
type AssistantMetrics struct {
	intents          *prometheus.CounterVec
	dispatch         *prometheus.CounterVec
	oracleDuration   *prometheus.HistogramVec
	retrievalSize    prometheus.Histogram
	retrievalCache   *prometheus.CounterVec
	retrievalDegrade *prometheus.CounterVec
	breakerState     *prometheus.GaugeVec
	breakerTrips     *prometheus.CounterVec
	writeRetries     *prometheus.CounterVec
	cleanupPending   prometheus.Counter
	indexProducts    prometheus.Gauge
	jobRuns          *prometheus.CounterVec
	jobDuration      *prometheus.HistogramVec
	jobTimeouts      *prometheus.CounterVec
	jobErrors        *prometheus.CounterVec
	batchProcessed   *prometheus.CounterVec
}

var (
	assistantMetricsOnce sync.Once
	assistantMetrics     *AssistantMetrics
)

// Assistant returns the singleton assistant metrics registry.
func Assistant() *AssistantMetrics {
	return AssistantWithConfig(Config{})
}

// AssistantWithConfig returns the singleton assistant metrics registry using config labels.
func AssistantWithConfig(cfg Config) *AssistantMetrics {
	assistantMetricsOnce.Do(func() {
		assistantMetrics = newAssistantMetrics(prometheus.DefaultRegisterer, cfg)
	})
	return assistantMetrics
}

// ResetAssistantMetricsForTest resets the singleton for tests.
func ResetAssistantMetricsForTest() {
	assistantMetricsOnce = sync.Once{}
	assistantMetrics = nil
}

// NewAssistantMetricsForTest builds an unshared instance on the given registry.
func NewAssistantMetricsForTest(registerer prometheus.Registerer) *AssistantMetrics {
	return newAssistantMetrics(registerer, Config{ServiceName: "shopassist", Environment: "test"})
}

func newAssistantMetrics(registerer prometheus.Registerer, cfg Config) *AssistantMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	serviceName := strings.TrimSpace(cfg.ServiceName)
	if serviceName == "" {
		serviceName = "shopassist"
	}
	environment := strings.TrimSpace(cfg.Environment)
	if environment == "" {
		environment = "unknown"
	}
	constLabels := prometheus.Labels{
		"service": serviceName,
		"env":     environment,
	}

	m := &AssistantMetrics{
		intents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_intent_classifications_total",
			Help:        "Classified intents by kind and fallback reason.",
			ConstLabels: constLabels,
		}, []string{"intent", "fallback"}),
		dispatch: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_dispatch_outcomes_total",
			Help:        "Dispatcher outcomes by intent.",
			ConstLabels: constLabels,
		}, []string{"intent", "outcome"}),
		oracleDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "shopassist_oracle_duration_seconds",
			Help:        "Latency of external oracle calls.",
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
			ConstLabels: constLabels,
		}, []string{"oracle", "result"}),
		retrievalSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "shopassist_retrieval_results",
			Help:        "Products returned per retrieval after the similarity cutoff.",
			Buckets:     []float64{0, 1, 2, 3, 5, 8, 13},
			ConstLabels: constLabels,
		}),
		retrievalCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_retrieval_cache_total",
			Help:        "Retrieval cache lookups by result.",
			ConstLabels: constLabels,
		}, []string{"result"}),
		retrievalDegrade: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_retrieval_degraded_total",
			Help:        "Retrievals answered with an empty context because of a failure.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name:        "shopassist_partition_breaker_state",
			Help:        "Partition circuit breaker state (0 closed, 1 half-open, 2 open).",
			ConstLabels: constLabels,
		}, []string{"partition"}),
		breakerTrips: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_partition_breaker_trips_total",
			Help:        "Partition circuit breaker trips.",
			ConstLabels: constLabels,
		}, []string{"partition", "reason"}),
		writeRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_write_retries_total",
			Help:        "Automatic write retries after a transient failure.",
			ConstLabels: constLabels,
		}, []string{"operation"}),
		cleanupPending: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "shopassist_checkout_cleanup_pending_total",
			Help:        "Checkouts whose cart archive step was left to the sweeper.",
			ConstLabels: constLabels,
		}),
		indexProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "shopassist_product_index_size",
			Help:        "Products in the active index snapshot.",
			ConstLabels: constLabels,
		}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_scheduler_job_runs_total",
			Help:        "Scheduler job runs by name.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "shopassist_scheduler_job_duration_seconds",
			Help:        "Scheduler job latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobTimeouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_scheduler_job_timeouts_total",
			Help:        "Scheduler job timeouts.",
			ConstLabels: constLabels,
		}, []string{"job"}),
		jobErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_scheduler_job_errors_total",
			Help:        "Scheduler job errors by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"job", "reason"}),
		batchProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "shopassist_scheduler_batch_processed_total",
			Help:        "Scheduler items processed by job and resource.",
			ConstLabels: constLabels,
		}, []string{"job", "resource"}),
	}

	registerer.MustRegister(
		m.intents,
		m.dispatch,
		m.oracleDuration,
		m.retrievalSize,
		m.retrievalCache,
		m.retrievalDegrade,
		m.breakerState,
		m.breakerTrips,
		m.writeRetries,
		m.cleanupPending,
		m.indexProducts,
		m.jobRuns,
		m.jobDuration,
		m.jobTimeouts,
		m.jobErrors,
		m.batchProcessed,
	)
	return m
}

func (m *AssistantMetrics) IncIntent(intent, fallback string) {
	if m == nil {
		return
	}
	if fallback == "" {
		fallback = "none"
	}
	m.intents.WithLabelValues(intent, fallback).Inc()
}

func (m *AssistantMetrics) IncDispatch(intent, outcome string) {
	if m == nil {
		return
	}
	m.dispatch.WithLabelValues(intent, outcome).Inc()
}

func (m *AssistantMetrics) ObserveOracle(oracle string, duration time.Duration, err error) {
	if m == nil {
		return
	}
	result := "ok"
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		result = "timeout"
	case err != nil:
		result = "error"
	}
	m.oracleDuration.WithLabelValues(oracle, result).Observe(duration.Seconds())
}

func (m *AssistantMetrics) ObserveRetrieval(results int) {
	if m == nil {
		return
	}
	m.retrievalSize.Observe(float64(results))
}

func (m *AssistantMetrics) IncRetrievalCache(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.retrievalCache.WithLabelValues(result).Inc()
}

func (m *AssistantMetrics) IncRetrievalDegraded(reason string) {
	if m == nil {
		return
	}
	m.retrievalDegrade.WithLabelValues(reason).Inc()
}

func (m *AssistantMetrics) SetBreakerState(partition string, state int) {
	if m == nil {
		return
	}
	m.breakerState.WithLabelValues(partition).Set(float64(state))
}

func (m *AssistantMetrics) IncBreakerTrip(partition, reason string) {
	if m == nil {
		return
	}
	m.breakerTrips.WithLabelValues(partition, reason).Inc()
}

func (m *AssistantMetrics) IncWriteRetry(operation string) {
	if m == nil {
		return
	}
	m.writeRetries.WithLabelValues(operation).Inc()
}

func (m *AssistantMetrics) IncCleanupPending() {
	if m == nil {
		return
	}
	m.cleanupPending.Inc()
}

func (m *AssistantMetrics) SetIndexSize(n int) {
	if m == nil {
		return
	}
	m.indexProducts.Set(float64(n))
}

func (m *AssistantMetrics) IncJobRun(job string) {
	if m == nil {
		return
	}
	m.jobRuns.WithLabelValues(job).Inc()
}

func (m *AssistantMetrics) ObserveJobDuration(job string, duration time.Duration) {
	if m == nil {
		return
	}
	m.jobDuration.WithLabelValues(job).Observe(duration.Seconds())
}

func (m *AssistantMetrics) IncJobTimeout(job string) {
	if m == nil {
		return
	}
	m.jobTimeouts.WithLabelValues(job).Inc()
}

func (m *AssistantMetrics) IncJobError(job string, err error) {
	if m == nil {
		return
	}
	m.jobErrors.WithLabelValues(job, ClassifyJobReason(err)).Inc()
}

func (m *AssistantMetrics) AddBatchProcessed(job, resource string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.batchProcessed.WithLabelValues(job, resource).Add(float64(n))
}

// Matched by message: resilience imports this package.
const partitionUnavailableCode = "partition_unavailable"

// ClassifyJobReason maps job errors to low-cardinality reasons.
func ClassifyJobReason(err error) string {
	if err == nil {
		return JobReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return JobReasonDeadlineExceeded
	}
	if hasPGCode(err, "55P03") {
		return JobReasonDBLockTimeout
	}
	if hasPGCode(err, "40001") {
		return JobReasonSerializationFailure
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, "23505") {
		return JobReasonUniqueViolation
	}
	if strings.Contains(err.Error(), partitionUnavailableCode) {
		return JobReasonPartitionUnavailable
	}
	return JobReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
