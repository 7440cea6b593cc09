package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const metricNamespace = "percona_docbridge"

// Translation metrics.
var (
	//nolint:gochecknoglobals
	translationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "translations_total",
		Help:      "Total number of built query plans.",
		Namespace: metricNamespace,
	}, []string{"dialect"})

	//nolint:gochecknoglobals
	translationErrorsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "translation_errors_total",
		Help:      "Total number of rejected filters and pipelines.",
		Namespace: metricNamespace,
	}, []string{"code"})
)

// Transaction metrics.
var (
	//nolint:gochecknoglobals
	transactionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "transactions_total",
		Help:      "Total number of finished transactions by outcome.",
		Namespace: metricNamespace,
	}, []string{"outcome"})

	//nolint:gochecknoglobals
	transactionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name:      "transactions_active",
		Help:      "Number of transactions in a non-terminal state.",
		Namespace: metricNamespace,
	})

	//nolint:gochecknoglobals
	inconsistenciesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name:      "inconsistencies_total",
		Help:      "Total number of failed compensations that need operator attention.",
		Namespace: metricNamespace,
	})
)

// Synchronization metrics.
var (
	//nolint:gochecknoglobals
	eventsReadTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "sync_events_read_total",
		Help:      "Total number of change events read from the source.",
		Namespace: metricNamespace,
	}, []string{"collection"})

	//nolint:gochecknoglobals
	eventsAppliedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "sync_events_applied_total",
		Help:      "Total number of change events applied to the target.",
		Namespace: metricNamespace,
	}, []string{"collection"})

	//nolint:gochecknoglobals
	batchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "sync_batches_total",
		Help:      "Total number of replayed batches by result.",
		Namespace: metricNamespace,
	}, []string{"collection", "result"})

	//nolint:gochecknoglobals
	deadLettersTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "sync_dead_letters_total",
		Help:      "Total number of dead-lettered events.",
		Namespace: metricNamespace,
	}, []string{"collection"})

	//nolint:gochecknoglobals
	batchSize = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "sync_batch_size",
		Help:      "Number of events per replayed batch.",
		Namespace: metricNamespace,
		Buckets:   []float64{1, 5, 10, 50, 100, 250, 500, 1000, 5000},
	}, []string{"collection"})

	//nolint:gochecknoglobals
	replayDurationSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:      "sync_replay_duration_seconds",
		Help:      "Duration of batch replays including retries in seconds.",
		Namespace: metricNamespace,
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"collection"})

	//nolint:gochecknoglobals
	lagTimeSeconds = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "sync_lag_time_seconds",
		Help:      "Lag between the last applied cluster time and now in seconds.",
		Namespace: metricNamespace,
	}, []string{"collection"})
)

// Init initializes and registers the metrics.
func Init(reg prometheus.Registerer) {
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{
		Namespace: metricNamespace,
	}))

	reg.MustRegister(
		translationsTotal,
		translationErrorsTotal,

		transactionsTotal,
		transactionsActive,
		inconsistenciesTotal,

		eventsReadTotal,
		eventsAppliedTotal,
		batchesTotal,
		deadLettersTotal,
		batchSize,
		replayDurationSeconds,
		lagTimeSeconds,
	)
}

// IncTranslations increments the built plans counter.
func IncTranslations(dialect string) {
	translationsTotal.WithLabelValues(dialect).Inc()
}

// IncTranslationErrors increments the rejected translations counter.
func IncTranslationErrors(code string) {
	translationErrorsTotal.WithLabelValues(code).Inc()
}

// IncTransactions increments the finished transactions counter.
func IncTransactions(outcome string) {
	transactionsTotal.WithLabelValues(outcome).Inc()
}

// SetTransactionsActive sets the number of live transactions.
func SetTransactionsActive(n int) {
	transactionsActive.Set(float64(n))
}

// IncInconsistencies increments the failed compensations counter.
func IncInconsistencies() {
	inconsistenciesTotal.Inc()
}

// IncEventsRead increments the read events counter.
func IncEventsRead(coll string) {
	eventsReadTotal.WithLabelValues(coll).Inc()
}

// ObserveBatch records one processed batch.
func ObserveBatch(coll string, size int, failed bool, dur time.Duration) {
	result := "ok"
	if failed {
		result = "failed"
		deadLettersTotal.WithLabelValues(coll).Add(float64(size))
	} else {
		eventsAppliedTotal.WithLabelValues(coll).Add(float64(size))
	}

	batchesTotal.WithLabelValues(coll, result).Inc()
	batchSize.WithLabelValues(coll).Observe(float64(size))
	replayDurationSeconds.WithLabelValues(coll).Observe(dur.Seconds())
}

// SetLagTimeSeconds sets the replication lag gauge.
func SetLagTimeSeconds(coll string, v uint32) {
	lagTimeSeconds.WithLabelValues(coll).Set(float64(v))
}
