package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	once sync.Once

	cacheHits = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "cache_hits_total",
		Help:      "Cache reads served without a network call.",
	})

	cacheMisses = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "cache_misses_total",
		Help:      "Cache reads that missed or hit an expired entry.",
	})

	cacheEvictions = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "cache_evictions_total",
		Help:      "Entries removed by TTL or capacity cleanup.",
	})

	queueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncline",
		Name:      "queue_pending",
		Help:      "Mutations waiting in the active sync queue.",
	})

	queueDrains = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "queue_drains_total",
		Help:      "Completed drain passes.",
	})

	deadLetters = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "queue_dead_letters_total",
		Help:      "Mutations moved to the dead-letter store.",
	})

	requestErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "request_errors_total",
		Help:      "Classified request failures by error class.",
	}, []string{"class"})

	syncRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncline",
		Name:      "full_sync_runs_total",
		Help:      "Full sync runs by terminal status.",
	}, []string{"status"})

	syncDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "syncline",
		Name:      "full_sync_duration_seconds",
		Help:      "Wall time of complete full sync runs.",
		Buckets:   prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)

// Register registers all collectors. Safe to call multiple times.
func Register() {
	once.Do(func() {
		prometheus.MustRegister(
			cacheHits, cacheMisses, cacheEvictions,
			queueDepth, queueDrains, deadLetters,
			requestErrors, syncRuns, syncDuration,
		)
	})
}

func IncCacheHit()  { cacheHits.Inc() }
func IncCacheMiss() { cacheMisses.Inc() }

func AddCacheEvictions(n int) { cacheEvictions.Add(float64(n)) }

func SetQueueDepth(n int) { queueDepth.Set(float64(n)) }
func IncQueueDrain()      { queueDrains.Inc() }
func IncDeadLetter()      { deadLetters.Inc() }

func IncRequestError(cls string) { requestErrors.WithLabelValues(cls).Inc() }

// ObserveSyncRun records one full-sync run outcome.
func ObserveSyncRun(status string, seconds float64) {
	syncRuns.WithLabelValues(status).Inc()
	syncDuration.Observe(seconds)
}
