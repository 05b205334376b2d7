package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shellcache_requests_total",
		Help: "Requests served, labeled by cache result",
	}, []string{"result"})

	originRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shellcache_origin_request_duration_seconds",
		Help:    "Time taken to fetch a response from the origin",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	})

	originErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shellcache_origin_errors_total",
		Help: "Origin fetches that failed outright",
	})

	storeWriteFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shellcache_store_write_failures_total",
		Help: "Cache store writes that failed",
	})

	installsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shellcache_installs_total",
		Help: "Shell install runs, labeled by result",
	}, []string{"result"})

	installDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shellcache_install_duration_seconds",
		Help:    "Time taken to populate a shell cache store",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
	})

	installAssetFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shellcache_install_asset_failures_total",
		Help: "Shell assets that could not be cached during install",
	})

	activationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shellcache_activations_total",
		Help: "Cache version activations",
	})

	storesPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shellcache_stores_pruned_total",
		Help: "Stale cache stores deleted during activation",
	})
)

// IncRequest counts one proxied request. Result is hit, miss or bypass.
func IncRequest(result string) {
	requestsTotal.WithLabelValues(result).Inc()
}

// ObserveOriginRequest records the duration of one origin fetch.
func ObserveOriginRequest(d time.Duration) {
	originRequestDuration.Observe(d.Seconds())
}

// IncOriginError counts one failed origin fetch.
func IncOriginError() {
	originErrorsTotal.Inc()
}

// IncStoreWriteFailure counts one failed cache store write.
func IncStoreWriteFailure() {
	storeWriteFailuresTotal.Inc()
}

// IncInstall counts one install run.
func IncInstall(success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	installsTotal.WithLabelValues(result).Inc()
}

// ObserveInstallDuration records the duration of one install run.
func ObserveInstallDuration(d time.Duration) {
	installDuration.Observe(d.Seconds())
}

// AddInstallAssetFailures counts assets that failed during an install run.
func AddInstallAssetFailures(n int) {
	installAssetFailuresTotal.Add(float64(n))
}

// IncActivation counts one cache version activation.
func IncActivation() {
	activationsTotal.Inc()
}

// AddStoresPruned counts stores deleted during an activation.
func AddStoresPruned(n int) {
	storesPrunedTotal.Add(float64(n))
}
