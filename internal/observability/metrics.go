package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	StoreUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeder_store_updates_total",
		Help: "Field updates handled by the engine, by field and result",
	}, []string{"field", "result"})
	StoreRewriteLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "feeder_store_rewrite_seconds",
		Help:    "Time spent writing and replacing the store file",
		Buckets: prometheus.DefBuckets,
	})
	FeedBatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeder_feed_batches_total",
		Help: "Non-empty batches received, by feed",
	}, []string{"feed"})
	FeedRecords = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeder_feed_records_total",
		Help: "Records received, by feed",
	}, []string{"feed"})
	FeedErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeder_feed_errors_total",
		Help: "Errors reported to feed handlers, by feed",
	}, []string{"feed"})
	SeedVehicles = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "feeder_seed_vehicles",
		Help: "Vehicles in the most recent snapshot",
	})
	SeedLookupErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feeder_seed_lookup_errors_total",
		Help: "Per-vehicle lookups that failed during a snapshot, by type",
	}, []string{"type"})
	PollCycles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feeder_poll_cycles_total",
		Help: "Completed poll cycles",
	})
	PollErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feeder_poll_errors_total",
		Help: "Poll cycles that failed",
	})
	MirrorErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feeder_mirror_errors_total",
		Help: "Errors publishing rows to the Redis mirror",
	})
)

func ObserveRewriteLatency(start time.Time) {
	StoreRewriteLatency.Observe(time.Since(start).Seconds())
}

// MetricsHandler serves /metrics and /healthz.
func MetricsHandler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	return mux
}

// NewMetricsServer returns an unstarted server for MetricsHandler on port.
func NewMetricsServer(port string) *http.Server {
	return &http.Server{
		Addr:              ":" + port,
		Handler:           MetricsHandler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}
