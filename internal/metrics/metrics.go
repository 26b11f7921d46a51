// Package metrics exposes the engine's Prometheus instrumentation. All
// collectors are registered on a private registry so tests can scan
// repeatedly without duplicate-registration panics, and Serve only starts a
// listener when an address is configured.
package metrics

import (
	"log"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var registry = prometheus.NewRegistry()

var (
	// ItemsTotal counts ledgered items by phase and terminal decision.
	ItemsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "items_total",
		Help:      "Raw items observed during scans, by phase and decision.",
	}, []string{"phase", "decision"})

	// ReasonsTotal counts ledgered items by reason code.
	ReasonsTotal = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "item_reasons_total",
		Help:      "Raw items observed during scans, by ledger reason code.",
	}, []string{"reason"})

	// ScanDuration observes wall time per completed scan.
	ScanDuration = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalogsync",
		Name:      "scan_duration_seconds",
		Help:      "Wall-clock duration of completed scans.",
		Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
	})

	// PhasesActive tracks how many phase tasks currently hold a permit.
	PhasesActive = promauto.With(registry).NewGauge(prometheus.GaugeOpts{
		Namespace: "catalogsync",
		Name:      "phases_active",
		Help:      "Phase scan tasks currently running.",
	})

	// BatchCommits counts persistence batches flushed to the store.
	BatchCommits = promauto.With(registry).NewCounter(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "batch_commits_total",
		Help:      "Persistence batches committed to the catalog store.",
	})

	// BatchSize observes the item count of each committed batch.
	BatchSize = promauto.With(registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: "catalogsync",
		Name:      "batch_size_items",
		Help:      "Items per committed persistence batch.",
		Buckets:   []float64{1, 10, 50, 100, 250, 500, 1000},
	})

	// PreflightFailures counts failed source probes by classification.
	PreflightFailures = promauto.With(registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: "catalogsync",
		Name:      "preflight_failures_total",
		Help:      "Failed source preflight probes, by failure class.",
	}, []string{"source", "class"})
)

// Serve starts the /metrics listener when addr is non-empty. Runs in its own
// goroutine; listener failures are logged, not fatal, since metrics are an
// optional surface.
func Serve(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Printf("metrics: listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics: listener stopped: %v", err)
		}
	}()
}
