// Package metrics exposes Prometheus collectors for the transcript crawler.
package metrics

import (
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	videosTotal                *prometheus.CounterVec
	strategyAttemptsTotal      *prometheus.CounterVec
	strategyDurationSeconds    *prometheus.HistogramVec
	interJobDelaySeconds       prometheus.Histogram
	artifactBytesTotal         prometheus.Counter
	discoveredVideosTotal      prometheus.Counter
	frontierPending            prometheus.Gauge
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init registers the collectors on the package registry.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		registry = prometheus.NewRegistry()
		registry.MustRegister(collectors.NewGoCollector())
		factory := promauto.With(registry)

		videosTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_videos_total",
				Help: "Total number of videos resolved, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		strategyAttemptsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "transcript_strategy_attempts_total",
				Help: "Total acquisition strategy attempts, labeled by strategy and result.",
			},
			[]string{"strategy", "result"},
		)

		strategyDurationSeconds = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "transcript_strategy_duration_seconds",
				Help:    "Histogram of acquisition strategy latencies, labeled by strategy.",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60, 120},
			},
			[]string{"strategy"},
		)

		interJobDelaySeconds = factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "transcript_inter_job_delay_seconds",
				Help:    "Histogram of randomized delays between jobs.",
				Buckets: []float64{5, 10, 20, 30, 45, 60, 75, 90},
			},
		)

		artifactBytesTotal = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "transcript_artifact_bytes_total",
				Help: "Total number of transcript bytes persisted.",
			},
		)

		discoveredVideosTotal = factory.NewCounter(
			prometheus.CounterOpts{
				Name: "transcript_discovered_videos_total",
				Help: "Total number of video ids accepted into the frontier.",
			},
		)

		frontierPending = factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "transcript_frontier_pending",
				Help: "Number of video ids waiting in the frontier.",
			},
		)

		httpRequestsTotal = factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Registry returns the registry holding the crawler collectors.
func Registry() *prometheus.Registry {
	Init()
	return registry
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry(), promhttp.HandlerOpts{})
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, Registry()); err != nil {
		return fmt.Errorf("write metrics textfile: %w", err)
	}
	return nil
}

// ObserveVideo increments the per-outcome video counter.
func ObserveVideo(outcome string) {
	Init()
	videosTotal.WithLabelValues(outcome).Inc()
}

// ObserveStrategy records one strategy attempt and its latency.
func ObserveStrategy(strategy string, succeeded bool, duration time.Duration) {
	Init()
	result := "failure"
	if succeeded {
		result = "success"
	}
	strategyAttemptsTotal.WithLabelValues(strategy, result).Inc()
	strategyDurationSeconds.WithLabelValues(strategy).Observe(duration.Seconds())
}

// ObserveInterJobDelay records the randomized pause between jobs.
func ObserveInterJobDelay(delay time.Duration) {
	Init()
	interJobDelaySeconds.Observe(delay.Seconds())
}

// ObserveArtifact adds the size of a persisted transcript.
func ObserveArtifact(bytes int) {
	Init()
	if bytes > 0 {
		artifactBytesTotal.Add(float64(bytes))
	}
}

// ObserveDiscovered adds newly accepted frontier ids.
func ObserveDiscovered(count int) {
	Init()
	if count > 0 {
		discoveredVideosTotal.Add(float64(count))
	}
}

// SetFrontierPending sets the frontier backlog gauge.
func SetFrontierPending(pending int) {
	Init()
	frontierPending.Set(float64(pending))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
