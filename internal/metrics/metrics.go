package metrics

/*
o365scan — resumable Microsoft 365 MX classification of address lists
Copyright (C) 2025  Pepijn van der Stap <rxtls@vanderstap.info>

This program is free software: you can redistribute it and/or modify
it under the terms of the GNU Affero General Public License as published by
the Free Software Foundation, either version 3 of the License, or
(at your option) any later version.

This program is distributed in the hope that it will be useful,
but WITHOUT ANY WARRANTY; without even the implied warranty of
MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
GNU Affero General Public License for more details.

You should have received a copy of the GNU Affero General Public License
along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

var (
	registry           = prometheus.NewRegistry()
	defaultRegisterer  = promauto.With(registry)
	metricsInitialized sync.Once
	metricsEnabled     atomic.Bool
	metricsServer      *http.Server
)

// Metrics contains all the Prometheus metrics for the application
type Metrics struct {
	// Classification metrics
	ClassificationsTotal *prometheus.CounterVec
	CacheLookupsTotal    *prometheus.CounterVec

	// DNS metrics
	DNSQueryDuration *prometheus.HistogramVec
	DNSErrorsTotal   *prometheus.CounterVec
	DNSRateLimit     prometheus.Gauge

	// Batch progress
	AddressesTotal     prometheus.Gauge
	AddressesProcessed prometheus.Gauge
	AddressesMatched   prometheus.Gauge

	// Checkpoint I/O
	CheckpointSavesTotal   *prometheus.CounterVec
	CheckpointSaveDuration prometheus.Histogram
	CheckpointBytes        prometheus.Gauge

	// Worker metrics
	WorkerProcessed *prometheus.CounterVec
	WorkerPanics    *prometheus.CounterVec
	WindowInFlight  prometheus.Gauge
}

// Global instance of metrics
var globalMetrics *Metrics
var metricsOnce sync.Once

// GetMetrics returns the global metrics instance
func GetMetrics() *Metrics {
	metricsOnce.Do(func() {
		globalMetrics = newMetrics()
	})
	return globalMetrics
}

// EnableMetrics enables metrics collection
func EnableMetrics() {
	metricsEnabled.Store(true)
}

// IsMetricsEnabled returns whether metrics collection is enabled
func IsMetricsEnabled() bool {
	return metricsEnabled.Load()
}

// newMetrics creates and registers all metrics
func newMetrics() *Metrics {
	buckets := []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30}

	return &Metrics{
		ClassificationsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "o365scan_classifications_total",
				Help: "Domain classifications computed, by outcome",
			},
			[]string{"outcome"},
		),
		CacheLookupsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "o365scan_domain_cache_lookups_total",
				Help: "Domain cache lookups, by result (hit or miss)",
			},
			[]string{"result"},
		),

		DNSQueryDuration: defaultRegisterer.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "o365scan_dns_query_duration_seconds",
				Help:    "Time spent on MX lookups",
				Buckets: buckets,
			},
			[]string{"outcome"},
		),
		DNSErrorsTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "o365scan_dns_errors_total",
				Help: "MX lookup failures, by error type",
			},
			[]string{"error_type"},
		),
		DNSRateLimit: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "o365scan_dns_rate_limit",
				Help: "Current MX query rate limit in queries per second (0 when unlimited)",
			},
		),

		AddressesTotal: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "o365scan_addresses_total",
				Help: "Unique addresses extracted from the input",
			},
		),
		AddressesProcessed: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "o365scan_addresses_processed",
				Help: "Addresses committed so far, including prior runs",
			},
		),
		AddressesMatched: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "o365scan_addresses_matched",
				Help: "Addresses whose domain is Microsoft 365 hosted",
			},
		),

		CheckpointSavesTotal: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "o365scan_checkpoint_saves_total",
				Help: "Checkpoint writes, by status",
			},
			[]string{"status"},
		),
		CheckpointSaveDuration: defaultRegisterer.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "o365scan_checkpoint_save_duration_seconds",
				Help:    "Time spent writing the checkpoint file",
				Buckets: buckets,
			},
		),
		CheckpointBytes: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "o365scan_checkpoint_bytes",
				Help: "Size of the last checkpoint written",
			},
		),

		WorkerProcessed: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "o365scan_worker_processed_total",
				Help: "Total number of items processed by a worker",
			},
			[]string{"worker_id"},
		),
		WorkerPanics: defaultRegisterer.NewCounterVec(
			prometheus.CounterOpts{
				Name: "o365scan_worker_panics_total",
				Help: "Total number of panics recovered by a worker",
			},
			[]string{"worker_id"},
		),
		WindowInFlight: defaultRegisterer.NewGauge(
			prometheus.GaugeOpts{
				Name: "o365scan_window_in_flight",
				Help: "Addresses dispatched but not yet committed",
			},
		),
	}
}

// StartMetricsServer starts an HTTP server to expose Prometheus metrics
func StartMetricsServer(addr string, logger *zap.Logger) error {
	if !IsMetricsEnabled() || addr == "" {
		return nil
	}

	// Only start once
	metricsInitialized.Do(func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

		metricsServer = &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		go func() {
			logger.Info("Starting metrics server", zap.String("addr", addr))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server error", zap.Error(err))
			}
		}()
	})

	return nil
}

// ShutdownMetricsServer gracefully shuts down the metrics server
func ShutdownMetricsServer(ctx context.Context) error {
	if metricsServer != nil {
		return metricsServer.Shutdown(ctx)
	}
	return nil
}

// MeasureDuration is a helper to measure the duration of a function
func MeasureDuration(histogram prometheus.Observer) func() {
	if !IsMetricsEnabled() {
		return func() {}
	}

	start := time.Now()
	return func() {
		histogram.Observe(time.Since(start).Seconds())
	}
}

// RecordClassification counts one freshly computed classification.
func (m *Metrics) RecordClassification(outcome string, took time.Duration) {
	if !IsMetricsEnabled() {
		return
	}
	m.ClassificationsTotal.WithLabelValues(outcome).Inc()
	m.DNSQueryDuration.WithLabelValues(outcome).Observe(took.Seconds())
}

// RecordCacheLookup counts a domain cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if !IsMetricsEnabled() {
		return
	}
	if hit {
		m.CacheLookupsTotal.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookupsTotal.WithLabelValues("miss").Inc()
	}
}

// RecordDNSError counts a lookup failure that was folded into No MX.
func (m *Metrics) RecordDNSError(errorType string) {
	if !IsMetricsEnabled() {
		return
	}
	m.DNSErrorsTotal.WithLabelValues(errorType).Inc()
}

// RecordCheckpointSave counts a checkpoint write and its size.
func (m *Metrics) RecordCheckpointSave(err error, size int) {
	if !IsMetricsEnabled() {
		return
	}
	if err != nil {
		m.CheckpointSavesTotal.WithLabelValues("error").Inc()
		return
	}
	m.CheckpointSavesTotal.WithLabelValues("ok").Inc()
	m.CheckpointBytes.Set(float64(size))
}

// UpdateProgress publishes the batch counters.
func (m *Metrics) UpdateProgress(total, processed, matched int) {
	if !IsMetricsEnabled() {
		return
	}
	m.AddressesTotal.Set(float64(total))
	m.AddressesProcessed.Set(float64(processed))
	m.AddressesMatched.Set(float64(matched))
}

// UpdateRateLimit updates the DNS rate limit gauge
func (m *Metrics) UpdateRateLimit(qps float64) {
	if !IsMetricsEnabled() {
		return
	}
	m.DNSRateLimit.Set(qps)
}

// RecordWorkerDone counts a finished work item for a worker.
func (m *Metrics) RecordWorkerDone(workerID int, panicked bool) {
	if !IsMetricsEnabled() {
		return
	}
	id := strconv.Itoa(workerID)
	m.WorkerProcessed.WithLabelValues(id).Inc()
	if panicked {
		m.WorkerPanics.WithLabelValues(id).Inc()
	}
}

// UpdateInFlight publishes the size of the commit window.
func (m *Metrics) UpdateInFlight(n int) {
	if !IsMetricsEnabled() {
		return
	}
	m.WindowInFlight.Set(float64(n))
}
