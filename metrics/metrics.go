// Package metrics exposes sid's Prometheus counters and gauges: scan
// throughput, KV store operation latency, and worker pool occupancy.
package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Metrics tracks sid-specific Prometheus series, all under the sid_
// prefix. A nil *Metrics is a valid no-op collector so callers never
// need to guard every call site behind a "metrics enabled" check.
type Metrics struct {
	ScansTotal    *prometheus.CounterVec
	ScanDuration  prometheus.Histogram
	KVOpDuration  *prometheus.HistogramVec
	WorkersActive prometheus.Gauge
	WorkersIdle   prometheus.Gauge
}

// NewMetrics builds and registers sid's metrics against reg (typically
// prometheus.DefaultRegisterer).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "sid_scans_total",
				Help: "Total device scans dispatched, by outcome",
			},
			[]string{"outcome"}, // "ok", "error"
		),
		ScanDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "sid_scan_duration_seconds",
				Help:    "Scan pipeline duration in seconds, worker checkout through export",
				Buckets: prometheus.DefBuckets,
			},
		),
		KVOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "sid_kv_op_duration_seconds",
				Help:    "KV store operation duration in seconds, by operation",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"op"}, // "get", "set", "unset", "iter"
		),
		WorkersActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sid_workers_active",
				Help: "Workers currently assigned to a scan",
			},
		),
		WorkersIdle: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "sid_workers_idle",
				Help: "Workers currently idle in the pool",
			},
		),
	}

	reg.MustRegister(
		m.ScansTotal,
		m.ScanDuration,
		m.KVOpDuration,
		m.WorkersActive,
		m.WorkersIdle,
	)
	return m
}

// NullMetrics returns nil, a no-op collector safe to pass anywhere a
// *Metrics is expected -- every method below handles a nil receiver.
func NullMetrics() *Metrics {
	return nil
}

// RecordScan records one scan's outcome and duration.
func (m *Metrics) RecordScan(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.ScansTotal.WithLabelValues(outcome).Inc()
	m.ScanDuration.Observe(d.Seconds())
}

// RecordKVOp records one KV store operation's duration.
func (m *Metrics) RecordKVOp(op string, d time.Duration) {
	if m == nil {
		return
	}
	m.KVOpDuration.WithLabelValues(op).Observe(d.Seconds())
}

// SetWorkerOccupancy updates the active/idle worker gauges, mirroring
// whatever worker.Pool.Size reports.
func (m *Metrics) SetWorkerOccupancy(total, idle int) {
	if m == nil {
		return
	}
	m.WorkersIdle.Set(float64(idle))
	m.WorkersActive.Set(float64(total - idle))
}

// Serve starts an HTTP server exposing /metrics on addr and returns
// immediately; the caller is responsible for shutting it down via the
// returned *http.Server (e.g. during the daemon's exit handler).
func Serve(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.Warnf("metrics: server on %s exited: %v", addr, err)
		}
	}()

	return srv
}

// Shutdown gracefully stops srv, tolerating a nil srv so callers don't
// need to guard the case where metrics were never enabled.
func Shutdown(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logrus.Warnf("metrics: shutdown: %v", err)
	}
}
