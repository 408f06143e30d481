// Package http exposes trackwatch metrics over HTTP and pushes them to a Prometheus pushgateway.
package http

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"trackwatch/internal/core"
	"trackwatch/internal/retry"
)

// PushJob is the pushgateway job name of batch runs
const PushJob = "trackwatch"

// Metrics holds the collectors of one process in a private registry.
type Metrics struct {
	registry *prometheus.Registry

	ScansTotal         *prometheus.CounterVec
	RemoteCallsTotal   *prometheus.CounterVec
	RemoteAttempts     *prometheus.HistogramVec
	UnavailableTotal   *prometheus.CounterVec
	NotificationsTotal *prometheus.CounterVec
	ScanDuration       *prometheus.HistogramVec
}

var _ core.MetricsRecorder = (*Metrics)(nil)

func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		ScansTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackwatch_scans_total",
				Help: "Total number of playlist scans",
			},
			[]string{"action", "status"},
		),
		RemoteCallsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackwatch_remote_calls_total",
				Help: "Total number of retried remote calls by final status",
			},
			[]string{"operation", "status"},
		),
		RemoteAttempts: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trackwatch_remote_call_attempts",
				Help:    "Attempts spent per remote call",
				Buckets: []float64{1, 2, 3, 5, 10},
			},
			[]string{"operation"},
		),
		UnavailableTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackwatch_unavailable_tracks_total",
				Help: "Unavailable tracks found, by kind (seen, new)",
			},
			[]string{"kind"},
		),
		NotificationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trackwatch_notifications_total",
				Help: "Total number of report notifications",
			},
			[]string{"status"},
		),
		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trackwatch_scan_duration_seconds",
				Help:    "Time spent scanning one playlist",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"action"},
		),
	}

	m.registry.MustRegister(
		m.ScansTotal,
		m.RemoteCallsTotal,
		m.RemoteAttempts,
		m.UnavailableTotal,
		m.NotificationsTotal,
		m.ScanDuration,
	)

	return m
}

// Registry returns the registry holding all collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) RecordScan(action, status string) {
	m.ScansTotal.WithLabelValues(action, status).Inc()
}

func (m *Metrics) RecordUnavailable(kind string, count int) {
	m.UnavailableTotal.WithLabelValues(kind).Add(float64(count))
}

func (m *Metrics) RecordNotification(status string) {
	m.NotificationsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveScanDuration(action string, seconds float64) {
	m.ScanDuration.WithLabelValues(action).Observe(seconds)
}

// RecordRemoteCall matches retry.Observer.
func (m *Metrics) RecordRemoteCall(operation string, status retry.Status, attempts int) {
	m.RemoteCallsTotal.WithLabelValues(operation, status.String()).Inc()
	m.RemoteAttempts.WithLabelValues(operation).Observe(float64(attempts))
}

// Push sends all collectors to the pushgateway at url, replacing the previous push of the job.
func (m *Metrics) Push(ctx context.Context, url, instance string) error {
	pusher := push.New(url, PushJob).Gatherer(m.registry)
	if instance != "" {
		pusher = pusher.Grouping("instance", instance)
	}
	if err := pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}
