// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

// Package metrics provides Prometheus instrumentation for the forwarding proxy.
package metrics

import (
	"errors"

	perrors "github.com/hambosto/proxy-stream/pkg/errors"
	"github.com/hambosto/proxy-stream/pkg/observer"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var _ observer.Observer = (*Metrics)(nil)

// Metrics holds the Prometheus collectors of the proxy. It implements
// observer.Observer so it can be attached to a server directly.
type Metrics struct {
	// Session metrics
	ActiveSessions  prometheus.Gauge
	SessionsTotal   *prometheus.CounterVec
	SessionDuration prometheus.Histogram

	// Failure metrics
	AcceptErrors  *prometheus.CounterVec
	ConnectErrors prometheus.Counter
	RelayErrors   *prometheus.CounterVec

	// Traffic metrics
	BytesRelayed *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg leaves
// them unregistered.
func New(namespace string, reg prometheus.Registerer) *Metrics {
	if namespace == "" {
		namespace = "proxy_stream"
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_sessions",
				Help:      "Number of sessions currently relaying",
			},
		),
		SessionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_total",
				Help:      "Total number of finished sessions",
			},
			[]string{"status"},
		),
		SessionDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "session_duration_seconds",
				Help:      "Session duration in seconds",
				Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60, 300, 600},
			},
		),
		AcceptErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "accept_errors_total",
				Help:      "Total number of failed accepts",
			},
			[]string{"kind"},
		),
		ConnectErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "connect_errors_total",
				Help:      "Total number of failed connections to the target",
			},
		),
		RelayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relay_errors_total",
				Help:      "Total number of sessions ended by a relay error",
			},
			[]string{"direction"},
		),
		BytesRelayed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "relayed_bytes_total",
				Help:      "Total number of bytes relayed",
			},
			[]string{"direction"},
		),
	}
}

// OnAccept counts a session as active.
func (m *Metrics) OnAccept(*observer.Context) {
	m.ActiveSessions.Inc()
}

// OnAcceptError counts a failed accept by kind.
func (m *Metrics) OnAcceptError(err error) {
	kind := "transient"
	var ae *perrors.AcceptError
	if errors.As(err, &ae) && ae.Fatal {
		kind = "fatal"
	}
	m.AcceptErrors.WithLabelValues(kind).Inc()
}

// OnConnectError counts a failed dial; the session never became active.
func (m *Metrics) OnConnectError(*observer.Context, error) {
	m.ActiveSessions.Dec()
	m.ConnectErrors.Inc()
	m.SessionsTotal.WithLabelValues("connect_error").Inc()
}

// OnClose records the outcome of a finished session.
func (m *Metrics) OnClose(_ *observer.Context, stats observer.Stats) {
	m.ActiveSessions.Dec()
	m.SessionDuration.Observe(stats.Duration.Seconds())
	m.BytesRelayed.WithLabelValues("upstream").Add(float64(stats.Upstream))
	m.BytesRelayed.WithLabelValues("downstream").Add(float64(stats.Downstream))

	if stats.Err == nil {
		m.SessionsTotal.WithLabelValues("success").Inc()
		return
	}

	m.SessionsTotal.WithLabelValues("error").Inc()
	direction := "unknown"
	var re *perrors.RelayError
	if errors.As(stats.Err, &re) {
		direction = re.Direction
	}
	m.RelayErrors.WithLabelValues(direction).Inc()
}
