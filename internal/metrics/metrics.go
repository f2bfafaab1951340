// Package metrics holds the hub's Prometheus collectors.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "gaze_hub"

// Result outcomes.
const (
	ResultDelivered         = "delivered"
	ResultUnknownSession    = "unknown_session"
	ResultNotBridged        = "not_bridged"
	ResultBackpressure      = "backpressure"
	NegotiationAnswered     = "answered"
	NegotiationRejected     = "rejected"
	NegotiationFailed       = "failed"
	BridgeReady             = "bridged"
	BridgeGpuUnreachable    = "gpu_unreachable"
	BridgeDroppedAfterClose = "dropped_after_close"
	BridgeFailed            = "failed"
)

type Metrics struct {
	SessionsActive     prometheus.Gauge
	SessionsOpened     prometheus.Counter
	EstimationFailures prometheus.Counter
	ClockOffset        prometheus.Histogram
	Negotiations       *prometheus.CounterVec
	Bridges            *prometheus.CounterVec
	Results            *prometheus.CounterVec
	SignalDropped      *prometheus.CounterVec
}

// New registers all collectors on reg. A nil reg leaves them unregistered,
// which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Sessions currently held in the store.",
		}),
		SessionsOpened: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_opened_total",
			Help:      "Sessions created after a successful clock offset exchange.",
		}),
		EstimationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "clock_estimation_failures_total",
			Help:      "Connections dropped because the clock offset exchange failed.",
		}),
		ClockOffset: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "clock_offset_seconds",
			Help:      "Estimated client minus hub clock offset.",
			Buckets:   []float64{-1, -0.1, -0.01, 0, 0.01, 0.1, 1},
		}),
		Negotiations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "client_negotiations_total",
			Help:      "Client offers by outcome.",
		}, []string{"outcome"}),
		Bridges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gpu_bridges_total",
			Help:      "GPU peer setups by outcome.",
		}, []string{"outcome"}),
		Results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "gpu_results_total",
			Help:      "Inbound GPU results by routing outcome.",
		}, []string{"outcome"}),
		SignalDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signal_dropped_total",
			Help:      "Client signaling messages dropped by reason.",
		}, []string{"reason"}),
	}
	if reg != nil {
		reg.MustRegister(
			m.SessionsActive,
			m.SessionsOpened,
			m.EstimationFailures,
			m.ClockOffset,
			m.Negotiations,
			m.Bridges,
			m.Results,
			m.SignalDropped,
		)
	}
	return m
}
