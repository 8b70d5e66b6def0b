package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for both sides of the probe exchange.
var (
	ProbesActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "wsprobe_probes_active",
			Help: "A gauge of currently armed probes.",
		})
	Ticks = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsprobe_ticks_total",
			Help: "Number of round-trip requests dispatched by the probe.",
		})
	TickErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsprobe_tick_errors_total",
			Help: "Number of ticks whose dispatch failed at the transport.",
		})
	Acks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsprobe_acks_total",
			Help: "Number of acknowledgements observed, by outcome.",
		},
		[]string{"result"})
	Timeouts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsprobe_timeouts_total",
			Help: "Number of ticks abandoned without an acknowledgement.",
		})
	RTT = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "wsprobe_rtt_seconds",
			Help: "A histogram of measured round-trip times.",
			Buckets: []float64{
				.0001, .00025, .0005, .001, .0025, .005,
				.01, .025, .05, .1, .25, .5,
				1, 2.5, 5},
		})
	ServerConnections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "wsprobe_server_connections_total",
			Help: "Count of clients that connect to the probe endpoint.",
		},
		[]string{"status"})
	ServerPings = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "wsprobe_server_pings_total",
			Help: "Number of ping frames echoed by the probe endpoint.",
		})
)
