// Package metrics defines the Prometheus instruments of the settlement
// service.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Abort reasons used as the "reason" label.
const (
	ReasonMalformedBundle     = "malformed_bundle"
	ReasonMalformedHookRecord = "malformed_hook_record"
	ReasonInvalidHookReturn   = "invalid_hook_return"
	ReasonNetNegative         = "net_negative"
	ReasonReserveUnderflow    = "reserve_underflow"
	ReasonVenue               = "venue"
	ReasonToken               = "token"
	ReasonStorage             = "storage"
	ReasonOther               = "other"
)

type Metrics struct {
	// --- Bundles ---
	BundlesCommitted prometheus.Counter
	BundlesAborted   *prometheus.CounterVec
	BundleDuration   prometheus.Histogram
	BundleOrders     prometheus.Histogram

	// --- Hooks & arena ---
	HooksTriggered prometheus.Counter
	ArenaLeaks     prometheus.Counter
	ArenaHighWater prometheus.Gauge

	// --- Reserves ---
	ReserveOps *prometheus.CounterVec

	// --- Ingress ---
	GossipReceived *prometheus.CounterVec

	reg    prometheus.Registerer
	gather prometheus.Gatherer
}

// New registers every metric on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewWith(reg, reg)
}

// NewWith registers on reg and serves from gather.
func NewWith(reg prometheus.Registerer, gather prometheus.Gatherer) *Metrics {
	f := promauto.With(reg)
	durationBuckets := []float64{
		0.00005, 0.0001, 0.00025, 0.0005, 0.001, 0.0025,
		0.005, 0.01, 0.025, 0.05, 0.1, 0.25,
	}

	return &Metrics{
		BundlesCommitted: f.NewCounter(prometheus.CounterOpts{
			Name: "bundlesettle_bundles_committed_total",
			Help: "Bundles settled and committed",
		}),
		BundlesAborted: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesettle_bundles_aborted_total",
			Help: "Bundles aborted, by reason",
		}, []string{"reason", "phase"}),
		BundleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bundlesettle_bundle_duration_seconds",
			Help:    "Wall time of one bundle execution",
			Buckets: durationBuckets,
		}),
		BundleOrders: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "bundlesettle_bundle_orders",
			Help:    "Orders per committed bundle",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}),

		HooksTriggered: f.NewCounter(prometheus.CounterOpts{
			Name: "bundlesettle_hooks_triggered_total",
			Help: "Hooks invoked and acknowledged",
		}),
		ArenaLeaks: f.NewCounter(prometheus.CounterOpts{
			Name: "bundlesettle_arena_leaks_total",
			Help: "Hook blocks that could not be reclaimed",
		}),
		ArenaHighWater: f.NewGauge(prometheus.GaugeOpts{
			Name: "bundlesettle_arena_high_water_bytes",
			Help: "Highest arena cursor observed",
		}),

		ReserveOps: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesettle_reserve_ops_total",
			Help: "Standalone reserve deposits and withdrawals",
		}, []string{"op", "result"}),

		GossipReceived: f.NewCounterVec(prometheus.CounterOpts{
			Name: "bundlesettle_gossip_bundles_total",
			Help: "Bundles received over gossip",
		}, []string{"result"}),

		reg:    reg,
		gather: gather,
	}
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gather, promhttp.HandlerOpts{Registry: m.reg})
}
