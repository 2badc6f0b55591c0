// Package metrics defines the Prometheus instrumentation surface: queue
// depth, RPC error counts, discovery counts, and origin bytes served.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "lms2upnp",
		Subsystem: "bridge",
		Name:      "queue_depth",
		Help:      "Number of pending actions in a device's action queue.",
	}, []string{"udn"})

	RPCErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms2upnp",
		Subsystem: "soap",
		Name:      "rpc_errors_total",
		Help:      "Count of failed SOAP RPCs, by action.",
	}, []string{"udn", "action"})

	RPCLatencySeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "lms2upnp",
		Subsystem: "soap",
		Name:      "rpc_latency_seconds",
		Help:      "SOAP RPC round-trip latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"udn", "action"})

	DiscoveryDevicesFound = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms2upnp",
		Subsystem: "discovery",
		Name:      "devices_found_total",
		Help:      "Count of new devices brought up by discovery.",
	}, []string{})

	DiscoveryDevicesEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms2upnp",
		Subsystem: "discovery",
		Name:      "devices_evicted_total",
		Help:      "Count of devices torn down after exceeding remove_timeout stale scans.",
	}, []string{})

	OriginBytesServed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms2upnp",
		Subsystem: "streaming",
		Name:      "origin_bytes_served_total",
		Help:      "Bytes served by the HTTP streaming origin, by slot.",
	}, []string{"slot"})

	OriginUnderrunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "lms2upnp",
		Subsystem: "streaming",
		Name:      "origin_underruns_total",
		Help:      "Count of reads that timed out waiting for data from the backing buffer.",
	}, []string{"slot"})
)
