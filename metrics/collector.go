// Package metrics exposes a heapd allocator's stats as Prometheus
// gauges. It is additive instrumentation, imported only by callers who
// want a /metrics endpoint; alloc itself never imports this package or
// prometheus. Grounded on talyz-systemd_exporter's Collector
// (systemd/systemd.go), the other pack repo with a real custom
// prometheus.Collector.
package metrics

import (
	"github.com/inos-systems/heapd/alloc"
	"github.com/povilasv/prommod"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/version"
)

const namespace = "heapd"

// Collector implements prometheus.Collector over an *alloc.Allocator.
type Collector struct {
	src *alloc.Allocator

	allocTotal  *prometheus.Desc
	freeTotal   *prometheus.Desc
	purgeTotal  *prometheus.Desc
	debugLive   *prometheus.Desc
	debugBytes  *prometheus.Desc
}

// NewCollector returns a collector reporting src's stats under the
// heapd_ namespace.
func NewCollector(src *alloc.Allocator) *Collector {
	return &Collector{
		src: src,
		allocTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "allocations_total"),
			"Total allocation requests served.", nil, nil),
		freeTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "frees_total"),
			"Total release requests served.", nil, nil),
		purgeTotal: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "", "purges_total"),
			"Total Purge() calls made.", nil, nil),
		debugLive: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "debug", "live_allocations"),
			"Live allocations tracked by the debug envelope, if enabled.", nil, nil),
		debugBytes: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "debug", "bytes_requested"),
			"Bytes requested by live debug-tracked allocations.", nil, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.allocTotal
	ch <- c.freeTotal
	ch <- c.purgeTotal
	ch <- c.debugLive
	ch <- c.debugBytes
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	s := c.src.Stats()
	ch <- prometheus.MustNewConstMetric(c.allocTotal, prometheus.CounterValue, float64(s.AllocCount))
	ch <- prometheus.MustNewConstMetric(c.freeTotal, prometheus.CounterValue, float64(s.FreeCount))
	ch <- prometheus.MustNewConstMetric(c.purgeTotal, prometheus.CounterValue, float64(s.PurgeCount))
	ch <- prometheus.MustNewConstMetric(c.debugLive, prometheus.GaugeValue, float64(s.DebugLiveAllocs))
	ch <- prometheus.MustNewConstMetric(c.debugBytes, prometheus.GaugeValue, float64(s.DebugBytesRequested))
}

// MustRegister registers the collector, heapd's build version, and the
// Go module-version collector with reg, exactly as talyz-systemd_exporter
// wires version.NewCollector and prommod.NewCollector alongside its own.
func MustRegister(reg prometheus.Registerer, src *alloc.Allocator) {
	reg.MustRegister(NewCollector(src))
	reg.MustRegister(version.NewCollector(namespace))
	reg.MustRegister(prommod.NewCollector(namespace))
}
