package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/mesh-intelligence/localservice/pkg/types"
)

// Metric names exported by Collector.
const (
	MetricConnections   = "localservice_connections"
	MetricInstances     = "localservice_thread_instances"
	MetricStreamsOpened = "localservice_streams_opened_total"
	MetricStreamsClosed = "localservice_streams_closed_total"
	MetricHandlesLive   = "localservice_handles_live"
)

var (
	descConnections = prometheus.NewDesc(MetricConnections,
		"Handles acquired and not yet released, per worker thread.",
		[]string{"service", "thread"}, nil)
	descInstances = prometheus.NewDesc(MetricInstances,
		"Worker threads currently holding a tracked handle instance.",
		[]string{"service"}, nil)
	descOpened = prometheus.NewDesc(MetricStreamsOpened,
		"Stream subscriptions started, per record type.",
		[]string{"service", "record_type"}, nil)
	descClosed = prometheus.NewDesc(MetricStreamsClosed,
		"Stream subscriptions terminated, per record type.",
		[]string{"service", "record_type"}, nil)
	descHandles = prometheus.NewDesc(MetricHandlesLive,
		"Open handles on the store, across all access layers.",
		[]string{"service"}, nil)
)

// Collector exposes an access layer's monitoring log as Prometheus metrics.
// Each scrape takes one snapshot.
type Collector struct {
	snapshot func() types.MonitoringLog
	handles  func() int
}

// Compile-time interface check.
var _ prometheus.Collector = (*Collector)(nil)

// NewCollector returns a collector reading snapshot and the live handle
// count on every scrape.
func NewCollector(snapshot func() types.MonitoringLog, handles func() int) *Collector {
	return &Collector{snapshot: snapshot, handles: handles}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- descConnections
	ch <- descInstances
	ch <- descOpened
	ch <- descClosed
	ch <- descHandles
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	log := c.snapshot()
	svc := log.LocalServiceName

	for thread, n := range log.ConnectionsByThread {
		ch <- prometheus.MustNewConstMetric(descConnections, prometheus.GaugeValue, float64(n), svc, thread)
	}
	ch <- prometheus.MustNewConstMetric(descInstances, prometheus.GaugeValue, float64(len(log.InstancesByThread)), svc)
	for rt, n := range log.OpenedByType {
		ch <- prometheus.MustNewConstMetric(descOpened, prometheus.CounterValue, float64(n), svc, rt)
	}
	for rt, n := range log.ClosedByType {
		ch <- prometheus.MustNewConstMetric(descClosed, prometheus.CounterValue, float64(n), svc, rt)
	}
	ch <- prometheus.MustNewConstMetric(descHandles, prometheus.GaugeValue, float64(c.handles()), svc)
}
