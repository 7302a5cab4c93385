package metrics

import (
	"github.com/pako-23/todo-harness/internal/accounting"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "todo"

var _ prometheus.Collector = (*Collector)(nil)

// Collector exposes accounting snapshots to Prometheus. Averages are only
// reported once the accounting is warm.
type Collector struct {
	accounting *accounting.Accounting

	requests    *prometheus.Desc
	sampled     *prometheus.Desc
	intervals   *prometheus.Desc
	rate        *prometheus.Desc
	cpuUser     *prometheus.Desc
	cpuSystem   *prometheus.Desc
	spansActive *prometheus.Desc
}

func NewCollector(acc *accounting.Accounting) *Collector {
	window := []string{"window"}

	return &Collector{
		accounting: acc,
		requests: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "requests_total"),
			"Requests counted.", nil, nil),
		sampled: prometheus.NewDesc(prometheus.BuildFQName(namespace, "", "requests_sampled_total"),
			"Requests counted while a sampled span was active.", nil, nil),
		intervals: prometheus.NewDesc(prometheus.BuildFQName(namespace, "accounting", "intervals_total"),
			"Accounting ticks completed.", nil, nil),
		rate: prometheus.NewDesc(prometheus.BuildFQName(namespace, "accounting", "requests_per_second"),
			"Smoothed request rate per averaging window.", window, nil),
		cpuUser: prometheus.NewDesc(prometheus.BuildFQName(namespace, "accounting", "cpu_user_microseconds_per_request"),
			"Smoothed user CPU time per request.", window, nil),
		cpuSystem: prometheus.NewDesc(prometheus.BuildFQName(namespace, "accounting", "cpu_system_microseconds_per_request"),
			"Smoothed system CPU time per request.", window, nil),
		spansActive: prometheus.NewDesc(prometheus.BuildFQName(namespace, "accounting", "spans_active"),
			"Smoothed count of open entry spans.", window, nil),
	}
}

func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.requests
	ch <- c.sampled
	ch <- c.intervals
	ch <- c.rate
	ch <- c.cpuUser
	ch <- c.cpuSystem
	ch <- c.spansActive
}

func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	snapshot := c.accounting.Get()

	ch <- prometheus.MustNewConstMetric(c.requests, prometheus.CounterValue, float64(snapshot.Count))
	ch <- prometheus.MustNewConstMetric(c.sampled, prometheus.CounterValue, float64(snapshot.Sampled))
	ch <- prometheus.MustNewConstMetric(c.intervals, prometheus.CounterValue, float64(snapshot.Intervals))

	for _, series := range []struct {
		desc   *prometheus.Desc
		values map[string]float64
	}{
		{c.rate, snapshot.TotalAverages},
		{c.cpuUser, snapshot.CPUUserPerTx},
		{c.cpuSystem, snapshot.CPUSystemPerTx},
		{c.spansActive, snapshot.SpansActive},
	} {
		for window, value := range series.values {
			ch <- prometheus.MustNewConstMetric(series.desc, prometheus.GaugeValue, value, window)
		}
	}
}

// NewRegistry returns a registry holding the accounting collector and the
// Go runtime and process collectors.
func NewRegistry(acc *accounting.Accounting) (*prometheus.Registry, error) {
	registry := prometheus.NewRegistry()

	for _, collector := range []prometheus.Collector{
		NewCollector(acc),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	} {
		if err := registry.Register(collector); err != nil {
			return nil, err
		}
	}

	return registry, nil
}
