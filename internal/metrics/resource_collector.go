package metrics

import (
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shirou/gopsutil/v4/process"
)

// Target identifies a live service process to sample.
type Target struct {
	Name string
	PID  int
}

// ResourceCollector samples CPU and memory of live service processes at
// scrape time. targets is called on every Collect and must be cheap and
// safe for concurrent use.
type ResourceCollector struct {
	targets func() []Target

	cpuPercent *prometheus.Desc
	memoryRSS  *prometheus.Desc
	numThreads *prometheus.Desc
}

// NewResourceCollector creates a collector over the supplied target source.
func NewResourceCollector(targets func() []Target) *ResourceCollector {
	return &ResourceCollector{
		targets: targets,
		cpuPercent: prometheus.NewDesc(
			"devlauncher_service_cpu_percent",
			"CPU usage percent of the service's root process.",
			[]string{"name"}, nil),
		memoryRSS: prometheus.NewDesc(
			"devlauncher_service_memory_rss_bytes",
			"Resident set size of the service's root process.",
			[]string{"name"}, nil),
		numThreads: prometheus.NewDesc(
			"devlauncher_service_threads",
			"Thread count of the service's root process.",
			[]string{"name"}, nil),
	}
}

func (c *ResourceCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.cpuPercent
	ch <- c.memoryRSS
	ch <- c.numThreads
}

func (c *ResourceCollector) Collect(ch chan<- prometheus.Metric) {
	for _, t := range c.targets() {
		if t.PID <= 0 {
			continue
		}
		p, err := process.NewProcess(int32(t.PID))
		if err != nil {
			slog.Debug("Failed to open process for metrics", "name", t.Name, "pid", t.PID, "error", err)
			continue
		}
		if cpu, err := p.CPUPercent(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.cpuPercent, prometheus.GaugeValue, cpu, t.Name)
		}
		if mem, err := p.MemoryInfo(); err == nil && mem != nil {
			ch <- prometheus.MustNewConstMetric(c.memoryRSS, prometheus.GaugeValue, float64(mem.RSS), t.Name)
		}
		if n, err := p.NumThreads(); err == nil {
			ch <- prometheus.MustNewConstMetric(c.numThreads, prometheus.GaugeValue, float64(n), t.Name)
		}
	}
}
