// Package metrics collects and exposes Prometheus metrics for scan runs
// and alert delivery.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector is the recording interface used by the scheduler and
// quote layer.
type MetricsCollector interface {
	RecordScanRun(region string)
	RecordScanDuration(region string, d time.Duration)
	RecordQuoteResults(ok, failed int)
	RecordAlerts(condition string, count int)
	RecordSuppressed(count int)
	RecordMessagesSent(count int)
}

// Collector is the Prometheus-backed implementation.
type Collector struct {
	scanRuns     *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
	quoteOK      prometheus.Counter
	quoteFail    prometheus.Counter
	alerts       *prometheus.CounterVec
	suppressed   prometheus.Counter
	messagesSent prometheus.Counter
}

// NewCollector creates a Collector and registers its metrics with the
// given registry.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		scanRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsibot_scan_runs_total",
			Help: "Auto-scan runs by market region.",
		}, []string{"region"}),
		scanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "rsibot_scan_duration_seconds",
			Help:    "Wall-clock duration of auto-scan runs.",
			Buckets: prometheus.DefBuckets,
		}, []string{"region"}),
		quoteOK: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsibot_quote_success_total",
			Help: "Tickers fetched successfully from the quote source.",
		}),
		quoteFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsibot_quote_fail_total",
			Help: "Tickers that failed to fetch after retries.",
		}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rsibot_alerts_total",
			Help: "Triggered subscription alerts by condition.",
		}, []string{"condition"}),
		suppressed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsibot_alerts_suppressed_total",
			Help: "Alerts held back by the cooldown window.",
		}),
		messagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rsibot_messages_sent_total",
			Help: "Discord messages delivered.",
		}),
	}

	reg.MustRegister(
		c.scanRuns,
		c.scanDuration,
		c.quoteOK,
		c.quoteFail,
		c.alerts,
		c.suppressed,
		c.messagesSent,
	)

	return c
}

func (c *Collector) RecordScanRun(region string) {
	c.scanRuns.WithLabelValues(region).Inc()
}

func (c *Collector) RecordScanDuration(region string, d time.Duration) {
	c.scanDuration.WithLabelValues(region).Observe(d.Seconds())
}

func (c *Collector) RecordQuoteResults(ok, failed int) {
	c.quoteOK.Add(float64(ok))
	c.quoteFail.Add(float64(failed))
}

func (c *Collector) RecordAlerts(condition string, count int) {
	c.alerts.WithLabelValues(condition).Add(float64(count))
}

func (c *Collector) RecordSuppressed(count int) {
	c.suppressed.Add(float64(count))
}

func (c *Collector) RecordMessagesSent(count int) {
	c.messagesSent.Add(float64(count))
}

// Noop discards all recordings. Used when the metrics listener is
// disabled.
type Noop struct{}

func (Noop) RecordScanRun(string)                     {}
func (Noop) RecordScanDuration(string, time.Duration) {}
func (Noop) RecordQuoteResults(int, int)              {}
func (Noop) RecordAlerts(string, int)                 {}
func (Noop) RecordSuppressed(int)                     {}
func (Noop) RecordMessagesSent(int)                   {}

// Handler returns the Prometheus scrape handler for the registry.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}
