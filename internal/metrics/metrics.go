// Package metrics exposes scheduler activity as Prometheus metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "pulsesync"

// Collector is a prometheus.Collector that collects metrics about stream
// polling.
type Collector struct {
	polls          *prometheus.CounterVec
	pagesApplied   *prometheus.CounterVec
	errors         *prometheus.CounterVec
	enabledStreams *prometheus.GaugeVec
	pollDuration   *prometheus.HistogramVec
}

// NewCollector returns a new Collector.
func NewCollector() *Collector {
	return &Collector{
		polls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "polls_total",
				Help:      "The number of completed stream passes by kind and outcome.",
			}, []string{"kind", "outcome"},
		),
		pagesApplied: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "pages_applied_total",
				Help:      "The number of pages applied to local storage.",
			}, []string{"kind"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "errors_total",
				Help:      "The number of stream errors by error kind.",
			}, []string{"kind", "error"},
		),
		enabledStreams: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "enabled_streams",
				Help:      "The number of streams currently enabled.",
			}, []string{"kind"},
		),
		pollDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "poll_duration_seconds",
				Help:      "The time taken by one stream pass.",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
			}, []string{"kind"},
		),
	}
}

// ObservePoll records a completed pass. applied is true when a page was
// applied; errKind is empty when the pass did not fail.
func (c *Collector) ObservePoll(kind, outcome string, applied bool, errKind string, d time.Duration) {
	c.polls.WithLabelValues(kind, outcome).Inc()
	c.pollDuration.WithLabelValues(kind).Observe(d.Seconds())
	if applied {
		c.pagesApplied.WithLabelValues(kind).Inc()
	}
	if errKind != "" {
		c.errors.WithLabelValues(kind, errKind).Inc()
	}
}

// SetEnabled sets the number of enabled streams of a kind.
func (c *Collector) SetEnabled(kind string, n int) {
	c.enabledStreams.WithLabelValues(kind).Set(float64(n))
}

// Describe is part of the prometheus.Collector interface.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	c.polls.Describe(ch)
	c.pagesApplied.Describe(ch)
	c.errors.Describe(ch)
	c.enabledStreams.Describe(ch)
	c.pollDuration.Describe(ch)
}

// Collect is part of the prometheus.Collector interface.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.polls.Collect(ch)
	c.pagesApplied.Collect(ch)
	c.errors.Collect(ch)
	c.enabledStreams.Collect(ch)
	c.pollDuration.Collect(ch)
}
