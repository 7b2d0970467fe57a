// Package metrics exposes pipeline counters to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"NewsDigest/internal/domain"
	"NewsDigest/internal/ports"
)

// Collector is the Prometheus-backed ports.Metrics.
type Collector struct {
	ingested      *prometheus.CounterVec
	summarizeRuns *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	deliveries    *prometheus.CounterVec
	runs          *prometheus.CounterVec
	runDuration   prometheus.Histogram
}

var _ ports.Metrics = (*Collector)(nil)

// NewCollector creates the collector and registers its metrics on reg.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		ingested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_items_ingested_total",
			Help: "Scraped items offered to the store, by insert result.",
		}, []string{"result"}),
		summarizeRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_summarize_attempts_total",
			Help: "Summarizer calls by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_item_transitions_total",
			Help: "Item stage transitions by target stage.",
		}, []string{"stage"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_deliveries_total",
			Help: "Digest delivery attempts by resulting status.",
		}, []string{"status"}),
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "newsdigest_runs_total",
			Help: "Pipeline runs by final state.",
		}, []string{"state"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "newsdigest_run_duration_seconds",
			Help:    "Wall time of a pipeline run.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
		}),
	}

	reg.MustRegister(
		c.ingested,
		c.summarizeRuns,
		c.transitions,
		c.deliveries,
		c.runs,
		c.runDuration,
	)

	return c
}

func (c *Collector) RecordIngest(result domain.InsertResult) {
	c.ingested.WithLabelValues(result.String()).Inc()
}

func (c *Collector) RecordSummarizeAttempt(outcome string) {
	c.summarizeRuns.WithLabelValues(outcome).Inc()
}

func (c *Collector) RecordTransition(to domain.Stage) {
	c.transitions.WithLabelValues(to.String()).Inc()
}

func (c *Collector) RecordDelivery(status domain.DeliveryStatus) {
	c.deliveries.WithLabelValues(string(status)).Inc()
}

// RecordRun counts a finished run and observes its duration.
func (c *Collector) RecordRun(state string, duration time.Duration) {
	c.runs.WithLabelValues(state).Inc()
	c.runDuration.Observe(duration.Seconds())
}

// Handler returns the scrape handler for gatherer.
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
