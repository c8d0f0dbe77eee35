package metrics

import (
	"context"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"OutreachEngine/internal/domain"
	"OutreachEngine/internal/records"
)

// Recorder turns batch outcomes into Prometheus counters.
type Recorder struct {
	discovery *prometheus.CounterVec
	attempts  *prometheus.CounterVec
	batches   *prometheus.HistogramVec
}

// NewRecorder creates the outreach collectors and registers them on reg.
func NewRecorder(reg prometheus.Registerer) *Recorder {
	r := &Recorder{
		discovery: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_discovery_results_total",
			Help: "Search results processed by discovery, by outcome",
		}, []string{"outcome"}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "outreach_attempts_total",
			Help: "Outreach items processed, by message kind and outcome",
		}, []string{"kind", "outcome"}),
		batches: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "outreach_batch_duration_seconds",
			Help:    "Wall time of batch jobs",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
		}, []string{"job"}),
	}
	reg.MustRegister(r.discovery, r.attempts, r.batches)
	return r
}

// Discovery counts one discovery item.
func (r *Recorder) Discovery(outcome domain.Outcome) {
	r.discovery.WithLabelValues(string(outcome)).Inc()
}

// Outreach counts one first-contact or follow-up item.
func (r *Recorder) Outreach(kind domain.AttemptKind, outcome domain.Outcome) {
	r.attempts.WithLabelValues(string(kind), string(outcome)).Inc()
}

// Batch observes how long a job ran.
func (r *Recorder) Batch(job string, elapsed time.Duration) {
	r.batches.WithLabelValues(job).Observe(elapsed.Seconds())
}

var (
	prospectStateDesc = prometheus.NewDesc(
		"outreach_prospects",
		"Stored prospects by state",
		[]string{"state"},
		nil,
	)
	pendingTasksDesc = prometheus.NewDesc(
		"outreach_followup_tasks",
		"Live follow-up tasks",
		nil,
		nil,
	)
)

// StoreCollector reads prospect and task counts from the store on each scrape.
type StoreCollector struct {
	repo    *records.Repository
	timeout time.Duration
}

// NewStoreCollector builds a collector over repo.
func NewStoreCollector(repo *records.Repository) *StoreCollector {
	return &StoreCollector{repo: repo, timeout: 5 * time.Second}
}

// Describe sends the metric descriptors to the channel.
func (c *StoreCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- prospectStateDesc
	ch <- pendingTasksDesc
}

// Collect queries the store and emits gauges.
func (c *StoreCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), c.timeout)
	defer cancel()

	prospects, _, err := c.repo.ListProspects(ctx)
	if err != nil {
		slog.Error("failed to collect prospect metrics", "error", err)
		return
	}
	counts := map[domain.State]int{}
	for _, p := range prospects {
		counts[p.State]++
	}
	for state, n := range counts {
		ch <- prometheus.MustNewConstMetric(prospectStateDesc, prometheus.GaugeValue, float64(n), string(state))
	}

	tasks, _, err := c.repo.ListFollowUps(ctx)
	if err != nil {
		slog.Error("failed to collect follow-up metrics", "error", err)
		return
	}
	ch <- prometheus.MustNewConstMetric(pendingTasksDesc, prometheus.GaugeValue, float64(len(tasks)))
}
