package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusSink struct {
	requestsEnqueued *prometheus.CounterVec
	requestsRemoved  *prometheus.CounterVec
	queueSize        *prometheus.GaugeVec
	matchesFormed    *prometheus.CounterVec
	matchQuality     *prometheus.HistogramVec
	matchWait        *prometheus.HistogramVec
	partitionFailed  *prometheus.CounterVec
	dispatchOutcomes *prometheus.CounterVec
	dispatchDuration *prometheus.HistogramVec
}

// NewPrometheus registers the matchmaking collectors on registry.
func NewPrometheus(registry *prometheus.Registry) Sink {
	factory := promauto.With(registry)

	return &prometheusSink{
		requestsEnqueued: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_requests_enqueued_total",
			Help: "Match requests accepted into the queue",
		}, []string{"partition"}),
		requestsRemoved: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_requests_removed_total",
			Help: "Match requests removed from the queue by reason",
		}, []string{"partition", "reason"}),
		queueSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "matchcore_queue_size",
			Help: "Current number of waiting requests per partition",
		}, []string{"partition"}),
		matchesFormed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_matches_formed_total",
			Help: "Matches produced by the maker",
		}, []string{"partition", "players"}),
		matchQuality: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchcore_match_quality",
			Help:    "Quality score of formed matches",
			Buckets: prometheus.LinearBuckets(0, 10, 11),
		}, []string{"partition"}),
		matchWait: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchcore_match_wait_seconds",
			Help:    "Average time matched players spent in the queue",
			Buckets: []float64{1, 2, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"partition"}),
		partitionFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_partition_failures_total",
			Help: "Matching rounds skipped because a partition failed",
		}, []string{"partition"}),
		dispatchOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "matchcore_dispatch_total",
			Help: "Dispatch workflows by terminal outcome",
		}, []string{"match_type", "outcome"}),
		dispatchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "matchcore_dispatch_duration_seconds",
			Help:    "Time from dispatch start to terminal outcome",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		}, []string{"match_type", "outcome"}),
	}
}

func (p *prometheusSink) RequestEnqueued(partition string) {
	p.requestsEnqueued.WithLabelValues(partition).Inc()
}

func (p *prometheusSink) RequestRemoved(partition, reason string) {
	p.requestsRemoved.WithLabelValues(partition, reason).Inc()
}

func (p *prometheusSink) QueueSize(partition string, size int) {
	p.queueSize.WithLabelValues(partition).Set(float64(size))
}

func (p *prometheusSink) MatchFormed(partition string, players int, quality float64, wait time.Duration) {
	p.matchesFormed.WithLabelValues(partition, strconv.Itoa(players)).Inc()
	p.matchQuality.WithLabelValues(partition).Observe(quality)
	p.matchWait.WithLabelValues(partition).Observe(wait.Seconds())
}

func (p *prometheusSink) PartitionFailed(partition string) {
	p.partitionFailed.WithLabelValues(partition).Inc()
}

func (p *prometheusSink) DispatchFinished(matchType, outcome string, elapsed time.Duration) {
	p.dispatchOutcomes.WithLabelValues(matchType, outcome).Inc()
	p.dispatchDuration.WithLabelValues(matchType, outcome).Observe(elapsed.Seconds())
}
