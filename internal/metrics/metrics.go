// Package metrics provides the statistics sink the queue, the maker and the
// dispatcher report into. Sinks are injected rather than global so several
// maker instances never double-count into shared state.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Removal reasons reported by the queue.
const (
	ReasonMatched   = "matched"
	ReasonCancelled = "cancelled"
	ReasonExpired   = "expired"
	ReasonCleanup   = "cleanup"
)

// Dispatch outcomes.
const (
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeRejected  = "rejected"
	OutcomeExpired   = "expired"
)

// Sink receives matchmaking statistics.
type Sink interface {
	RequestEnqueued(partition string)
	RequestRemoved(partition, reason string)
	QueueSize(partition string, size int)
	MatchFormed(partition string, players int, quality float64, wait time.Duration)
	PartitionFailed(partition string)
	DispatchFinished(matchType, outcome string, elapsed time.Duration)
}

// Nop discards everything.
type Nop struct{}

func (Nop) RequestEnqueued(string)                          {}
func (Nop) RequestRemoved(string, string)                   {}
func (Nop) QueueSize(string, int)                           {}
func (Nop) MatchFormed(string, int, float64, time.Duration) {}
func (Nop) PartitionFailed(string)                          {}
func (Nop) DispatchFinished(string, string, time.Duration)  {}

// Multi fans every call out to each sink in order.
type Multi []Sink

func (m Multi) RequestEnqueued(partition string) {
	for _, s := range m {
		s.RequestEnqueued(partition)
	}
}

func (m Multi) RequestRemoved(partition, reason string) {
	for _, s := range m {
		s.RequestRemoved(partition, reason)
	}
}

func (m Multi) QueueSize(partition string, size int) {
	for _, s := range m {
		s.QueueSize(partition, size)
	}
}

func (m Multi) MatchFormed(partition string, players int, quality float64, wait time.Duration) {
	for _, s := range m {
		s.MatchFormed(partition, players, quality, wait)
	}
}

func (m Multi) PartitionFailed(partition string) {
	for _, s := range m {
		s.PartitionFailed(partition)
	}
}

func (m Multi) DispatchFinished(matchType, outcome string, elapsed time.Duration) {
	for _, s := range m {
		s.DispatchFinished(matchType, outcome, elapsed)
	}
}

// Handler returns the Prometheus HTTP handler for registry.
func Handler(registry *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
