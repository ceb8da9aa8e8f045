// Package loadgen drives a running matcher with simulated players over
// NATS and reports how fast they get matched and seated.
package loadgen

import (
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"gonum.org/v1/gonum/stat"
)

// Collector aggregates measurements from many simulated players. All
// methods are safe for concurrent use.
type Collector struct {
	mu        sync.Mutex
	queued    []float64 // enqueue -> queued reply, seconds
	matched   []float64 // enqueue -> match_found, seconds
	seated    []float64 // accept -> match_started, seconds
	outcomes  map[string]int
	errors    int
	startTime time.Time
}

// NewCollector creates a collector with the start time set to now.
func NewCollector() *Collector {
	return &Collector{outcomes: make(map[string]int), startTime: time.Now()}
}

// AddQueued records the time from enqueue to the queued reply.
func (c *Collector) AddQueued(d time.Duration) {
	c.mu.Lock()
	c.queued = append(c.queued, d.Seconds())
	c.mu.Unlock()
}

// AddMatched records the time from enqueue to the match proposal.
func (c *Collector) AddMatched(d time.Duration) {
	c.mu.Lock()
	c.matched = append(c.matched, d.Seconds())
	c.mu.Unlock()
}

// AddSeated records the time from accepting to the room being ready.
func (c *Collector) AddSeated(d time.Duration) {
	c.mu.Lock()
	c.seated = append(c.seated, d.Seconds())
	c.mu.Unlock()
}

// AddOutcome counts a terminal message type per player.
func (c *Collector) AddOutcome(kind string) {
	c.mu.Lock()
	c.outcomes[kind]++
	c.mu.Unlock()
}

// AddError increments the error counter.
func (c *Collector) AddError() {
	c.mu.Lock()
	c.errors++
	c.mu.Unlock()
}

// Outcome returns how often kind was recorded.
func (c *Collector) Outcome(kind string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.outcomes[kind]
}

// ErrorCount returns the number of recorded errors.
func (c *Collector) ErrorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errors
}

// Summary is the distribution of one latency series.
type Summary struct {
	N    int
	Mean time.Duration
	P50  time.Duration
	P95  time.Duration
	P99  time.Duration
	Max  time.Duration
}

func summarize(samples []float64) Summary {
	if len(samples) == 0 {
		return Summary{}
	}
	sorted := append([]float64(nil), samples...)
	sort.Float64s(sorted)
	sec := func(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
	return Summary{
		N:    len(sorted),
		Mean: sec(stat.Mean(sorted, nil)),
		P50:  sec(stat.Quantile(0.50, stat.Empirical, sorted, nil)),
		P95:  sec(stat.Quantile(0.95, stat.Empirical, sorted, nil)),
		P99:  sec(stat.Quantile(0.99, stat.Empirical, sorted, nil)),
		Max:  sec(sorted[len(sorted)-1]),
	}
}

// Matched summarizes the enqueue to match_found latencies.
func (c *Collector) Matched() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	return summarize(c.matched)
}

// Report writes a summary of everything collected to w.
func (c *Collector) Report(w io.Writer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	fmt.Fprintln(w, "\n=== Load Test Results ===")
	fmt.Fprintf(w, "Duration:  %s\n", time.Since(c.startTime).Round(time.Second))
	fmt.Fprintf(w, "Errors:    %d\n", c.errors)

	kinds := make([]string, 0, len(c.outcomes))
	for k := range c.outcomes {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-16s %d\n", k, c.outcomes[k])
	}

	for _, series := range []struct {
		name    string
		samples []float64
	}{
		{"Queued", c.queued},
		{"Matched", c.matched},
		{"Seated", c.seated},
	} {
		s := summarize(series.samples)
		if s.N == 0 {
			continue
		}
		fmt.Fprintf(w, "\n--- %s Latency ---\n", series.name)
		fmt.Fprintf(w, "  avg: %v  p50: %v  p95: %v  p99: %v  max: %v  (n=%d)\n",
			s.Mean.Round(time.Microsecond),
			s.P50.Round(time.Microsecond),
			s.P95.Round(time.Microsecond),
			s.P99.Round(time.Microsecond),
			s.Max.Round(time.Microsecond),
			s.N,
		)
	}
	fmt.Fprintln(w)
}
