package loadgen

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize_Empty(t *testing.T) {
	assert.Equal(t, Summary{}, summarize(nil))
}

func TestSummarize_Quantiles(t *testing.T) {
	samples := make([]float64, 0, 100)
	for i := 100; i >= 1; i-- {
		samples = append(samples, float64(i)/1000)
	}

	s := summarize(samples)
	assert.Equal(t, 100, s.N)
	assert.Equal(t, 50*time.Millisecond, s.P50.Round(time.Millisecond))
	assert.Equal(t, 95*time.Millisecond, s.P95.Round(time.Millisecond))
	assert.Equal(t, 99*time.Millisecond, s.P99.Round(time.Millisecond))
	assert.Equal(t, 100*time.Millisecond, s.Max.Round(time.Millisecond))
	assert.InDelta(t, 50.5, float64(s.Mean)/float64(time.Millisecond), 0.01)

	// Input order is left alone.
	assert.Equal(t, 0.1, samples[0])
}

func TestCollector_Report(t *testing.T) {
	c := NewCollector()
	c.AddMatched(20 * time.Millisecond)
	c.AddMatched(40 * time.Millisecond)
	c.AddOutcome("match_started")
	c.AddOutcome("match_started")
	c.AddError()

	assert.Equal(t, 2, c.Matched().N)
	assert.Equal(t, 2, c.Outcome("match_started"))
	assert.Equal(t, 1, c.ErrorCount())

	var buf bytes.Buffer
	c.Report(&buf)
	out := buf.String()
	assert.Contains(t, out, "Errors:    1")
	assert.Contains(t, out, "match_started")
	assert.Contains(t, out, "--- Matched Latency ---")
	assert.NotContains(t, out, "--- Seated Latency ---")
}
