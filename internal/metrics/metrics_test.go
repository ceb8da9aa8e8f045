package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

func TestPrometheusSink_Counts(t *testing.T) {
	registry := prometheus.NewRegistry()
	sink := NewPrometheus(registry).(*prometheusSink)

	sink.RequestEnqueued("1v1:QUICK")
	sink.RequestEnqueued("1v1:QUICK")
	sink.RequestRemoved("1v1:QUICK", ReasonMatched)
	sink.QueueSize("1v1:QUICK", 7)
	sink.DispatchFinished("QUICK", OutcomeExpired, 30*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(sink.requestsEnqueued.WithLabelValues("1v1:QUICK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.requestsRemoved.WithLabelValues("1v1:QUICK", ReasonMatched)))
	assert.Equal(t, 7.0, testutil.ToFloat64(sink.queueSize.WithLabelValues("1v1:QUICK")))
	assert.Equal(t, 1.0, testutil.ToFloat64(sink.dispatchOutcomes.WithLabelValues("QUICK", OutcomeExpired)))
}

func TestStoreSink_SharedCounters(t *testing.T) {
	kv := store.NewMemory()
	log := logrus.NewEntry(logrus.New())

	// Two sinks over one store behave like two maker instances.
	a := NewStoreSink(kv, log)
	b := NewStoreSink(kv, log)
	a.MatchFormed("1v1:QUICK", 2, 100, time.Second)
	b.MatchFormed("1v1:QUICK", 2, 90, time.Second)
	b.DispatchFinished("QUICK", OutcomeCompleted, time.Second)

	n, err := a.Counter(context.Background(), "matches:1v1:QUICK")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = a.Counter(context.Background(), "dispatch:completed:QUICK")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = a.Counter(context.Background(), "never:written")
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestMulti_FansOut(t *testing.T) {
	kv := store.NewMemory()
	s := NewStoreSink(kv, logrus.NewEntry(logrus.New()))
	m := Multi{Nop{}, s}
	m.RequestRemoved("2v2:RANKED", ReasonExpired)

	n, err := s.Counter(context.Background(), "removed:expired:2v2:RANKED")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}
