package metrics

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

// StatsTTL bounds how long a stats:<...> counter lives without being reset.
const StatsTTL = 24 * time.Hour

// StoreSink keeps daily counters under the stats: namespace so every maker
// and dispatcher instance adds into the same shared totals.
type StoreSink struct {
	kv  store.KV
	log *logrus.Entry
}

// NewStoreSink counts into kv.
func NewStoreSink(kv store.KV, log *logrus.Entry) *StoreSink {
	return &StoreSink{kv: kv, log: log}
}

func (s *StoreSink) incr(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if _, err := s.kv.Incr(ctx, store.PrefixStats+key, StatsTTL); err != nil {
		s.log.WithError(err).WithField("counter", key).Warn("stats increment failed")
	}
}

func (s *StoreSink) RequestEnqueued(partition string) {
	s.incr("enqueued:" + partition)
}

func (s *StoreSink) RequestRemoved(partition, reason string) {
	s.incr("removed:" + reason + ":" + partition)
}

// QueueSize is a gauge and is left to Prometheus.
func (s *StoreSink) QueueSize(string, int) {}

func (s *StoreSink) MatchFormed(partition string, _ int, _ float64, _ time.Duration) {
	s.incr("matches:" + partition)
}

func (s *StoreSink) PartitionFailed(partition string) {
	s.incr("partition_failed:" + partition)
}

func (s *StoreSink) DispatchFinished(matchType, outcome string, _ time.Duration) {
	s.incr("dispatch:" + outcome + ":" + matchType)
}

// Counter reads back one stats counter; missing counters are zero.
func (s *StoreSink) Counter(ctx context.Context, key string) (int64, error) {
	v, err := s.kv.Get(ctx, store.PrefixStats+key)
	if errors.Is(err, store.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}
