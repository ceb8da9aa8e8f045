package matching

import (
	"time"

	"github.com/sirupsen/logrus"
)

// maintenanceLoop ages priorities, removes expired requests and sweeps
// unfinished sessions, each on its own interval.
func (s *Service) maintenanceLoop() {
	defer s.wg.Done()

	aging := time.NewTicker(s.cfg.AgingInterval)
	defer aging.Stop()
	cleanup := time.NewTicker(s.cfg.CleanupInterval)
	defer cleanup.Stop()
	sweep := time.NewTicker(s.cfg.SessionSweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-aging.C:
			s.agePriorities()
		case <-cleanup.C:
			s.cleanExpiredRequests()
		case now := <-sweep.C:
			s.sweepSessions(now)
		}
	}
}

func (s *Service) agePriorities() {
	n, err := s.queue.UpdateQueuePriorities(s.ctx)
	if err != nil {
		s.log.WithError(err).Warn("priority aging incomplete")
	}
	if n > 0 {
		s.log.WithField("updated", n).Debug("priorities aged")
	}
}

func (s *Service) cleanExpiredRequests() {
	n, err := s.queue.CleanupExpiredRequests(s.ctx)
	if err != nil {
		s.log.WithError(err).Warn("cleanup incomplete")
	}
	if n > 0 {
		s.log.WithField("removed", n).Info("expired requests removed")
	}
}

func (s *Service) sweepSessions(now time.Time) {
	for _, sw := range s.sweepers {
		if n := sw.fn(now); n > 0 {
			s.log.WithFields(logrus.Fields{
				"sweeper": sw.name,
				"expired": n,
			}).Info("sessions expired")
		}
	}
}
