package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

func snapshotKey(matchID string) string { return store.PrefixDispatch + matchID }

// persist writes the session snapshot with a ttl of timeout plus grace, so
// a crashed process leaves nothing behind for long.
func (d *Dispatcher) persist(ctx context.Context, s *session) {
	if d.kv == nil {
		return
	}
	ctx, cancel := d.detach(ctx)
	defer cancel()
	snap := s.snapshot()
	data, err := json.Marshal(snap)
	if err != nil {
		d.log.WithError(err).WithField("match_id", snap.MatchID).Error("encode dispatch snapshot")
		return
	}
	if err := d.kv.Set(ctx, snapshotKey(snap.MatchID), string(data), d.cfg.Timeout+d.cfg.Grace); err != nil {
		d.log.WithError(err).WithField("match_id", snap.MatchID).Warn("persist dispatch snapshot")
	}
}

// Snapshot returns the state of a dispatch: the live session if it is
// still running, otherwise the persisted copy. It returns nil if neither
// exists.
func (d *Dispatcher) Snapshot(ctx context.Context, matchID string) (*Snapshot, error) {
	d.mu.Lock()
	s, ok := d.sessions[matchID]
	d.mu.Unlock()
	if ok {
		snap := s.snapshot()
		return &snap, nil
	}
	if d.kv == nil {
		return nil, nil
	}

	raw, err := d.kv.Get(ctx, snapshotKey(matchID))
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("dispatch: load snapshot %s: %w", matchID, err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return nil, fmt.Errorf("dispatch: decode snapshot %s: %w", matchID, err)
	}
	return &snap, nil
}
