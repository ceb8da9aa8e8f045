// Package dispatch turns match results into seated game rooms. For every
// result it checks the players are online, creates a room, notifies the
// players, waits for all of them to accept and binds them to the room.
// Any failure rolls back the room and resolves to a failed Result; the
// workflow never returns an error or panics into its caller.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/metrics"
	"github.com/netwindsky/LuminaServer-sub000/internal/penalty"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
	"github.com/netwindsky/LuminaServer-sub000/internal/store"
	"github.com/netwindsky/LuminaServer-sub000/internal/worker"
)

const tracerName = "github.com/netwindsky/LuminaServer-sub000/internal/dispatch"

// Config tunes the dispatcher.
type Config struct {
	// Timeout is the acceptance window, counted from notification.
	Timeout time.Duration
	// Grace keeps persisted snapshots around after the window closes.
	Grace time.Duration
	// SettleTimeout bounds each cleanup call made once a session is over:
	// room removal, requeue, penalties, snapshots and outcome records.
	SettleTimeout time.Duration
	Rules         match.RuleBook
}

// DefaultConfig returns the production settings.
func DefaultConfig() Config {
	return Config{
		Timeout:       30 * time.Second,
		Grace:         30 * time.Second,
		SettleTimeout: 5 * time.Second,
		Rules:         match.DefaultRuleBook(),
	}
}

// Deps are the dispatcher's collaborators. Rooms, Players and Notifier are
// required; the rest may be nil. Without a Pool every dispatch gets its own
// goroutine.
type Deps struct {
	Rooms     RoomService
	Players   PlayerDirectory
	Notifier  Notifier
	Requeuer  Requeuer
	Penalizer Penalizer
	Recorder  Recorder
	Store     store.KV
	Stats     metrics.Sink
	Pool      *worker.Pool
	Tracer    trace.Tracer
}

// Result is the terminal outcome of one dispatch.
type Result struct {
	MatchID string
	Success bool
	RoomID  string
	Status  SessionStatus
	Kind    match.Kind
	Reason  string
	Elapsed time.Duration
}

// MatchStatus maps the dispatch outcome onto the match result lifecycle.
func (r Result) MatchStatus() match.ResultStatus {
	switch r.Status {
	case StatusCompleted:
		return match.ResultCompleted
	case StatusExpired:
		return match.ResultExpired
	default:
		return match.ResultRejected
	}
}

// FinishFunc observes every finished dispatch.
type FinishFunc func(result *match.MatchResult, res Result)

// Dispatcher runs dispatch workflows on a worker pool.
type Dispatcher struct {
	rooms     RoomService
	players   PlayerDirectory
	notifier  Notifier
	requeuer  Requeuer
	penalizer Penalizer
	recorder  Recorder
	kv        store.KV
	stats     metrics.Sink
	pool      *worker.Pool
	tracer    trace.Tracer
	cfg       Config
	log       *logrus.Entry

	mu       sync.Mutex
	sessions map[string]*session
	onFinish []FinishFunc
	now      func() time.Time
}

// New creates a dispatcher.
func New(deps Deps, cfg Config, log *logrus.Entry) *Dispatcher {
	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.Grace <= 0 {
		cfg.Grace = def.Grace
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	if cfg.Rules == nil {
		cfg.Rules = def.Rules
	}
	if deps.Stats == nil {
		deps.Stats = metrics.Nop{}
	}
	if deps.Tracer == nil {
		deps.Tracer = otel.Tracer(tracerName)
	}
	return &Dispatcher{
		rooms:     deps.Rooms,
		players:   deps.Players,
		notifier:  deps.Notifier,
		requeuer:  deps.Requeuer,
		penalizer: deps.Penalizer,
		recorder:  deps.Recorder,
		kv:        deps.Store,
		stats:     deps.Stats,
		pool:      deps.Pool,
		tracer:    deps.Tracer,
		cfg:       cfg,
		log:       log.WithField("component", "dispatcher"),
		sessions:  make(map[string]*session),
		now:       time.Now,
	}
}

// OnFinish registers fn to run after every dispatch. Call before the first
// dispatch.
func (d *Dispatcher) OnFinish(fn FinishFunc) {
	d.onFinish = append(d.onFinish, fn)
}

// Forward dispatches result without waiting for the outcome; OnFinish
// hooks observe it.
func (d *Dispatcher) Forward(ctx context.Context, result *match.MatchResult) {
	d.Dispatch(ctx, result)
}

// Dispatch starts the workflow for result and returns a channel that
// receives exactly one Result.
func (d *Dispatcher) Dispatch(ctx context.Context, result *match.MatchResult) <-chan Result {
	out := make(chan Result, 1)
	job := func() {
		defer func() {
			if r := recover(); r != nil {
				d.log.WithField("match_id", result.MatchID).WithField("panic", r).Error("dispatch panicked")
				d.unregister(result.MatchID)
				out <- Result{MatchID: result.MatchID, Status: StatusFailed, Reason: fmt.Sprintf("internal error: %v", r)}
			}
		}()
		out <- d.run(ctx, result)
	}
	if d.pool == nil {
		go job()
		return out
	}
	go func() {
		if err := d.pool.Submit(ctx, job); err != nil {
			d.log.WithError(err).WithField("match_id", result.MatchID).Error("dispatch not scheduled")
			d.requeue(ctx, result, result.PlayerIDs())
			out <- Result{MatchID: result.MatchID, Status: StatusFailed, Reason: err.Error()}
		}
	}()
	return out
}

func (d *Dispatcher) register(s *session) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.sessions[s.result.MatchID]; exists {
		return false
	}
	d.sessions[s.result.MatchID] = s
	return true
}

func (d *Dispatcher) unregister(matchID string) {
	d.mu.Lock()
	delete(d.sessions, matchID)
	d.mu.Unlock()
}

func (d *Dispatcher) lookup(matchID string) *session {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sessions[matchID]
}

// detach returns a context for cleanup work. It survives the session's
// cancellation and ends after SettleTimeout.
func (d *Dispatcher) detach(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), d.cfg.SettleTimeout)
}

func (d *Dispatcher) run(ctx context.Context, result *match.MatchResult) Result {
	ctx, span := d.tracer.Start(ctx, "dispatch.match", trace.WithAttributes(
		attribute.String("match.id", result.MatchID),
		attribute.String("match.game_mode", result.GameMode),
		attribute.String("match.type", string(result.MatchType)),
		attribute.Int("match.players", len(result.Players)),
		attribute.Float64("match.quality", result.QualityScore),
	))
	defer span.End()

	start := d.now()
	sctx, cancel := context.WithCancel(ctx)
	defer cancel()
	s := newSession(sctx, cancel, result, start, d.cfg.Timeout)
	if !d.register(s) {
		return Result{MatchID: result.MatchID, Status: StatusFailed, Kind: match.KindInvalidRequest, Reason: "match is already being dispatched"}
	}
	defer d.unregister(result.MatchID)
	d.persist(ctx, s)

	res := d.workflow(s)
	res.MatchID = result.MatchID
	res.Elapsed = d.now().Sub(start)

	d.persist(ctx, s)
	d.record(ctx, s, res)
	d.stats.DispatchFinished(string(result.MatchType), outcomeLabel(res), res.Elapsed)

	span.SetAttributes(attribute.String("dispatch.status", string(res.Status)))
	if res.Success {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, res.Reason)
	}

	entry := d.log.WithFields(logrus.Fields{
		"match_id": result.MatchID,
		"status":   res.Status,
		"room_id":  res.RoomID,
		"elapsed":  res.Elapsed,
	})
	if res.Success {
		entry.Info("dispatch completed")
	} else {
		entry.WithField("reason", res.Reason).Warn("dispatch failed")
	}

	for _, fn := range d.onFinish {
		fn(result, res)
	}
	return res
}

func outcomeLabel(res Result) string {
	switch {
	case res.Success:
		return metrics.OutcomeCompleted
	case res.Status == StatusExpired:
		return metrics.OutcomeExpired
	case res.Reason == "rejected":
		return metrics.OutcomeRejected
	default:
		return metrics.OutcomeFailed
	}
}

var errStopped = errors.New("dispatcher stopped")

// workflow drives s to a terminal state. Every collaborator call runs under
// s.bounded, so a stuck call ends at the deadline or at the sweep.
func (d *Dispatcher) workflow(s *session) Result {
	result := s.result
	ids := result.PlayerIDs()

	// Validate.
	var offline []string
	for _, id := range ids {
		p, online, err := d.presence(s, id)
		if err != nil {
			return d.abort(s, "", match.KindStoreFailure, err, ids)
		}
		if p == nil || !online {
			offline = append(offline, id)
		}
	}
	if len(offline) > 0 {
		return d.abort(s, "", match.KindPlayerOffline, fmt.Errorf("players offline: %v", offline), without(ids, offline))
	}

	// Create room.
	cctx, cancel := s.bounded()
	roomID, err := d.rooms.CreateRoom(cctx, d.roomConfig(result))
	cancel()
	if err != nil {
		return d.abort(s, "", match.KindRoomCreateFailed, err, ids)
	}
	expire := d.now().Add(d.cfg.Timeout)
	s.setRoom(roomID, expire)
	if !s.advance(StatusNotifying) {
		return d.settle(s, roomID, nil)
	}
	d.persist(s.ctx, s)

	// Notify. Players reached after the deadline do not count as notified.
	n := MatchNotification{
		MatchID:      result.MatchID,
		RoomID:       roomID,
		GameMode:     result.GameMode,
		MatchType:    result.MatchType,
		PlayerIDs:    ids,
		QualityScore: result.QualityScore,
		ExpireTime:   expire,
	}
	notified := make([]string, 0, len(ids))
	for _, id := range ids {
		if !d.now().Before(expire) || s.ctx.Err() != nil {
			break
		}
		cctx, cancel := s.bounded()
		err := d.notifier.PushToPlayer(cctx, id, n)
		cancel()
		if err != nil && d.now().Before(expire) && s.ctx.Err() == nil {
			return d.abort(s, roomID, match.KindNotifyFailed, fmt.Errorf("push to %s: %w", id, err), ids)
		}
		if err != nil || !d.now().Before(expire) {
			break
		}
		notified = append(notified, id)
	}
	s.advance(StatusWaiting)
	d.persist(s.ctx, s)

	// Await acceptance.
	timer := time.NewTimer(max(expire.Sub(d.now()), 0))
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
	case <-s.ctx.Done():
		// A sweep finishes the session before cancelling it.
		if s.finish(StatusFailed, errStopped.Error()) {
			return d.abort(s, roomID, "", errStopped, ids)
		}
	}
	if proceed, _, _ := s.decide(); !proceed {
		return d.settle(s, roomID, notified)
	}
	if !s.finish(StatusCompleted, "") {
		return d.settle(s, roomID, notified)
	}

	// Finalize.
	bctx, cancel := d.detach(s.ctx)
	defer cancel()
	for _, id := range ids {
		if err := d.players.BindToRoom(bctx, id, roomID, player.StatusInGame); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"match_id":  result.MatchID,
				"player_id": id,
			}).Warn("bind player to room")
		}
	}
	return Result{Success: true, RoomID: roomID, Status: StatusCompleted}
}

// presence looks up one player under the session deadline.
func (d *Dispatcher) presence(s *session, id string) (*player.Player, bool, error) {
	ctx, cancel := s.bounded()
	defer cancel()
	p, err := d.players.GetPlayer(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("look up player %s: %w", id, err)
	}
	online, err := d.players.IsOnline(ctx, id)
	if err != nil {
		return nil, false, fmt.Errorf("presence of %s: %w", id, err)
	}
	return p, online, nil
}

// abort ends a dispatch that failed before the players answered: the room
// is removed and the requeue players go back in the queue.
func (d *Dispatcher) abort(s *session, roomID string, kind match.Kind, cause error, requeue []string) Result {
	s.finish(StatusFailed, cause.Error())
	d.rollback(s.ctx, s.result.MatchID, roomID)
	d.requeue(s.ctx, s.result, requeue)
	snap := s.snapshot()
	return Result{Status: snap.Status, Kind: kind, Reason: snap.Reason}
}

// settle ends a session that was rejected, timed out or swept. Decliners
// always get a cooldown. Silent players get one only when the window ran
// out after they were notified; otherwise they are requeued with everyone
// who accepted.
func (d *Dispatcher) settle(s *session, roomID string, notified []string) Result {
	_, status, reason := s.decide()
	d.rollback(s.ctx, s.result.MatchID, roomID)

	reached := make(map[string]bool, len(notified))
	for _, id := range notified {
		reached[id] = true
	}
	var back, declined, silent []string
	for _, id := range s.result.PlayerIDs() {
		switch s.responseOf(id) {
		case accepted:
			back = append(back, id)
		case rejected:
			declined = append(declined, id)
		default:
			if status == StatusExpired && reached[id] {
				silent = append(silent, id)
			} else {
				back = append(back, id)
			}
		}
	}
	d.requeue(s.ctx, s.result, back)
	d.penalize(s.ctx, s.result.MatchID, declined, penalty.ReasonDeclined)
	d.penalize(s.ctx, s.result.MatchID, silent, penalty.ReasonNoAnswer)
	return Result{Status: status, Reason: reason}
}

func (d *Dispatcher) rollback(ctx context.Context, matchID, roomID string) {
	if roomID == "" {
		return
	}
	ctx, cancel := d.detach(ctx)
	defer cancel()
	if err := d.rooms.RemoveRoom(ctx, roomID); err != nil {
		d.log.WithError(err).WithFields(logrus.Fields{
			"match_id": matchID,
			"room_id":  roomID,
		}).Warn("remove room")
	}
}

func (d *Dispatcher) requeue(ctx context.Context, result *match.MatchResult, ids []string) {
	if d.requeuer == nil || len(ids) == 0 {
		return
	}
	ctx, cancel := d.detach(ctx)
	defer cancel()
	for _, id := range ids {
		req := result.Request(id)
		if req == nil {
			continue
		}
		if err := d.requeuer.Requeue(ctx, req.Clone()); err != nil {
			d.log.WithError(err).WithFields(logrus.Fields{
				"match_id":  result.MatchID,
				"player_id": id,
			}).Warn("requeue player")
		}
	}
}

func (d *Dispatcher) penalize(ctx context.Context, matchID string, ids []string, reason string) {
	if d.penalizer == nil || len(ids) == 0 {
		return
	}
	ctx, cancel := d.detach(ctx)
	defer cancel()
	for _, id := range ids {
		cooldown, err := d.penalizer.Penalize(ctx, id, reason)
		entry := d.log.WithFields(logrus.Fields{
			"match_id":  matchID,
			"player_id": id,
			"reason":    reason,
		})
		if err != nil {
			entry.WithError(err).Warn("penalize player")
			continue
		}
		entry.WithField("cooldown", cooldown).Info("player on cooldown")
	}
}

func (d *Dispatcher) record(ctx context.Context, s *session, res Result) {
	if d.recorder == nil {
		return
	}
	ctx, cancel := d.detach(ctx)
	defer cancel()
	snap := s.snapshot()
	o := Outcome{
		MatchID:      snap.MatchID,
		GameMode:     snap.GameMode,
		MatchType:    snap.MatchType,
		RoomID:       res.RoomID,
		Status:       res.Status,
		Reason:       res.Reason,
		PlayerIDs:    snap.PlayerIDs,
		Accepted:     snap.Accepted,
		QualityScore: s.result.QualityScore,
		CreateTime:   snap.CreateTime,
		FinishTime:   d.now(),
	}
	if err := d.recorder.RecordOutcome(ctx, o); err != nil {
		d.log.WithError(err).WithField("match_id", snap.MatchID).Warn("record dispatch outcome")
	}
}

func (d *Dispatcher) roomConfig(result *match.MatchResult) RoomConfig {
	rules := d.cfg.Rules.For(result.GameMode)
	cfg := RoomConfig{
		MatchID:    result.MatchID,
		GameMode:   result.GameMode,
		MatchType:  result.MatchType,
		MaxPlayers: max(rules.MaxPlayers, len(result.Players)),
		PlayerIDs:  result.PlayerIDs(),
		Ranked:     result.MatchType == match.Ranked || result.MatchType == match.Tournament,
		Tournament: result.MatchType == match.Tournament,
	}
	if result.MatchType == match.Custom {
		cfg.Custom = make(map[string]string)
		for _, p := range result.Players {
			for k, v := range p.Criteria.Custom {
				if _, ok := cfg.Custom[k]; !ok {
					cfg.Custom[k] = v
				}
			}
		}
	}
	return cfg
}

func without(ids, drop []string) []string {
	skip := make(map[string]struct{}, len(drop))
	for _, id := range drop {
		skip[id] = struct{}{}
	}
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := skip[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}

// HandlePlayerAcceptance records that playerID accepted matchID. It reports
// false for unknown matches, non-participants, repeated answers and
// sessions that are no longer waiting.
func (d *Dispatcher) HandlePlayerAcceptance(matchID, playerID string) bool {
	return d.handle(matchID, playerID, accepted)
}

// HandlePlayerRejection records that playerID declined matchID, which ends
// the dispatch.
func (d *Dispatcher) HandlePlayerRejection(matchID, playerID string) bool {
	return d.handle(matchID, playerID, rejected)
}

func (d *Dispatcher) handle(matchID, playerID string, r response) bool {
	entry := d.log.WithFields(logrus.Fields{
		"match_id":  matchID,
		"player_id": playerID,
	})
	s := d.lookup(matchID)
	if s == nil {
		entry.Warn("response for unknown match")
		return false
	}
	if !s.respond(playerID, r, d.now()) {
		entry.Warn("response not accepted")
		return false
	}
	entry.WithField("accepted", r == accepted).Debug("player responded")
	return true
}

// CleanupExpiredSessions forces every session past its expire time into
// EXPIRED, cancels its in-flight collaborator calls and drops it. Its
// workflow performs the rollback. It returns the number of sessions dropped.
func (d *Dispatcher) CleanupExpiredSessions(now time.Time) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for id, s := range d.sessions {
		s.mu.Lock()
		expire := s.expireTime
		s.mu.Unlock()
		if now.Before(expire) {
			continue
		}
		s.finish(StatusExpired, "expired by sweep")
		s.cancel()
		delete(d.sessions, id)
		n++
	}
	return n
}

// Active is the number of dispatches in flight.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sessions)
}
