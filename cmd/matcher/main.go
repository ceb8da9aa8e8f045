package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/config"
	"github.com/netwindsky/LuminaServer-sub000/internal/dispatch"
	"github.com/netwindsky/LuminaServer-sub000/internal/history"
	"github.com/netwindsky/LuminaServer-sub000/internal/intake"
	"github.com/netwindsky/LuminaServer-sub000/internal/match"
	"github.com/netwindsky/LuminaServer-sub000/internal/matching"
	"github.com/netwindsky/LuminaServer-sub000/internal/messaging"
	"github.com/netwindsky/LuminaServer-sub000/internal/metrics"
	"github.com/netwindsky/LuminaServer-sub000/internal/penalty"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
	"github.com/netwindsky/LuminaServer-sub000/internal/queue"
	"github.com/netwindsky/LuminaServer-sub000/internal/ratelimit"
	"github.com/netwindsky/LuminaServer-sub000/internal/store"
	"github.com/netwindsky/LuminaServer-sub000/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("load config")
	}
	logger := cfg.Logger(os.Stdout)
	log := logrus.NewEntry(logger).WithField("service", "matcher")
	log.Info("starting matching service")

	ctx := context.Background()

	// Redis setup.
	rdb, err := store.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.WithError(err).Fatal("connect to Redis")
	}
	kv := store.NewRedis(rdb)

	// NATS setup.
	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = cfg.NATSURL
	natsConfig.Name = cfg.NATSName
	natsClient, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		log.WithError(err).Fatal("connect to NATS")
	}

	// Outcome history is optional.
	var (
		db       *sql.DB
		recorder dispatch.Recorder
	)
	if cfg.DatabaseURL != "" {
		db, err = history.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.WithError(err).Fatal("connect to Postgres")
		}
		if err := history.Migrate(db); err != nil {
			log.WithError(err).Fatal("migrate history schema")
		}
		recorder = history.NewStore(db)
	}

	// Metrics.
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	stats := metrics.Multi{metrics.NewPrometheus(registry), metrics.NewStoreSink(kv, log)}

	// Queue, restored from the store.
	q := queue.New(queue.NewStoreRepository(kv, cfg.QueueMaxWait), cfg.Queue(), stats, log)
	restored, err := q.Restore(ctx)
	if err != nil {
		log.WithError(err).Warn("restore queue")
	}

	matchPool := worker.NewPool("match", cfg.MatchWorkers, log)
	dispatchPool := worker.NewPool("dispatch", cfg.DispatchWorkers, log)

	directory := player.NewDirectory(rdb)
	penalties := penalty.NewStore(kv).WithLadder(cfg.Cooldowns)
	notifier := messaging.NewNotifier(natsClient)

	dispatcher := dispatch.New(dispatch.Deps{
		Rooms:     messaging.NewRoomClient(natsClient),
		Players:   directory,
		Notifier:  notifier,
		Requeuer:  q,
		Penalizer: penalties,
		Recorder:  recorder,
		Store:     kv,
		Stats:     stats,
		Pool:      dispatchPool,
	}, cfg.Dispatch(), log)

	rules := cfg.Dispatch().Rules
	maker := matching.NewMaker(q, matching.MakerConfig{
		Rules:      rules,
		SessionTTL: cfg.SessionTTL,
		Pool:       matchPool,
	}, stats, log)
	maker.SetForwarder(dispatcher)

	svc := matching.NewService(maker, q, cfg.Service(), log)
	svc.AddSweeper("dispatch_sessions", dispatcher.CleanupExpiredSessions)

	bridge := intake.NewBridge(q, dispatcher, notifier, log)
	bridge.Cooldowns = penalties
	bridge.Limiter = ratelimit.NewLimiter(kv, log)
	bridge.Presence = directory
	bridge.Trigger = svc.Trigger

	dispatcher.OnFinish(func(result *match.MatchResult, res dispatch.Result) {
		maker.Finalize(result.MatchID, res.MatchStatus())
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := q.Release(releaseCtx, result.PlayerIDs()...); err != nil {
			log.WithError(err).WithField("match_id", result.MatchID).Warn("release matched players")
		}
		cancel()
		bridge.NotifyOutcome(result, res)
	})

	if err := bridge.Start(ctx, natsClient, cfg.IntentGroup); err != nil {
		log.WithError(err).Fatal("subscribe to intents")
	}
	svc.Start()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(registry))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	srv := &http.Server{Addr: cfg.MetricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("metrics server")
		}
	}()

	log.WithFields(logrus.Fields{
		"redis_addr":   cfg.RedisAddr,
		"nats_url":     cfg.NATSURL,
		"metrics_addr": cfg.MetricsAddr,
		"history":      db != nil,
		"restored":     restored,
	}).Info("matching service running")

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	// Stopping the service cancels in-flight dispatches, which roll back
	// and requeue before their pool drains.
	svc.Stop()
	matchPool.Close()
	dispatchPool.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("metrics server shutdown")
	}

	natsClient.Close()
	if db != nil {
		db.Close()
	}
	rdb.Close()
}
