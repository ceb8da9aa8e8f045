// Command loadtest drives a running matcher with simulated players. Each
// player registers as online, enqueues over NATS, answers its match
// proposal and waits for the room.
//
// Usage:
//
//	loadtest [options]
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/netwindsky/LuminaServer-sub000/internal/loadgen"
	"github.com/netwindsky/LuminaServer-sub000/internal/messaging"
	"github.com/netwindsky/LuminaServer-sub000/internal/player"
	"github.com/netwindsky/LuminaServer-sub000/internal/protocol"
	"github.com/netwindsky/LuminaServer-sub000/internal/store"
)

func main() {
	natsURL := flag.String("nats", "nats://localhost:4222", "NATS server URL")
	redisAddr := flag.String("redis", "localhost:6379", "Redis address of the player directory")
	players := flag.Int("players", 200, "Number of simulated players")
	gameMode := flag.String("mode", "classic", "Game mode to queue for")
	matchType := flag.String("type", "QUICK", "Match type: QUICK, RANKED, CUSTOM or TOURNAMENT")
	maxLevel := flag.Int("max-level", 50, "Highest player level to draw from")
	rejectRate := flag.Float64("reject-rate", 0, "Probability that a player rejects its proposal")
	rampUp := flag.Duration("ramp", 10*time.Second, "Ramp-up duration for enqueueing")
	timeout := flag.Duration("timeout", 2*time.Minute, "Time to wait for every player to finish")
	serveRooms := flag.Bool("serve-rooms", true, "Answer room.create and room.remove requests")
	verbose := flag.Bool("v", false, "Debug logging")
	flag.Parse()

	logger := logrus.New()
	if *verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	log := logrus.NewEntry(logger).WithField("service", "loadtest")

	fmt.Printf("Load test: %d %s players in %q (ramp=%s, timeout=%s, reject-rate=%.2f)\n",
		*players, *matchType, *gameMode, *rampUp, *timeout, *rejectRate)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rdb, err := store.Connect(ctx, *redisAddr, "", 0)
	if err != nil {
		log.WithError(err).Fatal("connect to Redis")
	}
	defer rdb.Close()

	natsConfig := messaging.DefaultNATSConfig()
	natsConfig.URL = *natsURL
	natsConfig.Name = "loadtest"
	nc, err := messaging.NewNATSClient(natsConfig, log)
	if err != nil {
		log.WithError(err).Fatal("connect to NATS")
	}
	defer nc.Close()

	collector := loadgen.NewCollector()
	runner := loadgen.NewRunner(nc, player.NewDirectory(rdb), loadgen.RunConfig{
		Players:    *players,
		GameMode:   *gameMode,
		MatchType:  *matchType,
		MaxLevel:   *maxLevel,
		RejectRate: *rejectRate,
		Ramp:       *rampUp,
		Timeout:    *timeout,
		ServeRooms: *serveRooms,
	}, collector, log)

	// Progress reporting every 2 seconds.
	progressStop := make(chan struct{})
	go func() {
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				fmt.Printf("  [progress] matched: %d  seated: %d/%d  cancelled: %d  errors: %d\n",
					collector.Matched().N,
					collector.Outcome(protocol.TypeMatchStarted), *players,
					collector.Outcome(protocol.TypeMatchCancelled),
					collector.ErrorCount())
			case <-progressStop:
				return
			}
		}
	}()

	err = runner.Run(ctx)
	close(progressStop)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run: %v\n", err)
	}

	collector.Report(os.Stdout)
	if collector.Outcome(protocol.TypeMatchStarted) == 0 {
		os.Exit(1)
	}
}
