package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"rollcall/internal/config"
	"rollcall/internal/docstore"
	"rollcall/internal/logger"
	"rollcall/internal/model"
	"rollcall/internal/queue"
	"rollcall/internal/roster"
	"rollcall/internal/store"
)

// Worker consumes repair jobs and reconciles class-keeping indexes against
// the class rosters.
func main() {
	cfg := config.Load()
	logger.Init(cfg.LogLevel, cfg.LogFormat)
	log := logger.Get()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info().Msg("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var repairs queue.Queue
	if cfg.QueueBackend == "memory" {
		repairs = queue.NewInMemory(64)
	} else {
		repairs = queue.NewRedisQueue(redisClient.Client, "")
	}

	docs := docstore.New(docstore.NewPGBackend(db.Client),
		docstore.WithNotifier(docstore.NewRedisNotifier(redisClient.Client)),
		docstore.WithLogger(log),
	)
	cols := model.NewCollections(docs)
	// The worker is the repair sink; it must not enqueue more repairs.
	rosters := roster.NewService(cols, nil, log)

	messages, err := repairs.Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Msg("worker started, waiting for repair jobs")
	for msg := range messages {
		if msg.Type != queue.TypeRepair {
			continue
		}
		userKey := msg.Body
		keeping, err := rosters.Repair(ctx, userKey)
		if err != nil {
			log.Error().Err(err).Str("user", userKey).Msg("repair failed")
			continue
		}
		log.Info().
			Str("user", userKey).
			Int("teaching", len(keeping.Teaching)).
			Int("enrolled", len(keeping.Enrolled)).
			Msg("keeping index rebuilt")
	}
	log.Info().Msg("worker stopped")
}
