package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sungwon/mailqueue/internal/bootstrap"
	"github.com/sungwon/mailqueue/internal/config"
	"github.com/sungwon/mailqueue/internal/logger"
	"github.com/sungwon/mailqueue/internal/queue"
	"github.com/sungwon/mailqueue/internal/scheduler"
	"github.com/sungwon/mailqueue/internal/worker"
)

func main() {
	cfg, err := config.Load("config")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewFromConfig(cfg.Logging)
	log.Info().Msg("starting queue worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app, err := bootstrap.Open(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize")
	}
	defer app.Close()

	engine, err := app.NewEngine()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create delivery engine")
	}

	// With the inline queue q is nil and the scheduler sends due messages
	// itself.
	q, err := app.NewQueue(ctx, worker.NewHandler(engine, log))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create queue")
	}
	var enqueuer queue.Enqueuer
	if q != nil {
		enqueuer = q.Enqueuer
		if err := q.Dequeuer.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start worker pool")
		}
		log.Info().
			Str("queue", cfg.Queue.Type).
			Int("workers", cfg.Queue.WorkerCount).
			Msg("queue worker pool started")
	}

	var locker scheduler.Locker
	if app.Redis != nil {
		locker = scheduler.NewRedisLocker(app.Redis, "mailqueue:lock:")
	}
	sched, err := scheduler.New(cfg.SchedulerConfig(), engine, enqueuer, locker, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create scheduler")
	}
	sched.Start(ctx)
	log.Info().
		Str("due", cfg.Scheduler.DueSpec).
		Str("stale", cfg.Scheduler.StaleSpec).
		Int("retention_days", cfg.Retention.Days).
		Msg("scheduler started")

	app.Health.Start()
	defer app.Health.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down queue worker")

	shutdownCtx, stop := context.WithTimeout(context.Background(), cfg.Queue.ShutdownTimeout)
	defer stop()

	if err := sched.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("scheduler shutdown error")
	}
	if q != nil {
		if err := q.Dequeuer.Stop(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("worker pool shutdown error")
		}
	}
	cancel()

	log.Info().Msg("queue worker stopped")
}
