package bootstrap

import (
	"context"
	"errors"
	"sync"

	"jobsync_worker/adapter/in/worker"
	"jobsync_worker/adapter/out/messaging"
	"jobsync_worker/config"
	"jobsync_worker/pkg/logger"

	"github.com/rs/zerolog"
)

// Worker consumes sync triggers from Redis Streams and runs the pipeline on
// a timer.
type Worker struct {
	consumer  *messaging.Consumer
	scheduler *worker.Scheduler
	deps      *Dependencies
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	zlog      zerolog.Logger
}

func NewWorker(cfg *config.Config, deps *Dependencies) *Worker {
	ctx, cancel := context.WithCancel(context.Background())

	w := &Worker{
		deps:   deps,
		ctx:    ctx,
		cancel: cancel,
		zlog:   logger.Zerolog("worker"),
	}

	// Redis Stream Consumer (only with Redis)
	if deps.Redis != nil {
		dispatcher := worker.NewDispatcher(deps.Runner)
		w.consumer = messaging.NewConsumer(deps.Redis, &messaging.ConsumerConfig{
			Group:      cfg.ConsumerGroup,
			Consumer:   cfg.WorkerID,
			Streams:    dispatcher.Streams(),
			Handler:    dispatcher.Handle,
			Logger:     logger.Zerolog("consumer"),
			MaxRetries: cfg.ConsumerMaxRetries,
		})
		logger.Info("Redis Stream Consumer configured (group: %s, consumer: %s)", cfg.ConsumerGroup, cfg.WorkerID)
	} else {
		logger.Warn("Redis not available, worker only runs scheduled syncs")
	}

	if cfg.SchedulerEnabled {
		w.scheduler = worker.NewScheduler(deps.Runner, cfg.SyncInterval, 0)
		logger.Info("Sync scheduler configured (interval: %s)", cfg.SyncInterval)
	}

	return w
}

// Start blocks until Stop is called.
func (w *Worker) Start() {
	if w.consumer != nil {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			w.zlog.Info().Msg("Starting Redis Stream Consumer...")
			if err := w.consumer.Run(w.ctx); err != nil && !errors.Is(err, context.Canceled) {
				w.zlog.Error().Err(err).Msg("Redis Stream Consumer error")
			}
		}()
	}

	if w.scheduler != nil {
		w.scheduler.Start()
		w.zlog.Info().Msg("Started sync scheduler")
	}

	if w.consumer == nil && w.scheduler == nil {
		w.zlog.Warn().Msg("Nothing to run: no Redis and scheduler disabled")
	}

	<-w.ctx.Done()
}

func (w *Worker) Stop() {
	w.cancel()

	if w.scheduler != nil {
		w.scheduler.Stop()
	}

	w.wg.Wait()
	w.zlog.Info().Msg("Worker stopped")
}
