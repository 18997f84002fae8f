package worker

import (
	"context"
	"log/slog"

	"github.com/hibiken/asynq"

	"fitalerts/internal/queue"
)

type Worker struct {
	server      *asynq.Server
	scheduler   *asynq.Scheduler
	processor   *Processor
	cleanupCron string
	concurrency int
}

func NewWorker(redisOpt asynq.RedisConnOpt, processor *Processor, concurrency int, cleanupCron string) *Worker {
	if concurrency <= 0 {
		concurrency = 10
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				queue.QueueNotifications: 6,
				queue.QueueEmail:         3,
				queue.QueueMaintenance:   1,
			},
			Logger:   slogAdapter{},
			LogLevel: asynq.WarnLevel,
		},
	)

	w := &Worker{
		server:      server,
		processor:   processor,
		cleanupCron: cleanupCron,
		concurrency: concurrency,
	}
	if cleanupCron != "" {
		w.scheduler = asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Logger: slogAdapter{}, LogLevel: asynq.WarnLevel})
	}
	return w
}

func NewServeMux(p *Processor) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.HandleFunc(queue.TypeProduce, p.HandleProduce)
	mux.HandleFunc(queue.TypeEmail, p.HandleEmail)
	mux.HandleFunc(queue.TypeCleanup, p.HandleCleanup)
	return mux
}

// Start runs the worker until ctx is cancelled.
func (w *Worker) Start(ctx context.Context) error {
	if w.scheduler != nil {
		entryID, err := w.scheduler.Register(w.cleanupCron, queue.NewCleanupTask(), asynq.Queue(queue.QueueMaintenance))
		if err != nil {
			return err
		}
		if err := w.scheduler.Start(); err != nil {
			return err
		}
		slog.Info("Scheduled notification cleanup", "cron", w.cleanupCron, "entry_id", entryID)
	}

	slog.Info("Starting worker",
		"queues", []string{queue.QueueNotifications, queue.QueueEmail, queue.QueueMaintenance},
		"concurrency", w.concurrency)

	if err := w.server.Start(NewServeMux(w.processor)); err != nil {
		return err
	}
	slog.Info("Worker started successfully")

	<-ctx.Done()

	if w.scheduler != nil {
		w.scheduler.Shutdown()
	}
	w.server.Shutdown()
	slog.Info("Worker stopped")
	return nil
}

// slogAdapter routes asynq's internal logging through slog.
type slogAdapter struct{}

func (slogAdapter) Debug(args ...interface{}) { slog.Debug("asynq", "msg", args) }
func (slogAdapter) Info(args ...interface{})  { slog.Info("asynq", "msg", args) }
func (slogAdapter) Warn(args ...interface{})  { slog.Warn("asynq", "msg", args) }
func (slogAdapter) Error(args ...interface{}) { slog.Error("asynq", "msg", args) }
func (slogAdapter) Fatal(args ...interface{}) { slog.Error("asynq fatal", "msg", args) }
