package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
	"github.com/jmoiron/sqlx"

	"fitalerts/internal/auth"
	"fitalerts/internal/config"
	"fitalerts/internal/db"
	"fitalerts/internal/mailer"
	"fitalerts/internal/notification"
	"fitalerts/internal/queue"
	"fitalerts/internal/realtime"
	"fitalerts/internal/worker"
)

// App wires every long lived dependency from the configuration.
type App struct {
	Config  *config.Config
	DB      *sqlx.DB
	Users   *db.UserRepository
	Store   notification.Store
	Service *notification.Service
	Hub     *realtime.Hub
	Broker  *realtime.RedisBroker
	Queue   *queue.Client
	Tokens  *auth.Manager

	redisOpt asynq.RedisClientOpt
	closers  []func() error
}

func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	app := &App{
		Config: cfg,
		Hub:    realtime.NewHub(cfg.Realtime.SendBuffer),
		Tokens: auth.NewManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		redisOpt: asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
	}

	conn, err := db.Connect(ctx, cfg.Database)
	if err != nil {
		return nil, err
	}
	app.DB = conn
	app.closers = append(app.closers, conn.Close)
	app.Users = db.NewUserRepository(conn)

	switch cfg.Store.Driver {
	case "firestore":
		fbCfg, err := config.LoadFirebaseConfig()
		if err != nil {
			app.Close()
			return nil, err
		}
		fb, err := config.NewFirebaseClient(ctx, fbCfg)
		if err != nil {
			app.Close()
			return nil, err
		}
		app.closers = append(app.closers, fb.Close)
		app.Store = notification.NewFirestoreStore(fb.Firestore)
	default:
		app.Store = db.NewNotificationStore(conn)
	}
	slog.Info("Notification store ready", "driver", cfg.Store.Driver)

	app.Queue = queue.NewClient(app.redisOpt)
	app.closers = append(app.closers, app.Queue.Close)

	var publishers []notification.Publisher
	if cfg.Realtime.Broker == "redis" {
		rdb := realtime.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			app.Close()
			return nil, fmt.Errorf("redis ping failed: %w", err)
		}
		app.closers = append(app.closers, rdb.Close)
		app.Broker = realtime.NewRedisBroker(rdb, cfg.Realtime.Channel, app.Hub)
		publishers = append(publishers, app.Broker)
	} else {
		publishers = append(publishers, app.Hub)
	}
	if cfg.Email.Enabled {
		publishers = append(publishers, queue.NewEmailPublisher(app.Queue, cfg.Email.Types))
	}

	app.Service = notification.NewService(app.Store, app.Users,
		notification.WithPublishers(publishers...),
		notification.WithRetention(cfg.Retention.Window()),
	)
	return app, nil
}

// NewWorker builds the background worker sharing this app's service.
func (a *App) NewWorker(ctx context.Context) (*worker.Worker, error) {
	var sender worker.EmailSender
	if a.Config.Email.Enabled {
		sesClient, err := config.NewSESClient(ctx, a.Config.Email)
		if err != nil {
			return nil, err
		}
		sender = mailer.New(sesClient, a.Config.Email.From)
	}

	processor := worker.NewProcessor(a.Service, a.Users, sender)
	return worker.NewWorker(a.redisOpt, processor, a.Config.Worker.Concurrency, a.Config.Retention.CleanupCron), nil
}

func (a *App) Close() error {
	a.Hub.Close()
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
