package cli

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"fitalerts/internal/auth"
	"fitalerts/internal/handlers"
	"fitalerts/internal/realtime"
	"fitalerts/internal/routes"
	"fitalerts/internal/security"
	"fitalerts/internal/server"
)

const limiterPruneInterval = 5 * time.Minute

func newServeCommand(opts *rootOptions) *cobra.Command {
	var withWorker bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the realtime channel",
		Long: `Serve the HTTP API and the realtime channel.

With the local broker, queued events only reach connected clients when the
worker runs in this process, which is the default.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := opts.load(true)
			if err != nil {
				return err
			}

			ctx, stop := signalContext(cmd.Context())
			defer stop()

			app, err := server.Build(ctx, cfg)
			if err != nil {
				return err
			}
			defer app.Close()

			return runServe(ctx, app, withWorker)
		},
	}
	cmd.Flags().BoolVar(&withWorker, "with-worker", true, "process background tasks in this process")
	return cmd
}

func runServe(ctx context.Context, app *server.App, withWorker bool) error {
	cfg := app.Config
	connectLimiter := security.NewKeyedLimiter(cfg.Realtime.ConnectPerMinute)

	h := routes.Handlers{
		Auth:          handlers.NewAuthHandler(app.Users, app.Tokens),
		Notifications: handlers.NewNotificationHandler(app.Service),
		Events:        handlers.NewEventHandler(app.Queue),
		Realtime:      realtime.NewHandler(app.Hub, app.Tokens, connectLimiter, cfg.Realtime.AllowedOrigins),
	}
	e := server.NewEcho(h, app.Tokens, auth.NewRateLimiter(cfg.RateLimit.RequestsPerMinute), cfg.Realtime.AllowedOrigins)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return server.Serve(ctx, e, cfg.App.Address())
	})

	if app.Broker != nil {
		g.Go(func() error {
			return app.Broker.Run(ctx, nil)
		})
	}

	if withWorker {
		w, err := app.NewWorker(ctx)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return w.Start(ctx)
		})
	} else if cfg.Realtime.Broker == "local" {
		slog.Warn("Serving without a worker on the local broker; queued events will not be pushed to clients of this instance")
	}

	g.Go(func() error {
		ticker := time.NewTicker(limiterPruneInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n := connectLimiter.Prune(); n > 0 {
					slog.Debug("Pruned idle connect limiters", "count", n)
				}
			}
		}
	})

	slog.Info("fitalerts started",
		"addr", cfg.App.Address(),
		"store", cfg.Store.Driver,
		"broker", cfg.Realtime.Broker,
		"worker", withWorker,
		"email", cfg.Email.Enabled)
	return g.Wait()
}
