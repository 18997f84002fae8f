package cli

import (
	"log/slog"

	"github.com/spf13/cobra"

	"fitalerts/internal/server"
)

func newWorkerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Process background tasks: queued events, email and cleanup",
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

			if cfg.Realtime.Broker == "local" {
				slog.Warn("Standalone worker on the local broker; produced notifications are stored but not pushed. Set REALTIME_BROKER=redis")
			}

			w, err := app.NewWorker(ctx)
			if err != nil {
				return err
			}
			return w.Start(ctx)
		},
	}
}
