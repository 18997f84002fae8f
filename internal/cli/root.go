// Package cli holds the fitalerts command tree.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"fitalerts/internal/config"
	"fitalerts/internal/logging"
)

// Version is set at build time with -ldflags "-X fitalerts/internal/cli.Version=...".
var Version = "dev"

type rootOptions struct {
	configFile string
	verbose    bool
}

func New() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:          "fitalerts",
		Short:        "Gym notification service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (yaml, json or toml); environment variables override it")
	cmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log at debug level")

	cmd.AddCommand(
		newServeCommand(opts),
		newWorkerCommand(opts),
		newMigrateCommand(opts),
		newUserCommand(opts),
		newVersionCommand(),
	)
	return cmd
}

// load reads the configuration and installs the logger. Commands that only
// touch the database skip validation.
func (o *rootOptions) load(validate bool) (*config.Config, error) {
	read := config.Read
	if validate {
		read = config.Load
	}
	cfg, err := read(o.configFile)
	if err != nil {
		return nil, err
	}

	level := cfg.App.LogLevel
	if o.verbose {
		level = "debug"
	}
	logging.Setup(level, cfg.App.LogFormat)
	return cfg, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, _ []string) {
			cmd.Println(Version)
		},
	}
}
