package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"fitalerts/internal/migrations"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	databaseURL := func() (string, error) {
		cfg, err := opts.load(false)
		if err != nil {
			return "", err
		}
		return cfg.Database.URL(), nil
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				return migrations.Up(url)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				return migrations.Down(url)
			},
		},
		&cobra.Command{
			Use:   "force VERSION",
			Short: "Set the schema version without running migrations",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				return migrations.Force(url, args[0])
			},
		},
		&cobra.Command{
			Use:   "version",
			Short: "Print the current schema version",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				url, err := databaseURL()
				if err != nil {
					return err
				}
				version, dirty, err := migrations.Version(url)
				if err != nil {
					return err
				}
				cmd.Printf("version=%d dirty=%t\n", version, dirty)
				return nil
			},
		},
		newMigrateDropCommand(databaseURL),
	)
	return cmd
}

func newMigrateDropCommand(databaseURL func() (string, error)) *cobra.Command {
	var yes bool
	cmd := &cobra.Command{
		Use:   "drop",
		Short: "Drop every table (destructive)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("refusing to drop without --yes")
			}
			url, err := databaseURL()
			if err != nil {
				return err
			}
			return migrations.Drop(url)
		},
	}
	cmd.Flags().BoolVar(&yes, "yes", false, "confirm dropping all tables")
	return cmd
}
