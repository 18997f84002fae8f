package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"fitalerts/internal/auth"
	"fitalerts/internal/db"
)

// newUserCommand covers what signup cannot: accounts with elevated roles.
func newUserCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "user",
		Short: "Manage accounts",
	}

	var email, name, password, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create an account with any role",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !db.ValidRole(role) {
				return fmt.Errorf("unknown role %q", role)
			}
			if err := auth.ValidateEmail(email); err != nil {
				return err
			}
			if err := auth.Validate.Var(password, "password"); err != nil {
				return errors.New("password must be at least 8 characters long and contain uppercase, lowercase, number, and special character")
			}

			cfg, err := opts.load(false)
			if err != nil {
				return err
			}
			conn, err := db.Connect(cmd.Context(), cfg.Database)
			if err != nil {
				return err
			}
			defer conn.Close()

			hash, err := auth.HashPassword(password)
			if err != nil {
				return err
			}
			user, err := db.NewUserRepository(conn).CreateUser(cmd.Context(), email, hash, name, role)
			if err != nil {
				return err
			}
			cmd.Printf("created %s %s (%s)\n", user.Role, user.Email, user.ID)
			return nil
		},
	}
	create.Flags().StringVar(&email, "email", "", "account email")
	create.Flags().StringVar(&name, "name", "", "display name")
	create.Flags().StringVar(&password, "password", "", "initial password")
	create.Flags().StringVar(&role, "role", db.RoleAdmin, "admin, member, trainer or service")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("name")
	_ = create.MarkFlagRequired("password")

	cmd.AddCommand(create)
	return cmd
}
