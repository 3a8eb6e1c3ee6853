package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"apikit/internal/builtin"
)

type createUserOptions struct {
	login    string
	password string
	name     string
	admin    bool
}

// NewCreateUserCommand creates the create-user command.
func NewCreateUserCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &createUserOptions{}
	cmd := &cobra.Command{
		Use:          "create-user",
		Short:        "Create a user, optionally with admin rights",
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCreateUser(cmd, rootOpts, opts)
		},
	}
	cmd.Flags().StringVar(&opts.login, "login", "", "login name (required)")
	cmd.Flags().StringVar(&opts.password, "password", "", "password, at least 8 characters (required)")
	cmd.Flags().StringVar(&opts.name, "name", "", "display name")
	cmd.Flags().BoolVar(&opts.admin, "admin", false, "grant admin rights")
	_ = cmd.MarkFlagRequired("login")
	_ = cmd.MarkFlagRequired("password")
	return cmd
}

func runCreateUser(cmd *cobra.Command, rootOpts *RootOptions, opts *createUserOptions) error {
	ctx := cmd.Context()
	out := &outputFormatter{format: rootOpts.Format, writer: cmd.OutOrStdout()}
	s, cfg, closeStore, err := rootOpts.openStore(ctx)
	if err != nil {
		return out.failure(err)
	}
	defer closeStore()

	user, err := builtin.CreateUser(ctx, s, opts.login, opts.password, opts.name)
	if errors.Is(err, builtin.ErrUserExists) {
		return out.failure(NewExitError(ExitFailure, fmt.Sprintf("user %q already exists", opts.login)))
	}
	if err != nil {
		return out.failure(err)
	}
	if opts.admin {
		if err := builtin.GrantAdmin(ctx, s, cfg.AdminTable, user.ID); err != nil {
			return out.failure(err)
		}
	}

	role := "user"
	if opts.admin {
		role = "admin"
	}
	return out.success(map[string]any{"user": user, "admin": opts.admin},
		fmt.Sprintf("created %s %q with id %d", role, user.Login, user.ID))
}
