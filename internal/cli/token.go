package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"apikit/internal/auth"
	"apikit/internal/builtin"
)

// NewIssueTokenCommand creates the issue-token command.
func NewIssueTokenCommand(rootOpts *RootOptions) *cobra.Command {
	var login string
	cmd := &cobra.Command{
		Use:   "issue-token",
		Short: "Print the access token for a user, issuing one if needed",
		Long: `Look up the user's access token, generating and storing a new one when the
user has none. Tokens are stable, so repeated runs print the same value.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := &outputFormatter{format: rootOpts.Format, writer: cmd.OutOrStdout()}
			s, cfg, closeStore, err := rootOpts.openStore(ctx)
			if err != nil {
				return out.failure(err)
			}
			defer closeStore()

			user, found, err := builtin.FindUserByLogin(ctx, s, login)
			if err != nil {
				return out.failure(err)
			}
			if !found {
				return out.failure(NewExitError(ExitFailure, fmt.Sprintf("user %q not found", login)))
			}
			svc := auth.NewService(auth.WithTokenLength(cfg.TokenBytes))
			token, err := svc.IssueToken(ctx, s, user.ID, "apictl")
			if err != nil {
				return out.failure(err)
			}
			return out.success(map[string]any{
				"user_id":      user.ID,
				"access_token": token.Token,
				"issued":       token.Issued,
			}, token.Token)
		},
	}
	cmd.Flags().StringVar(&login, "login", "", "login of the token owner (required)")
	_ = cmd.MarkFlagRequired("login")
	return cmd
}
