package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"apikit/internal/schema"
)

// NewMigrateCommand creates the migrate command.
func NewMigrateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the users, admins, access_tokens and limits tables",
		Long: `Apply the bundled schema to the selected database.

Statements use IF NOT EXISTS, so running migrate again is safe.`,
		Args:         cobra.NoArgs,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := &outputFormatter{format: rootOpts.Format, writer: cmd.OutOrStdout()}
			s, _, closeStore, err := rootOpts.openStore(cmd.Context())
			if err != nil {
				return out.failure(err)
			}
			defer closeStore()

			if err := schema.Apply(cmd.Context(), s); err != nil {
				return out.failure(fmt.Errorf("migrate %s: %w", s.Name(), err))
			}
			return out.success(map[string]string{"database": s.Name()}, fmt.Sprintf("schema applied to %s", s.Name()))
		},
	}
}
