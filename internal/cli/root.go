// Package cli implements apictl, the operator command line for apikit
// databases.
package cli

import (
	"context"
	"fmt"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"apikit/internal/config"
	"apikit/internal/store"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	ConfigPath string
	Database   string
	Format     string // "json" | "text"

	lookup config.LookupFunc
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the apictl root command.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.LookupEnv)
}

func newRootCommand(lookup config.LookupFunc) *cobra.Command {
	opts := &RootOptions{lookup: lookup}

	cmd := &cobra.Command{
		Use:           "apictl",
		Short:         "Operate apikit databases",
		SilenceErrors: true,
		Long:          "apictl prepares schemas, creates users and issues access tokens for an apikit deployment.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "path to YAML configuration file (default $APIKIT_CONFIG)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "configured database name (default: the first one)")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")

	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewCreateUserCommand(opts))
	cmd.AddCommand(NewIssueTokenCommand(opts))

	return cmd
}

// loadConfig resolves the service configuration the same way the server
// does, minus command-line overrides.
func (o *RootOptions) loadConfig() (config.Config, error) {
	path := o.ConfigPath
	if path == "" && o.lookup != nil {
		if v, ok := o.lookup("APIKIT_CONFIG"); ok {
			path = v
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return config.Config{}, err
	}
	if err := cfg.ApplyEnv(o.lookup); err != nil {
		return config.Config{}, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

// openStore connects to the selected database and fails when it is
// unreachable. The caller must call the returned close function.
func (o *RootOptions) openStore(ctx context.Context) (*store.Store, config.Config, func(), error) {
	cfg, err := o.loadConfig()
	if err != nil {
		return nil, config.Config{}, nil, WrapExitError(ExitCommandError, "load configuration", err)
	}
	db := cfg.Databases[0]
	if o.Database != "" {
		idx := slices.IndexFunc(cfg.Databases, func(d config.DatabaseConfig) bool { return d.Name == o.Database })
		if idx < 0 {
			return nil, config.Config{}, nil, NewExitError(ExitCommandError, fmt.Sprintf("database %q is not configured", o.Database))
		}
		db = cfg.Databases[idx]
	}
	s := store.Open(ctx, db.Store(), store.WithName(db.Name))
	if !s.Connected() {
		return nil, config.Config{}, nil, NewExitError(ExitCommandError, fmt.Sprintf("connect %s: %s", db.Name, s.ConnectError()))
	}
	return s, cfg, func() { _ = s.Close(context.Background()) }, nil
}
