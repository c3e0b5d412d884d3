package cli

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose bool
	Format  string // "json" | "text"

	// Config is an optional YAML or TOML config file. Database and
	// Objects override the matching config values when set.
	Config   string
	Database string
	Objects  string
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for the fsidx CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fsidx",
		Short: "fsidx - object identifier index",
		Long: `Maintain and query the identifier index and field search tables of a
canonical object store.

Objects are XML documents in a directory. Every update rewrites the
object's field rows and identifier rows; identifier lookups are answered
from the identifier index, everything else from the field tables.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return NewExitError(ExitCommandError,
					fmt.Sprintf("invalid format %q: must be one of %v", opts.Format, ValidFormats))
			}
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVarP(&opts.Config, "config", "c", "", "config file (.yaml, .yml or .toml)")
	cmd.PersistentFlags().StringVar(&opts.Database, "db", "", "SQLite database path or database URL")
	cmd.PersistentFlags().StringVar(&opts.Objects, "objects", "", "object document directory")

	cmd.AddCommand(NewInitCommand(opts))
	cmd.AddCommand(NewResyncCommand(opts))
	cmd.AddCommand(NewDeleteCommand(opts))
	cmd.AddCommand(NewFindCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))

	return cmd
}
