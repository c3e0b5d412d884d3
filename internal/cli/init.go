package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/fsidx/internal/fieldsearch"
	"github.com/roach88/fsidx/internal/idindex"
	"github.com/roach88/fsidx/internal/pool"
)

// InitResult is the init command output.
type InitResult struct {
	Driver  string     `json:"driver"`
	Objects string     `json:"objects"`
	Tables  []string   `json:"tables"`
	Pool    pool.Stats `json:"pool"`
}

func (r InitResult) String() string {
	return fmt.Sprintf("Index ready (%s): tables %s, objects in %s",
		r.Driver, strings.Join(r.Tables, ", "), r.Objects)
}

// NewInitCommand creates the init command.
func NewInitCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the index tables",
		Long: `Connect to the database and create the identifier and field tables
if they do not exist. Running init on an initialized database changes
nothing.

Example:
  fsidx init --db ./fsidx.db --objects ./objects`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f := formatter(cmd, rootOpts)
			m, closeFn, err := openModule(cmd, rootOpts)
			if err != nil {
				return f.Fail("init", err)
			}
			defer closeFn()

			cfg := m.Config()
			return f.Success(InitResult{
				Driver:  cfg.Pool.Driver,
				Objects: cfg.Objects.Dir,
				Tables:  []string{idindex.Table, fieldsearch.Table},
				Pool:    m.Pool().Stats(),
			})
		},
	}
}
