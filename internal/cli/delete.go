package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/fsidx/internal/objstore"
)

// DeleteOptions holds flags for the delete command.
type DeleteOptions struct {
	*RootOptions
	KeepObject bool
}

// NewDeleteCommand creates the delete command.
func NewDeleteCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &DeleteOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "delete <pid>...",
		Short: "Remove objects from the index and the object store",
		Long: `Remove each object's identifier rows and field rows, then delete its
document from the object directory.

The document is deleted even when removing the index rows failed, so a
failed index delete never leaves a live object behind. If the document
delete fails after the rows were removed, the object stays in the store
but is invisible to searches until it is resynced; the failure is
reported so it can be repaired.

Example:
  fsidx delete --db ./fsidx.db --objects ./objects demo:1
  fsidx delete --db ./fsidx.db --objects ./objects --keep-object demo:2`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDelete(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.KeepObject, "keep-object", false, "only remove index rows, keep the document")

	return cmd
}

func runDelete(cmd *cobra.Command, opts *DeleteOptions, pids []string) error {
	f := formatter(cmd, opts.RootOptions)
	m, closeFn, err := openModule(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail("delete", err)
	}
	defer closeFn()

	ctx := commandContext(cmd)
	dir, _ := m.Store().(*objstore.DirStore)
	b := &batch{res: BatchResult{Action: "delete"}}
	for _, pid := range pids {
		err := m.Delete(ctx, pid)
		if !opts.KeepObject && dir != nil {
			if rmErr := dir.Remove(ctx, pid); rmErr != nil && !errors.Is(rmErr, objstore.ErrNotFound) {
				err = errors.Join(err, fmt.Errorf("remove object document: %w", rmErr))
			}
		}
		b.record(pid, err)
	}

	res := b.result()
	if err := f.Success(res); err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d objects failed to delete", len(res.Failed)), Reported: true}
	}
	return nil
}
