package cli

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/fsidx/internal/objstore"
)

// ResyncOptions holds flags for the resync command.
type ResyncOptions struct {
	*RootOptions
	All     bool
	Workers int
}

// Failure is one object an operation could not complete for.
type Failure struct {
	PID     string `json:"pid"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// BatchResult is the output of commands acting on several objects.
type BatchResult struct {
	Action    string    `json:"action"`
	Succeeded []string  `json:"succeeded"`
	Failed    []Failure `json:"failed,omitempty"`
}

func (r BatchResult) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d ok, %d failed", r.Action, len(r.Succeeded), len(r.Failed))
	for _, fl := range r.Failed {
		fmt.Fprintf(&b, "\n  %s [%s] %s", fl.PID, fl.Code, fl.Message)
	}
	return b.String()
}

// batch collects per-object outcomes from concurrent workers.
type batch struct {
	mu  sync.Mutex
	res BatchResult
}

func (b *batch) record(pid string, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err != nil {
		b.res.Failed = append(b.res.Failed, Failure{PID: pid, Code: ErrorCode(err), Message: err.Error()})
		return
	}
	b.res.Succeeded = append(b.res.Succeeded, pid)
}

func (b *batch) result() BatchResult {
	slices.Sort(b.res.Succeeded)
	slices.SortFunc(b.res.Failed, func(x, y Failure) int { return strings.Compare(x.PID, y.PID) })
	if b.res.Succeeded == nil {
		b.res.Succeeded = []string{}
	}
	return b.res
}

// NewResyncCommand creates the resync command.
func NewResyncCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ResyncOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "resync [pid...]",
		Short: "Reindex objects from the object store",
		Long: `Rewrite the field rows and identifier rows of each named object from
its current document. With --all, every document under the object
directory is reindexed.

A failure for one object does not stop the others; the command exits
non-zero when any object failed.

Example:
  fsidx resync --db ./fsidx.db --objects ./objects demo:1 demo:2
  fsidx resync --db ./fsidx.db --objects ./objects --all --workers 8`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runResync(cmd, opts, args)
		},
	}

	cmd.Flags().BoolVar(&opts.All, "all", false, "reindex every object in the object directory")
	cmd.Flags().IntVar(&opts.Workers, "workers", 4, "objects reindexed concurrently")

	return cmd
}

func runResync(cmd *cobra.Command, opts *ResyncOptions, pids []string) error {
	f := formatter(cmd, opts.RootOptions)
	if opts.All == (len(pids) > 0) {
		return f.Fail("resync", NewExitError(ExitCommandError, "name objects to resync or pass --all, not both"))
	}
	if opts.Workers < 1 {
		return f.Fail("resync", NewExitError(ExitCommandError, "--workers must be at least 1"))
	}

	m, closeFn, err := openModule(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail("resync", err)
	}
	defer closeFn()

	ctx := commandContext(cmd)
	if opts.All {
		dir, ok := m.Store().(*objstore.DirStore)
		if !ok {
			return f.Fail("resync", NewExitError(ExitCommandError, "--all needs a directory object store"))
		}
		if pids, err = dir.List(ctx); err != nil {
			return f.Fail("list objects", err)
		}
	}

	b := &batch{res: BatchResult{Action: "resync"}}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.Workers)
	for _, pid := range pids {
		g.Go(func() error {
			err := m.Update(gctx, pid)
			if err != nil {
				f.VerboseLog("resync %s: %v", pid, err)
			}
			b.record(pid, err)
			return nil
		})
	}
	_ = g.Wait()

	res := b.result()
	if err := f.Success(res); err != nil {
		return err
	}
	if len(res.Failed) > 0 {
		return &ExitError{Code: ExitFailure, Message: fmt.Sprintf("%d objects failed to resync", len(res.Failed)), Reported: true}
	}
	return nil
}
