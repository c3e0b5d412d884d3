package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/fsidx/internal/module"
	"github.com/roach88/fsidx/internal/objstore"
)

// WatchOptions holds flags for the watch command.
type WatchOptions struct {
	*RootOptions
	Debounce time.Duration
	Resync   bool
}

// NewWatchCommand creates the watch command.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &WatchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Keep the index in step with the object directory",
		Long: `Watch the object directory and reindex objects as their documents are
written, and remove them from the index when their documents are
deleted. Runs until interrupted.

Example:
  fsidx watch --db ./fsidx.db --objects ./objects
  fsidx watch --db ./fsidx.db --objects ./objects --resync --debounce 1s`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, opts)
		},
	}

	cmd.Flags().DurationVar(&opts.Debounce, "debounce", objstore.DefaultDebounce, "quiet period before changes are applied")
	cmd.Flags().BoolVar(&opts.Resync, "resync", false, "reindex every object before watching")

	return cmd
}

func runWatch(cmd *cobra.Command, opts *WatchOptions) error {
	f := formatter(cmd, opts.RootOptions)
	m, closeFn, err := openModule(cmd, opts.RootOptions)
	if err != nil {
		return f.Fail("watch", err)
	}
	defer closeFn()

	dir, ok := m.Store().(*objstore.DirStore)
	if !ok {
		return f.Fail("watch", NewExitError(ExitCommandError, "watch needs a directory object store"))
	}
	w, err := objstore.NewWatcher(dir, opts.Debounce, slog.Default())
	if err != nil {
		return f.Fail("watch", err)
	}

	ctx, cancel := context.WithCancel(commandContext(cmd))
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			slog.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	if opts.Resync {
		pids, err := dir.List(ctx)
		if err != nil {
			return f.Fail("list objects", err)
		}
		handle := applyChange(m)
		for _, pid := range pids {
			_ = handle(ctx, objstore.Change{Kind: objstore.Changed, PID: pid})
		}
		slog.Info("initial resync done", "objects", len(pids))
	}

	slog.Info("watching objects", "dir", dir.Dir(), "debounce", opts.Debounce)
	fmt.Fprintln(cmd.OutOrStdout(), "Watching", dir.Dir(), "- press Ctrl-C to stop.")
	if err := w.Run(ctx, applyChange(m)); err != nil {
		return f.Fail("watch", err)
	}
	slog.Info("watch stopped")
	return nil
}

// applyChange returns the handler applying object changes to m.
func applyChange(m *module.Module) objstore.ChangeHandler {
	return func(ctx context.Context, c objstore.Change) error {
		var err error
		switch c.Kind {
		case objstore.Removed:
			err = m.Delete(ctx, c.PID)
		default:
			err = m.Update(ctx, c.PID)
		}
		if err != nil {
			slog.Warn("failed to apply object change", "pid", c.PID, "kind", c.Kind.String(), "error", err)
			return err
		}
		slog.Debug("applied object change", "pid", c.PID, "kind", c.Kind.String())
		return nil
	}
}
