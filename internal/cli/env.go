package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/roach88/fsidx/internal/config"
	"github.com/roach88/fsidx/internal/fserr"
	"github.com/roach88/fsidx/internal/module"
)

// loadConfig builds the effective configuration from the config file, if
// any, and the --db and --objects flags.
func loadConfig(opts *RootOptions) (*config.Config, error) {
	var cfg *config.Config
	if opts.Config != "" {
		c, err := config.Load(opts.Config)
		if err != nil {
			return nil, err
		}
		cfg = c
	} else {
		if opts.Database == "" {
			return nil, NewExitError(ExitCommandError, "either --config or --db is required")
		}
		cfg = config.Default(opts.Database)
	}
	if opts.Database != "" {
		cfg.Pool.URL = opts.Database
	}
	if opts.Objects != "" {
		cfg.Objects.Dir = opts.Objects
	}
	return cfg, cfg.Validate()
}

// newLogger configures slog on w at Info, or Debug with --verbose, and
// installs it as the default logger.
func newLogger(opts *RootOptions, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if opts.Verbose {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)
	return logger
}

// openModule loads the configuration and builds the module. The caller
// must call the returned close function.
func openModule(cmd *cobra.Command, opts *RootOptions) (*module.Module, func(), error) {
	cfg, err := loadConfig(opts)
	if err != nil {
		return nil, nil, commandError("invalid configuration", err)
	}
	logger := newLogger(opts, cmd.ErrOrStderr())

	ctx := commandContext(cmd)
	m, err := module.New(ctx, cfg, module.Options{Logger: logger})
	if err != nil {
		return nil, nil, commandError("failed to open index", err)
	}
	closeFn := func() {
		if _, err := m.Shutdown(context.Background()); err != nil {
			logger.Error("error shutting down", "error", err)
		}
	}
	return m, closeFn, nil
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func formatter(cmd *cobra.Command, opts *RootOptions) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// commandError wraps err with the exit code its error code maps to.
func commandError(message string, err error) *ExitError {
	var ee *ExitError
	if errors.As(err, &ee) {
		return ee
	}
	return WrapExitError(ExitCodeFor(err), message, err)
}

// ExitCodeFor maps an error to a process exit code: caller mistakes exit
// with ExitCommandError, everything else with ExitFailure.
func ExitCodeFor(err error) int {
	switch fserr.CodeOf(err) {
	case fserr.CodeConfiguration, fserr.CodeUnrecognizedField, fserr.CodeSessionNotFound,
		fserr.CodeObjectNotFound:
		return ExitCommandError
	case fserr.CodePoolExhausted, fserr.CodeConnectivity:
		return ExitUnavailable
	}
	return ExitFailure
}
