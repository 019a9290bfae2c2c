package cli

import (
	"context"
	"io"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/ezachrisen/ruleswp/internal/app"
	"github.com/ezachrisen/ruleswp/internal/config"
	"github.com/ezachrisen/ruleswp/internal/logger"
)

func newFormatter(opts *RootOptions, cmd *cobra.Command) *OutputFormatter {
	return &OutputFormatter{
		Format:    opts.Format,
		Writer:    cmd.OutOrStdout(),
		ErrWriter: cmd.ErrOrStderr(),
		Verbose:   opts.Verbose,
	}
}

// newLogger writes to w, at debug level when verbose.
func newLogger(cfg *config.Config, opts *RootOptions, w io.Writer) *slog.Logger {
	appCfg := cfg.App
	if opts.Verbose {
		appCfg.LogLevel = "debug"
	}
	return logger.NewWithWriter(&appCfg, w)
}

// openApp loads the configuration from the environment and wires the rules
// function. Logs go to the command's error stream.
func openApp(ctx context.Context, opts *RootOptions, cmd *cobra.Command) (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	log := newLogger(cfg, opts, cmd.ErrOrStderr())
	return app.New(ctx, cfg, log)
}
