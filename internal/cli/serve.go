package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the rules function over HTTP",
		Long: `Serve the rules function over HTTP until interrupted.

Endpoints:
  POST /api/v1/rules/execute    run a rule set
  GET  /api/v1/rulesets/{name}  describe a rule set
  GET  /health                  liveness`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServe(ctx, rootOpts, cmd)
		},
	}
}

func runServe(ctx context.Context, opts *RootOptions, cmd *cobra.Command) error {
	out := newFormatter(opts, cmd)

	a, err := openApp(ctx, opts, cmd)
	if err != nil {
		return out.Error(ExitCommandError, fmt.Errorf("failed to start: %w", err))
	}
	defer a.Close()

	cfg := a.Config
	a.Config.LogConfig(a.Log)

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      a.API().Router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		a.Log.Info("http server listening", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return out.Error(ExitCommandError, fmt.Errorf("http server failed: %w", err))
		}
		return nil
	case <-ctx.Done():
	}

	a.Log.Info("shutting down", slog.Duration("timeout", cfg.App.ShutdownTimeout))
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.App.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return out.Error(ExitCommandError, fmt.Errorf("graceful shutdown failed: %w", err))
	}
	return nil
}
