package commands

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/bit2swaz/storage-janitor/internal/api"
	"github.com/bit2swaz/storage-janitor/internal/engine"
	"github.com/bit2swaz/storage-janitor/internal/schedule"
)

const shutdownTimeout = 30 * time.Second

func newRunCommand(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Sweep on a schedule and serve health, metrics and status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer a.close()

			sweeper, err := a.newSweeper(false, nil)
			if err != nil {
				return err
			}

			return serve(ctx, a, sweeper)
		},
	}

	return cmd
}

func serve(ctx context.Context, a *app, sweeper *engine.Sweeper) error {
	log := a.log

	scheduler := schedule.New(a.cfg.SweepInterval(), func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	}, log.Named("scheduler"))

	server := &http.Server{
		Addr:              a.cfg.Server.Listen,
		Handler:           api.NewServer(sweeper, a.registry, scheduler.Trigger, log.Named("http")).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("status server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	if err := scheduler.Start(ctx); err != nil {
		return err
	}

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err, ok := <-serverErr:
		if ok {
			runErr = newExitError(exitSweepFailed, fmt.Errorf("status server: %w", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := scheduler.Stop(shutdownCtx); err != nil {
		log.Warn("scheduler did not stop cleanly", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Warn("status server did not stop cleanly", zap.Error(err))
	}
	return runErr
}
