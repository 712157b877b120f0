package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/api"
	"github.com/JakeFAU/pnrr-announcements/internal/app"
	"github.com/JakeFAU/pnrr-announcements/internal/scheduler"
	"github.com/JakeFAU/pnrr-announcements/internal/service"
)

func newServeCmd() *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves the announcements API",
		Long: `Starts the HTTP API and, when schedule.enabled is set, the daily
ingestion schedule. The process drains in-flight requests on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			if port > 0 {
				appInstance.Config.Server.Port = port
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, appInstance)
		},
	}
	cmd.Flags().IntVar(&port, "port", 0, "listen port (overrides server.port)")
	return cmd
}

// runServer blocks until ctx is done or the listener fails.
func runServer(ctx context.Context, a *app.App) error {
	cfg := a.Config
	logger := a.Logger

	apiServer := api.NewServer(a.Service, a.Runs, api.Options{
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
		RequestTimeout: cfg.RequestTimeout(),
		Ready:          a.Ready,
	}, logger.Named("api"))

	var sched *scheduler.Scheduler
	if cfg.Schedule.Enabled {
		var err error
		sched, err = scheduler.New(scheduler.Config{
			Spec:     cfg.Schedule.Cron,
			Timezone: cfg.Schedule.Timezone,
			Skip:     func(err error) bool { return errors.Is(err, service.ErrFetchInProgress) },
		}, scheduledFetch(a.Service), logger.Named("scheduler"))
		if err != nil {
			return fmt.Errorf("init scheduler: %w", err)
		}
		sched.Start()
		logger.Info("fetch schedule started",
			zap.String("cron", cfg.Schedule.Cron),
			zap.String("timezone", cfg.Schedule.Timezone),
			zap.Time("next", sched.Next()),
		)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		if err != nil {
			logger.Error("http server error", zap.Error(err))
			serveErr = fmt.Errorf("http server: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.ShutdownTimeout())
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if sched != nil {
		if err := sched.Stop(shutdownCtx); err != nil {
			logger.Warn("scheduler stop timed out", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
	return serveErr
}

// fetchTrigger is the part of the service the schedule needs.
type fetchTrigger interface {
	TriggerFetch(ctx context.Context) (service.FetchResult, error)
}

func scheduledFetch(svc fetchTrigger) scheduler.Trigger {
	return func(ctx context.Context) error {
		res, err := svc.TriggerFetch(ctx)
		if err != nil {
			return err
		}
		if !res.Success {
			return errors.New(res.Error)
		}
		return nil
	}
}
