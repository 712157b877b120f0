package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/pnrr-announcements/internal/app"
	"github.com/JakeFAU/pnrr-announcements/internal/config"
	"github.com/JakeFAU/pnrr-announcements/internal/logging"
)

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// newApp is the application factory. It's a variable so tests can inject
// in-memory backends and fake fetchers.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.New(ctx, cfg, logger, app.Options{})
}

// session keeps the application built for one invocation so it can be
// closed even when the command fails.
type session struct {
	app *app.App
}

// close flushes the progress hub and releases every client.
func (s *session) close(ctx context.Context) error {
	if s.app == nil {
		return nil
	}
	a := s.app
	s.app = nil
	defer func() { _ = a.Logger.Sync() }()
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), a.Config.ShutdownTimeout())
	defer cancel()
	if err := a.Close(shutdownCtx); err != nil {
		a.Logger.Warn("close application", zap.Error(err))
		return fmt.Errorf("close application: %w", err)
	}
	return nil
}

// newRootCmd creates the root command and its subcommands.
func newRootCmd(s *session) *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "pnrr",
		Short: "Collects PNRR announcements published by school websites.",
		Long: `pnrr scrapes the PNRR pages of a catalogue of school websites, keeps a
deduplicated list of announcements, notifies email subscribers about new
items and serves the collection over an HTTP API.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		// Builds the application once per invocation; subcommands read it
		// back from the context.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return fmt.Errorf("init logger: %w", err)
			}
			zap.ReplaceGlobals(logger)

			appInstance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			s.app = appInstance
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newServeCmd())
	cmd.AddCommand(newFetchCmd())
	cmd.AddCommand(newSourcesCmd())
	return cmd
}

func resolveApp(ctx context.Context) (*app.App, error) {
	appInstance, ok := ctx.Value(appKey).(*app.App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// run executes the CLI with args and always closes the application.
func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	s := &session{}
	root := newRootCmd(s)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	err := root.ExecuteContext(ctx)
	return errors.Join(err, s.close(ctx))
}

// Execute is the main entry point.
func Execute() {
	if err := run(context.Background(), os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
