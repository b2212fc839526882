package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/ehr/patientfiles/internal/config"
	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/staging"
	"github.com/ehr/patientfiles/internal/platform/apiclient"
	"github.com/ehr/patientfiles/internal/platform/auth"
	"github.com/ehr/patientfiles/internal/platform/notification"
)

func main() {
	// Interrupting the process abandons in-flight requests without cleanup.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "patient-files",
		Short:        "Resolve, preview and edit patient file attachments",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(urlCmd())
	rootCmd.AddCommand(classifyCmd())
	rootCmd.AddCommand(listCmd())
	rootCmd.AddCommand(downloadCmd())
	rootCmd.AddCommand(deleteCmd())
	rootCmd.AddCommand(editCmd())
	rootCmd.AddCommand(serveCmd())
	return rootCmd
}

// app holds what every subcommand builds from the configuration.
type app struct {
	cfg      *config.Config
	logger   zerolog.Logger
	resolver *fileref.Resolver
	client   *apiclient.Client
	notifier notification.Notifier
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := newLogger(cfg, os.Stderr)
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid configuration")
		return nil, err
	}

	provider := auth.Chain(auth.Static(cfg.AuthToken), auth.NewFileProvider(cfg.AuthTokenFile))
	client := apiclient.New(cfg.APIBaseURL, provider,
		apiclient.WithTimeout(cfg.HTTPTimeout),
		apiclient.WithLogger(logger.With().Str("component", "apiclient").Logger()),
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		resolver: fileref.NewResolver(cfg.APIBaseURL, logger.With().Str("component", "fileref").Logger()),
		client:   client,
		notifier: notification.NewLogNotifier(logger),
	}, nil
}

// newLogger writes JSON to w, or a console format in development.
func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDev() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return logger.Level(cfg.Level())
}

func (a *app) limits() staging.Limits {
	return staging.Limits{MaxFiles: a.cfg.MaxFiles, MaxFileSize: a.cfg.MaxFileSize}
}
