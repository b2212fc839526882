package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/spf13/cobra"

	"github.com/ehr/patientfiles/internal/domain/editor"
	"github.com/ehr/patientfiles/internal/domain/fileref"
	"github.com/ehr/patientfiles/internal/domain/preview"
	"github.com/ehr/patientfiles/internal/platform/middleware"
	"github.com/ehr/patientfiles/internal/platform/notification"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the local file workbench",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp()
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), a)
		},
	}
}

func newServer(a *app) *echo.Echo {
	history := notification.NewRecorder(notification.DefaultHistory)
	notifier := notification.Multi{a.notifier, history}
	editors := editor.NewRegistry(a.cfg.UserID, a.limits(), a.client, a.client, notifier, a.logger)
	handler := preview.NewHandler(editors, a.resolver, a.client, history, a.logger.With().Str("component", "preview").Logger())

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(a.logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(a.logger))
	e.Use(middleware.SecurityHeaders(fileref.Origin(a.cfg.APIBaseURL)))
	e.Use(middleware.RequestTimeout(a.cfg.HTTPTimeout))
	e.Use(middleware.BodyLimit(int64(a.cfg.MaxFiles) * a.cfg.MaxFileSize))

	handler.RegisterRoutes(e)
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]any{"status": "ok", "editors": editors.Len()})
	})
	return e
}

func runServer(ctx context.Context, a *app) error {
	e := newServer(a)

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		addr := ":" + a.cfg.PreviewPort
		a.logger.Info().Str("addr", addr).Str("api", a.cfg.APIBaseURL).Msg("starting workbench")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			a.logger.Error().Err(err).Msg("server error")
			return err
		}
		return nil
	case <-ctx.Done():
	}

	a.logger.Info().Msg("shutting down workbench")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		a.logger.Error().Err(err).Msg("server shutdown failed")
		return err
	}
	a.logger.Info().Msg("workbench stopped")
	return nil
}
