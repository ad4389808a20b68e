package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	v1 "github.com/hrygo/mindloop/server/router/api/v1"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat HTTP API",
	Long: `Serves the chat API:
  POST   /api/v1/chat            batch turn
  POST   /api/v1/chat/stream     turn as server-sent events
  GET    /api/v1/sessions/:user  session history
  DELETE /api/v1/sessions/:user  clear session
  GET    /api/v1/metrics         pipeline counters`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := loadProfile(true)
		if err != nil {
			return err
		}
		a, err := newApp(cmd.Context(), p, nil)
		if err != nil {
			return err
		}
		defer a.Close()

		return serve(cmd.Context(), a)
	},
}

func newEcho(a *app) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	v1.NewChatService(a.pipeline, a.gateway).RegisterRoutes(e)
	return e
}

// serve runs the HTTP server and the session cleanup job until ctx is done.
func serve(ctx context.Context, a *app) error {
	e := newEcho(a)
	g, gctx := errgroup.WithContext(ctx)

	if a.cleanup != nil {
		a.cleanup.Start(gctx)
	}

	g.Go(func() error {
		slog.Info("mindloop listening", "addr", a.profile.Addr, "mode", a.profile.Mode)
		if err := e.Start(a.profile.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("shutting down http server")
		return e.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
