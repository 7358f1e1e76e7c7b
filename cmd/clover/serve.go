package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"

	"github.com/Ramsey-B/clover/pkg/middleware"
	"github.com/Ramsey-B/clover/pkg/routes/agents"
	"github.com/Ramsey-B/clover/pkg/routes/health"
	"github.com/Ramsey-B/clover/pkg/routes/imports"
	"github.com/Ramsey-B/clover/pkg/routes/leads"
)

const shutdownTimeout = 30 * time.Second

func newServeCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, root)
		},
	}
}

func serve(ctx context.Context, root *rootOptions) error {
	cfg, logger := root.cfg, root.logger

	checker := health.NewChecker(cfg.Version)
	a := newApp(cfg, logger, appOptions{Kafka: true})

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = middleware.Error(logger)
	e.Server.ReadTimeout = time.Duration(cfg.HttpServerReadTimeoutSeconds) * time.Second
	e.Server.WriteTimeout = time.Duration(cfg.HttpServerWriteTimeoutSeconds) * time.Second
	e.Server.IdleTimeout = time.Duration(cfg.HttpServerIdleTimeoutSeconds) * time.Second
	e.Server.ReadHeaderTimeout = time.Duration(cfg.ReadHeaderTimeoutSeconds) * time.Second
	e.Server.MaxHeaderBytes = cfg.MaxHeaderBytes

	e.Use(
		echomw.Recover(),
		otelecho.Middleware(cfg.AppName),
		middleware.Context(),
		middleware.Logger(logger),
		middleware.Metrics(),
		echomw.CORSWithConfig(echomw.CORSConfig{
			AllowOrigins: cfg.AllowOrigins,
			AllowMethods: cfg.AllowMethods,
		}),
	)

	checker.RegisterRoutes(e)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	if err := a.Start(ctx); err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	auth, err := authMiddleware(ctx, root)
	if err != nil {
		_ = a.Stop(context.Background())
		return err
	}

	leads.NewHandler(a.leadService, a.planner, a.assigner, logger).
		Register(e.Group("/api/v1/leads", auth, middleware.RequireUser()))
	agents.NewHandler(a.agentService).
		Register(e.Group("/api/v1/agents", auth, middleware.RequireUser()))
	imports.NewHandler(a.importService).
		Register(e.Group("/api/v1/imports", auth, middleware.RequireUser()))

	checker.Add("database", a.db)
	if a.redis != nil {
		checker.Add("redis", a.redis)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Infof("Starting %s on port %d", cfg.AppName, cfg.Port)
		if err := e.Start(fmt.Sprintf(":%d", cfg.Port)); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	checker.SetReady(true)

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErr:
		logger.WithError(err).Error("HTTP server stopped")
		_ = a.Stop(context.Background())
		return err
	}

	checker.SetReady(false)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Failed to shut down HTTP server")
	}
	return a.Stop(shutdownCtx)
}

func authMiddleware(ctx context.Context, root *rootOptions) (echo.MiddlewareFunc, error) {
	cfg := root.cfg
	if !cfg.AuthEnabled {
		root.logger.Warn("AUTH_ENABLED is false, trusting X-User-ID and X-User-Role headers")
		return middleware.TestAuth(), nil
	}

	verifier, err := middleware.NewVerifier(ctx, cfg.AuthIssuerURL, cfg.AuthClientID)
	if err != nil {
		return nil, err
	}
	return middleware.Authentication(root.logger, verifier, cfg.AuthRoleClaim), nil
}
