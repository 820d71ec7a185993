package main

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/storyloom/coordinator/cmd/coordinator/container"
	"github.com/storyloom/coordinator/cmd/coordinator/routes"
	"github.com/storyloom/coordinator/common/bootstrap"
	"github.com/storyloom/coordinator/common/server"
	"github.com/storyloom/coordinator/common/telemetry"
)

func main() {
	ctx := context.Background()

	// Bootstrap common components (config, logger, DB, Redis, cache)
	components, err := bootstrap.Setup(ctx, "coordinator")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap coordinator: %v\n", err)
		os.Exit(1)
	}
	defer components.Shutdown(ctx)

	// Initialize service container (singleton pattern - all services created once)
	serviceContainer, err := container.NewContainer(components)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize service container: %v\n", err)
		os.Exit(1)
	}

	go serviceContainer.Hub.Run()

	// pprof stays local-only; it is a debugging surface, not a product one
	if components.Config.Service.Environment == "development" {
		tel := telemetry.New(components.Config.Service.Port+1000, components.Logger)
		if err := tel.Start(ctx); err != nil {
			components.Logger.Warn("telemetry start failed", "error", err)
		}
	}

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e, components)
	routes.RegisterStoryRoutes(e, serviceContainer)

	srv := server.New("coordinator", components.Config.Service.Port, e, components.Logger)
	srv.OnShutdown(func(ctx context.Context) {
		serviceContainer.Manager.Shutdown(ctx)
	})

	if err := srv.Start(); err != nil {
		components.Logger.Error("Server error", "error", err)
		os.Exit(1)
	}
}

// setupEcho initializes the Echo server with basic configuration
func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

// setupMiddleware configures all middleware for the Echo server
func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

// setupHealthCheck registers the health check endpoint
func setupHealthCheck(e *echo.Echo, components *bootstrap.Components) {
	e.GET("/health", func(c echo.Context) error {
		if err := components.Health(c.Request().Context()); err != nil {
			return c.JSON(http.StatusServiceUnavailable, map[string]string{
				"status": "degraded",
				"error":  err.Error(),
			})
		}
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"service": "coordinator",
		})
	})
}
