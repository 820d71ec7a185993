package routes

import (
	"github.com/labstack/echo/v4"

	"github.com/storyloom/coordinator/cmd/coordinator/container"
	"github.com/storyloom/coordinator/cmd/coordinator/handlers"
	"github.com/storyloom/coordinator/common/middleware"
	"github.com/storyloom/coordinator/common/ratelimit"
)

// RegisterStoryRoutes registers the live story channel and read-only
// snapshot routes
func RegisterStoryRoutes(e *echo.Echo, c *container.Container) {
	ws := handlers.NewWSHandler(c.Gateway, c.Components)
	wsRoute := []echo.MiddlewareFunc{}
	if c.Limiter != nil {
		connectCfg := ratelimit.GetLimitForAction(ratelimit.ActionConnect)
		wsRoute = append(wsRoute, middleware.UserRateLimitMiddleware(c.Limiter, connectCfg.Limit))
	}
	e.GET("/ws/stories/:id", ws.ServeStoryChannel, wsRoute...)

	story := handlers.NewStoryHandler(c.Manager, c.Registry, c.Store, c.Components)
	stories := e.Group("/api/v1/stories")
	if c.Limiter != nil {
		stories.Use(middleware.GlobalRateLimitMiddleware(c.Limiter, ratelimit.DefaultGlobalConfig.Limit))
	}
	{
		stories.GET("/:id/snapshot", story.GetSnapshot) // GET /api/v1/stories/{story_id}/snapshot
		stories.GET("/:id/branches", story.GetBranchTree)
	}
}
