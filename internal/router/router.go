package router // package router defines how HTTP routes are registered for the API

import (
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/metrics"
	"github.com/iliyamo/table-reservation/internal/middleware"
	"github.com/iliyamo/table-reservation/internal/model"
	"github.com/iliyamo/table-reservation/internal/realtime"
)

// Ops carries the operational endpoints and the server-wide middleware
// inputs.  A nil Gatherer disables the metrics endpoint.
type Ops struct {
	Metrics     *metrics.Metrics
	Gatherer    prometheus.Gatherer
	MetricsPath string
	Checks      map[string]handler.Check
}

// RegisterRoutes installs the server-wide middleware and the routes that
// do not belong to a resource: health, metrics and the websocket relay.
func RegisterRoutes(e *echo.Echo, ops Ops, hub *realtime.Hub, jwtSecret string, wsOrigins []string) {
	e.Use(echomw.Recover())
	e.Use(echomw.Logger())
	e.Use(middleware.Metrics(ops.Metrics))

	e.GET("/healthz", handler.Health(ops.Checks))
	if ops.Gatherer != nil {
		e.GET(ops.MetricsPath, echo.WrapHandler(promhttp.HandlerFor(ops.Gatherer, promhttp.HandlerOpts{})))
	}
	e.GET("/ws", realtime.Handler(hub, jwtSecret, wsOrigins))
}

// RegisterAuth registers the authentication routes.  Token exchange lives
// under /v1/auth without a session; /v1/me needs a valid access token.
// Logout is public so a refresh token alone can end a session.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, jwtSecret string) {
	g := e.Group("/v1/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	g.POST("/refresh", a.Refresh)              // rotates the refresh token
	g.POST("/refresh-access", a.RefreshAccess) // keeps the refresh token
	g.POST("/logout", a.Logout)

	e.GET("/v1/me", a.Me,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
	)
	e.POST("/v1/logout", a.Logout)
}
