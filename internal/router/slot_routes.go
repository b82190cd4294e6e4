package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/table-reservation/internal/handler"
	"github.com/iliyamo/table-reservation/internal/middleware"
	"github.com/iliyamo/table-reservation/internal/model"
)

// RegisterSlots registers the reservation endpoints.  The two listings are
// public and pass through the response cache; every mutation needs a JWT,
// goes through the rate limiter and is scoped by role.
func RegisterSlots(e *echo.Echo, h *handler.SlotHandler, jwtSecret string, cache, limiter echo.MiddlewareFunc) {
	member := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
		limiter,
	}
	admin := []echo.MiddlewareFunc{
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleAdmin),
		limiter,
	}

	g := e.Group("/slot/:slotNumber")
	g.GET("", h.List, cache)
	g.GET("/available-tables", h.Available, cache)

	g.POST("/reserve", h.Reserve, member...)
	g.POST("/unreserve", h.Unreserve, member...)
	g.POST("/change-table", h.ChangeTable, member...)
	g.POST("/create-payment-intent", h.CreatePaymentIntent, member...)

	g.POST("/admin/unreserve", h.AdminUnreserve, admin...)
	g.POST("/admin/reserve", h.AdminReserve, admin...)
	g.POST("/add", h.Add, admin...)
	g.DELETE("/delete", h.Delete, admin...)
	g.POST("/toggle-status", h.ToggleStatus, admin...)

	e.GET("/v1/me/payments", h.MyPayments,
		middleware.JWTAuth(jwtSecret),
		middleware.RequireRole(model.RoleUser, model.RoleAdmin),
	)
}
