package server

import (
	"lattice/internal/server/middleware"
	"lattice/internal/server/routes"

	"github.com/labstack/echo/v4"
)

func RegisterRoutes(e *echo.Echo) {
	// Health check route
	e.GET("/health", func(c echo.Context) error {
		return c.String(200, "OK")
	})

	apiRoutes := e.Group("/api", middleware.AuthMiddleware)

	// Query routes
	apiRoutes.POST("/tenants/:id/query", routes.QueryTenantHandler)

	// Admin routes
	apiRoutes.POST("/tenants/:id/reindex", routes.ReindexTenantHandler, middleware.RequireAdmin)
	apiRoutes.POST("/tenants/:id/swap-index", routes.SwapIndexHandler, middleware.RequireAdmin)
}
