package router

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/handler"
	"github.com/iliyamo/lmeve2/internal/middleware"
	"github.com/iliyamo/lmeve2/internal/model"
)

// RegisterAuth registers password login, the current identity and the
// admin-only account management. limiter guards the login endpoint only.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, u *handler.UserHandler, limiter echo.MiddlewareFunc, jwtSecret string) {
	e.POST("/api/login", a.Login, limiter)

	e.GET("/api/me", a.Me, middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin, model.RoleMember))

	// ---- Users (admin) ----
	admin := e.Group("/api/users", middleware.JWTAuth(jwtSecret), middleware.RequireRole(model.RoleAdmin))
	admin.GET("", u.List)
	admin.POST("", u.Upsert)
	admin.POST("/deactivate", u.Deactivate)
	admin.POST("/activate", u.Activate)
}
