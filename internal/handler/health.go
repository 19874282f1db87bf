package handler

import (
	"context"
	"net/http"
	"path/filepath"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/settings"
)

// Health is the liveness probe for load balancers. It touches nothing.
func Health(c echo.Context) error {
	return c.String(http.StatusOK, "ok")
}

// HealthHandler reports whether the settings store and database are usable.
type HealthHandler struct {
	Gateway
	Logger *log.Logger
}

func NewHealthHandler(g Gateway, logger *log.Logger) *HealthHandler {
	return &HealthHandler{Gateway: g, Logger: logger}
}

// Check handles GET /api/health.
func (h *HealthHandler) Check(c echo.Context) error {
	var o settings.DBOverrides
	if err := c.Bind(&o); err != nil {
		return fail(c, http.StatusBadRequest, "invalid query", nil)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	path := h.Resolver.Store().Path()
	store := echo.Map{"path": path, "writable": settings.Writable(filepath.Dir(path))}

	conn, err := h.open(ctx, o)
	if err != nil {
		return downstreamWith(c, h.Logger, err, echo.Map{"settings": store})
	}
	defer conn.Close()
	version, err := conn.ServerVersion(ctx)
	if err != nil {
		return downstreamWith(c, h.Logger, err, echo.Map{"settings": store})
	}
	return ok(c, echo.Map{
		"settings": store,
		"database": echo.Map{"connected": true, "version": version},
	})
}
