package handler

import (
	"context"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/status"
)

// StatusHandler serves the cached status aggregate and host details.
type StatusHandler struct {
	Aggregator *status.Aggregator
	Host       *status.Host
	Logger     *log.Logger
}

func NewStatusHandler(agg *status.Aggregator, host *status.Host, logger *log.Logger) *StatusHandler {
	return &StatusHandler{Aggregator: agg, Host: host, Logger: logger}
}

// Status returns the aggregate exactly as cached. refresh=1 forces a
// recompute. X-Cache tells HIT from MISS.
func (h *StatusHandler) Status(c echo.Context) error {
	refresh := c.QueryParam("refresh") == "1" || c.QueryParam("refresh") == "true"
	blob, cached, err := h.Aggregator.Get(c.Request().Context(), refresh)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	if cached {
		c.Response().Header().Set("X-Cache", "HIT")
	} else {
		c.Response().Header().Set("X-Cache", "MISS")
	}
	return c.JSONBlob(http.StatusOK, blob)
}

// HostInfo reports the machine serving the API.
func (h *StatusHandler) HostInfo(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()
	return ok(c, echo.Map{"host": h.Host.Info(ctx)})
}
