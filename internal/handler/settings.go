package handler

import (
	"bytes"
	"context"
	"io"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/settings"
)

const maxSettingsBody = 1 << 20

// SettingsHandler reads and saves the persisted settings document.
type SettingsHandler struct {
	Gateway
	Logger *log.Logger
}

func NewSettingsHandler(g Gateway, logger *log.Logger) *SettingsHandler {
	return &SettingsHandler{Gateway: g, Logger: logger}
}

// Get returns the document with every secret masked.
func (h *SettingsHandler) Get(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	store := h.Resolver.Store()
	doc, err := store.Load(ctx)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	return ok(c, echo.Map{"settings": doc.Masked(), "path": store.Path()})
}

// Save replaces the document. The body may be {"settings": {...}} or the
// document itself; masked secrets keep their stored value.
func (h *SettingsHandler) Save(c echo.Context) error {
	raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxSettingsBody))
	if err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return missing(c, "settings")
	}
	incoming, err := settings.ParseDocument(raw)
	if err != nil {
		return fail(c, http.StatusBadRequest, "settings must be a JSON object", nil)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	store := h.Resolver.Store()
	saved, err := store.Update(ctx, func(current settings.Document) (settings.Document, error) {
		return incoming.MergeSecrets(current), nil
	})
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	h.Logger.Info("settings saved", "path", store.Path(), "request_id", requestID(c))
	return ok(c, echo.Map{"settings": saved.Masked(), "path": store.Path()})
}

// TestDB connects with the resolved settings and reports the server version.
func (h *SettingsHandler) TestDB(c echo.Context) error {
	var o settings.DBOverrides
	if err := c.Bind(&o); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	cfg, err := h.Resolver.ResolveDatabase(ctx, o)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	conn, err := h.Opener.Open(ctx, cfg)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	defer conn.Close()
	version, err := conn.ServerVersion(ctx)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	return ok(c, echo.Map{"version": version, "host": cfg.Addr(), "database": cfg.Database})
}
