package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/config"
	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/service"
	"github.com/iliyamo/lmeve2/internal/settings"
)

// OAuthHandler exposes the SSO relay. The browser talks to the identity
// provider; this side only builds the authorize URL and redeems grants.
type OAuthHandler struct {
	Cfg     config.Config
	Service *service.OAuthService
	Logger  *log.Logger
}

func NewOAuthHandler(cfg config.Config, svc *service.OAuthService, logger *log.Logger) *OAuthHandler {
	return &OAuthHandler{Cfg: cfg, Service: svc, Logger: logger}
}

type callbackReq struct {
	settings.DBOverrides
	settings.ESIOverrides
	Code string `json:"code"`
}

type refreshReq struct {
	settings.DBOverrides
	settings.ESIOverrides
	Username    string `json:"username"`
	CharacterID int64  `json:"characterId"`
}

// Authorize returns the SSO login URL and the state value the client must
// check on return.
func (h *OAuthHandler) Authorize(c echo.Context) error {
	var o settings.ESIOverrides
	if err := c.Bind(&o); err != nil {
		return fail(c, http.StatusBadRequest, "invalid query", nil)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	app, err := h.Service.Resolver.ResolveESI(ctx, o)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	if app.ClientID == "" {
		return fail(c, http.StatusOK, "SSO client id is not configured", echo.Map{"stage": esi.StepSSO})
	}
	scopes := h.Cfg.SSOScopes
	if s := strings.TrimSpace(c.QueryParam("scopes")); s != "" {
		scopes = strings.Fields(strings.ReplaceAll(s, ",", " "))
	}
	state := uuid.NewString()
	return ok(c, echo.Map{
		"url":    esi.New(app, h.Service.ESI).AuthorizeURL(state, scopes),
		"state":  state,
		"scopes": scopes,
	})
}

// Callback redeems an authorization code and stores the session.
func (h *OAuthHandler) Callback(c echo.Context) error {
	var req callbackReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	req.Code = strings.TrimSpace(req.Code)
	if req.Code == "" {
		return missing(c, "code")
	}
	// Each step of the chain carries its own timeout.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := h.Service.Callback(ctx, service.CallbackInput{Code: req.Code, DB: req.DBOverrides, App: req.ESIOverrides})
	if err != nil {
		return h.failure(c, err)
	}
	return ok(c, echo.Map{"session": res})
}

// Refresh redeems the stored refresh token of a user.
func (h *OAuthHandler) Refresh(c echo.Context) error {
	var req refreshReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" && req.CharacterID == 0 {
		return missing(c, "username")
	}
	// Each step of the chain carries its own timeout.
	ctx := context.WithoutCancel(c.Request().Context())
	res, err := h.Service.Refresh(ctx, service.RefreshInput{
		Username:    req.Username,
		CharacterID: req.CharacterID,
		DB:          req.DBOverrides,
		App:         req.ESIOverrides,
	})
	if err != nil {
		return h.failure(c, err)
	}
	return ok(c, echo.Map{"session": res})
}

func (h *OAuthHandler) failure(c echo.Context, err error) error {
	switch {
	case errors.Is(err, repository.ErrUserNotFound):
		return fail(c, http.StatusOK, "user not found", nil)
	case errors.Is(err, service.ErrNoRefreshToken), errors.Is(err, esi.ErrNotConfigured):
		return fail(c, http.StatusOK, err.Error(), nil)
	}
	return downstream(c, h.Logger, err)
}
