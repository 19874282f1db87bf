package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/config"
	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/middleware"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
	"github.com/iliyamo/lmeve2/internal/utils"
)

// AuthHandler bundles dependencies for the password login endpoints.
type AuthHandler struct {
	Gateway
	Cfg    config.Config
	Clock  clockwork.Clock
	Logger *log.Logger
}

func NewAuthHandler(cfg config.Config, g Gateway, clock clockwork.Clock, logger *log.Logger) *AuthHandler {
	return &AuthHandler{Gateway: g, Cfg: cfg, Clock: clock, Logger: logger}
}

// ----- DTOs -----

type loginReq struct {
	settings.DBOverrides
	Username string `json:"username"`
	Password string `json:"password"`
}

type tokenPart struct {
	Token   string `json:"token"`
	Expires string `json:"expires"`
}

// Login checks a username/password pair against the users table and
// issues an access token. Legacy hex digests are upgraded to bcrypt on
// the first successful login.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return missing(c, "username")
	}
	if req.Password == "" {
		return missing(c, "password")
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	conn, err := h.open(ctx, req.DBOverrides)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	defer conn.Close()
	users := repository.NewUserRepo(conn)

	u, err := users.GetByUsername(ctx, req.Username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return fail(c, http.StatusUnauthorized, "invalid credentials", nil)
	}
	if err != nil {
		return downstream(c, h.Logger, database.AsError(database.StageQuery, err))
	}
	valid, rehash := utils.VerifyPassword(u.PasswordHash, req.Password)
	if !valid {
		return fail(c, http.StatusUnauthorized, "invalid credentials", nil)
	}
	if !u.IsActive {
		return fail(c, http.StatusForbidden, "account disabled", nil)
	}

	if rehash {
		if hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost); err != nil {
			h.Logger.Error("rehash password", "username", u.Username, "err", err)
		} else if err := users.UpdatePasswordHash(ctx, u.Username, hash); err != nil {
			h.Logger.Warn("store rehashed password", "username", u.Username, "err", err)
		} else {
			h.Logger.Info("legacy password hash upgraded", "username", u.Username)
		}
	}
	now := h.Clock.Now()
	if err := users.TouchLogin(ctx, u.Username, now); err != nil {
		h.Logger.Warn("record login time", "username", u.Username, "err", err)
	}

	tok, err := utils.NewAccessToken(h.Cfg.JWTSecret, u.Username, u.Role, h.Cfg.AccessTTLMin, now)
	if err != nil {
		return fail(c, http.StatusInternalServerError, "could not issue token", nil)
	}
	return ok(c, echo.Map{
		"user":   u,
		"token":  tok.Token,
		"access": tokenPart{Token: tok.Token, Expires: tok.Exp.Format(time.RFC3339)},
	})
}

// Me returns the identity carried by the access token.
func (h *AuthHandler) Me(c echo.Context) error {
	return ok(c, echo.Map{
		"username": c.Get(middleware.CtxUsername),
		"role":     c.Get(middleware.CtxRole),
	})
}
