package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/config"
	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/middleware"
	"github.com/iliyamo/lmeve2/internal/model"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
	"github.com/iliyamo/lmeve2/internal/utils"
)

// UserHandler serves the admin-only account management endpoints.
type UserHandler struct {
	Gateway
	Cfg    config.Config
	Logger *log.Logger
}

func NewUserHandler(cfg config.Config, g Gateway, logger *log.Logger) *UserHandler {
	return &UserHandler{Gateway: g, Cfg: cfg, Logger: logger}
}

type upsertUserReq struct {
	settings.DBOverrides
	Username string `json:"username"`
	Password string `json:"password"`
	Role     string `json:"role"`
	IsActive *bool  `json:"isActive"`
}

type usernameReq struct {
	settings.DBOverrides
	Username string `json:"username"`
}

// List returns every user row without tokens or password hashes.
func (h *UserHandler) List(c echo.Context) error {
	var o settings.DBOverrides
	if err := c.Bind(&o); err != nil {
		return fail(c, http.StatusBadRequest, "invalid query", nil)
	}
	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	conn, err := h.open(ctx, o)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	defer conn.Close()
	users, err := repository.NewUserRepo(conn).List(ctx)
	if err != nil {
		return downstream(c, h.Logger, database.AsError(database.StageQuery, err))
	}
	return ok(c, echo.Map{"rows": users, "rowCount": len(users)})
}

// Upsert creates an account or updates its role, active flag and,
// when given, password.
func (h *UserHandler) Upsert(c echo.Context) error {
	var req upsertUserReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return missing(c, "username")
	}
	role := strings.ToLower(strings.TrimSpace(req.Role))
	switch role {
	case "":
		role = model.RoleMember
	case model.RoleAdmin, model.RoleMember:
	default:
		return invalid(c, "role", "must be admin or member")
	}
	acct := model.Account{Username: req.Username, Role: role, IsActive: true}
	if req.IsActive != nil {
		acct.IsActive = *req.IsActive
	}
	if req.Password != "" {
		hash, err := utils.HashPassword(req.Password, h.Cfg.BcryptCost)
		if err != nil {
			return fail(c, http.StatusInternalServerError, "could not hash password", nil)
		}
		acct.PasswordHash = hash
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	conn, err := h.open(ctx, req.DBOverrides)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	defer conn.Close()
	created, err := repository.NewUserRepo(conn).UpsertAccount(ctx, acct)
	if err != nil {
		return downstream(c, h.Logger, database.AsError(database.StageQuery, err))
	}
	h.Logger.Info("account saved", "username", acct.Username, "role", acct.Role, "created", created,
		"by", c.Get(middleware.CtxUsername))
	return ok(c, echo.Map{"username": acct.Username, "created": created})
}

// Deactivate sets the soft deactivation flag. Rows are never deleted.
func (h *UserHandler) Deactivate(c echo.Context) error { return h.setActive(c, false) }

// Activate clears the soft deactivation flag.
func (h *UserHandler) Activate(c echo.Context) error { return h.setActive(c, true) }

func (h *UserHandler) setActive(c echo.Context, active bool) error {
	var req usernameReq
	if err := c.Bind(&req); err != nil {
		return fail(c, http.StatusBadRequest, "invalid body", nil)
	}
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == "" {
		return missing(c, "username")
	}
	if !active && req.Username == c.Get(middleware.CtxUsername) {
		return fail(c, http.StatusBadRequest, "cannot deactivate your own account", nil)
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
	defer cancel()

	conn, err := h.open(ctx, req.DBOverrides)
	if err != nil {
		return downstream(c, h.Logger, err)
	}
	defer conn.Close()
	err = repository.NewUserRepo(conn).SetActive(ctx, req.Username, active)
	if errors.Is(err, repository.ErrUserNotFound) {
		return fail(c, http.StatusOK, "user not found", echo.Map{"username": req.Username})
	}
	if err != nil {
		return downstream(c, h.Logger, database.AsError(database.StageQuery, err))
	}
	return ok(c, echo.Map{"username": req.Username, "isActive": active})
}
