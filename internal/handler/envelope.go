package handler

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/charmbracelet/log"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/esi"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
)

// Every response is {ok: bool, ...}. Malformed input is 400; failures of
// the database, the settings store or the game vendor are 200 with
// ok:false and whatever diagnostics the failing layer supplied.

func ok(c echo.Context, fields echo.Map) error {
	body := echo.Map{"ok": true}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(http.StatusOK, body)
}

func fail(c echo.Context, status int, msg string, fields map[string]any) error {
	body := echo.Map{"ok": false, "error": msg}
	for k, v := range fields {
		body[k] = v
	}
	return c.JSON(status, body)
}

func missing(c echo.Context, field string) error {
	return fail(c, http.StatusBadRequest, "missing required field: "+field, echo.Map{"field": field})
}

func invalid(c echo.Context, field, reason string) error {
	return fail(c, http.StatusBadRequest, fmt.Sprintf("invalid field %s: %s", field, reason), echo.Map{"field": field})
}

type diagnostic interface {
	error
	Fields() map[string]any
}

// downstream renders a failure of a collaborator as 200 ok:false.
func downstream(c echo.Context, logger *log.Logger, err error) error {
	return downstreamWith(c, logger, err, nil)
}

// downstreamWith is downstream with extra fields added to the body.
func downstreamWith(c echo.Context, logger *log.Logger, err error, extra echo.Map) error {
	var (
		de *database.Error
		ue *esi.UpstreamError
		fe *repository.FieldError
	)
	switch {
	case errors.As(err, &fe):
		return invalid(c, fe.Field, fe.Reason)
	case errors.As(err, &de):
		return diagnose(c, logger, de, extra)
	case errors.As(err, &ue):
		return diagnose(c, logger, ue, extra)
	case errors.Is(err, settings.ErrLocked), errors.Is(err, settings.ErrNoWritableDir):
		logger.Warn("settings store unavailable", "err", err, "request_id", requestID(c))
		return fail(c, http.StatusOK, err.Error(), merge(echo.Map{"stage": "settings"}, extra))
	}
	logger.Warn("request failed", "path", c.Path(), "err", err, "request_id", requestID(c))
	return fail(c, http.StatusOK, err.Error(), extra)
}

func diagnose(c echo.Context, logger *log.Logger, d diagnostic, extra echo.Map) error {
	logger.Warn("downstream failure", "path", c.Path(), "err", d, "request_id", requestID(c))
	return fail(c, http.StatusOK, d.Error(), merge(d.Fields(), extra))
}

func merge(dst map[string]any, src echo.Map) map[string]any {
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}

// ErrorHandler renders router and middleware errors, recovered panics
// included, in the same envelope.
func ErrorHandler(logger *log.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}
		status := http.StatusInternalServerError
		msg := "internal server error"
		var he *echo.HTTPError
		if errors.As(err, &he) {
			status = he.Code
			msg = fmt.Sprint(he.Message)
		}
		if status >= http.StatusInternalServerError {
			logger.Error("unhandled error", "path", c.Path(), "err", err, "request_id", requestID(c))
		}
		if c.Request().Method == http.MethodHead {
			_ = c.NoContent(status)
			return
		}
		_ = fail(c, status, msg, nil)
	}
}
