package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/charmbracelet/log"
	"github.com/jonboulle/clockwork"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/lmeve2/internal/database"
	"github.com/iliyamo/lmeve2/internal/metrics"
	"github.com/iliyamo/lmeve2/internal/queue"
	"github.com/iliyamo/lmeve2/internal/repository"
	"github.com/iliyamo/lmeve2/internal/settings"
)

const maxBulkBody = 32 << 20

// RecordHandler serves list and bulk upsert for every schema in
// repository.Records.
type RecordHandler struct {
	Gateway
	Publisher queue.Publisher
	Clock     clockwork.Clock
	Logger    *log.Logger
}

func NewRecordHandler(g Gateway, pub queue.Publisher, clock clockwork.Clock, logger *log.Logger) *RecordHandler {
	return &RecordHandler{Gateway: g, Publisher: pub, Clock: clock, Logger: logger}
}

// bulkReq accepts the batch under "records" or "items".
type bulkReq struct {
	settings.DBOverrides
	Records []json.RawMessage `json:"records"`
	Items   []json.RawMessage `json:"items"`
}

// List returns the GET handler for s. Filters, status, limit and offset
// come from the query string.
func (h *RecordHandler) List(s repository.Schema) echo.HandlerFunc {
	return func(c echo.Context) error {
		var o settings.DBOverrides
		if err := c.Bind(&o); err != nil {
			return fail(c, http.StatusBadRequest, "invalid query", nil)
		}
		lq := repository.ListQuery{Filters: map[string]string{}, Status: c.QueryParam("status")}
		for _, f := range s.Filters {
			if v := c.QueryParam(f.Param); v != "" {
				lq.Filters[f.Param] = v
			}
		}
		var err error
		if lq.Limit, err = intParam(c, "limit"); err != nil {
			return invalid(c, "limit", "must be an integer")
		}
		if lq.Offset, err = intParam(c, "offset"); err != nil {
			return invalid(c, "offset", "must be an integer")
		}

		ctx, cancel := context.WithTimeout(c.Request().Context(), requestTimeout)
		defer cancel()

		conn, err := h.open(ctx, o)
		if err != nil {
			return downstream(c, h.Logger, err)
		}
		defer conn.Close()
		rows, err := repository.List(ctx, conn, s, lq)
		if err != nil {
			return downstream(c, h.Logger, database.AsError(database.StageQuery, err))
		}
		return ok(c, echo.Map{"rows": rows, "rowCount": len(rows)})
	}
}

// Upsert returns the POST handler for s. The body is either a bare array
// of records or an object carrying overrides plus the array.
func (h *RecordHandler) Upsert(s repository.Schema) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBulkBody))
		if err != nil {
			return fail(c, http.StatusBadRequest, "invalid body", nil)
		}
		req, err := decodeBulk(raw)
		if err != nil {
			return fail(c, http.StatusBadRequest, "records must be a JSON array", echo.Map{"field": "records"})
		}
		records := req.Records
		if len(records) == 0 {
			records = req.Items
		}
		if len(records) == 0 {
			return missing(c, "records")
		}

		ctx, conn, err := h.connect(c.Request().Context(), req.DBOverrides)
		if err != nil {
			return downstream(c, h.Logger, err)
		}
		defer conn.Close()

		res := repository.BulkUpsert(ctx, conn, s, records)
		metrics.ObserveUpsert(s.Resource, res.Inserted, res.Updated, res.Failed)
		h.Logger.Info("bulk upsert", "resource", s.Resource, "inserted", res.Inserted,
			"updated", res.Updated, "failed", res.Failed, "request_id", requestID(c))
		queue.Emit(ctx, h.Publisher, h.Logger, queue.TypeSyncCompleted, queue.SyncCompleted{
			Resource: s.Resource,
			Inserted: res.Inserted,
			Updated:  res.Updated,
			Failed:   res.Failed,
			At:       queue.Timestamp(h.Clock.Now()),
		})
		return ok(c, echo.Map{
			"inserted": res.Inserted,
			"updated":  res.Updated,
			"failed":   res.Failed,
			"errors":   res.Errors,
		})
	}
}

func decodeBulk(raw []byte) (bulkReq, error) {
	var req bulkReq
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return req, nil
	}
	if raw[0] == '[' {
		err := json.Unmarshal(raw, &req.Records)
		return req, err
	}
	err := json.Unmarshal(raw, &req)
	return req, err
}

func intParam(c echo.Context, name string) (int, error) {
	v := c.QueryParam(name)
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
