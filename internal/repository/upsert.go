package repository

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/iliyamo/lmeve2/internal/database"
)

// maxRowErrors bounds the per-row diagnostics returned for one batch.
const maxRowErrors = 50

// Execer is satisfied by *database.Conn and *sql.DB.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// RowError describes why one record of a batch was not written.
type RowError struct {
	Index int    `json:"index"`
	Field string `json:"field,omitempty"`
	Error string `json:"error"`
	Errno uint16 `json:"errno,omitempty"`
}

// UpsertResult tallies a bulk upsert.
type UpsertResult struct {
	Inserted int        `json:"inserted"`
	Updated  int        `json:"updated"`
	Failed   int        `json:"failed"`
	Errors   []RowError `json:"errors,omitempty"`
}

func (r *UpsertResult) fail(e RowError) {
	r.Failed++
	if len(r.Errors) < maxRowErrors {
		r.Errors = append(r.Errors, e)
	}
}

// BulkUpsert writes every record with one statement each. A record that is
// not an object, fails binding or is rejected by the server is counted as
// failed and the batch carries on. An affected-row count of 1 is an insert,
// anything else an update.
func BulkUpsert(ctx context.Context, ex Execer, s Schema, records []json.RawMessage) UpsertResult {
	var res UpsertResult
	stmt := s.UpsertSQL()
	for i, raw := range records {
		if err := ctx.Err(); err != nil {
			res.fail(RowError{Index: i, Error: err.Error()})
			continue
		}
		rec, err := decodeRecord(raw)
		if err != nil {
			res.fail(RowError{Index: i, Error: err.Error()})
			continue
		}
		args, err := s.Bind(rec)
		if err != nil {
			var fe *FieldError
			if errors.As(err, &fe) {
				res.fail(RowError{Index: i, Field: fe.Field, Error: fe.Reason})
			} else {
				res.fail(RowError{Index: i, Error: err.Error()})
			}
			continue
		}
		r, err := ex.ExecContext(ctx, stmt, args...)
		if err != nil {
			de := database.AsError(database.StageQuery, err)
			res.fail(RowError{Index: i, Error: de.Message, Errno: de.Code})
			continue
		}
		n, err := r.RowsAffected()
		switch {
		case err != nil:
			res.fail(RowError{Index: i, Error: err.Error()})
		case n == 1:
			res.Inserted++
		default:
			res.Updated++
		}
	}
	return res
}

func decodeRecord(raw json.RawMessage) (map[string]any, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("record is not an object")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	var rec map[string]any
	if err := dec.Decode(&rec); err != nil {
		return nil, fmt.Errorf("malformed record: %w", err)
	}
	return rec, nil
}
