package repository

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultListLimit = 500
	MaxListLimit     = 5000
)

// Querier is satisfied by *database.Conn and *sql.DB.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ListQuery carries the raw filter values of a list request.
type ListQuery struct {
	Filters map[string]string
	Status  string
	Limit   int
	Offset  int
}

// ListSQL builds the parameterized SELECT for q. Unknown filter names are
// ignored; values that do not parse as their declared type are a FieldError.
func (s Schema) ListSQL(q ListQuery) (string, []any, error) {
	var (
		where []string
		args  []any
	)
	for _, f := range s.Filters {
		raw := strings.TrimSpace(q.Filters[f.Param])
		if raw == "" {
			continue
		}
		v, err := convert(f.Type, raw)
		if err != nil {
			return "", nil, &FieldError{Field: f.Param, Reason: err.Error()}
		}
		where = append(where, quote(f.Column)+" = ?")
		args = append(args, v)
	}
	if st := strings.TrimSpace(q.Status); st != "" && s.Status != nil {
		if group, ok := s.Status.Groups[strings.ToLower(st)]; ok {
			where = append(where, quote(s.Status.Column)+" IN ("+strings.TrimSuffix(strings.Repeat("?,", len(group)), ",")+")")
			for _, g := range group {
				args = append(args, g)
			}
		} else {
			where = append(where, quote(s.Status.Column)+" = ?")
			args = append(args, st)
		}
	}

	var b strings.Builder
	b.WriteString("SELECT " + s.Columns() + " FROM " + quote(s.Table))
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	if s.Order != "" {
		b.WriteString(" ORDER BY " + s.Order)
	}
	b.WriteString(" LIMIT ? OFFSET ?")
	args = append(args, clampLimit(q.Limit), max(q.Offset, 0))
	return b.String(), args, nil
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return DefaultListLimit
	case n > MaxListLimit:
		return MaxListLimit
	}
	return n
}

// List runs ListSQL and returns rows keyed by column name.
func List(ctx context.Context, q Querier, s Schema, lq ListQuery) ([]map[string]any, error) {
	query, args, err := s.ListSQL(lq)
	if err != nil {
		return nil, err
	}
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]map[string]any, 0)
	for rows.Next() {
		vals := make([]any, len(s.Fields))
		ptrs := make([]any, len(s.Fields))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(map[string]any, len(s.Fields))
		for i, f := range s.Fields {
			row[f.Name] = normalize(f.Type, vals[i])
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

// normalize turns driver values into JSON-friendly ones. The text protocol
// yields []byte for every column; the binary protocol yields typed values.
func normalize(t FieldType, v any) any {
	switch x := v.(type) {
	case nil:
		return nil
	case []byte:
		return normalizeText(t, string(x))
	case time.Time:
		return x.UTC().Format(time.RFC3339)
	case int64:
		if t == Bool {
			return x != 0
		}
	}
	return v
}

func normalizeText(t FieldType, s string) any {
	switch t {
	case Int:
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n
		}
	case Float:
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f
		}
	case Bool:
		return s != "0" && s != ""
	case Time:
		if ts, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
			return ts.UTC().Format(time.RFC3339)
		}
	}
	return s
}
