package repository

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// FieldType is the semantic type a JSON value is converted to before binding.
type FieldType int

const (
	String FieldType = iota
	Int
	Float
	Bool
	Time
)

func (t FieldType) String() string {
	switch t {
	case Int:
		return "integer"
	case Float:
		return "number"
	case Bool:
		return "boolean"
	case Time:
		return "timestamp"
	default:
		return "string"
	}
}

// Field is one column of a record. The JSON key and the column share a name.
type Field struct {
	Name     string
	Type     FieldType
	Required bool
	Key      bool
}

// Filter maps a query parameter onto an equality test against Column.
type Filter struct {
	Param  string
	Column string
	Type   FieldType
}

// StatusFilter maps the "status" parameter onto Column. A value naming one
// of Groups expands to an IN list, any other value is matched literally.
type StatusFilter struct {
	Column string
	Groups map[string][]string
}

// Schema declares a record table: its columns, the filters a list may use
// and the fixed ORDER BY clause.
type Schema struct {
	Resource string
	Table    string
	Fields   []Field
	Filters  []Filter
	Status   *StatusFilter
	Order    string
}

// FieldError reports a record value that cannot be bound.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %s: %s", e.Field, e.Reason)
}

func quote(ident string) string { return "`" + ident + "`" }

// Columns returns the quoted column list in declaration order.
func (s Schema) Columns() string {
	cols := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		cols[i] = quote(f.Name)
	}
	return strings.Join(cols, ",")
}

// UpsertSQL builds INSERT ... ON DUPLICATE KEY UPDATE overwriting every
// non-key column.
func (s Schema) UpsertSQL() string {
	var updates []string
	for _, f := range s.Fields {
		if !f.Key {
			updates = append(updates, quote(f.Name)+"=VALUES("+quote(f.Name)+")")
		}
	}
	if len(updates) == 0 {
		// key-only tables still need a no-op assignment
		k := quote(s.Fields[0].Name)
		updates = append(updates, k+"="+k)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(s.Fields)), ",")
	return "INSERT INTO " + quote(s.Table) + " (" + s.Columns() + ") VALUES (" + placeholders +
		") ON DUPLICATE KEY UPDATE " + strings.Join(updates, ",")
}

// Bind converts rec into statement arguments in column order. Absent,
// null and empty-string values bind as NULL unless the field is required.
func (s Schema) Bind(rec map[string]any) ([]any, error) {
	args := make([]any, len(s.Fields))
	for i, f := range s.Fields {
		v, ok := rec[f.Name]
		if !ok || isEmpty(v) {
			if f.Required || f.Key {
				return nil, &FieldError{Field: f.Name, Reason: "missing required field"}
			}
			continue
		}
		arg, err := convert(f.Type, v)
		if err != nil {
			return nil, &FieldError{Field: f.Name, Reason: err.Error()}
		}
		args[i] = arg
	}
	return args, nil
}

func isEmpty(v any) bool {
	switch x := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(x) == ""
	}
	return false
}

var timeLayouts = []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"}

// convert expects values decoded with json.Decoder.UseNumber.
func convert(t FieldType, v any) (any, error) {
	switch t {
	case String:
		switch x := v.(type) {
		case string:
			return x, nil
		case json.Number:
			return x.String(), nil
		case bool:
			return strconv.FormatBool(x), nil
		}
	case Int:
		switch x := v.(type) {
		case json.Number:
			if n, err := x.Int64(); err == nil {
				return n, nil
			}
			if f, err := x.Float64(); err == nil && f == math.Trunc(f) && math.Abs(f) < 1<<63 {
				return int64(f), nil
			}
		case string:
			if n, err := strconv.ParseInt(strings.TrimSpace(x), 10, 64); err == nil {
				return n, nil
			}
		case bool:
			if x {
				return int64(1), nil
			}
			return int64(0), nil
		}
	case Float:
		switch x := v.(type) {
		case json.Number:
			if f, err := x.Float64(); err == nil {
				return f, nil
			}
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(x), 64); err == nil {
				return f, nil
			}
		}
	case Bool:
		switch x := v.(type) {
		case bool:
			return x, nil
		case json.Number:
			f, err := x.Float64()
			if err == nil {
				return f != 0, nil
			}
		case string:
			if b, err := strconv.ParseBool(strings.TrimSpace(x)); err == nil {
				return b, nil
			}
		}
	case Time:
		if x, ok := v.(string); ok {
			for _, layout := range timeLayouts {
				if ts, err := time.Parse(layout, strings.TrimSpace(x)); err == nil {
					return ts.UTC(), nil
				}
			}
		}
	}
	return nil, fmt.Errorf("expected %s", t)
}
