// Package settings owns the persisted settings document of the dashboard:
// where it lives on disk, how secrets are masked for clients and how request
// overrides are merged with it into database and ESI configuration.
package settings

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// MaskSentinel stands in for a secret that is set but never disclosed.
const MaskSentinel = "********"

// secretKeys are masked on read and treated as "keep existing" on write,
// wherever they appear in the document tree.
var secretKeys = map[string]bool{
	"password":     true,
	"clientSecret": true,
	"sudoPassword": true,
	"smtpPassword": true,
}

// IsSecretKey reports whether key names a secret field.
func IsSecretKey(key string) bool { return secretKeys[key] }

// Document is the decoded settings tree. Sections other than database and
// esi are kept as-is so a save never drops what the dashboard sent.
type Document map[string]any

// DatabaseSettings is the persisted "database" section.
type DatabaseSettings struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
}

// ESISettings is the persisted "esi" section.
type ESISettings struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	UserAgent    string
}

// ParseDocument decodes raw JSON in either the wrapped {"settings": {...}}
// shape or the direct shape. Empty input yields an empty document.
func ParseDocument(raw []byte) (Document, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return Document{}, nil
	}
	var top map[string]any
	if err := json.Unmarshal(raw, &top); err != nil {
		return nil, fmt.Errorf("parse settings document: %w", err)
	}
	return Unwrap(top), nil
}

// Unwrap returns the inner object of a wrapped document, or m itself.
func Unwrap(m map[string]any) Document {
	if m == nil {
		return Document{}
	}
	if inner, ok := m["settings"].(map[string]any); ok {
		return Document(inner)
	}
	return Document(m)
}

// Bytes encodes the document in the direct shape.
func (d Document) Bytes() ([]byte, error) {
	if d == nil {
		d = Document{}
	}
	return json.MarshalIndent(map[string]any(d), "", "  ")
}

// Masked returns a deep copy with every non-empty secret replaced by MaskSentinel.
func (d Document) Masked() Document {
	return Document(maskMap(d))
}

// MergeSecrets returns a copy of d in which secrets still carrying the
// sentinel take the value stored at the same path in prev. A sentinel with
// nothing behind it is dropped.
func (d Document) MergeSecrets(prev Document) Document {
	return Document(mergeMap(d, prev))
}

// Database returns the typed "database" section.
func (d Document) Database() DatabaseSettings {
	sec := d.section("database")
	return DatabaseSettings{
		Host:     text(sec["host"]),
		Port:     text(sec["port"]),
		Username: text(sec["username"]),
		Password: text(sec["password"]),
		Database: text(sec["database"]),
	}
}

// ESI returns the typed "esi" section.
func (d Document) ESI() ESISettings {
	sec := d.section("esi")
	return ESISettings{
		ClientID:     text(sec["clientId"]),
		ClientSecret: text(sec["clientSecret"]),
		CallbackURL:  text(sec["callbackUrl"]),
		UserAgent:    text(sec["userAgent"]),
	}
}

func (d Document) section(name string) map[string]any {
	if d == nil {
		return nil
	}
	m, _ := d[name].(map[string]any)
	return m
}

func maskMap(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if secretKeys[k] {
			if s := text(v); s != "" {
				out[k] = MaskSentinel
				continue
			}
		}
		out[k] = maskValue(v)
	}
	return out
}

func maskValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return maskMap(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = maskValue(e)
		}
		return out
	default:
		return v
	}
}

func mergeMap(in, prev map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		switch t := v.(type) {
		case map[string]any:
			var p map[string]any
			if prev != nil {
				p, _ = prev[k].(map[string]any)
			}
			out[k] = mergeMap(t, p)
		case string:
			if secretKeys[k] && t == MaskSentinel {
				if old, ok := prev[k]; ok && text(old) != MaskSentinel {
					out[k] = old
				}
				continue
			}
			out[k] = t
		default:
			out[k] = cloneValue(v)
		}
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = cloneValue(e)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

// text renders scalar JSON values the way they would be typed into a form.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}
