package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Field accepts a JSON string, number or boolean so overrides such as
// "dbPort": 3306 and "dbPort": "3306" bind the same way.
type Field string

// UnmarshalJSON implements json.Unmarshaler.
func (f *Field) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = Field(s)
		return nil
	}
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = Field(text(v))
	return nil
}

// String returns the raw value.
func (f Field) String() string { return string(f) }

// DBOverrides are the connection fields a request may carry.
type DBOverrides struct {
	Host     Field `json:"dbHost" query:"dbHost"`
	Port     Field `json:"dbPort" query:"dbPort"`
	User     Field `json:"dbUser" query:"dbUser"`
	Password Field `json:"dbPassword" query:"dbPassword"`
	Name     Field `json:"dbName" query:"dbName"`
}

// ESIOverrides are the application credentials a request may carry.
type ESIOverrides struct {
	ClientID     Field `json:"clientId" query:"clientId"`
	ClientSecret Field `json:"clientSecret" query:"clientSecret"`
	CallbackURL  Field `json:"callbackUrl" query:"callbackUrl"`
	UserAgent    Field `json:"userAgent" query:"userAgent"`
}

// DBConfig is a fully resolved connection target.
type DBConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	Database string
}

// Addr returns host:port.
func (c DBConfig) Addr() string { return c.Host + ":" + strconv.Itoa(c.Port) }

// ESIConfig is a fully resolved SSO application.
type ESIConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
	UserAgent    string
}

// Defaults are the hardcoded last-resort values of the cascade.
type Defaults struct {
	DBHost      string
	DBPort      int
	DBUser      string
	DBName      string
	CallbackURL string
	UserAgent   string
}

// BuiltinDefaults are used when neither request nor settings file say otherwise.
var BuiltinDefaults = Defaults{
	DBHost:    "localhost",
	DBPort:    3306,
	DBUser:    "root",
	DBName:    "lmeve2",
	UserAgent: "lmeve2/1.0",
}

// Resolver merges request overrides with the persisted document.
type Resolver struct {
	store    Store
	defaults Defaults
}

// NewResolver returns a resolver reading from store.
func NewResolver(store Store, defaults Defaults) *Resolver {
	return &Resolver{store: store, defaults: defaults}
}

// Store exposes the underlying settings store.
func (r *Resolver) Store() Store { return r.store }

// ResolveDatabase applies, per field, override → persisted → default.
func (r *Resolver) ResolveDatabase(ctx context.Context, o DBOverrides) (DBConfig, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return DBConfig{}, err
	}
	return MergeDatabase(o, doc.Database(), r.defaults)
}

// ResolveESI applies, per field, override → persisted → default.
func (r *Resolver) ResolveESI(ctx context.Context, o ESIOverrides) (ESIConfig, error) {
	doc, err := r.store.Load(ctx)
	if err != nil {
		return ESIConfig{}, err
	}
	return MergeESI(o, doc.ESI(), r.defaults), nil
}

// MergeDatabase is the pure part of ResolveDatabase.
func MergeDatabase(o DBOverrides, p DatabaseSettings, d Defaults) (DBConfig, error) {
	cfg := DBConfig{
		Host:     first(o.Host.String(), p.Host, d.DBHost),
		Username: first(o.User.String(), p.Username, d.DBUser),
		Password: firstSecret(unmask(o.Password.String()), unmask(p.Password)),
		Database: first(o.Name.String(), p.Database, d.DBName),
	}
	port := first(o.Port.String(), p.Port)
	if port == "" {
		cfg.Port = d.DBPort
		return cfg, nil
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return DBConfig{}, fmt.Errorf("invalid database port %q", port)
	}
	cfg.Port = n
	return cfg, nil
}

// MergeESI is the pure part of ResolveESI.
func MergeESI(o ESIOverrides, p ESISettings, d Defaults) ESIConfig {
	return ESIConfig{
		ClientID:     first(o.ClientID.String(), p.ClientID),
		ClientSecret: firstSecret(unmask(o.ClientSecret.String()), unmask(p.ClientSecret)),
		CallbackURL:  first(o.CallbackURL.String(), p.CallbackURL, d.CallbackURL),
		UserAgent:    first(o.UserAgent.String(), p.UserAgent, d.UserAgent),
	}
}

// unmask turns a sentinel, persisted or echoed back by a client, into "absent".
func unmask(v string) string {
	if v == MaskSentinel {
		return ""
	}
	return v
}

func first(vals ...string) string {
	for _, v := range vals {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

// firstSecret is first without trimming: whitespace is a valid password byte.
func firstSecret(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
