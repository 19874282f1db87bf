// Package config loads process configuration: .env first, then the
// environment through viper, with defaults for everything.
package config

import (
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/iliyamo/lmeve2/internal/utils"
)

// Config holds the runtime configuration of the process. Database and SSO
// application settings are not here; they come from the settings store and
// per-request overrides.
type Config struct {
	Env             string        // APP_ENV (dev, prod)
	Port            string        // APP_PORT
	StorageDir      string        // STORAGE_DIR, preferred settings/cache directory
	LogLevel        string        // LOG_LEVEL
	LogFormat       string        // LOG_FORMAT (text, json, logfmt)
	LogFile         string        // LOG_FILE, empty = stderr only
	JWTSecret       string        // JWT_SECRET, random per process when empty
	AccessTTLMin    int           // ACCESS_TOKEN_TTL_MIN
	BcryptCost      int           // BCRYPT_COST
	StatusTTL       time.Duration // STATUS_TTL
	HTTPTimeout     time.Duration // UPSTREAM_TIMEOUT
	IPLookupTimeout time.Duration // IP_LOOKUP_TIMEOUT
	SSOBaseURL      string        // ESI_SSO_URL
	ESIBaseURL      string        // ESI_BASE_URL
	IPLookupURL     string        // IP_LOOKUP_URL
	AMQPURL         string        // RABBITMQ_URL or AMQP_URL, empty disables events
	EventsLogFile   string        // EVENTS_LOG_FILE
	CORSOrigins     []string      // CORS_ORIGINS, comma separated
	SSOScopes       []string      // ESI_SCOPES, space or comma separated

	// EphemeralSecret is set when JWTSecret was generated; tokens die with the process.
	EphemeralSecret bool
}

var defaults = map[string]any{
	"app_env":              "dev",
	"app_port":             "8080",
	"storage_dir":          "storage",
	"log_level":            "info",
	"log_format":           "text",
	"log_file":             "",
	"jwt_secret":           "",
	"access_token_ttl_min": 60,
	"bcrypt_cost":          10,
	"status_ttl":           600 * time.Second,
	"upstream_timeout":     5 * time.Second,
	"ip_lookup_timeout":    1500 * time.Millisecond,
	"esi_sso_url":          "https://login.eveonline.com",
	"esi_base_url":         "https://esi.evetech.net/latest",
	"ip_lookup_url":        "https://api.ipify.org",
	"amqp_url":             "",
	"events_log_file":      "logs/events.log",
	"cors_origins":         "*",
	"esi_scopes":           "publicData esi-assets.read_corporation_assets.v1 esi-industry.read_corporation_jobs.v1 esi-markets.read_corporation_orders.v1 esi-corporations.read_corporation_membership.v1",

	"login_rate_limit_enabled":         true,
	"login_rate_limit_capacity":        10,
	"login_rate_limit_refill_tokens":   1,
	"login_rate_limit_refill_interval": 6 * time.Second,
	"login_rate_limit_ttl":             10 * time.Minute,
	"login_rate_limit_prefix":          "rl:login",
	"login_rate_limit_debug":           false,

	"redis_disabled": false,
	"redis_addr":     "localhost:6379",
	"redis_host":     "",
	"redis_port":     "",
	"redis_password": "",
	"redis_db":       0,
	"redis_tls":      false,

	"status_cache_backend": "auto",
	"status_cache_key":     "lmeve:status",
}

// Load reads .env (when present) and the environment.
func Load() (Config, error) {
	_ = godotenv.Load() // a missing .env is fine
	return FromViper(newViper())
}

func newViper() *viper.Viper {
	v := viper.New()
	for k, d := range defaults {
		v.SetDefault(k, d)
	}
	v.AutomaticEnv()
	_ = v.BindEnv("amqp_url", "RABBITMQ_URL", "AMQP_URL")
	return v
}

// FromViper maps v onto a Config and fills the generated secret.
func FromViper(v *viper.Viper) (Config, error) {
	cfg := Config{
		Env:             v.GetString("app_env"),
		Port:            v.GetString("app_port"),
		StorageDir:      v.GetString("storage_dir"),
		LogLevel:        v.GetString("log_level"),
		LogFormat:       v.GetString("log_format"),
		LogFile:         v.GetString("log_file"),
		JWTSecret:       v.GetString("jwt_secret"),
		AccessTTLMin:    v.GetInt("access_token_ttl_min"),
		BcryptCost:      v.GetInt("bcrypt_cost"),
		StatusTTL:       v.GetDuration("status_ttl"),
		HTTPTimeout:     v.GetDuration("upstream_timeout"),
		IPLookupTimeout: v.GetDuration("ip_lookup_timeout"),
		SSOBaseURL:      v.GetString("esi_sso_url"),
		ESIBaseURL:      v.GetString("esi_base_url"),
		IPLookupURL:     v.GetString("ip_lookup_url"),
		AMQPURL:         v.GetString("amqp_url"),
		EventsLogFile:   v.GetString("events_log_file"),
		CORSOrigins:     splitList(v.GetString("cors_origins")),
		SSOScopes:       splitList(v.GetString("esi_scopes")),
	}
	if cfg.AccessTTLMin <= 0 {
		cfg.AccessTTLMin = 60
	}
	if cfg.BcryptCost < 4 || cfg.BcryptCost > 31 {
		cfg.BcryptCost = 10
	}
	if cfg.JWTSecret == "" {
		secret, err := utils.RandomHex(32)
		if err != nil {
			return Config{}, err
		}
		cfg.JWTSecret = secret
		cfg.EphemeralSecret = true
	}
	return cfg, nil
}

func splitList(s string) []string {
	fields := strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ' ' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	return out
}
