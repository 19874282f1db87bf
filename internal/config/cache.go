package config

import (
	"strings"

	"github.com/spf13/viper"
)

// StatusCacheConfig selects where the status aggregate is cached.
// Backend "auto" uses Redis when a client is available and the storage
// directory otherwise; "file" and "redis" force one or the other.
type StatusCacheConfig struct {
	Backend string
	Key     string
}

// LoadStatusCacheConfig reads STATUS_CACHE_BACKEND and STATUS_CACHE_KEY.
func LoadStatusCacheConfig() StatusCacheConfig {
	return StatusCacheFromViper(newViper())
}

// StatusCacheFromViper maps the status_cache_* keys of v.
func StatusCacheFromViper(v *viper.Viper) StatusCacheConfig {
	cfg := StatusCacheConfig{
		Backend: strings.ToLower(strings.TrimSpace(v.GetString("status_cache_backend"))),
		Key:     v.GetString("status_cache_key"),
	}
	switch cfg.Backend {
	case "auto", "file", "redis":
	default:
		cfg.Backend = "auto"
	}
	if cfg.Key == "" {
		cfg.Key = "lmeve:status"
	}
	return cfg
}
