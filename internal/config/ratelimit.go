package config

import (
	"time"

	"github.com/spf13/viper"
)

// RateLimitConfig drives the login token bucket.
type RateLimitConfig struct {
	Enabled        bool
	Capacity       int
	RefillTokens   int
	RefillInterval time.Duration
	TTL            time.Duration
	Prefix         string
	Debug          bool
}

// LoadRateLimitConfig reads LOGIN_RATE_LIMIT_*. The default allows a burst
// of 10 attempts per client IP refilled at one every 6s.
func LoadRateLimitConfig() RateLimitConfig {
	return RateLimitFromViper(newViper())
}

// RateLimitFromViper maps the login_rate_limit_* keys of v and clamps them
// to a usable bucket.
func RateLimitFromViper(v *viper.Viper) RateLimitConfig {
	def := RateLimitConfig{
		Enabled:        v.GetBool("login_rate_limit_enabled"),
		Capacity:       v.GetInt("login_rate_limit_capacity"),
		RefillTokens:   v.GetInt("login_rate_limit_refill_tokens"),
		RefillInterval: v.GetDuration("login_rate_limit_refill_interval"),
		TTL:            v.GetDuration("login_rate_limit_ttl"),
		Prefix:         v.GetString("login_rate_limit_prefix"),
		Debug:          v.GetBool("login_rate_limit_debug"),
	}
	if def.Capacity < 1 {
		def.Capacity = 1
	}
	if def.RefillTokens < 1 {
		def.RefillTokens = 1
	}
	if def.RefillInterval <= 0 {
		def.RefillInterval = time.Second
	}
	minTTL := 5 * def.RefillInterval
	if def.TTL < minTTL {
		def.TTL = minTTL
	}
	if def.Prefix == "" {
		def.Prefix = "rl:login"
	}
	return def
}
