package config

// Redis backs the status cache and the login rate limiter. When it cannot
// be reached at startup NewRedisClient returns nil and both fall back to
// local implementations.

import (
	"context"
	"crypto/tls"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
)

// NewRedisClient builds a client from REDIS_ADDR (or REDIS_HOST and
// REDIS_PORT), REDIS_PASSWORD, REDIS_DB and REDIS_TLS. REDIS_DISABLED=true
// skips Redis entirely. Returns nil when the ping fails.
func NewRedisClient() *redis.Client {
	opts, ok := RedisOptionsFromViper(newViper())
	if !ok {
		return nil
	}
	client := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil
	}
	return client
}

// RedisOptionsFromViper maps the redis_* keys of v. ok is false when Redis
// is disabled.
func RedisOptionsFromViper(v *viper.Viper) (opts *redis.Options, ok bool) {
	if v.GetBool("redis_disabled") {
		return nil, false
	}
	addr := v.GetString("redis_addr")
	if host, port := v.GetString("redis_host"), v.GetString("redis_port"); host != "" && port != "" {
		addr = host + ":" + port
	}
	if addr == "" {
		addr = "localhost:6379"
	}
	opts = &redis.Options{
		Addr:     addr,
		Password: v.GetString("redis_password"),
		DB:       v.GetInt("redis_db"),
	}
	if v.GetBool("redis_tls") {
		opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	return opts, true
}
