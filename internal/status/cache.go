package status

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/iliyamo/lmeve2/internal/settings"
)

// ErrMiss is returned by a Cache holding no blob.
var ErrMiss = errors.New("status: cache miss")

// Cache stores the last aggregate verbatim.
type Cache interface {
	Get(ctx context.Context) ([]byte, error)
	Put(ctx context.Context, blob []byte) error
}

// FileCache keeps the blob in a file next to the settings document.
type FileCache struct {
	path string
}

// NewFileCache returns a cache writing <dir>/status-cache.json.
func NewFileCache(dir string) *FileCache {
	return &FileCache{path: filepath.Join(dir, "status-cache.json")}
}

func (f *FileCache) Get(context.Context) ([]byte, error) {
	b, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) || (err == nil && len(b) == 0) {
		return nil, ErrMiss
	}
	return b, err
}

func (f *FileCache) Put(_ context.Context, blob []byte) error {
	return settings.WriteFileAtomic(f.path, blob, 0o644)
}

// RedisCache keeps the blob under one key. Expiry only bounds storage; the
// aggregator decides freshness from lastUpdated.
type RedisCache struct {
	rdb    *redis.Client
	key    string
	expiry time.Duration
}

func NewRedisCache(rdb *redis.Client, key string, expiry time.Duration) *RedisCache {
	return &RedisCache{rdb: rdb, key: key, expiry: expiry}
}

func (r *RedisCache) Get(ctx context.Context) ([]byte, error) {
	b, err := r.rdb.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrMiss
	}
	return b, err
}

func (r *RedisCache) Put(ctx context.Context, blob []byte) error {
	return r.rdb.Set(ctx, r.key, blob, r.expiry).Err()
}
