package site

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// DefaultMaxAge is how long an assembled site stays in the durable cache.
const DefaultMaxAge = 7 * 24 * time.Hour

// Store is the durable cache of assembled sites, keyed by site id. Entries
// older than the retention window are treated as absent and removed on read.
type Store interface {
	Get(ctx context.Context, siteID string) (*Table, bool, error)
	Set(ctx context.Context, siteID string, t *Table) error
	Delete(ctx context.Context, siteID string) error
	Clear(ctx context.Context) error
	Close() error
}

type StoreType string

const (
	StoreLevelDB StoreType = "leveldb"
	StoreRedis   StoreType = "redis"
	StoreMemory  StoreType = "memory"
)

type StoreConfig struct {
	Type   StoreType
	MaxAge time.Duration

	// leveldb
	Path     string
	MaxBytes int64

	// redis
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
}

// NewStore builds the backend named by cfg.Type.
func NewStore(cfg StoreConfig, logger *zap.Logger) (Store, error) {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = DefaultMaxAge
	}
	switch cfg.Type {
	case StoreLevelDB, "":
		path := cfg.Path
		if path == "" {
			path = "./data/leveldb"
		}
		return NewLevelStore(path, cfg.MaxAge, cfg.MaxBytes, logger)
	case StoreRedis:
		return NewRedisStore(cfg, logger)
	case StoreMemory:
		return NewMemoryStore(cfg.MaxAge), nil
	default:
		return nil, fmt.Errorf("unsupported durable store type: %s", cfg.Type)
	}
}

func expired(storedAt int64, maxAge time.Duration, now time.Time) bool {
	return now.Sub(time.Unix(0, storedAt)) > maxAge
}
