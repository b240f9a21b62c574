package site

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// RedisStore keeps sites in redis so several routers can share them. Keys
// carry a native TTL equal to the retention window.
type RedisStore struct {
	logger *zap.Logger
	client *redis.Client
	prefix string
	maxAge time.Duration
	now    func() time.Time
}

var _ Store = (*RedisStore)(nil)

func NewRedisStore(cfg StoreConfig, logger *zap.Logger) (*RedisStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	prefix := cfg.RedisPrefix
	if prefix == "" {
		prefix = "peerweb:site:"
	} else {
		prefix += ":"
	}
	maxAge := cfg.MaxAge
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &RedisStore{
		logger: logger.Named("durable.redis"),
		client: client,
		prefix: prefix,
		maxAge: maxAge,
		now:    time.Now,
	}, nil
}

func (s *RedisStore) key(siteID string) string { return s.prefix + siteID }

func (s *RedisStore) Get(ctx context.Context, siteID string) (*Table, bool, error) {
	b, err := s.client.Get(ctx, s.key(siteID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	stored, err := decodeSite(b)
	if err != nil {
		s.logger.Warn("dropping undecodable site", zap.String("site", siteID), zap.Error(err))
		_ = s.client.Del(ctx, s.key(siteID)).Err()
		return nil, false, nil
	}
	if expired(stored.StoredAt, s.maxAge, s.now()) {
		if err := s.client.Del(ctx, s.key(siteID)).Err(); err != nil {
			s.logger.Warn("failed to purge expired site", zap.String("site", siteID), zap.Error(err))
		}
		return nil, false, nil
	}
	return stored.table(), true, nil
}

func (s *RedisStore) Set(ctx context.Context, siteID string, t *Table) error {
	b, err := encodeSite(storedSite{SiteID: siteID, StoredAt: s.now().UnixNano(), Files: t.Resources()})
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(siteID), b, s.maxAge).Err()
}

func (s *RedisStore) Delete(ctx context.Context, siteID string) error {
	return s.client.Del(ctx, s.key(siteID)).Err()
}

func (s *RedisStore) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
