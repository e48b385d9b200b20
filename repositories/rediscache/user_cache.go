package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/upb/filevault/models"
	"github.com/upb/filevault/repositories"
	"go.uber.org/zap"
)

// DefaultKeyPrefix namespaces every key written by the cache
const DefaultKeyPrefix = "filevault:user:"

// UserCache is a read-through Redis cache in front of a UserRepository.
// Only hits are cached; a miss always reaches the inner store so a user created by
// another instance is visible on the next lookup. Redis failures degrade to the inner store.
type UserCache struct {
	inner     repositories.UserRepository
	client    redis.UniversalClient
	ttl       time.Duration
	keyPrefix string
	logger    *zap.Logger
}

var _ repositories.UserRepository = (*UserCache)(nil)

// New connects to redisURL and wraps inner
func New(ctx context.Context, inner repositories.UserRepository, redisURL string, ttl time.Duration, logger *zap.Logger) (*UserCache, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("could not configure redis user cache: %w", err)
	}
	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("could not connect to redis user cache: %w", err)
	}
	return NewWithClient(inner, client, ttl, logger), nil
}

// NewWithClient wraps inner using a pre-configured client (miniredis in tests)
func NewWithClient(inner repositories.UserRepository, client redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *UserCache {
	return &UserCache{
		inner:     inner,
		client:    client,
		ttl:       ttl,
		keyPrefix: DefaultKeyPrefix,
		logger:    logger,
	}
}

// Create writes to the inner store only. It usually runs inside a transaction that may
// still roll back, so the entry is cached by the first lookup after commit instead.
func (c *UserCache) Create(ctx context.Context, user *models.User) error {
	return c.inner.Create(ctx, user)
}

// GetByID is not cached
func (c *UserCache) GetByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return c.inner.GetByID(ctx, id)
}

// FindByStableID serves from Redis when possible
func (c *UserCache) FindByStableID(ctx context.Context, stableID string) (*models.User, error) {
	raw, err := c.client.Get(ctx, c.key(stableID)).Bytes()
	switch {
	case err == nil:
		var user models.User
		jsonErr := json.Unmarshal(raw, &user)
		if jsonErr == nil {
			userCacheHits.Inc()
			return &user, nil
		}
		c.logger.Warn("discarding undecodable user cache entry",
			zap.String("stable_id", stableID),
			zap.Error(jsonErr))
	case errors.Is(err, redis.Nil):
	default:
		userCacheErrors.Inc()
		c.logger.Warn("user cache read failed",
			zap.String("stable_id", stableID),
			zap.Error(err))
	}

	userCacheMisses.Inc()
	user, err := c.inner.FindByStableID(ctx, stableID)
	if err != nil {
		return nil, err
	}
	c.store(ctx, user)
	return user, nil
}

// Invalidate drops a cached entry
func (c *UserCache) Invalidate(ctx context.Context, stableID string) error {
	return c.client.Del(ctx, c.key(stableID)).Err()
}

// HealthCheck pings Redis
func (c *UserCache) HealthCheck(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis health check failed: %w", err)
	}
	return nil
}

// Close releases the Redis client
func (c *UserCache) Close() error {
	return c.client.Close()
}

func (c *UserCache) store(ctx context.Context, user *models.User) {
	raw, err := json.Marshal(user)
	if err != nil {
		c.logger.Error("failed to encode user for cache", zap.Error(err))
		return
	}
	if err := c.client.Set(ctx, c.key(user.StableID), raw, c.ttl).Err(); err != nil {
		userCacheErrors.Inc()
		c.logger.Warn("user cache write failed",
			zap.String("stable_id", user.StableID),
			zap.Error(err))
	}
}

func (c *UserCache) key(stableID string) string {
	return c.keyPrefix + stableID
}
