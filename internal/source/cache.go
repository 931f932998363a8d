package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"fuseid/internal/fused/models"
	id "fuseid/pkg/domain"
)

const (
	identityKeyPrefix = "src:identity:"
	identityListKey   = "src:identities"
)

// CachedIdentitySource is a Redis read-through cache in front of an
// IdentitySource. Resolution passes hit the identity pool once per subject
// account; the cache keeps repeated pool reads off the upstream source.
// Cache failures degrade to the upstream, never to an error.
type CachedIdentitySource struct {
	upstream IdentitySource
	client   *redis.Client
	ttl      time.Duration
	logger   *slog.Logger
}

// CacheOption configures a CachedIdentitySource.
type CacheOption func(*CachedIdentitySource)

// WithCacheLogger sets the logger for cache degradation warnings.
func WithCacheLogger(logger *slog.Logger) CacheOption {
	return func(c *CachedIdentitySource) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCachedIdentitySource wraps an identity source with a Redis cache.
func NewCachedIdentitySource(upstream IdentitySource, client *redis.Client, ttl time.Duration, opts ...CacheOption) *CachedIdentitySource {
	c := &CachedIdentitySource{
		upstream: upstream,
		client:   client,
		ttl:      ttl,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *CachedIdentitySource) GetIdentity(ctx context.Context, identity id.IdentityID) (models.Identity, error) {
	key := identityKeyPrefix + string(identity)

	cached, err := c.client.Get(ctx, key).Bytes()
	if err == nil {
		var ident models.Identity
		if err := json.Unmarshal(cached, &ident); err == nil {
			return ident, nil
		}
		// Corrupt entry: fall through to the upstream and rewrite.
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("identity cache read failed, falling back to upstream", "identity", identity, "error", err)
	}

	ident, err := c.upstream.GetIdentity(ctx, identity)
	if err != nil {
		return models.Identity{}, err
	}
	c.write(ctx, key, ident)
	return ident, nil
}

func (c *CachedIdentitySource) ListIdentities(ctx context.Context) ([]models.Identity, error) {
	cached, err := c.client.Get(ctx, identityListKey).Bytes()
	if err == nil {
		var idents []models.Identity
		if err := json.Unmarshal(cached, &idents); err == nil {
			return idents, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		c.logger.Warn("identity pool cache read failed, falling back to upstream", "error", err)
	}

	idents, err := c.upstream.ListIdentities(ctx)
	if err != nil {
		return nil, err
	}
	c.write(ctx, identityListKey, idents)
	return idents, nil
}

// Invalidate drops the cached pool and one identity entry. Called after a
// decision creates or rewires an identity.
func (c *CachedIdentitySource) Invalidate(ctx context.Context, identity id.IdentityID) {
	keys := []string{identityListKey}
	if !identity.IsEmpty() {
		keys = append(keys, identityKeyPrefix+string(identity))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("identity cache invalidation failed", "identity", identity, "error", err)
	}
}

func (c *CachedIdentitySource) write(ctx context.Context, key string, value any) {
	payload, err := json.Marshal(value)
	if err != nil {
		c.logger.Warn("identity cache marshal failed", "key", key, "error", fmt.Errorf("marshal: %w", err))
		return
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.logger.Warn("identity cache write failed", "key", key, "error", err)
	}
}
