package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/spec-kit/patient-track/internal/domain"
)

// TokenCache holds recent successful validations keyed by access token.
// Read and write failures are logged and behave as misses.
type TokenCache interface {
	Get(ctx context.Context, accessToken string) (*domain.TokenInfo, bool)
	// Set is skipped while the token carries a revocation marker.
	Set(ctx context.Context, accessToken string, info *domain.TokenInfo, ttl time.Duration)
	Delete(ctx context.Context, accessTokens ...string)
	// Invalidate evicts the tokens and marks them revoked for markerTTL, so a
	// validation that read the store before the revocation cannot repopulate them.
	Invalidate(ctx context.Context, markerTTL time.Duration, accessTokens ...string) error
}

// setUnlessRevoked writes KEYS[1] only when the marker KEYS[2] is absent.
var setUnlessRevoked = redis.NewScript(`
if redis.call("EXISTS", KEYS[2]) == 1 then
	return 0
end
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
return 1
`)

type redisTokenCache struct {
	client *redis.Client
	prefix string
	logger *zap.Logger
}

// NewRedisTokenCache stores entries under prefix + "token:" + sha256(token)
// and revocation markers under prefix + "revoked:" + sha256(token).
func NewRedisTokenCache(client *redis.Client, prefix string, logger *zap.Logger) TokenCache {
	return &redisTokenCache{client: client, prefix: prefix, logger: logger}
}

func digest(accessToken string) string {
	sum := sha256.Sum256([]byte(accessToken))
	return hex.EncodeToString(sum[:])
}

func (c *redisTokenCache) key(accessToken string) string {
	return c.prefix + "token:" + digest(accessToken)
}

func (c *redisTokenCache) markerKey(accessToken string) string {
	return c.prefix + "revoked:" + digest(accessToken)
}

func (c *redisTokenCache) Get(ctx context.Context, accessToken string) (*domain.TokenInfo, bool) {
	vals, err := c.client.MGet(ctx, c.key(accessToken), c.markerKey(accessToken)).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			c.logger.Warn("token cache read failed", zap.Error(err))
		}
		return nil, false
	}
	if len(vals) != 2 || vals[1] != nil {
		return nil, false
	}
	raw, ok := vals[0].(string)
	if !ok {
		return nil, false
	}
	var info domain.TokenInfo
	if err := json.Unmarshal([]byte(raw), &info); err != nil {
		c.logger.Warn("token cache entry corrupt", zap.Error(err))
		return nil, false
	}
	return &info, true
}

func (c *redisTokenCache) Set(ctx context.Context, accessToken string, info *domain.TokenInfo, ttl time.Duration) {
	millis := ttl.Milliseconds()
	if millis <= 0 {
		return
	}
	raw, err := json.Marshal(info)
	if err != nil {
		c.logger.Warn("token cache encode failed", zap.Error(err))
		return
	}
	keys := []string{c.key(accessToken), c.markerKey(accessToken)}
	if err := setUnlessRevoked.Run(ctx, c.client, keys, string(raw), millis).Err(); err != nil {
		c.logger.Warn("token cache write failed", zap.Error(err))
	}
}

func (c *redisTokenCache) Delete(ctx context.Context, accessTokens ...string) {
	if len(accessTokens) == 0 {
		return
	}
	keys := make([]string, 0, len(accessTokens))
	for _, token := range accessTokens {
		keys = append(keys, c.key(token))
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		c.logger.Warn("token cache eviction failed", zap.Error(err), zap.Int("keys", len(keys)))
	}
}

func (c *redisTokenCache) Invalidate(ctx context.Context, markerTTL time.Duration, accessTokens ...string) error {
	if len(accessTokens) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, token := range accessTokens {
			pipe.Del(ctx, c.key(token))
			if markerTTL > 0 {
				pipe.Set(ctx, c.markerKey(token), "1", markerTTL)
			}
		}
		return nil
	})
	if err != nil {
		c.logger.Warn("token cache invalidation failed", zap.Error(err), zap.Int("tokens", len(accessTokens)))
		return fmt.Errorf("invalidate cached tokens: %w", err)
	}
	return nil
}

type noopTokenCache struct{}

// NewNoopTokenCache returns a cache that never stores anything.
func NewNoopTokenCache() TokenCache {
	return noopTokenCache{}
}

func (noopTokenCache) Get(context.Context, string) (*domain.TokenInfo, bool) { return nil, false }

func (noopTokenCache) Set(context.Context, string, *domain.TokenInfo, time.Duration) {}

func (noopTokenCache) Delete(context.Context, ...string) {}

func (noopTokenCache) Invalidate(context.Context, time.Duration, ...string) error { return nil }
