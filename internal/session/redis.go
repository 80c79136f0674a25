package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/noah-isme/course-portal-api/pkg/cache"
)

// RedisStore persists the session as two JSON values under
// "<prefix>:user" and "<prefix>:tokens".
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

// NewRedisStore builds a store. A zero ttl keeps keys without expiry.
func NewRedisStore(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl, logger: logger}
}

func (r *RedisStore) userKey() string   { return cache.Key(r.prefix, UserKey) }
func (r *RedisStore) tokensKey() string { return cache.Key(r.prefix, TokensKey) }

// Set writes both keys in one MULTI block.
func (r *RedisStore) Set(ctx context.Context, s Session) error {
	user, err := json.Marshal(s.User)
	if err != nil {
		return fmt.Errorf("marshal session user: %w", err)
	}
	tokens, err := json.Marshal(s.Tokens)
	if err != nil {
		return fmt.Errorf("marshal session tokens: %w", err)
	}

	_, err = r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, r.userKey(), user, r.ttl)
		pipe.Set(ctx, r.tokensKey(), tokens, r.ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

func (r *RedisStore) Clear(ctx context.Context) error {
	if err := r.client.Del(ctx, r.userKey(), r.tokensKey()).Err(); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

// Current returns the stored session. A half-written or undecodable session
// is cleared and reported as absent.
func (r *RedisStore) Current(ctx context.Context) (Session, bool, error) {
	values, err := r.client.MGet(ctx, r.userKey(), r.tokensKey()).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Session{}, false, fmt.Errorf("load session: %w", err)
	}
	if len(values) != 2 {
		return Session{}, false, nil
	}
	if values[0] == nil || values[1] == nil {
		if values[0] != nil || values[1] != nil {
			r.discard(ctx, "partial session")
		}
		return Session{}, false, nil
	}

	var s Session
	userRaw, _ := values[0].(string)
	tokensRaw, _ := values[1].(string)
	if err := json.Unmarshal([]byte(userRaw), &s.User); err != nil {
		r.discard(ctx, "undecodable session user")
		return Session{}, false, nil
	}
	if err := json.Unmarshal([]byte(tokensRaw), &s.Tokens); err != nil {
		r.discard(ctx, "undecodable session tokens")
		return Session{}, false, nil
	}
	return s, true, nil
}

func (r *RedisStore) discard(ctx context.Context, reason string) {
	r.logger.Warn("discarding stored session", zap.String("reason", reason), zap.String("prefix", r.prefix))
	if err := r.Clear(ctx); err != nil {
		r.logger.Warn("clear session failed", zap.Error(err))
	}
}
