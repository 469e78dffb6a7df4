// Package redisstore keeps refresh-token records in Redis so that every API
// replica sees the same single-use state.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"kampus.org/internal/auth"
	"kampus.org/internal/errs"
)

// Config describes the Redis connection.
type Config struct {
	URL        string `yaml:"url"`
	Password   string `yaml:"password"`
	DB         int    `yaml:"db"`
	PoolSize   int    `yaml:"pool_size"`
	MaxRetries int    `yaml:"max_retries"`
}

// RefreshStore implements auth.RefreshStore on Redis. Each record lives under
// refresh:<id> with a TTL equal to its remaining lifetime, and the ids of a
// user are indexed in the set refresh:user:<uid>.
type RefreshStore struct {
	client *redis.Client
	now    func() time.Time
}

var _ auth.RefreshStore = (*RefreshStore)(nil)

// Dial parses the URL, applies overrides and pings the server.
func Dial(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}
	if cfg.DB > 0 {
		opts.DB = cfg.DB
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.MaxRetries > 0 {
		opts.MaxRetries = cfg.MaxRetries
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, errs.Unavailable(fmt.Errorf("connect redis: %w", err))
	}
	return client, nil
}

// NewRefreshStore wraps a connected client.
func NewRefreshStore(client *redis.Client) *RefreshStore {
	return &RefreshStore{client: client, now: time.Now}
}

func tokenKey(id string) string     { return "refresh:" + id }
func userKey(userID string) string { return "refresh:user:" + userID }

func (s *RefreshStore) Save(ctx context.Context, tok auth.RefreshToken) error {
	ttl := tok.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errs.Validation("refresh token already expired")
	}
	data, err := json.Marshal(tok)
	if err != nil {
		return fmt.Errorf("marshal refresh token: %w", err)
	}
	ok, err := s.client.SetNX(ctx, tokenKey(tok.ID), data, ttl).Result()
	if err != nil {
		return errs.Unavailable(err)
	}
	if !ok {
		return fmt.Errorf("%w: refresh token %s", errs.ErrConflict, tok.ID)
	}
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, userKey(tok.UserID), tok.ID)
		pipe.ExpireAt(ctx, userKey(tok.UserID), tok.ExpiresAt)
		return nil
	})
	if err != nil {
		return errs.Unavailable(err)
	}
	return nil
}

// Consume uses GETDEL so two concurrent refreshes cannot both succeed.
func (s *RefreshStore) Consume(ctx context.Context, id string) (auth.RefreshToken, error) {
	data, err := s.client.GetDel(ctx, tokenKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return auth.RefreshToken{}, fmt.Errorf("%w: refresh token", errs.ErrNotFound)
	}
	if err != nil {
		return auth.RefreshToken{}, errs.Unavailable(err)
	}
	var tok auth.RefreshToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return auth.RefreshToken{}, fmt.Errorf("%w: corrupt refresh token", errs.ErrNotFound)
	}
	s.client.SRem(ctx, userKey(tok.UserID), id)
	return tok, nil
}

func (s *RefreshStore) RevokeAll(ctx context.Context, userID string) (int, error) {
	members, err := s.client.SMembers(ctx, userKey(userID)).Result()
	if err != nil {
		return 0, errs.Unavailable(err)
	}
	if len(members) == 0 {
		return 0, nil
	}
	keys := make([]string, len(members))
	for i, id := range members {
		keys[i] = tokenKey(id)
	}
	var deleted *redis.IntCmd
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		deleted = pipe.Del(ctx, keys...)
		pipe.Del(ctx, userKey(userID))
		return nil
	})
	if err != nil {
		return 0, errs.Unavailable(err)
	}
	return int(deleted.Val()), nil
}
