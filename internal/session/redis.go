package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/tably/config"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/tools"
	"github.com/redis/go-redis/v9"
)

// RedisStore keeps each session as one JSON value under a TTL'd key, so
// expiry is handled by Redis itself.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisStore(cfg config.RedisConfig, ttl time.Duration) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisStore{client: client, ttl: ttl}, nil
}

func sessionKey(id string) string { return "tably:session:" + id }

func (s *RedisStore) load(ctx context.Context, id string) (*Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get: %w", err)
	}
	var sess Session
	if err := json.Unmarshal(raw, &sess); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &sess, nil
}

func (s *RedisStore) save(ctx context.Context, sess *Session) error {
	raw, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encode session %s: %w", sess.ID, err)
	}
	if err := s.client.Set(ctx, sessionKey(sess.ID), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisStore) Ensure(ctx context.Context, id string) (*Session, error) {
	if id != "" {
		sess, err := s.load(ctx, id)
		if err == nil {
			if err := s.client.Expire(ctx, sessionKey(id), s.ttl).Err(); err != nil {
				return nil, fmt.Errorf("redis expire: %w", err)
			}
			return sess, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return nil, err
		}
	}
	now := time.Now()
	sess := &Session{
		ID:        uuid.NewString(),
		State:     &tools.State{},
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	if err := s.save(ctx, sess); err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*Session, error) {
	return s.load(ctx, id)
}

func (s *RedisStore) AppendTurns(ctx context.Context, id string, turns ...core.Turn) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sess.Turns = append(sess.Turns, turns...)
	sess.ExpiresAt = time.Now().Add(s.ttl)
	return s.save(ctx, sess)
}

func (s *RedisStore) SaveState(ctx context.Context, id string, st *tools.State) error {
	sess, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	sess.State = st
	return s.save(ctx, sess)
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, sessionKey(id)).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (s *RedisStore) Close() error { return s.client.Close() }
