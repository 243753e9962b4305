// Package session persists per-conversation history and the tool
// snapshot between requests, either in process memory or in Redis.
package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mohammad-safakhou/tably/config"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/tools"
)

// ErrNotFound is returned when a session id is unknown or expired.
var ErrNotFound = errors.New("session not found")

// Session is one conversation's durable record.
type Session struct {
	ID        string       `json:"id"`
	Turns     []core.Turn  `json:"turns"`
	State     *tools.State `json:"state"`
	CreatedAt time.Time    `json:"created_at"`
	ExpiresAt time.Time    `json:"expires_at"`
}

// Store persists sessions. Ensure returns the existing session for a
// known id (refreshing its TTL) or creates a fresh one when the id is
// empty or unknown.
type Store interface {
	Ensure(ctx context.Context, id string) (*Session, error)
	Get(ctx context.Context, id string) (*Session, error)
	AppendTurns(ctx context.Context, id string, turns ...core.Turn) error
	SaveState(ctx context.Context, id string, st *tools.State) error
	Delete(ctx context.Context, id string) error
}

// NewStore builds the configured store backend.
func NewStore(cfg config.SessionConfig) (Store, error) {
	ttl := cfg.TTL
	if ttl == 0 {
		ttl = time.Hour
	}
	switch cfg.Store {
	case "", "inmemory":
		return NewInMemoryStore(ttl), nil
	case "redis":
		return NewRedisStore(cfg.Redis, ttl)
	default:
		return nil, fmt.Errorf("unsupported session store: %s", cfg.Store)
	}
}
