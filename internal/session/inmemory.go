package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/tably/internal/agent/core"
	"github.com/mohammad-safakhou/tably/internal/tools"
)

// InMemoryStore keeps sessions in a process-local map. Expired entries
// linger until Sweep runs or they are touched.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

func NewInMemoryStore(ttl time.Duration) *InMemoryStore {
	return &InMemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

func (s *InMemoryStore) Ensure(_ context.Context, id string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	if id != "" {
		if sess, ok := s.sessions[id]; ok && sess.ExpiresAt.After(now) {
			sess.ExpiresAt = now.Add(s.ttl)
			return sess.clone(), nil
		}
	}
	sess := &Session{
		ID:        uuid.NewString(),
		State:     &tools.State{},
		CreatedAt: now,
		ExpiresAt: now.Add(s.ttl),
	}
	s.sessions[sess.ID] = sess
	return sess.clone(), nil
}

func (s *InMemoryStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(s.now()) {
		return nil, ErrNotFound
	}
	return sess.clone(), nil
}

func (s *InMemoryStore) AppendTurns(_ context.Context, id string, turns ...core.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(s.now()) {
		return ErrNotFound
	}
	sess.Turns = append(sess.Turns, turns...)
	sess.ExpiresAt = s.now().Add(s.ttl)
	return nil
}

func (s *InMemoryStore) SaveState(_ context.Context, id string, st *tools.State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok || !sess.ExpiresAt.After(s.now()) {
		return ErrNotFound
	}
	sess.State = st
	return nil
}

func (s *InMemoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// Sweep drops expired sessions and reports how many were removed.
func (s *InMemoryStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	var removed int
	for id, sess := range s.sessions {
		if !sess.ExpiresAt.After(now) {
			delete(s.sessions, id)
			removed++
		}
	}
	return removed
}

// clone hands callers their own copy so concurrent readers never share
// slices with the stored record.
func (sess *Session) clone() *Session {
	cp := *sess
	cp.Turns = append([]core.Turn(nil), sess.Turns...)
	return &cp
}
