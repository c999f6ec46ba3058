package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"accountd/core"

	"github.com/redis/go-redis/v9"
)

type RedisSessionStore struct {
	client *redis.Client
	prefix string
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{
		client: client,
		prefix: "session:",
	}
}

func (r *RedisSessionStore) key(id string) string {
	return r.prefix + id
}

func (r *RedisSessionStore) Get(ctx context.Context, id string) (*core.Session, error) {
	data, err := r.client.Get(ctx, r.key(id)).Bytes()
	if err == redis.Nil {
		return nil, core.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var session core.Session
	if err := json.Unmarshal(data, &session); err != nil {
		return nil, fmt.Errorf("session: failed to unmarshal: %w", err)
	}
	return &session, nil
}

// Save stores the session until its expiry. Already expired sessions are removed.
func (r *RedisSessionStore) Save(ctx context.Context, session *core.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session: missing id")
	}

	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return r.client.Del(ctx, r.key(session.ID)).Err()
	}

	data, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("session: failed to marshal: %w", err)
	}

	return r.client.Set(ctx, r.key(session.ID), data, ttl).Err()
}

func (r *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return r.client.Del(ctx, r.key(id)).Err()
}

// MemorySessionStore keeps sessions in process memory. Suitable for tests and
// single instance deployments.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]core.Session
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]core.Session),
		now:      time.Now,
	}
}

func (m *MemorySessionStore) Get(ctx context.Context, id string) (*core.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, ok := m.sessions[id]
	if !ok {
		return nil, core.ErrNotFound
	}
	if !m.now().Before(session.ExpiresAt) {
		delete(m.sessions, id)
		return nil, core.ErrNotFound
	}
	return copySession(session), nil
}

func (m *MemorySessionStore) Save(ctx context.Context, session *core.Session) error {
	if session.ID == "" {
		return fmt.Errorf("session: missing id")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[session.ID] = *copySession(*session)
	return nil
}

func (m *MemorySessionStore) Delete(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	return nil
}

func copySession(session core.Session) *core.Session {
	if session.Flash != nil {
		flash := make(map[string][]string, len(session.Flash))
		for kind, messages := range session.Flash {
			flash[kind] = append([]string(nil), messages...)
		}
		session.Flash = flash
	}
	return &session
}
