package store

import (
	"context"
	"fmt"
	"time"

	"github.com/harun/concierge/pkg/conversation"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultMemoryCapacity bounds the in-memory backend.
const DefaultMemoryCapacity = 10000

// MemoryStore keeps sessions in a bounded LRU. Least recently used sessions
// are evicted once capacity is reached; nothing survives a restart.
type MemoryStore struct {
	cache *lru.Cache[string, conversation.Session]
}

// NewMemoryStore creates a memory backend holding at most capacity sessions.
func NewMemoryStore(capacity int) (*MemoryStore, error) {
	if capacity <= 0 {
		capacity = DefaultMemoryCapacity
	}
	cache, err := lru.New[string, conversation.Session](capacity)
	if err != nil {
		return nil, fmt.Errorf("create lru cache: %w", err)
	}
	return &MemoryStore{cache: cache}, nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (conversation.Session, error) {
	if err := validateSessionID(id); err != nil {
		return conversation.Session{}, err
	}
	session, ok := s.cache.Get(id)
	if !ok {
		return conversation.Session{}, nil
	}
	return session.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, id string, session conversation.Session) error {
	if err := validateSessionID(id); err != nil {
		return err
	}
	s.cache.Add(id, session.Clone())
	return nil
}

func (s *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int, error) {
	removed := 0
	for _, id := range s.cache.Keys() {
		session, ok := s.cache.Peek(id)
		if ok && session.UpdatedAt.Before(cutoff) {
			s.cache.Remove(id)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of cached sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

func (s *MemoryStore) Close() error {
	s.cache.Purge()
	return nil
}
