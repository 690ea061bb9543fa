package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"aiquery/internal/core"
)

// MemoryStore keeps conversations in process memory. Stored values are
// serialized so callers never share slices with the store.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, threadID string) (core.Conversation, error) {
	s.mu.RLock()
	data, ok := s.items[threadID]
	s.mu.RUnlock()
	if !ok {
		return core.Conversation{}, ErrNotFound
	}

	var conv core.Conversation
	if err := json.Unmarshal(data, &conv); err != nil {
		return core.Conversation{}, fmt.Errorf("decode conversation: %w", err)
	}
	return conv, nil
}

func (s *MemoryStore) Save(_ context.Context, threadID string, conv core.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	s.mu.Lock()
	s.items[threadID] = data
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, threadID string) error {
	s.mu.Lock()
	delete(s.items, threadID)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() error { return nil }
