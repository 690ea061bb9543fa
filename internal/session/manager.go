package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"aiquery/internal/cache"
	"aiquery/internal/core"
	"aiquery/internal/log"
)

// lockEntry holds the mutex and the reference count.
type lockEntry struct {
	mu   sync.Mutex
	refs int
}

// Manager serializes access to each thread and fronts the store with an
// optional read cache. Locks are reference counted and dropped when unused.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*lockEntry

	locker  DistributedLocker
	lockTTL time.Duration
	cache   *cache.LRUCache[core.Conversation]
	logger  *log.Logger
}

// Option configures the Manager.
type Option func(*Manager)

// WithLocker enables distributed locking across processes.
func WithLocker(locker DistributedLocker, ttl time.Duration) Option {
	return func(m *Manager) {
		m.locker = locker
		if ttl > 0 {
			m.lockTTL = ttl
		}
	}
}

// WithCache puts an LRU read cache in front of the store.
func WithCache(c *cache.LRUCache[core.Conversation]) Option {
	return func(m *Manager) {
		m.cache = c
	}
}

// WithLogger configures a logger for the Manager.
func WithLogger(logger *log.Logger) Option {
	return func(m *Manager) {
		m.logger = logger.WithComponent(log.ComponentSession)
	}
}

// NewManager creates a Manager over store.
func NewManager(store Store, opts ...Option) *Manager {
	m := &Manager{
		store:   store,
		locks:   make(map[string]*lockEntry),
		lockTTL: 2 * time.Minute,
		logger:  log.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// acquire gets or creates a lock entry and increments its reference count.
func (m *Manager) acquire(threadID string) *lockEntry {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[threadID]
	if !exists {
		entry = &lockEntry{}
		m.locks[threadID] = entry
	}
	entry.refs++
	return entry
}

// release decrements the reference count and deletes the entry at zero.
func (m *Manager) release(threadID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.locks[threadID]
	if !exists {
		return
	}
	entry.refs--
	if entry.refs <= 0 {
		delete(m.locks, threadID)
	}
}

// activeLocks reports how many threads currently hold or wait on a lock.
func (m *Manager) activeLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

// WithLock runs fn while holding the lock for threadID.
func (m *Manager) WithLock(ctx context.Context, threadID string, fn func(context.Context) error) error {
	entry := m.acquire(threadID)
	defer m.release(threadID)

	// Wait for the local mutex without ignoring cancellation.
	locked := make(chan struct{})
	go func() {
		entry.mu.Lock()
		close(locked)
	}()
	select {
	case <-locked:
	case <-ctx.Done():
		go func() {
			<-locked
			entry.mu.Unlock()
		}()
		return ctx.Err()
	}
	defer entry.mu.Unlock()

	if m.locker != nil {
		unlock, err := m.locker.Lock(ctx, threadID, m.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}
		defer func() {
			if err := unlock(context.WithoutCancel(ctx)); err != nil {
				m.logger.Warn("Failed to release distributed lock (will expire via TTL)",
					log.FieldThreadID, threadID,
					log.FieldError, err,
				)
			}
		}()
	}

	return fn(ctx)
}

// Load returns the conversation for threadID, or an empty one for a new thread.
// Callers that need a consistent read-modify-write must hold WithLock.
func (m *Manager) Load(ctx context.Context, threadID string) (core.Conversation, error) {
	if m.cache != nil {
		if conv, ok := m.cache.Get(threadID); ok {
			return conv.Clone(), nil
		}
	}

	conv, err := m.store.Load(ctx, threadID)
	if errors.Is(err, ErrNotFound) {
		return core.Conversation{}, nil
	}
	if err != nil {
		return core.Conversation{}, err
	}

	if m.cache != nil {
		m.cache.Set(threadID, conv.Clone())
	}
	return conv, nil
}

// Save persists conv for threadID. The cache is only updated after the
// store accepted the write.
func (m *Manager) Save(ctx context.Context, threadID string, conv core.Conversation) error {
	if err := m.store.Save(ctx, threadID, conv); err != nil {
		if m.cache != nil {
			m.cache.Delete(threadID)
		}
		return err
	}
	if m.cache != nil {
		stored := conv.Clone()
		stored.System = ""
		m.cache.Set(threadID, stored)
	}
	return nil
}

// Delete removes the thread from the store and cache.
func (m *Manager) Delete(ctx context.Context, threadID string) error {
	return m.WithLock(ctx, threadID, func(ctx context.Context) error {
		if m.cache != nil {
			m.cache.Delete(threadID)
		}
		return m.store.Delete(ctx, threadID)
	})
}

// Ping checks the underlying store.
func (m *Manager) Ping(ctx context.Context) error {
	return m.store.Ping(ctx)
}

// Store returns the underlying store.
func (m *Manager) Store() Store {
	return m.store
}
