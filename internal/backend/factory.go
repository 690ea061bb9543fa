package backend

import (
	"context"
	"errors"
	"fmt"

	"aiquery/internal/cache"
	"aiquery/internal/core"
	"aiquery/internal/log"
	"aiquery/internal/session"
	"aiquery/internal/storage"
)

// DefaultFactory implements the Factory interface
type DefaultFactory struct {
	logger *log.Logger
	caches *cache.Manager
}

// FactoryOption configures a DefaultFactory.
type FactoryOption func(*DefaultFactory)

// WithCacheManager registers created read caches for periodic cleanup.
func WithCacheManager(m *cache.Manager) FactoryOption {
	return func(f *DefaultFactory) { f.caches = m }
}

// NewFactory creates a new backend factory
func NewFactory(logger *log.Logger, opts ...FactoryOption) Factory {
	if logger == nil {
		logger = log.Discard()
	}
	f := &DefaultFactory{logger: logger.WithComponent(log.ComponentBackend)}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// CreateBackend implements Factory.CreateBackend
func (f *DefaultFactory) CreateBackend(ctx context.Context, config Config) (*BackendResult, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	var (
		result *BackendResult
		err    error
	)
	switch config.Type {
	case SQLiteBackend:
		result, err = f.createSQLiteBackend(config)
	case RedisBackend:
		result, err = f.createRedisBackend(ctx, config)
	case MemoryBackend:
		result, err = f.createMemoryBackend()
	default:
		return nil, fmt.Errorf("unsupported backend type: %s", config.Type)
	}
	if err != nil {
		return nil, err
	}

	// Redis is shared by every instance, so a local read cache could serve
	// turns written elsewhere.
	if config.CacheSize > 0 && config.Type != RedisBackend {
		c := cache.NewLRUCache[core.Conversation](config.CacheSize, config.CacheTTL)
		if f.caches != nil {
			f.caches.Register(c)
		}
		result.Sessions = session.NewManager(result.Store,
			session.WithCache(c), session.WithLogger(f.logger))
	}

	return result, nil
}

func (f *DefaultFactory) createSQLiteBackend(config Config) (*BackendResult, error) {
	repo, err := storage.NewSQLiteRepository(config.SQLiteDBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize SQLite repository: %w", err)
	}

	f.logger.Info("Initialized SQLite session backend", "db_path", config.SQLiteDBPath)

	return &BackendResult{
		Sessions: session.NewManager(repo, session.WithLogger(f.logger)),
		Store:    repo,
		Cleanup:  repo.Close,
	}, nil
}

func (f *DefaultFactory) createRedisBackend(ctx context.Context, config Config) (*BackendResult, error) {
	client, err := session.NewRedisClient(config.RedisURL)
	if err != nil {
		return nil, err
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, errors.Join(fmt.Errorf("failed to connect to Redis: %w", err), client.Close())
	}

	store := session.NewRedisStore(client, session.WithTTL(config.SessionTTL))
	locker := session.NewRedisLocker(client, "aiquery:")

	f.logger.Info("Initialized Redis session backend",
		"session_ttl", config.SessionTTL.String(),
		"lock_ttl", config.LockTTL.String())

	return &BackendResult{
		Sessions: session.NewManager(store,
			session.WithLocker(locker, config.LockTTL), session.WithLogger(f.logger)),
		Store:   store,
		Cleanup: store.Close,
	}, nil
}

func (f *DefaultFactory) createMemoryBackend() (*BackendResult, error) {
	store := session.NewMemoryStore()

	f.logger.Info("Initialized memory session backend")

	return &BackendResult{
		Sessions: session.NewManager(store, session.WithLogger(f.logger)),
		Store:    store,
		Cleanup:  store.Close,
	}, nil
}
