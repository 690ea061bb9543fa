// Package backend builds the session store selected by configuration.
package backend

import (
	"context"
	"time"

	"aiquery/internal/session"
)

// CleanupFunc represents a cleanup function for resources
type CleanupFunc func() error

// BackendResult contains the session manager and its cleanup function.
type BackendResult struct {
	Sessions *session.Manager
	Store    session.Store
	Cleanup  CleanupFunc
}

// Factory creates session backends based on configuration
type Factory interface {
	CreateBackend(ctx context.Context, config Config) (*BackendResult, error)
}

// Config holds configuration for backend creation
type Config struct {
	Type BackendType

	// SQLite configuration
	SQLiteDBPath string

	// Redis configuration
	RedisURL string
	// SessionTTL expires idle Redis conversations. Zero keeps them.
	SessionTTL time.Duration
	// LockTTL bounds the Redis thread lock and must outlast one run. Zero
	// uses the session manager default.
	LockTTL time.Duration

	// Read cache in front of the store. Size zero disables it.
	CacheSize int
	CacheTTL  time.Duration
}

// BackendType represents the type of session backend
type BackendType string

const (
	MemoryBackend BackendType = "memory"
	SQLiteBackend BackendType = "sqlite"
	RedisBackend  BackendType = "redis"
)

func (bt BackendType) String() string {
	return string(bt)
}

// IsValid checks if the backend type is valid
func (bt BackendType) IsValid() bool {
	switch bt {
	case MemoryBackend, SQLiteBackend, RedisBackend:
		return true
	default:
		return false
	}
}
