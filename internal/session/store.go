// Package session persists conversation history per thread and serializes
// access to a thread across concurrent runs.
package session

import (
	"context"
	"errors"
	"time"

	"aiquery/internal/core"
)

// ErrNotFound is returned by stores when a thread has no history yet.
var ErrNotFound = errors.New("conversation not found")

// Store is the persistence port for conversations keyed by thread id.
type Store interface {
	Load(ctx context.Context, threadID string) (core.Conversation, error)
	Save(ctx context.Context, threadID string, conv core.Conversation) error
	Delete(ctx context.Context, threadID string) error
	Ping(ctx context.Context) error
	Close() error
}

// UnlockFunc releases a distributed lock.
type UnlockFunc func(ctx context.Context) error

// DistributedLocker serializes a thread across processes.
type DistributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (UnlockFunc, error)
}
