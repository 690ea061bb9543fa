// Package storage is the SQLite persistence layer: conversation history for
// the session store and the tool-call audit trail written by the worker.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"aiquery/internal/core"
	"aiquery/internal/session"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

// NewSQLiteRepository opens (creating if needed) the database at dbPath and
// applies pending migrations.
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	dsn := dataSource(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dsn); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func dataSource(dbPath string) string {
	if strings.Contains(dbPath, "?") {
		return dbPath
	}
	return dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Load implements session.Store.
func (r *SQLiteRepository) Load(ctx context.Context, threadID string) (core.Conversation, error) {
	raw, err := r.queries.GetConversation(ctx, threadID)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Conversation{}, session.ErrNotFound
	}
	if err != nil {
		return core.Conversation{}, fmt.Errorf("get conversation: %w", err)
	}

	var conv core.Conversation
	if err := json.Unmarshal([]byte(raw), &conv); err != nil {
		return core.Conversation{}, fmt.Errorf("decode conversation %s: %w", threadID, err)
	}
	return conv, nil
}

// Save implements session.Store. Saving the same conversation twice leaves a
// single row.
func (r *SQLiteRepository) Save(ctx context.Context, threadID string, conv core.Conversation) error {
	data, err := json.Marshal(conv)
	if err != nil {
		return fmt.Errorf("encode conversation: %w", err)
	}
	err = r.queries.UpsertConversation(ctx, UpsertConversationParams{
		ThreadID:  threadID,
		Turns:     string(data),
		TurnCount: int64(conv.Len()),
		UpdatedAt: r.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("save conversation: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) Delete(ctx context.Context, threadID string) error {
	if err := r.queries.DeleteConversation(ctx, threadID); err != nil {
		return fmt.Errorf("delete conversation: %w", err)
	}
	return nil
}

// Threads lists stored thread ids, most recently updated first.
func (r *SQLiteRepository) Threads(ctx context.Context) ([]string, error) {
	ids, err := r.queries.ListThreads(ctx)
	if err != nil {
		return nil, fmt.Errorf("list threads: %w", err)
	}
	return ids, nil
}

// AuditCall is one executed tool call of a run.
type AuditCall struct {
	CallID   string
	Tool     string
	Args     map[string]any
	Result   string
	IsError  bool
	Round    int
	Duration time.Duration
}

// AuditRun is the audit record of one completed orchestration run.
type AuditRun struct {
	RunID       string
	ThreadID    string
	Status      string
	Rounds      int
	Duration    time.Duration
	CompletedAt time.Time
	Calls       []AuditCall
}

// RecordRun writes a run and its tool calls in one transaction. It reports
// false when the run was already recorded, so redelivered events are no-ops.
func (r *SQLiteRepository) RecordRun(ctx context.Context, run AuditRun) (bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	q := r.queries.WithTx(tx)
	inserted, err := q.InsertRun(ctx, InsertRunParams{
		RunID:       run.RunID,
		ThreadID:    run.ThreadID,
		Status:      run.Status,
		Rounds:      int64(run.Rounds),
		DurationMs:  run.Duration.Milliseconds(),
		CompletedAt: run.CompletedAt.UTC(),
	})
	if err != nil {
		return false, fmt.Errorf("insert run %s: %w", run.RunID, err)
	}
	if !inserted {
		return false, nil
	}

	for _, c := range run.Calls {
		args, err := json.Marshal(c.Args)
		if err != nil {
			return false, fmt.Errorf("encode args for call %s: %w", c.CallID, err)
		}
		if c.Args == nil {
			args = []byte("{}")
		}
		err = q.InsertToolCall(ctx, InsertToolCallParams{
			RunID:      run.RunID,
			CallID:     c.CallID,
			ThreadID:   run.ThreadID,
			Tool:       c.Tool,
			Args:       string(args),
			Result:     c.Result,
			IsError:    c.IsError,
			Round:      int64(c.Round),
			DurationMs: c.Duration.Milliseconds(),
		})
		if err != nil {
			return false, fmt.Errorf("insert call %s: %w", c.CallID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit: %w", err)
	}
	return true, nil
}

// RunsForThread returns the audited runs of a thread in completion order,
// each with its tool calls.
func (r *SQLiteRepository) RunsForThread(ctx context.Context, threadID string) ([]AuditRun, error) {
	rows, err := r.queries.ListRunsByThread(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}

	runs := make([]AuditRun, 0, len(rows))
	for _, row := range rows {
		calls, err := r.queries.ListToolCallsByRun(ctx, row.RunID)
		if err != nil {
			return nil, fmt.Errorf("list calls for run %s: %w", row.RunID, err)
		}
		run := AuditRun{
			RunID:       row.RunID,
			ThreadID:    row.ThreadID,
			Status:      row.Status,
			Rounds:      int(row.Rounds),
			Duration:    time.Duration(row.DurationMs) * time.Millisecond,
			CompletedAt: row.CompletedAt,
		}
		for _, c := range calls {
			var args map[string]any
			if err := json.Unmarshal([]byte(c.Args), &args); err != nil {
				return nil, fmt.Errorf("decode args for call %s: %w", c.CallID, err)
			}
			run.Calls = append(run.Calls, AuditCall{
				CallID:   c.CallID,
				Tool:     c.Tool,
				Args:     args,
				Result:   c.Result,
				IsError:  c.IsError,
				Round:    int(c.Round),
				Duration: time.Duration(c.DurationMs) * time.Millisecond,
			})
		}
		runs = append(runs, run)
	}
	return runs, nil
}

var _ session.Store = (*SQLiteRepository)(nil)
