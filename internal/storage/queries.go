package storage

import (
	"context"
	"database/sql"
	"time"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx.
type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

const getConversation = `SELECT turns FROM conversations WHERE thread_id = ?`

func (q *Queries) GetConversation(ctx context.Context, threadID string) (string, error) {
	var turns string
	err := q.db.QueryRowContext(ctx, getConversation, threadID).Scan(&turns)
	return turns, err
}

const upsertConversation = `
INSERT INTO conversations (thread_id, turns, turn_count, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT(thread_id) DO UPDATE SET
    turns = excluded.turns,
    turn_count = excluded.turn_count,
    updated_at = excluded.updated_at`

type UpsertConversationParams struct {
	ThreadID  string
	Turns     string
	TurnCount int64
	UpdatedAt time.Time
}

func (q *Queries) UpsertConversation(ctx context.Context, arg UpsertConversationParams) error {
	_, err := q.db.ExecContext(ctx, upsertConversation, arg.ThreadID, arg.Turns, arg.TurnCount, arg.UpdatedAt)
	return err
}

const deleteConversation = `DELETE FROM conversations WHERE thread_id = ?`

func (q *Queries) DeleteConversation(ctx context.Context, threadID string) error {
	_, err := q.db.ExecContext(ctx, deleteConversation, threadID)
	return err
}

const listThreads = `SELECT thread_id FROM conversations ORDER BY updated_at DESC, thread_id`

func (q *Queries) ListThreads(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listThreads)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		items = append(items, id)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const insertRun = `
INSERT OR IGNORE INTO conversation_runs (run_id, thread_id, status, rounds, duration_ms, completed_at)
VALUES (?, ?, ?, ?, ?, ?)`

type InsertRunParams struct {
	RunID       string
	ThreadID    string
	Status      string
	Rounds      int64
	DurationMs  int64
	CompletedAt time.Time
}

// InsertRun reports whether a new row was written. Redelivered runs are ignored.
func (q *Queries) InsertRun(ctx context.Context, arg InsertRunParams) (bool, error) {
	res, err := q.db.ExecContext(ctx, insertRun,
		arg.RunID, arg.ThreadID, arg.Status, arg.Rounds, arg.DurationMs, arg.CompletedAt)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

const insertToolCall = `
INSERT OR IGNORE INTO tool_audit (run_id, call_id, thread_id, tool, args, result, is_error, round, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

type InsertToolCallParams struct {
	RunID      string
	CallID     string
	ThreadID   string
	Tool       string
	Args       string
	Result     string
	IsError    bool
	Round      int64
	DurationMs int64
}

func (q *Queries) InsertToolCall(ctx context.Context, arg InsertToolCallParams) error {
	_, err := q.db.ExecContext(ctx, insertToolCall,
		arg.RunID, arg.CallID, arg.ThreadID, arg.Tool, arg.Args, arg.Result,
		arg.IsError, arg.Round, arg.DurationMs)
	return err
}

const listRunsByThread = `
SELECT run_id, thread_id, status, rounds, duration_ms, completed_at
FROM conversation_runs
WHERE thread_id = ?
ORDER BY completed_at, run_id`

type ConversationRun struct {
	RunID       string
	ThreadID    string
	Status      string
	Rounds      int64
	DurationMs  int64
	CompletedAt time.Time
}

func (q *Queries) ListRunsByThread(ctx context.Context, threadID string) ([]ConversationRun, error) {
	rows, err := q.db.QueryContext(ctx, listRunsByThread, threadID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ConversationRun
	for rows.Next() {
		var i ConversationRun
		if err := rows.Scan(&i.RunID, &i.ThreadID, &i.Status, &i.Rounds, &i.DurationMs, &i.CompletedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const listToolCallsByRun = `
SELECT run_id, call_id, thread_id, tool, args, result, is_error, round, duration_ms
FROM tool_audit
WHERE run_id = ?
ORDER BY id`

type ToolAudit struct {
	RunID      string
	CallID     string
	ThreadID   string
	Tool       string
	Args       string
	Result     string
	IsError    bool
	Round      int64
	DurationMs int64
}

func (q *Queries) ListToolCallsByRun(ctx context.Context, runID string) ([]ToolAudit, error) {
	rows, err := q.db.QueryContext(ctx, listToolCallsByRun, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ToolAudit
	for rows.Next() {
		var i ToolAudit
		if err := rows.Scan(&i.RunID, &i.CallID, &i.ThreadID, &i.Tool, &i.Args, &i.Result,
			&i.IsError, &i.Round, &i.DurationMs); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
