package rules

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiquery/internal/core"
	"aiquery/internal/engine"
	"aiquery/internal/tools"
)

func humanConv(t *testing.T, prompt, today string, txs ...core.Transaction) core.Conversation {
	t.Helper()
	day, err := time.Parse(core.DateLayout, today)
	require.NoError(t, err)
	turn, err := engine.HumanTurn(prompt, day, txs)
	require.NoError(t, err)
	return core.Conversation{Turns: []core.Turn{turn}}
}

func newEngine(t *testing.T) (*Engine, *tools.Catalog) {
	t.Helper()
	routing := tools.DefaultRouting()
	e, err := New(routing)
	require.NoError(t, err)
	return e, tools.NewCatalog(routing)
}

func TestEngine_RoutesEveryExample(t *testing.T) {
	e, catalog := newEngine(t)
	routing := catalog.Routing()

	for _, ex := range routing.Examples {
		t.Run(ex.Query, func(t *testing.T) {
			d, err := e.Decide(context.Background(), humanConv(t, ex.Query, routing.ExampleDate), catalog)
			require.NoError(t, err)
			require.Equal(t, engine.DecisionToolCalls, d.Kind)
			require.Len(t, d.Calls, 1)

			call := d.Calls[0]
			assert.Equal(t, ex.Tool, call.Name)

			def, ok := catalog.Lookup(ex.Tool)
			require.True(t, ok)
			want, err := tools.DecodeArgs(def, ex.Args)
			require.NoError(t, err)
			got, err := tools.DecodeArgs(def, call.Args)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestEngine_Parse(t *testing.T) {
	e, catalog := newEngine(t)

	tests := []struct {
		name   string
		prompt string
		today  string
		tool   string
		args   map[string]any
	}{
		{
			name:   "last month across a year boundary",
			prompt: "How much did I spend last month?",
			today:  "2025-01-15",
			tool:   tools.DateSum,
			args:   map[string]any{"start_date": "2024-12-01", "end_date": "2024-12-31", "transaction_type": "debit"},
		},
		{
			name:   "single day with ordinal",
			prompt: "Total credit on August 14th 2025",
			today:  "2025-09-07",
			tool:   tools.DateSum,
			args:   map[string]any{"start_date": "2025-08-14", "end_date": "2025-08-14", "transaction_type": "credit"},
		},
		{
			name:   "explicit iso range",
			prompt: "count transactions from 2025-08-01 to 2025-08-15",
			today:  "2025-09-07",
			tool:   tools.DateCount,
			args:   map[string]any{"start_date": "2025-08-01", "end_date": "2025-08-15"},
		},
		{
			name:   "amount with separators",
			prompt: "total debit over 1,500.50 NGN",
			today:  "2025-09-07",
			tool:   tools.DateSum,
			args:   map[string]any{"transaction_type": "debit", "min_amount": 1500.5},
		},
		{
			name:   "reversed between bounds",
			prompt: "number of transactions between 2000 and 500",
			today:  "2025-09-07",
			tool:   tools.AmountCount,
			args:   map[string]any{"min_amount": 500, "max_amount": 2000},
		},
		{
			name:   "both kinds means no type filter",
			prompt: "total of credit and debit transactions",
			today:  "2025-09-07",
			tool:   tools.TypeSum,
			args:   map[string]any{},
		},
		{
			name:   "bare month uses current year",
			prompt: "how many debit transactions in march",
			today:  "2025-09-07",
			tool:   tools.DateCount,
			args:   map[string]any{"start_date": "2025-03-01", "end_date": "2025-03-31", "transaction_type": "debit"},
		},
		{
			name:   "account is not a count intent",
			prompt: "total money into my account",
			today:  "2025-09-07",
			tool:   tools.TypeSum,
			args:   map[string]any{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Decide(context.Background(), humanConv(t, tt.prompt, tt.today), catalog)
			require.NoError(t, err)
			require.Equal(t, engine.DecisionToolCalls, d.Kind, "answer: %s", d.Text)
			require.Len(t, d.Calls, 1)
			assert.Equal(t, tt.tool, d.Calls[0].Name)

			def, _ := catalog.Lookup(tt.tool)
			want, err := tools.DecodeArgs(def, tt.args)
			require.NoError(t, err)
			got, err := tools.DecodeArgs(def, d.Calls[0].Args)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestEngine_DirectAnswers(t *testing.T) {
	e, catalog := newEngine(t)

	tests := []struct {
		name   string
		prompt string
		want   string
	}{
		{"out of scope", "What is the capital of France?", catalog.Routing().Decline},
		{"impossible date", "Total debit on February 30 2025", InvalidDateRange},
		{"future year", "How much did I spend in 2030?", InvalidDateRange},
		{"future iso date", "count transactions on 2026-01-01", InvalidDateRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Decide(context.Background(), humanConv(t, tt.prompt, "2025-09-07"), catalog)
			require.NoError(t, err)
			assert.Equal(t, engine.DecisionAnswer, d.Kind)
			assert.Equal(t, tt.want, d.Text)
		})
	}
}

func TestEngine_Balance(t *testing.T) {
	e, catalog := newEngine(t)
	txs := []core.Transaction{
		{ID: "old", Amount: 100, Kind: core.KindCredit, Currency: core.CurrencyNGN, Balance: 100, Timestamp: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)},
		{ID: "new", Amount: 40, Kind: core.KindDebit, Currency: core.CurrencyNGN, Balance: 60.5, Timestamp: time.Date(2025, 9, 1, 0, 0, 0, 0, time.UTC)},
	}

	d, err := e.Decide(context.Background(), humanConv(t, "What is my current balance?", "2025-09-07", txs...), catalog)
	require.NoError(t, err)
	assert.Equal(t, engine.DecisionAnswer, d.Kind)
	assert.Equal(t, "Your current balance is 60.50 NGN.", d.Text)
}

func TestEngine_NarratesResults(t *testing.T) {
	e, catalog := newEngine(t)

	tests := []struct {
		name   string
		call   core.ToolCall
		result core.ToolResult
		want   string
	}{
		{
			name:   "date sum",
			call:   core.ToolCall{ID: "c1", Name: tools.DateSum, Args: map[string]any{"start_date": "2025-08-01", "end_date": "2025-08-31", "transaction_type": "debit"}},
			result: core.ToolResult{CallID: "c1", Name: tools.DateSum, Content: tools.FormatContent(tools.ReduceSum, 1234.5)},
			want:   "The total debit amount from 2025-08-01 to 2025-08-31 is 1234.50 NGN.",
		},
		{
			name:   "count singular",
			call:   core.ToolCall{ID: "c1", Name: tools.TypeCount, Args: map[string]any{"transaction_type": "credit"}},
			result: core.ToolResult{CallID: "c1", Name: tools.TypeCount, Content: tools.FormatContent(tools.ReduceCount, 1)},
			want:   "You have 1 credit transaction.",
		},
		{
			name:   "amount range count",
			call:   core.ToolCall{ID: "c1", Name: tools.AmountCount, Args: map[string]any{"min_amount": 500, "max_amount": 2000}},
			result: core.ToolResult{CallID: "c1", Name: tools.AmountCount, Content: tools.FormatContent(tools.ReduceCount, 3)},
			want:   "You have 3 transactions with amounts between 500.00 NGN and 2000.00 NGN.",
		},
		{
			name:   "tool error",
			call:   core.ToolCall{ID: "c1", Name: tools.AmountSum, Args: map[string]any{"min_amount": -1}},
			result: core.ToolResult{CallID: "c1", Name: tools.AmountSum, Content: "Error: min_amount must be non-negative", IsError: true},
			want:   "I couldn't complete that request: min_amount must be non-negative.",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conv := humanConv(t, "ignored", "2025-09-07")
			conv.Append(
				core.Turn{Role: core.RoleAssistant, ToolCalls: []core.ToolCall{tt.call}},
				core.Turn{Role: core.RoleTool, Result: &tt.result},
			)

			d, err := e.Decide(context.Background(), conv, catalog)
			require.NoError(t, err)
			assert.Equal(t, engine.DecisionAnswer, d.Kind)
			assert.Equal(t, tt.want, d.Text)
		})
	}
}

func TestEngine_CancelledContext(t *testing.T) {
	e, catalog := newEngine(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.Decide(ctx, humanConv(t, "Total credit amount", "2025-09-07"), catalog)
	assert.ErrorIs(t, err, context.Canceled)
}
