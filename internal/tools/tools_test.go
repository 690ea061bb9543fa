package tools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiquery/internal/aggregate"
	"aiquery/internal/core"
)

func sampleTransactions() []core.Transaction {
	at := func(s string) time.Time {
		t, _ := time.Parse(time.RFC3339, s)
		return t
	}
	return []core.Transaction{
		{ID: "1", Amount: 100, Kind: core.KindDebit, Timestamp: at("2025-08-02T10:00:00Z")},
		{ID: "2", Amount: 500, Kind: core.KindCredit, Timestamp: at("2025-08-10T10:00:00Z")},
		{ID: "3", Amount: 1500, Kind: core.KindDebit, Timestamp: at("2025-08-20T10:00:00Z")},
		{ID: "4", Amount: 2000, Kind: core.KindDebit, Timestamp: at("2025-09-01T10:00:00Z")},
		{ID: "5", Amount: 2500, Kind: core.KindCredit, Timestamp: at("2025-09-03T10:00:00Z")},
	}
}

func TestCatalogDefinitions(t *testing.T) {
	c := NewCatalog(DefaultRouting())

	names := make([]string, 0, 6)
	for _, d := range c.Definitions() {
		names = append(names, d.Name)
		schema := d.Schema()
		assert.Equal(t, "object", schema["type"])
		_, hasRequired := schema["required"]
		assert.False(t, hasRequired, "%s: every parameter is optional", d.Name)
	}
	assert.Equal(t, []string{DateSum, DateCount, TypeSum, TypeCount, AmountSum, AmountCount}, names)

	def, ok := c.Lookup(TypeSum)
	require.True(t, ok)
	props := def.Schema()["properties"].(map[string]any)
	kindProp := props[ParamKind].(map[string]any)
	assert.Equal(t, []string{"credit", "debit"}, kindProp["enum"])
}

func TestExecute(t *testing.T) {
	c := NewCatalog(DefaultRouting())
	txs := sampleTransactions()
	ctx := context.Background()

	tests := []struct {
		name    string
		call    core.ToolCall
		want    float64
		content string
	}{
		{"date sum august debit", core.ToolCall{ID: "c1", Name: DateSum, Args: map[string]any{"start_date": "2025-08-01", "end_date": "2025-08-31", "transaction_type": "debit"}}, 1600, `{"result":1600,"formatted":"1600.00 NGN"}`},
		{"date count single day", core.ToolCall{ID: "c2", Name: DateCount, Args: map[string]any{"start_date": "2025-09-01"}}, 1, `{"result":1}`},
		{"type sum no args", core.ToolCall{ID: "c3", Name: TypeSum}, 6600, `{"result":6600,"formatted":"6600.00 NGN"}`},
		{"type count credit", core.ToolCall{ID: "c4", Name: TypeCount, Args: map[string]any{"transaction_type": "credit"}}, 2, `{"result":2}`},
		{"amount sum string bound", core.ToolCall{ID: "c5", Name: AmountSum, Args: map[string]any{"min_amount": "1,000"}}, 6000, `{"result":6000,"formatted":"6000.00 NGN"}`},
		{"amount count null bound ignored", core.ToolCall{ID: "c6", Name: AmountCount, Args: map[string]any{"min_amount": nil, "max_amount": 500.0}}, 2, `{"result":2}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := c.Execute(ctx, tt.call, txs)
			require.NoError(t, res.Err)
			assert.Equal(t, tt.want, res.Value)

			tr := res.ToolResult()
			assert.Equal(t, tt.call.ID, tr.CallID)
			assert.Equal(t, tt.call.Name, tr.Name)
			assert.False(t, tr.IsError)
			assert.JSONEq(t, tt.content, tr.Content)

			v, ok := ParseContent(tr.Content)
			assert.True(t, ok)
			assert.Equal(t, tt.want, v)
		})
	}
}

func TestExecuteFailuresBecomeToolResults(t *testing.T) {
	c := NewCatalog(DefaultRouting())
	txs := sampleTransactions()
	ctx := context.Background()

	t.Run("negative bound", func(t *testing.T) {
		res := c.Execute(ctx, core.ToolCall{ID: "x", Name: AmountSum, Args: map[string]any{"min_amount": -10.0}}, txs)
		var re *aggregate.RangeError
		require.ErrorAs(t, res.Err, &re)
		tr := res.ToolResult()
		assert.True(t, tr.IsError)
		assert.Equal(t, "Error: min_amount must be non-negative", tr.Content)
	})

	t.Run("malformed date", func(t *testing.T) {
		res := c.Execute(ctx, core.ToolCall{ID: "x", Name: DateCount, Args: map[string]any{"start_date": "2025-13-40"}}, txs)
		var fe *aggregate.FormatError
		require.ErrorAs(t, res.Err, &fe)
		assert.Equal(t, "start_date", fe.Param)
	})

	t.Run("non numeric bound", func(t *testing.T) {
		res := c.Execute(ctx, core.ToolCall{ID: "x", Name: AmountCount, Args: map[string]any{"max_amount": "a lot"}}, txs)
		var fe *aggregate.FormatError
		require.ErrorAs(t, res.Err, &fe)
		assert.Equal(t, "max_amount", fe.Param)
	})

	t.Run("date given as number", func(t *testing.T) {
		res := c.Execute(ctx, core.ToolCall{ID: "x", Name: DateSum, Args: map[string]any{"start_date": 20250801.0}}, txs)
		var fe *aggregate.FormatError
		require.ErrorAs(t, res.Err, &fe)
	})

	t.Run("parameter of another tool", func(t *testing.T) {
		res := c.Execute(ctx, core.ToolCall{ID: "x", Name: TypeSum, Args: map[string]any{"start_date": "2025-08-01"}}, txs)
		var fe *aggregate.FormatError
		require.ErrorAs(t, res.Err, &fe)
		assert.Contains(t, fe.Error(), "is not accepted by filter_by_type_and_sum")
	})

	t.Run("unknown tool", func(t *testing.T) {
		res := c.Execute(ctx, core.ToolCall{ID: "x", Name: "drop_tables"}, txs)
		require.Error(t, res.Err)
		assert.True(t, res.ToolResult().IsError)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		res := c.Execute(cctx, core.ToolCall{ID: "x", Name: TypeSum}, txs)
		assert.ErrorIs(t, res.Err, context.Canceled)
	})
}

func TestRouting(t *testing.T) {
	r := DefaultRouting()
	assert.NotEmpty(t, r.Examples)
	assert.NotEmpty(t, r.Decline)
	assert.Contains(t, r.Kinds["debit"], "spending")

	_, err := ParseRouting([]byte(`
intents: {count: [count], sum: [total]}
kinds: {refund: [refund]}
examples:
  - query: q
    tool: filter_by_everything
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown kind "refund"`)
	assert.Contains(t, err.Error(), `unknown tool "filter_by_everything"`)

	path := filepath.Join(t.TempDir(), "routing.yaml")
	require.NoError(t, os.WriteFile(path, []byte("intents: {count: [tally], sum: [total]}\n"), 0o644))
	loaded, err := LoadRouting(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"tally"}, loaded.Intents.Count)

	_, err = LoadRouting(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
