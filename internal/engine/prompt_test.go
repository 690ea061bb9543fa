package engine

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"aiquery/internal/core"
	"aiquery/internal/tools"
)

func TestSystemInstruction(t *testing.T) {
	catalog := tools.NewCatalog(tools.DefaultRouting())

	system, err := SystemInstruction(catalog)
	require.NoError(t, err)

	for _, d := range catalog.Definitions() {
		assert.Contains(t, system, "- "+d.Name+": ")
	}
	assert.Contains(t, system, catalog.Routing().Decline)
	assert.Contains(t, system, `"Total debit amount last month" -> filter_by_date_and_sum(end_date="2025-08-31", start_date="2025-08-01", transaction_type="debit")`)
	assert.Contains(t, system, "1234.56 NGN")
}

func TestSystemInstruction_NilRoutingUsesDefault(t *testing.T) {
	system, err := SystemInstruction(tools.NewCatalog(nil))
	require.NoError(t, err)
	assert.Contains(t, system, "Examples (assuming *date* is 2025-09-07)")
}

func TestHumanTurn(t *testing.T) {
	older := core.Transaction{ID: "a", Amount: 1, Kind: core.KindCredit, Currency: core.CurrencyNGN, Timestamp: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)}
	newer := core.Transaction{ID: "b", Amount: 2, Kind: core.KindDebit, Currency: core.CurrencyNGN, Timestamp: time.Date(2025, 8, 2, 0, 0, 0, 0, time.UTC)}
	txs := []core.Transaction{older, newer}

	turn, err := HumanTurn("How many?", time.Date(2025, 9, 7, 23, 0, 0, 0, time.FixedZone("WAT", 3600)), txs)
	require.NoError(t, err)

	assert.Equal(t, core.RoleHuman, turn.Role)
	assert.Equal(t, "How many?", turn.Query)
	assert.Equal(t, "2025-09-07", turn.Today)

	lines := strings.Split(strings.TrimSpace(turn.Content), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "*prompt*: How many?", lines[0])
	assert.Equal(t, "*date*: 2025-09-07", lines[1])

	var snapshot []struct {
		ID string `json:"transactionId"`
	}
	require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(lines[2], "*transactions*: ")), &snapshot))
	require.Len(t, snapshot, 2)
	assert.Equal(t, "b", snapshot[0].ID)
	assert.Equal(t, "a", snapshot[1].ID, "input order must be untouched")
	assert.Equal(t, "a", txs[0].ID)
}

func TestFormatCall(t *testing.T) {
	got := FormatCall(tools.AmountSum, map[string]any{"max_amount": 2000, "min_amount": 500})
	assert.Equal(t, "filter_by_amount_and_sum(max_amount=2000, min_amount=500)", got)
	assert.Equal(t, "filter_by_type_and_count()", FormatCall(tools.TypeCount, nil))
}
