package core

import (
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const validTx = `{"transactionId":"t1","amount":"1,500.50","type":"debit","currency":"NGN","balance":10000,"transactionDate":"2025-08-14T09:30:00Z"}`

func TestParseRequest_Valid(t *testing.T) {
	body := `{"prompt":"How many transactions do I have?","thread_id":"th-1","transactions":[` + validTx + `],"get_audio":true}`

	req, err := ParseRequest([]byte(body))
	require.NoError(t, err)

	assert.Equal(t, "How many transactions do I have?", req.Prompt)
	assert.Equal(t, "th-1", req.ThreadID)
	assert.True(t, req.GetAudio)
	require.Len(t, req.Transactions, 1)

	tx := req.Transactions[0]
	assert.Equal(t, "t1", tx.ID)
	assert.InDelta(t, 1500.50, tx.Amount, 1e-9)
	assert.Equal(t, KindDebit, tx.Kind)
	assert.Equal(t, CurrencyNGN, tx.Currency)
	assert.InDelta(t, 10000, tx.Balance, 1e-9)
	assert.Equal(t, time.Date(2025, 8, 14, 9, 30, 0, 0, time.UTC), tx.Timestamp)
}

func TestParseRequest_TimestampWithoutSeconds(t *testing.T) {
	tx := strings.Replace(validTx, "2025-08-14T09:30:00Z", "2025-08-14T09:30Z", 1)
	req, err := ParseRequest([]byte(`{"prompt":"p","thread_id":"t","transactions":[` + tx + `]}`))
	require.NoError(t, err)
	require.Len(t, req.Transactions, 1)
	assert.Equal(t, time.Date(2025, 8, 14, 9, 30, 0, 0, time.UTC), req.Transactions[0].Timestamp)
}

func TestParseRequest_Defaults(t *testing.T) {
	req, err := ParseRequest([]byte(`{"prompt":"hi","thread_id":"a","transactions":[]}`))
	require.NoError(t, err)
	assert.False(t, req.GetAudio)
	assert.Empty(t, req.Transactions)

	req, err = ParseRequest([]byte(`{"prompt":"hi","thread_id":"a","transactions":[],"get_audio":null}`))
	require.NoError(t, err)
	assert.False(t, req.GetAudio)
}

func TestParseRequest_Rejects(t *testing.T) {
	withTx := func(mutate func(m map[string]any)) string {
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(validTx), &m))
		mutate(m)
		b, err := json.Marshal(m)
		require.NoError(t, err)
		return `{"prompt":"p","thread_id":"t","transactions":[` + validTx + `,` + string(b) + `]}`
	}

	withRaw := func(old, repl string) string {
		return `{"prompt":"p","thread_id":"t","transactions":[` + validTx + `,` + strings.Replace(validTx, old, repl, 1) + `]}`
	}

	tests := []struct {
		name      string
		body      string
		wantField string
	}{
		{"not an object", `[1,2]`, "body"},
		{"broken json", `{"prompt":`, "body"},
		{"empty prompt", `{"prompt":"","thread_id":"t","transactions":[]}`, "prompt"},
		{"numeric prompt", `{"prompt":5,"thread_id":"t","transactions":[]}`, "prompt"},
		{"missing thread", `{"prompt":"p","transactions":[]}`, "thread_id"},
		{"transactions not list", `{"prompt":"p","thread_id":"t","transactions":{"a":1}}`, "transactions"},
		{"transactions missing", `{"prompt":"p","thread_id":"t"}`, "transactions"},
		{"get_audio string", `{"prompt":"p","thread_id":"t","transactions":[],"get_audio":"yes"}`, "get_audio"},
		{"numeric id", withTx(func(m map[string]any) { m["transactionId"] = 7 }), "transactions[1].transactionId"},
		{"bad amount", withTx(func(m map[string]any) { m["amount"] = "lots" }), "transactions[1].amount"},
		{"negative amount", withTx(func(m map[string]any) { m["amount"] = -5 }), "transactions[1].amount"},
		{"amount overflows float64", withRaw(`"amount":"1,500.50"`, `"amount":1e400`), "transactions[1].amount"},
		{"balance string overflows float64", withRaw(`"balance":10000`, `"balance":"1e400"`), "transactions[1].balance"},
		{"bad kind", withTx(func(m map[string]any) { m["type"] = "transfer" }), "transactions[1].type"},
		{"bad currency", withTx(func(m map[string]any) { m["currency"] = "USD" }), "transactions[1].currency"},
		{"missing balance", withTx(func(m map[string]any) { delete(m, "balance") }), "transactions[1].balance"},
		{"date without Z", withTx(func(m map[string]any) { m["transactionDate"] = "2025-08-14T09:30:00+01:00" }), "transactions[1].transactionDate"},
		{"date only", withTx(func(m map[string]any) { m["transactionDate"] = "2025-08-14" }), "transactions[1].transactionDate"},
		{"impossible date", withTx(func(m map[string]any) { m["transactionDate"] = "2025-13-40T00:00:00Z" }), "transactions[1].transactionDate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := ParseRequest([]byte(tt.body))
			require.Error(t, err)
			assert.Nil(t, req)
			assert.True(t, IsValidation(err))

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, tt.wantField, ve.Field)
		})
	}
}

func TestDecodeRequest(t *testing.T) {
	_, err := DecodeRequest(strings.NewReader(`{"prompt":"p","thread_id":"t","transactions":"nope"}`))
	require.Error(t, err)
	assert.Equal(t, "transactions must be a list", err.Error())
}

func TestSortedByTimestampDesc(t *testing.T) {
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{ID: "a", Timestamp: base},
		{ID: "b", Timestamp: base.Add(48 * time.Hour)},
		{ID: "c", Timestamp: base.Add(24 * time.Hour)},
		{ID: "d", Timestamp: base.Add(48 * time.Hour)},
	}

	sorted := SortedByTimestampDesc(txs)

	ids := make([]string, len(sorted))
	for i, tx := range sorted {
		ids[i] = tx.ID
	}
	assert.Equal(t, []string{"b", "d", "c", "a"}, ids)
	assert.Equal(t, "a", txs[0].ID, "input must not be reordered")
}

func TestCurrentBalance(t *testing.T) {
	base := time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC)
	txs := []Transaction{
		{ID: "old", Balance: 100, Timestamp: base},
		{ID: "new", Balance: 250, Timestamp: base.Add(time.Hour)},
	}

	got, ok := CurrentBalance(txs)
	assert.True(t, ok)
	assert.InDelta(t, 250, got, 1e-9)

	_, ok = CurrentBalance(nil)
	assert.False(t, ok)
}

func TestTransactionMarshalJSON(t *testing.T) {
	tx := Transaction{
		ID:        "t9",
		Amount:    1500,
		Kind:      KindCredit,
		Currency:  CurrencyNGN,
		Balance:   2000.5,
		Timestamp: time.Date(2025, 9, 1, 8, 0, 0, 0, time.UTC),
	}

	b, err := json.Marshal(tx)
	require.NoError(t, err)
	assert.JSONEq(t, `{"transactionId":"t9","amount":1500,"type":"credit","currency":"NGN","balance":2000.5,"transactionDate":"2025-09-01T08:00:00Z"}`, string(b))
}
