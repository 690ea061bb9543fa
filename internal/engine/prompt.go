package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"text/template"
	"time"

	"aiquery/internal/core"
	"aiquery/internal/tools"
)

const systemTemplate = `You are AI Query, a knowledgeable and professional financial assistant. Provide accurate, concise and helpful answers about the user's financial transactions without disclosing raw transaction data. Use the provided tools to analyse the *transactions* list.

Transactions have the fields transactionId, amount, type ('credit' is income, 'debit' is expenditure), currency ({{.Currency}}), balance (account balance after the transaction) and transactionDate (ISO 8601, UTC). The list is ordered newest first, so the current balance is the balance of the first transaction.

Response guidelines:
- Respond concisely, in plain text, without markdown unless explicitly requested.
- Report every monetary amount in {{.Currency}} with two decimal places, for example 1234.56 {{.Currency}}.
- Never compute totals or counts yourself; call a tool and narrate its result.
- For unrelated, non-financial queries answer exactly: "{{.Decline}}"
- If a query names an invalid date (for example February 30) or a date range after *date*, answer: "Invalid date range specified. Please provide a valid date range."
- Calling a tool without parameters processes all transactions.

Tools:
{{- range .Tools}}
- {{.Name}}: {{.Description}}{{if .Params}} Parameters: {{.ParamList}}.{{end}}
{{- end}}

Choosing a tool:
- "How many" style queries ({{.CountWords}}) use a *_count tool; totals and listings ({{.SumWords}}) use a *_sum tool.
- Queries with a time frame use the filter_by_date_* tools, which also accept transaction_type, min_amount and max_amount.
- Queries with only an amount condition use the filter_by_amount_* tools. Queries with only a type, or with no condition, use the filter_by_type_* tools.
- transaction_type is "credit" for: {{.CreditWords}}. It is "debit" for: {{.DebitWords}}.
- min_amount follows: {{.MinWords}}. max_amount follows: {{.MaxWords}}. Both follow: {{.BetweenWords}}.
- Dates are YYYY-MM-DD and computed relative to *date*. "This month" is the first to last day of the current month, "last month" the whole previous calendar month, "in 2024" is 2024-01-01 to 2024-12-31.

Examples (assuming *date* is {{.ExampleDate}}):
{{- range .Examples}}
- "{{.Query}}" -> {{.Call}}
{{- end}}
`

var systemTmpl = template.Must(template.New("system").Parse(systemTemplate))

type promptTool struct {
	Name        string
	Description string
	Params      []tools.Param
}

func (t promptTool) ParamList() string {
	names := make([]string, len(t.Params))
	for i, p := range t.Params {
		names[i] = p.Name
	}
	return strings.Join(names, ", ")
}

type promptExample struct {
	Query string
	Call  string
}

// SystemInstruction renders the system instruction from the tool catalog and
// its routing metadata.
func SystemInstruction(catalog *tools.Catalog) (string, error) {
	routing := catalog.Routing()
	if routing == nil {
		routing = tools.DefaultRouting()
	}

	data := struct {
		Currency     string
		Decline      string
		Tools        []promptTool
		CountWords   string
		SumWords     string
		CreditWords  string
		DebitWords   string
		MinWords     string
		MaxWords     string
		BetweenWords string
		ExampleDate  string
		Examples     []promptExample
	}{
		Currency:     core.CurrencyNGN,
		Decline:      routing.Decline,
		CountWords:   quoted(routing.Intents.Count),
		SumWords:     quoted(routing.Intents.Sum),
		CreditWords:  quoted(routing.Kinds["credit"]),
		DebitWords:   quoted(routing.Kinds["debit"]),
		MinWords:     quoted(routing.Amount.Min),
		MaxWords:     quoted(routing.Amount.Max),
		BetweenWords: quoted(routing.Amount.Between),
		ExampleDate:  routing.ExampleDate,
	}
	for _, d := range catalog.Definitions() {
		data.Tools = append(data.Tools, promptTool{Name: d.Name, Description: d.Description, Params: d.Params})
	}
	for _, ex := range routing.Examples {
		data.Examples = append(data.Examples, promptExample{Query: ex.Query, Call: FormatCall(ex.Tool, ex.Args)})
	}

	var buf bytes.Buffer
	if err := systemTmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system instruction: %w", err)
	}
	return buf.String(), nil
}

// HumanTurn renders the human turn for one request. The snapshot is sorted
// newest first; txs itself is left untouched.
func HumanTurn(query string, today time.Time, txs []core.Transaction) (core.Turn, error) {
	snapshot, err := json.Marshal(core.SortedByTimestampDesc(txs))
	if err != nil {
		return core.Turn{}, fmt.Errorf("encode transaction snapshot: %w", err)
	}
	date := today.UTC().Format(core.DateLayout)

	var b strings.Builder
	fmt.Fprintf(&b, "*prompt*: %s\n", query)
	fmt.Fprintf(&b, "*date*: %s\n", date)
	fmt.Fprintf(&b, "*transactions*: %s\n", snapshot)

	return core.Turn{
		Role:    core.RoleHuman,
		Content: b.String(),
		Query:   query,
		Today:   date,
	}, nil
}

// FormatCall renders a call as name(k=v, ...) with keys sorted.
func FormatCall(name string, args map[string]any) string {
	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		switch v := args[k].(type) {
		case string:
			parts = append(parts, fmt.Sprintf("%s=%q", k, v))
		default:
			parts = append(parts, fmt.Sprintf("%s=%v", k, v))
		}
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(parts, ", "))
}

func quoted(words []string) string {
	q := make([]string, len(words))
	for i, w := range words {
		q[i] = `"` + w + `"`
	}
	return strings.Join(q, ", ")
}
