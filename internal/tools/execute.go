package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/mitchellh/mapstructure"

	"aiquery/internal/aggregate"
	"aiquery/internal/core"
)

// Args is the union of all tool parameters after decoding.
type Args struct {
	StartDate string   `mapstructure:"start_date"`
	EndDate   string   `mapstructure:"end_date"`
	Kind      string   `mapstructure:"transaction_type"`
	MinAmount *float64 `mapstructure:"min_amount"`
	MaxAmount *float64 `mapstructure:"max_amount"`
}

// Result is the outcome of executing one tool call.
type Result struct {
	Call      core.ToolCall
	Reduction Reduction
	Value     float64
	Err       error
}

// ToolResult converts the outcome into a conversation tool-result record.
func (r Result) ToolResult() core.ToolResult {
	tr := core.ToolResult{CallID: r.Call.ID, Name: r.Call.Name}
	if r.Err != nil {
		tr.Content = "Error: " + r.Err.Error()
		tr.IsError = true
		return tr
	}
	tr.Content = FormatContent(r.Reduction, r.Value)
	return tr
}

type content struct {
	Result    float64 `json:"result"`
	Formatted string  `json:"formatted,omitempty"`
}

// FormatContent renders a successful result for the decision engine.
func FormatContent(reduction Reduction, value float64) string {
	c := content{Result: value}
	if reduction == ReduceSum {
		c.Formatted = core.FormatNGN(value)
	}
	b, _ := json.Marshal(c)
	return string(b)
}

// ParseContent extracts the numeric value from a successful tool result.
func ParseContent(s string) (float64, bool) {
	var c content
	if err := json.Unmarshal([]byte(s), &c); err != nil {
		return 0, false
	}
	return c.Result, true
}

// Execute runs a tool call against txs. Failures are returned inside the
// Result so they can be fed back into the conversation.
func (c *Catalog) Execute(ctx context.Context, call core.ToolCall, txs []core.Transaction) Result {
	res := Result{Call: call}

	def, ok := c.Lookup(call.Name)
	if !ok {
		res.Err = fmt.Errorf("unknown tool %q", call.Name)
		return res
	}
	res.Reduction = def.Reduction

	if err := ctx.Err(); err != nil {
		res.Err = err
		return res
	}

	args, err := DecodeArgs(def, call.Args)
	if err != nil {
		res.Err = err
		return res
	}

	kind := core.Kind(args.Kind)
	switch def.Name {
	case DateSum:
		res.Value, res.Err = aggregate.DateSum(txs, args.dateParams(kind))
	case DateCount:
		var n int
		n, res.Err = aggregate.DateCount(txs, args.dateParams(kind))
		res.Value = float64(n)
	case TypeSum:
		res.Value, res.Err = aggregate.TypeSum(txs, aggregate.TypeParams{Kind: kind})
	case TypeCount:
		var n int
		n, res.Err = aggregate.TypeCount(txs, aggregate.TypeParams{Kind: kind})
		res.Value = float64(n)
	case AmountSum:
		res.Value, res.Err = aggregate.AmountSum(txs, args.amountParams())
	case AmountCount:
		var n int
		n, res.Err = aggregate.AmountCount(txs, args.amountParams())
		res.Value = float64(n)
	}
	return res
}

func (a Args) dateParams(kind core.Kind) aggregate.DateParams {
	return aggregate.DateParams{
		StartDate: a.StartDate,
		EndDate:   a.EndDate,
		Kind:      kind,
		MinAmount: a.MinAmount,
		MaxAmount: a.MaxAmount,
	}
}

func (a Args) amountParams() aggregate.AmountParams {
	return aggregate.AmountParams{MinAmount: a.MinAmount, MaxAmount: a.MaxAmount}
}

// DecodeArgs validates raw arguments against the tool's declared parameters
// and decodes them. Malformed values yield an *aggregate.FormatError.
func DecodeArgs(def Definition, raw map[string]any) (Args, error) {
	var args Args

	accepted := make([]string, 0, len(def.Params))
	for _, p := range def.Params {
		accepted = append(accepted, p.Name)
	}

	cleaned := make(map[string]any, len(raw))
	for k, v := range raw {
		if v == nil {
			continue
		}
		if s, ok := v.(string); ok && strings.TrimSpace(s) == "" {
			continue
		}
		if !slices.Contains(accepted, k) {
			return args, &aggregate.FormatError{Param: k, Reason: "is not accepted by " + def.Name}
		}
		cleaned[k] = v
	}

	// Decode one key at a time so errors name the offending parameter.
	for k, v := range cleaned {
		decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			DecodeHook: amountHook,
			Result:     &args,
		})
		if err != nil {
			return args, err
		}
		if err := decoder.Decode(map[string]any{k: v}); err != nil {
			return args, &aggregate.FormatError{Param: k, Value: fmt.Sprint(v), Reason: formatReason(k)}
		}
	}

	return args, nil
}

func formatReason(param string) string {
	switch param {
	case ParamStartDate, ParamEndDate:
		return "must be in YYYY-MM-DD format"
	case ParamMinAmount, ParamMaxAmount:
		return "must be a number"
	case ParamKind:
		return "must be 'credit' or 'debit'"
	default:
		return "is malformed"
	}
}

// amountHook accepts numeric strings such as "1,000" for number parameters.
func amountHook(from reflect.Type, to reflect.Type, data any) (any, error) {
	if to.Kind() != reflect.Float64 || from.Kind() != reflect.String {
		return data, nil
	}
	return core.ParseAmountString(reflect.ValueOf(data).String())
}
