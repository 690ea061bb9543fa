// Package aggregate implements the six filter-and-reduce primitives over a
// validated transaction list: {date, type, amount} x {sum, count}.
//
// Every primitive is a pure function. Parameters are validated before any
// filtering happens, the input slice is never modified, and results do not
// depend on the order of the input.
package aggregate

import (
	"regexp"
	"time"

	"github.com/shopspring/decimal"

	"aiquery/internal/core"
)

// DateParams filters by calendar window, with optional kind and amount bounds.
type DateParams struct {
	StartDate string
	EndDate   string
	Kind      core.Kind
	MinAmount *float64
	MaxAmount *float64
}

// TypeParams filters by transaction kind.
type TypeParams struct {
	Kind core.Kind
}

// AmountParams filters by inclusive amount bounds.
type AmountParams struct {
	MinAmount *float64
	MaxAmount *float64
}

var datePattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// DateSum sums the amounts of transactions inside the date window.
func DateSum(txs []core.Transaction, p DateParams) (float64, error) {
	match, err := p.predicate()
	if err != nil {
		return 0, err
	}
	return sum(txs, match), nil
}

// DateCount counts the transactions inside the date window.
func DateCount(txs []core.Transaction, p DateParams) (int, error) {
	match, err := p.predicate()
	if err != nil {
		return 0, err
	}
	return count(txs, match), nil
}

// TypeSum sums the amounts of transactions of the given kind. An empty
// selection sums to 0.
func TypeSum(txs []core.Transaction, p TypeParams) (float64, error) {
	match, err := kindPredicate(p.Kind)
	if err != nil {
		return 0, err
	}
	return sum(txs, match), nil
}

// TypeCount counts transactions of the given kind.
func TypeCount(txs []core.Transaction, p TypeParams) (int, error) {
	match, err := kindPredicate(p.Kind)
	if err != nil {
		return 0, err
	}
	return count(txs, match), nil
}

// AmountSum sums the amounts of transactions within the bounds.
func AmountSum(txs []core.Transaction, p AmountParams) (float64, error) {
	match, err := amountPredicate(p.MinAmount, p.MaxAmount)
	if err != nil {
		return 0, err
	}
	return sum(txs, match), nil
}

// AmountCount counts transactions within the bounds.
func AmountCount(txs []core.Transaction, p AmountParams) (int, error) {
	match, err := amountPredicate(p.MinAmount, p.MaxAmount)
	if err != nil {
		return 0, err
	}
	return count(txs, match), nil
}

type predicate func(core.Transaction) bool

func all(core.Transaction) bool { return true }

// sum adds matched amounts exactly and converts once at the end, which keeps
// the result independent of input order.
func sum(txs []core.Transaction, match predicate) float64 {
	total := decimal.Zero
	for _, t := range txs {
		if match(t) {
			total = total.Add(decimal.NewFromFloat(t.Amount))
		}
	}
	f, _ := total.Float64()
	return f
}

func count(txs []core.Transaction, match predicate) int {
	n := 0
	for _, t := range txs {
		if match(t) {
			n++
		}
	}
	return n
}

// predicate validates every parameter first, then composes
// date -> kind -> amount.
func (p DateParams) predicate() (predicate, error) {
	byAmount, err := amountPredicate(p.MinAmount, p.MaxAmount)
	if err != nil {
		return nil, err
	}
	byDate, err := datePredicate(p.StartDate, p.EndDate)
	if err != nil {
		return nil, err
	}
	byKind, err := kindPredicate(p.Kind)
	if err != nil {
		return nil, err
	}
	return func(t core.Transaction) bool {
		return byDate(t) && byKind(t) && byAmount(t)
	}, nil
}

// Window is an inclusive calendar-day range in UTC. A zero From or To means
// the side is unbounded.
type Window struct {
	From time.Time // start of the first day
	To   time.Time // start of the day after the last day, exclusive
}

// Contains reports whether ts falls inside the window.
func (w Window) Contains(ts time.Time) bool {
	ts = ts.UTC()
	if !w.From.IsZero() && ts.Before(w.From) {
		return false
	}
	if !w.To.IsZero() && !ts.Before(w.To) {
		return false
	}
	return true
}

// ParseWindow validates start and end dates and builds the window.
// An end date without a start date bounds only the upper side; a start date
// without an end date is a single-day window.
func ParseWindow(start, end string) (Window, error) {
	var w Window
	startDay, err := parseDay("start_date", start)
	if err != nil {
		return w, err
	}
	endDay, err := parseDay("end_date", end)
	if err != nil {
		return w, err
	}
	if start != "" && end == "" {
		endDay = startDay
	}
	if start != "" {
		w.From = startDay
	}
	if !endDay.IsZero() {
		w.To = endDay.AddDate(0, 0, 1)
	}
	return w, nil
}

func parseDay(param, value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	if !datePattern.MatchString(value) {
		return time.Time{}, &FormatError{Param: param, Value: value, Reason: "must be in YYYY-MM-DD format"}
	}
	day, err := time.ParseInLocation(core.DateLayout, value, time.UTC)
	if err != nil {
		return time.Time{}, &FormatError{Param: param, Value: value, Reason: "is not a valid calendar date"}
	}
	return day, nil
}

func datePredicate(start, end string) (predicate, error) {
	if start == "" && end == "" {
		return all, nil
	}
	w, err := ParseWindow(start, end)
	if err != nil {
		return nil, err
	}
	return func(t core.Transaction) bool { return w.Contains(t.Timestamp) }, nil
}

func kindPredicate(kind core.Kind) (predicate, error) {
	if kind == "" {
		return all, nil
	}
	if _, err := core.ParseKind(string(kind)); err != nil {
		return nil, &FormatError{Param: "transaction_type", Value: string(kind), Reason: "must be 'credit' or 'debit'"}
	}
	return func(t core.Transaction) bool { return t.Kind == kind }, nil
}

func amountPredicate(minAmount, maxAmount *float64) (predicate, error) {
	if minAmount != nil && *minAmount < 0 {
		return nil, &RangeError{Param: "min_amount", Value: *minAmount}
	}
	if maxAmount != nil && *maxAmount < 0 {
		return nil, &RangeError{Param: "max_amount", Value: *maxAmount}
	}
	if minAmount == nil && maxAmount == nil {
		return all, nil
	}
	return func(t core.Transaction) bool {
		if minAmount != nil && t.Amount < *minAmount {
			return false
		}
		if maxAmount != nil && t.Amount > *maxAmount {
			return false
		}
		return true
	}, nil
}
