package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"time"
)

const (
	KindCredit Kind = "credit"
	KindDebit  Kind = "debit"
)

// CurrencyNGN is the only currency accepted on the wire.
const CurrencyNGN = "NGN"

// DateLayout is the calendar date format used by primitive parameters and prompts.
const DateLayout = "2006-01-02"

type (
	// Kind is the direction of a transaction.
	Kind string

	// Transaction is a validated, normalised transaction record.
	// It is constructed once at the request boundary and never mutated afterwards.
	Transaction struct {
		ID        string
		Amount    float64
		Kind      Kind
		Currency  string
		Balance   float64
		Timestamp time.Time // always UTC
	}
)

var (
	ErrInvalidKind      = errors.New("type must be 'credit' or 'debit'")
	ErrInvalidCurrency  = errors.New("currency must be 'NGN'")
	ErrInvalidTimestamp = errors.New("transactionDate must be in ISO 8601 format")
	ErrInvalidAmount    = errors.New("invalid amount")
)

var timestampPattern = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}T.*Z$`)

// ParseKind accepts exactly "credit" or "debit".
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindCredit, KindDebit:
		return Kind(s), nil
	default:
		return "", ErrInvalidKind
	}
}

func (k Kind) String() string {
	return string(k)
}

// timestampMinutes accepts ISO 8601 times without seconds.
const timestampMinutes = "2006-01-02T15:04Z07:00"

// ParseTimestamp parses a wire timestamp such as 2025-08-14T09:30:00Z,
// 2025-08-14T09:30:00.250Z or 2025-08-14T09:30Z and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	if !timestampPattern.MatchString(s) {
		return time.Time{}, ErrInvalidTimestamp
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		var minErr error
		if t, minErr = time.Parse(timestampMinutes, s); minErr != nil {
			return time.Time{}, fmt.Errorf("%w: %v", ErrInvalidTimestamp, err)
		}
	}
	return t.UTC(), nil
}

// MarshalJSON renders the record in its wire shape with normalised numbers.
func (t Transaction) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       string  `json:"transactionId"`
		Amount   float64 `json:"amount"`
		Kind     Kind    `json:"type"`
		Currency string  `json:"currency"`
		Balance  float64 `json:"balance"`
		Date     string  `json:"transactionDate"`
	}{
		ID:       t.ID,
		Amount:   t.Amount,
		Kind:     t.Kind,
		Currency: t.Currency,
		Balance:  t.Balance,
		Date:     t.Timestamp.UTC().Format(time.RFC3339Nano),
	})
}

// SortedByTimestampDesc returns a copy of txs ordered newest first.
// Records with equal timestamps keep their input order. The input is not modified.
func SortedByTimestampDesc(txs []Transaction) []Transaction {
	out := slices.Clone(txs)
	slices.SortStableFunc(out, func(a, b Transaction) int {
		return b.Timestamp.Compare(a.Timestamp)
	})
	return out
}

// CurrentBalance returns the balance of the most recent transaction.
func CurrentBalance(txs []Transaction) (float64, bool) {
	if len(txs) == 0 {
		return 0, false
	}
	latest := txs[0]
	for _, t := range txs[1:] {
		if t.Timestamp.After(latest.Timestamp) {
			latest = t
		}
	}
	return latest.Balance, true
}
