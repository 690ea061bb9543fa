package core

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Request is a validated conversation request.
type Request struct {
	Prompt       string
	ThreadID     string
	Transactions []Transaction
	GetAudio     bool
}

// DecodeRequest reads a JSON body and runs it through the validation gate.
func DecodeRequest(r io.Reader) (*Request, error) {
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, &ValidationError{Field: "body", Reason: "could not be read", Err: err}
	}
	return ParseRequest(body)
}

// ParseRequest validates a raw request body. Any invalid field or transaction
// rejects the whole request with a *ValidationError.
func ParseRequest(body []byte) (*Request, error) {
	var fields map[string]json.RawMessage
	if jsonType(body) != jsonObject {
		return nil, invalid("body", "must be a JSON object")
	}
	if err := json.Unmarshal(body, &fields); err != nil {
		return nil, &ValidationError{Field: "body", Reason: "must be a JSON object", Err: err}
	}

	req := &Request{}

	prompt, ok := nonEmptyString(fields["prompt"])
	if !ok {
		return nil, invalid("prompt", "must be a non-empty string")
	}
	req.Prompt = prompt

	threadID, ok := nonEmptyString(fields["thread_id"])
	if !ok {
		return nil, invalid("thread_id", "must be a non-empty string")
	}
	req.ThreadID = threadID

	rawTxs := fields["transactions"]
	if jsonType(rawTxs) != jsonArray {
		return nil, invalid("transactions", "must be a list")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(rawTxs, &items); err != nil {
		return nil, &ValidationError{Field: "transactions", Reason: "must be a list", Err: err}
	}

	if raw, present := fields["get_audio"]; present {
		switch jsonType(raw) {
		case jsonNull:
		case jsonBool:
			if err := json.Unmarshal(raw, &req.GetAudio); err != nil {
				return nil, invalid("get_audio", "must be a boolean")
			}
		default:
			return nil, invalid("get_audio", "must be a boolean")
		}
	}

	req.Transactions = make([]Transaction, 0, len(items))
	for i, item := range items {
		tx, err := ParseTransaction(item)
		if err != nil {
			err.Field = fmt.Sprintf("transactions[%d].%s", i, err.Field)
			return nil, err
		}
		req.Transactions = append(req.Transactions, tx)
	}

	return req, nil
}

// ParseTransaction validates a single wire record. The returned error's Field
// names the offending wire key.
func ParseTransaction(raw json.RawMessage) (Transaction, *ValidationError) {
	if jsonType(raw) != jsonObject {
		return Transaction{}, invalid("", "must be an object")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Transaction{}, &ValidationError{Reason: "must be an object", Err: err}
	}

	var tx Transaction

	id, ok := stringValue(fields["transactionId"])
	if !ok {
		return Transaction{}, invalid("transactionId", "must be a string")
	}
	tx.ID = id

	amount, err := ParseAmountJSON(fields["amount"])
	if err != nil {
		return Transaction{}, &ValidationError{Field: "amount", Reason: "must be a number or numeric string", Err: err}
	}
	if amount < 0 {
		return Transaction{}, invalid("amount", "must be non-negative")
	}
	tx.Amount = amount

	kindStr, _ := stringValue(fields["type"])
	kind, err := ParseKind(kindStr)
	if err != nil {
		return Transaction{}, &ValidationError{Field: "type", Reason: "must be 'credit' or 'debit'", Err: err}
	}
	tx.Kind = kind

	currency, _ := stringValue(fields["currency"])
	if currency != CurrencyNGN {
		return Transaction{}, &ValidationError{Field: "currency", Reason: "must be 'NGN'", Err: ErrInvalidCurrency}
	}
	tx.Currency = currency

	balance, err := ParseAmountJSON(fields["balance"])
	if err != nil {
		return Transaction{}, &ValidationError{Field: "balance", Reason: "must be a number or numeric string", Err: err}
	}
	tx.Balance = balance

	date, ok := stringValue(fields["transactionDate"])
	if !ok {
		return Transaction{}, &ValidationError{Field: "transactionDate", Reason: "must be in ISO 8601 format", Err: ErrInvalidTimestamp}
	}
	ts, err := ParseTimestamp(date)
	if err != nil {
		return Transaction{}, &ValidationError{Field: "transactionDate", Reason: "must be in ISO 8601 format", Err: err}
	}
	tx.Timestamp = ts

	return tx, nil
}

type rawType int

const (
	jsonMissing rawType = iota
	jsonNull
	jsonBool
	jsonNumber
	jsonString
	jsonArray
	jsonObject
)

func jsonType(raw []byte) rawType {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return jsonMissing
	}
	switch raw[0] {
	case 'n':
		return jsonNull
	case 't', 'f':
		return jsonBool
	case '"':
		return jsonString
	case '[':
		return jsonArray
	case '{':
		return jsonObject
	default:
		return jsonNumber
	}
}

func stringValue(raw json.RawMessage) (string, bool) {
	if jsonType(raw) != jsonString {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", false
	}
	return s, true
}

func nonEmptyString(raw json.RawMessage) (string, bool) {
	s, ok := stringValue(raw)
	return s, ok && s != ""
}
