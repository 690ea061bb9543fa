package aggregate

import "fmt"

// FormatError reports a malformed primitive parameter, such as a date that
// is not YYYY-MM-DD. It is recoverable: the orchestrator feeds the message back
// to the decision engine as a failed tool result.
type FormatError struct {
	Param  string
	Value  string
	Reason string
}

func (e *FormatError) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s %s", e.Param, e.Reason)
	}
	return fmt.Sprintf("%s %s (got %q)", e.Param, e.Reason, e.Value)
}

// RangeError reports a negative amount bound. Treated like FormatError.
type RangeError struct {
	Param string
	Value float64
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s must be non-negative", e.Param)
}
