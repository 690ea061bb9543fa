package core

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmountString(t *testing.T) {
	tests := []struct {
		in      string
		want    float64
		wantErr bool
	}{
		{"1500", 1500, false},
		{"1,500", 1500, false},
		{"12,345.67", 12345.67, false},
		{" 42.5 ", 42.5, false},
		{"0", 0, false},
		{"", 0, true},
		{"abc", 0, true},
		{"12.3.4", 0, true},
		{"1e400", 0, true},
		{"-1e400", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmountString(tt.in)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidAmount)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestParseAmountJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    float64
		wantErr bool
	}{
		{"integer", `2000`, 2000, false},
		{"float", `1999.99`, 1999.99, false},
		{"string with separator", `"2,500.00"`, 2500, false},
		{"bool", `true`, 0, true},
		{"null", `null`, 0, true},
		{"object", `{"v":1}`, 0, true},
		{"missing", ``, 0, true},
		{"number out of range", `1e400`, 0, true},
		{"string out of range", `"1e400"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseAmountJSON(json.RawMessage(tt.raw))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestFormatNGN(t *testing.T) {
	assert.Equal(t, "4000.00 NGN", FormatNGN(4000))
	assert.Equal(t, "1234.56 NGN", FormatNGN(1234.56))
	assert.Equal(t, "0.50 NGN", FormatNGN(0.5))
	assert.Equal(t, "0.00 NGN", FormatNGN(0))
}
