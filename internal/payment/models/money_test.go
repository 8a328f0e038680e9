package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	dErrors "circlesphere/pkg/domain-errors"
)

func TestParseMajor(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    Money
		wantErr bool
	}{
		{name: "whole", input: "25", want: 2500},
		{name: "two decimals", input: "25.00", want: 2500},
		{name: "one decimal", input: "19.9", want: 1990},
		{name: "cents", input: "0.01", want: 1},
		{name: "zero", input: "0", want: 0},
		{name: "binary-unfriendly", input: "0.29", want: 29},
		{name: "surrounding space", input: " 12.50 ", want: 1250},
		{name: "sub-cent", input: "25.005", wantErr: true},
		{name: "negative", input: "-1", wantErr: true},
		{name: "empty", input: "", wantErr: true},
		{name: "not a number", input: "abc", wantErr: true},
		{name: "overflow", input: "92233720368547758.08", wantErr: true},
		{name: "leading zero is decimal", input: "010", want: 1000},
		{name: "exponent", input: "2.5e1", want: 2500},
		{name: "fraction", input: "1/4", wantErr: true},
		{name: "hex", input: "0x10", wantErr: true},
		{name: "binary", input: "0b11", wantErr: true},
		{name: "octal fraction", input: "010/1", wantErr: true},
		{name: "bare point", input: "5.", wantErr: true},
		{name: "huge exponent", input: "1e1000000", wantErr: true},
		{name: "max", input: "92233720368547758.07", want: Money(9223372036854775807)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseMajor(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestMoney_RoundTrip(t *testing.T) {
	m, err := ParseMajor("25.00")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), m.Minor())
	assert.Equal(t, "25.00", m.Major())

	back, err := ParseMajor(m.Major())
	require.NoError(t, err)
	assert.Equal(t, m, back)
}

func TestMoney_JSON(t *testing.T) {
	b, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: 1990})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 19.90}`, string(b))

	var fromNumber, fromString Money
	require.NoError(t, json.Unmarshal([]byte(`19.9`), &fromNumber))
	require.NoError(t, json.Unmarshal([]byte(`"19.90"`), &fromString))
	assert.Equal(t, Money(1990), fromNumber)
	assert.Equal(t, fromNumber, fromString)
}

func TestAmountInput(t *testing.T) {
	var req struct {
		Amount AmountInput `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 25.5}`), &req))
	assert.Equal(t, AmountInput("25.5"), req.Amount)

	require.NoError(t, json.Unmarshal([]byte(`{"amount": "10"}`), &req))
	assert.Equal(t, AmountInput("10"), req.Amount)

	err := json.Unmarshal([]byte(`{"amount": true}`), &req)
	require.Error(t, err)
}
