package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"math/big"
	"regexp"
	"strconv"
	"strings"

	dErrors "circlesphere/pkg/domain-errors"
)

// Money is an amount in minor currency units (cents).
type Money int64

var hundred = big.NewRat(100, 1)

// decimalAmount admits plain decimals and the JSON exponent form. Fractions and
// base prefixes accepted by big.Rat are rejected.
var decimalAmount = regexp.MustCompile(`^[+-]?[0-9]+(\.[0-9]+)?([eE][+-]?[0-9]{1,3})?$`)

// ParseMajor converts a decimal amount in major units ("25", "25.5", "25.00")
// into minor units. The scaled value must be a non-negative integer that fits
// in int64; "25.005" and "-1" are rejected.
func ParseMajor(s string) (Money, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount is required")
	}
	if !decimalAmount.MatchString(s) {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount must be a decimal number")
	}
	r, ok := new(big.Rat).SetString(s)
	if !ok {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount must be a decimal number")
	}
	if r.Sign() < 0 {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount must not be negative")
	}
	r.Mul(r, hundred)
	if !r.IsInt() {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount has more than two decimal places")
	}
	n := r.Num()
	if !n.IsInt64() {
		return 0, dErrors.New(dErrors.CodeInvalidAmount, "amount is too large")
	}
	return Money(n.Int64()), nil
}

// Minor returns the amount in minor units.
func (m Money) Minor() int64 { return int64(m) }

// Major renders the amount in major units with two decimals.
func (m Money) Major() string {
	v := int64(m)
	sign := ""
	if v < 0 {
		sign = "-"
		if v == math.MinInt64 {
			return "-92233720368547758.08"
		}
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (m Money) String() string { return m.Major() }

// MarshalJSON renders the amount as a JSON number in major units.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.Major()), nil
}

// UnmarshalJSON accepts a JSON number or string in major units.
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		b = []byte(s)
	}
	v, err := ParseMajor(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// AmountInput holds a raw request amount that may arrive as a JSON number or
// string. It is parsed later so the service owns the validation error.
type AmountInput string

func (a *AmountInput) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*a = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*a = AmountInput(s)
		return nil
	}
	if _, err := strconv.ParseFloat(string(b), 64); err != nil {
		return dErrors.New(dErrors.CodeInvalidAmount, "amount must be a number")
	}
	*a = AmountInput(b)
	return nil
}
