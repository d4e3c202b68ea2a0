package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// AmountScale is the number of fractional digits of the settlement network's
// smallest unit (one stroop is 0.0000001).
const AmountScale = 7

// amountIntegerDigits bounds the integer part of an amount to what a
// NUMERIC(30, 7) column holds.
const amountIntegerDigits = 23

const maxAmountLength = 64

// ParseAmount parses a user supplied amount, rounded half-up to AmountScale.
// Malformed, zero and negative amounts fail with ErrInvalidAmount.
func ParseAmount(raw string) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrInvalidAmount)
	}
	if len(raw) > maxAmountLength {
		return decimal.Zero, fmt.Errorf("%w: too long", ErrInvalidAmount)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrInvalidAmount, raw)
	}
	// Checked on the exponent before rounding, which would expand it.
	magnitude := d.NumDigits() + int(d.Exponent())
	if magnitude > amountIntegerDigits {
		return decimal.Zero, fmt.Errorf("%w: %q is too large", ErrInvalidAmount, raw)
	}
	if magnitude < -AmountScale {
		return decimal.Zero, fmt.Errorf("%w: %q is not positive", ErrInvalidAmount, raw)
	}
	d = FixAmount(d)
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: %q is not positive", ErrInvalidAmount, raw)
	}
	return d, nil
}

// FixAmount rounds d to AmountScale fractional digits.
func FixAmount(d decimal.Decimal) decimal.Decimal {
	return d.Round(AmountScale)
}

// FormatAmount renders d with exactly AmountScale fractional digits.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(AmountScale)
}
