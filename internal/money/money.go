// Package money holds the integer minor-unit arithmetic every balance mutation
// goes through. Floating point is accepted only at the API boundary by ToMinor
// and for rates by ScaleRate; nothing downstream of those calls sees a float.
package money

import (
	"fmt"
	"math"
	"strings"

	apperrors "fxwallet/internal/errors"

	gvmoney "github.com/govalues/money"
	"github.com/shopspring/decimal"
)

// RateScale is the fixed-point scale of exchange rates: 1.5 is stored as 1_500_000.
const RateScale = 1_000_000

const rateExponent = 6

var maxMinor = decimal.NewFromInt(math.MaxInt64)

// Currency normalises and validates an ISO 4217 code.
func Currency(code string) (string, error) {
	c, err := gvmoney.ParseCurr(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", apperrors.Wrap(apperrors.ErrValidation, "unknown currency %q", code)
	}
	return c.Code(), nil
}

// Scale returns the number of minor-unit digits of a currency (2 for USD, 0 for JPY).
func Scale(code string) (int, error) {
	c, err := gvmoney.ParseCurr(strings.ToUpper(code))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "unknown currency %q", code)
	}
	return c.Scale(), nil
}

// ToMinor converts a boundary amount in major units into minor units. Amounts
// with more precision than the currency carries are rejected rather than rounded.
func ToMinor(amount float64, currency string) (int64, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "amount is not a number")
	}
	scale, err := Scale(currency)
	if err != nil {
		return 0, err
	}
	shifted := decimal.NewFromFloat(amount).Shift(int32(scale))
	if !shifted.Equal(shifted.Truncate(0)) {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "amount %v has more than %d decimal places", amount, scale)
	}
	if shifted.Abs().GreaterThan(maxMinor) {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "amount %v out of range", amount)
	}
	return shifted.IntPart(), nil
}

// FromMinor renders minor units as a decimal in major units, for responses.
func FromMinor(minor int64, currency string) decimal.Decimal {
	scale, err := Scale(currency)
	if err != nil {
		scale = 2
	}
	return decimal.NewFromInt(minor).Shift(-int32(scale))
}

// ScaleRate converts a rate quoted by an upstream source into fixed point.
func ScaleRate(rate float64) (int64, error) {
	if math.IsNaN(rate) || math.IsInf(rate, 0) {
		return 0, apperrors.Wrap(apperrors.ErrRateOutOfBand, "rate is not a number")
	}
	scaled := decimal.NewFromFloat(rate).Shift(rateExponent).Round(0)
	if scaled.GreaterThan(maxMinor) || scaled.IsNegative() {
		return 0, apperrors.Wrap(apperrors.ErrRateOutOfBand, "rate %v", rate)
	}
	return scaled.IntPart(), nil
}

// Convert applies a fixed-point rate to a minor-unit amount, adjusting for the
// two currencies' minor-unit scales. The result is truncated toward zero.
func Convert(amount, scaledRate int64, fromScale, toScale int) (int64, error) {
	out := decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(scaledRate)).
		Shift(int32(toScale - fromScale - rateExponent)).
		Truncate(0)
	if out.Abs().GreaterThan(maxMinor) {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "converted amount overflows")
	}
	return out.IntPart(), nil
}

// BasisPoints returns bps/10000 of amount, truncated toward zero.
func BasisPoints(amount, bps int64) int64 {
	return decimal.NewFromInt(amount).
		Mul(decimal.NewFromInt(bps)).
		Div(decimal.NewFromInt(10_000)).
		Truncate(0).
		IntPart()
}

// FormatRate renders a fixed-point rate for metadata and logs.
func FormatRate(scaledRate int64) string {
	return decimal.NewFromInt(scaledRate).Shift(-rateExponent).StringFixed(rateExponent)
}

// ParseRate is the inverse of FormatRate.
func ParseRate(s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("parse rate %q: %w", s, err)
	}
	return d.Shift(rateExponent).Round(0).IntPart(), nil
}

// ParseMinor converts a decimal string in major units, as providers report
// settled amounts, into minor units. Excess precision is rejected.
func ParseMinor(s, currency string) (int64, error) {
	scale, err := Scale(currency)
	if err != nil {
		return 0, err
	}
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "amount %q is not a decimal", s)
	}
	shifted := d.Shift(int32(scale))
	if !shifted.Equal(shifted.Truncate(0)) || shifted.Abs().GreaterThan(maxMinor) {
		return 0, apperrors.Wrap(apperrors.ErrValidation, "amount %q does not fit %s", s, currency)
	}
	return shifted.IntPart(), nil
}

// FormatMinor renders minor units as a fixed-scale major-unit string ("10.00").
func FormatMinor(minor int64, currency string) string {
	scale, err := Scale(currency)
	if err != nil {
		scale = 2
	}
	return decimal.NewFromInt(minor).Shift(-int32(scale)).StringFixed(int32(scale))
}
