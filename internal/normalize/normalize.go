// Package normalize converts the loosely typed values found in procurement
// APIs (Brazilian currency strings, several date layouts, "sim"/"não" flags)
// into canonical Go values. Every function here is total: bad input yields a
// zero value and a false ok flag, never an error or a panic.
package normalize

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ParseMoney parses a currency amount.
//
//	"1.234.567,89" -> 1234567.89 (comma is the decimal point, dots group thousands)
//	"1.234.567"    -> 1234567    (several dots, all grouping)
//	"1234.56"      -> 1234.56    (one dot is the decimal point)
func ParseMoney(raw any) (decimal.Decimal, bool) {
	switch v := raw.(type) {
	case nil:
		return decimal.Zero, false
	case decimal.Decimal:
		return v, true
	case *decimal.Decimal:
		if v == nil {
			return decimal.Zero, false
		}
		return *v, true
	case int:
		return decimal.NewFromInt(int64(v)), true
	case int32:
		return decimal.NewFromInt32(v), true
	case int64:
		return decimal.NewFromInt(v), true
	case float32:
		return floatMoney(float64(v))
	case float64:
		return floatMoney(v)
	case json.Number:
		return parseMoneyString(v.String())
	case string:
		return parseMoneyString(v)
	case *string:
		if v == nil {
			return decimal.Zero, false
		}
		return parseMoneyString(*v)
	default:
		return parseMoneyString(fmt.Sprint(v))
	}
}

func floatMoney(f float64) (decimal.Decimal, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return decimal.Zero, false
	}
	return decimal.NewFromFloat(f), true
}

func parseMoneyString(s string) (decimal.Decimal, bool) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "R$")
	s = strings.Map(func(r rune) rune {
		if r == ' ' || r == '\u00a0' || r == '\t' {
			return -1
		}
		return r
	}, s)
	if s == "" {
		return decimal.Zero, false
	}
	switch {
	case strings.Contains(s, ","):
		s = strings.ReplaceAll(s, ".", "")
		s = strings.Replace(s, ",", ".", 1)
	case strings.Count(s, ".") > 1:
		s = strings.ReplaceAll(s, ".", "")
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// ParseMoneyScaled parses like ParseMoney and fits the result into a
// numeric(precision, scale) column: rounded half away from zero to scale
// digits and clamped to the column's range instead of overflowing.
func ParseMoneyScaled(raw any, precision, scale int32) (decimal.Decimal, bool) {
	d, ok := ParseMoney(raw)
	if !ok {
		return decimal.Zero, false
	}
	return FitNumeric(d, precision, scale), true
}

// FitNumeric rounds d to scale and clamps it to ±(10^(precision-scale) - 10^-scale).
func FitNumeric(d decimal.Decimal, precision, scale int32) decimal.Decimal {
	if precision <= 0 || scale < 0 || scale > precision {
		return d
	}
	d = d.Round(scale)
	max := decimal.New(1, precision-scale).Sub(decimal.New(1, -scale))
	if d.GreaterThan(max) {
		return max
	}
	if min := max.Neg(); d.LessThan(min) {
		return min
	}
	return d
}

// dateLayouts is tried in order; the first layout that parses wins.
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"02/01/2006",
	"20060102",
}

// ParseDate parses the date formats seen across ComprasNet, PNCP and INLABS.
// Values without a zone are taken as UTC; a trailing Z is offset zero.
func ParseDate(raw any) (time.Time, bool) {
	switch v := raw.(type) {
	case nil:
		return time.Time{}, false
	case time.Time:
		return v, !v.IsZero()
	case *time.Time:
		if v == nil || v.IsZero() {
			return time.Time{}, false
		}
		return *v, true
	case *string:
		if v == nil {
			return time.Time{}, false
		}
		return parseDateString(*v)
	case string:
		return parseDateString(v)
	default:
		return parseDateString(fmt.Sprint(v))
	}
}

func parseDateString(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// DateOnly truncates t to its calendar date in UTC.
func DateOnly(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DatePtr is ParseDate returning nil when the value does not parse.
func DatePtr(raw any) *time.Time {
	t, ok := ParseDate(raw)
	if !ok {
		return nil
	}
	return &t
}

// MoneyPtr is ParseMoney returning nil when the value does not parse.
func MoneyPtr(raw any) *decimal.Decimal {
	d, ok := ParseMoney(raw)
	if !ok {
		return nil
	}
	return &d
}

var affirmative = map[string]struct{}{
	"true": {}, "1": {}, "yes": {}, "sim": {}, "s": {}, "y": {},
}

// ParseBool maps booleans, numbers and affirmative strings to a bool.
// Anything not recognised as affirmative is false.
func ParseBool(raw any) bool {
	switch v := raw.(type) {
	case nil:
		return false
	case bool:
		return v
	case *bool:
		return v != nil && *v
	case int:
		return v != 0
	case int64:
		return v != 0
	case float64:
		return v != 0
	case json.Number:
		if f, err := v.Float64(); err == nil {
			return f != 0
		}
		return false
	case string:
		_, ok := affirmative[strings.ToLower(strings.TrimSpace(v))]
		return ok
	default:
		_, ok := affirmative[strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))]
		return ok
	}
}

// String stringifies raw and trims surrounding whitespace. nil becomes "".
func String(raw any) string {
	switch v := raw.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case *string:
		if v == nil {
			return ""
		}
		return strings.TrimSpace(*v)
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Truncate stringifies raw and cuts it to max runes. A cut is logged at warn
// level with the original length so column widths can be revisited.
// A max of zero or less yields "".
func Truncate(log *zap.Logger, raw any, max int) string {
	s := String(raw)
	n := utf8.RuneCountInString(s)
	if n <= max {
		return s
	}
	if max < 0 {
		max = 0
	}
	if log != nil {
		log.Warn("value truncated", zap.Int("length", n), zap.Int("max", max))
	}
	return string([]rune(s)[:max])
}

// OnlyDigits strips every non-digit, e.g. for CNPJ/CPF documents.
func OnlyDigits(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseInt reads an integer from a JSON number, native int, float with no
// fraction, or a digit string (surrounding whitespace ignored).
func ParseInt(raw any) (int64, bool) {
	switch v := raw.(type) {
	case nil:
		return 0, false
	case int:
		return int64(v), true
	case int64:
		return v, true
	case int32:
		return int64(v), true
	case float64:
		if v != float64(int64(v)) {
			return 0, false
		}
		return int64(v), true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
		f, err := v.Float64()
		if err != nil || f != float64(int64(f)) {
			return 0, false
		}
		return int64(f), true
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		return n, err == nil
	default:
		return 0, false
	}
}
