package db

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// numArg passes a decimal as text so both the extended protocol and COPY can
// coerce it into numeric.
func numArg(d *decimal.Decimal) any {
	if d == nil {
		return nil
	}
	return d.String()
}

// numScan converts a numeric column selected as ::text.
func numScan(s *string) *decimal.Decimal {
	if s == nil {
		return nil
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &d
}

// jsonArg keeps empty payloads as NULL.
func jsonArg(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}

func textArg(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
