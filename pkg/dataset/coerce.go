package dataset

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// DateLayout is the canonical on-disk date format.
const DateLayout = "2006-01-02"

var dateLayouts = []string{
	DateLayout,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006/01/02",
	"20060102",
}

// ParseDate parses a date cell and normalises it to UTC midnight. Blank and
// unparseable cells report ok=false.
func ParseDate(s string) (t time.Time, ok bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if parsed, err := time.Parse(layout, s); err == nil {
			y, m, d := parsed.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

// FormatDate renders t as YYYY-MM-DD, or "" for the zero time.
func FormatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(DateLayout)
}

// NormalizeDate rewrites a date cell in the canonical layout. Unparseable
// values become blank.
func NormalizeDate(s string) string {
	t, ok := ParseDate(s)
	if !ok {
		return ""
	}
	return FormatDate(t)
}

// DaysBetween returns the whole days from a to b. Spans beyond the range of
// time.Duration are exact.
func DaysBetween(a, b time.Time) int {
	return int((b.Unix() - a.Unix()) / 86400)
}

// ParseDecimal parses a numeric cell. Blank cells report ok=false with no
// error; non-blank cells that are not numbers are an error.
func ParseDecimal(s string) (d decimal.Decimal, ok bool, err error) {
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return decimal.Zero, false, nil
	}
	d, err = decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("not a number: %q", s)
	}
	return d, true, nil
}

// NormalizeNumber keeps a numeric cell as written when it parses and blanks
// it otherwise.
func NormalizeNumber(s string) string {
	s = strings.TrimSpace(s)
	if _, ok, err := ParseDecimal(s); err != nil || !ok {
		return ""
	}
	return s
}

// ParseFlag reads a boolean-ish cell: 1, 1.0, true, yes.
func ParseFlag(s string) bool {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "1.0", "TRUE", "T", "YES", "Y":
		return true
	}
	return false
}

// FormatFlag renders an allocation flag as 1 or 0.
func FormatFlag(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// FormatBool renders a ledger boolean as TRUE or FALSE.
func FormatBool(b bool) string {
	if b {
		return "TRUE"
	}
	return "FALSE"
}

// FormatMoney renders an amount with two decimals.
func FormatMoney(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// FormatNullMoney renders an optional amount, blank when unset.
func FormatNullMoney(d decimal.NullDecimal) string {
	if !d.Valid {
		return ""
	}
	return d.Decimal.StringFixed(2)
}
