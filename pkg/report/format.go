// Package report renders period results for people: spreadsheets, archives
// and display strings.
package report

import (
	"strings"

	"github.com/shopspring/decimal"
)

// FormatAmount renders d with two decimals and a space between thousands,
// e.g. "1 234.56".
func FormatAmount(d decimal.Decimal) string {
	s := d.StringFixed(2)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteByte(' ')
		}
		b.WriteRune(r)
	}
	return sign + b.String() + "." + frac
}

// FormatPercent renders a percentage with two decimals, e.g. "12.34%".
func FormatPercent(d decimal.Decimal) string {
	return d.StringFixed(2) + "%"
}
