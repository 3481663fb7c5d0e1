// Package money converts between provider amounts and integer minor units.
package money

import (
	"fmt"
	"math"
	"strings"

	"golang.org/x/text/currency"
)

// Scale returns the number of minor-unit digits for an ISO 4217 code.
// Unknown or empty codes use 2.
func Scale(code string) int {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return scale
}

// ToMinorUnits converts a major-unit amount such as 29.99 to 2999.
func ToMinorUnits(amount float64, code string) int64 {
	return int64(math.Round(amount * math.Pow10(Scale(code))))
}

// NormalizeCode upper-cases a currency code, returning "" for codes that are
// not ISO 4217.
func NormalizeCode(code string) string {
	unit, err := currency.ParseISO(strings.TrimSpace(code))
	if err != nil {
		return ""
	}
	return unit.String()
}

func Format(minorUnits int64, code string) string {
	scale := Scale(code)
	amount := float64(minorUnits) / math.Pow10(scale)
	upper := strings.ToUpper(code)

	switch upper {
	case "USD":
		return fmt.Sprintf("$%.*f", scale, amount)
	case "EUR":
		return fmt.Sprintf("€%.*f", scale, amount)
	case "GBP":
		return fmt.Sprintf("£%.*f", scale, amount)
	case "":
		return fmt.Sprintf("%.*f", scale, amount)
	default:
		return fmt.Sprintf("%.*f %s", scale, amount, upper)
	}
}
