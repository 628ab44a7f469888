package decimals

import (
	"math/big"
	"strings"

	"mvault/native/errs"
)

var ErrInvalidUnits = errs.Validation("invalid decimal amount")

// ParseUnits reads a non-negative decimal string such as "1.5" into an
// integer with the supplied precision. Inputs with more fractional digits
// than decimals are rejected rather than rounded.
func ParseUnits(raw string, decimals uint8) (*big.Int, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || strings.HasPrefix(trimmed, "-") || strings.HasPrefix(trimmed, "+") {
		return nil, ErrInvalidUnits
	}
	whole, frac, hasDot := strings.Cut(trimmed, ".")
	if hasDot && frac == "" || whole == "" && frac == "" {
		return nil, ErrInvalidUnits
	}
	if len(frac) > int(decimals) {
		return nil, ErrInvalidUnits
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, ErrInvalidUnits
		}
	}
	value, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, ErrInvalidUnits
	}
	return value, nil
}

// FormatUnits renders an integer with the supplied precision as a decimal
// string without trailing zeros.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	sign := ""
	abs := new(big.Int).Set(amount)
	if abs.Sign() < 0 {
		sign = "-"
		abs.Neg(abs)
	}
	whole, frac := new(big.Int).QuoRem(abs, Unit(decimals), new(big.Int))
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := frac.String()
	fracStr = strings.Repeat("0", int(decimals)-len(fracStr)) + fracStr
	return sign + whole.String() + "." + strings.TrimRight(fracStr, "0")
}
