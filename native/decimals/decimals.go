// Package decimals converts token amounts between their native precision and
// the 18-decimal base unit used for every cross-token comparison. Conversions
// never round up: scaling down truncates the remainder in favour of the vault.
package decimals

import (
	"math/big"

	"github.com/holiman/uint256"

	"mvault/native/errs"
)

// Base is the precision of the internal fixed-point representation.
const Base uint8 = 18

var (
	ErrNegative = errs.Validation("negative amount")
	ErrOverflow = errs.Validation("amount overflow")
)

// maxPow10 is the largest exponent whose power of ten fits in 256 bits.
const maxPow10 = 77

var pow10 [maxPow10 + 1]uint256.Int

func init() {
	pow10[0].SetUint64(1)
	ten := uint256.NewInt(10)
	for i := 1; i <= maxPow10; i++ {
		pow10[i].Mul(&pow10[i-1], ten)
	}
}

// ToBase18 scales amount expressed with the supplied decimals into base-18.
func ToBase18(amount *big.Int, decimals uint8) (*big.Int, error) {
	return Convert(amount, decimals, Base)
}

// FromBase18 scales a base-18 amount into the supplied precision.
func FromBase18(amount *big.Int, decimals uint8) (*big.Int, error) {
	return Convert(amount, Base, decimals)
}

// Convert rescales amount from one precision to another. Amounts must lie in
// the unsigned 256-bit domain and the result must fit it as well.
func Convert(amount *big.Int, from, to uint8) (*big.Int, error) {
	if amount == nil || amount.Sign() == 0 {
		return new(big.Int), nil
	}
	if amount.Sign() < 0 {
		return nil, ErrNegative
	}
	value, overflow := uint256.FromBig(amount)
	if overflow {
		return nil, ErrOverflow
	}
	switch {
	case from == to:
		return value.ToBig(), nil
	case from < to:
		exp := int(to - from)
		if exp > maxPow10 {
			return nil, ErrOverflow
		}
		scaled, overflow := new(uint256.Int).MulOverflow(value, &pow10[exp])
		if overflow {
			return nil, ErrOverflow
		}
		return scaled.ToBig(), nil
	default:
		exp := int(from - to)
		if exp > maxPow10 {
			// every 256-bit value is below 10^78
			return new(big.Int), nil
		}
		return new(uint256.Int).Div(value, &pow10[exp]).ToBig(), nil
	}
}

// Unit returns 10^decimals as a big integer.
func Unit(decimals uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
}

// One returns the base-18 representation of 1.
func One() *big.Int {
	return Unit(Base)
}

// MulDiv returns floor(x*y/denominator). A zero denominator yields zero.
func MulDiv(x, y, denominator *big.Int) *big.Int {
	if x == nil || y == nil || denominator == nil || denominator.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(x, y)
	return product.Quo(product, denominator)
}

// MulDivCeil returns ceil(x*y/denominator) for non-negative operands.
func MulDivCeil(x, y, denominator *big.Int) *big.Int {
	if x == nil || y == nil || denominator == nil || denominator.Sign() == 0 {
		return new(big.Int)
	}
	product := new(big.Int).Mul(x, y)
	quotient, remainder := new(big.Int).QuoRem(product, denominator, new(big.Int))
	if remainder.Sign() > 0 {
		quotient.Add(quotient, big.NewInt(1))
	}
	return quotient
}
