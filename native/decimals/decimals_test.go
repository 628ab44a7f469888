package decimals

import (
	"errors"
	"math/big"
	"testing"

	"mvault/native/errs"
)

func mustBig(t *testing.T, raw string) *big.Int {
	t.Helper()
	value, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		t.Fatalf("invalid big integer %q", raw)
	}
	return value
}

func TestToBase18(t *testing.T) {
	cases := []struct {
		name     string
		amount   string
		decimals uint8
		want     string
	}{
		{name: "usdc six decimals", amount: "1000000", decimals: 6, want: "1000000000000000000"},
		{name: "identity", amount: "123456789", decimals: 18, want: "123456789"},
		{name: "truncates higher precision", amount: "1999", decimals: 21, want: "1"},
		{name: "zero", amount: "0", decimals: 2, want: "0"},
		{name: "zero decimals", amount: "5", decimals: 0, want: "5000000000000000000"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ToBase18(mustBig(t, tc.amount), tc.decimals)
			if err != nil {
				t.Fatalf("to base18: %v", err)
			}
			if got.String() != tc.want {
				t.Fatalf("got %s want %s", got, tc.want)
			}
		})
	}
}

func TestFromBase18Truncates(t *testing.T) {
	got, err := FromBase18(mustBig(t, "1999999999999"), 6)
	if err != nil {
		t.Fatalf("from base18: %v", err)
	}
	if got.String() != "1" {
		t.Fatalf("expected truncation to 1, got %s", got)
	}
	got, err = FromBase18(mustBig(t, "999999999999"), 6)
	if err != nil {
		t.Fatalf("from base18: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected dust to truncate to zero, got %s", got)
	}
}

func TestRoundTripExactAmounts(t *testing.T) {
	for _, d := range []uint8{0, 6, 8, 9, 18, 24, 30} {
		native := Unit(d)
		native.Mul(native, big.NewInt(42))
		base, err := ToBase18(native, d)
		if err != nil {
			t.Fatalf("decimals %d: to base18: %v", d, err)
		}
		back, err := FromBase18(base, d)
		if err != nil {
			t.Fatalf("decimals %d: from base18: %v", d, err)
		}
		if back.Cmp(native) != 0 {
			t.Fatalf("decimals %d: round trip mismatch %s != %s", d, back, native)
		}
	}
	one := big.NewInt(1)
	base, err := ToBase18(Unit(9), 9)
	if err != nil {
		t.Fatalf("to base18: %v", err)
	}
	if base.Cmp(One()) != 0 {
		t.Fatalf("one unit at nine decimals should be 1e18, got %s", base)
	}
	back, err := FromBase18(base, 9)
	if err != nil {
		t.Fatalf("from base18: %v", err)
	}
	if back.Cmp(new(big.Int).Mul(one, Unit(9))) != 0 {
		t.Fatalf("expected 1e9 native units, got %s", back)
	}
}

func TestConvertBounds(t *testing.T) {
	if _, err := ToBase18(big.NewInt(-1), 6); !errors.Is(err, ErrNegative) {
		t.Fatalf("expected negative error, got %v", err)
	}
	huge := new(big.Int).Lsh(big.NewInt(1), 255)
	if _, err := ToBase18(huge, 0); !errors.Is(err, ErrOverflow) {
		t.Fatalf("expected overflow, got %v", err)
	}
	if _, err := ToBase18(new(big.Int).Lsh(big.NewInt(1), 256), 18); !errors.Is(err, errs.ErrValidation) {
		t.Fatalf("expected validation kind for values above 2^256, got %v", err)
	}
	got, err := Convert(huge, 200, 0)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if got.Sign() != 0 {
		t.Fatalf("expected zero after extreme down-scaling, got %s", got)
	}
}

func TestMulDiv(t *testing.T) {
	if got := MulDiv(big.NewInt(10), big.NewInt(3), big.NewInt(4)); got.Int64() != 7 {
		t.Fatalf("floor mul div: got %s", got)
	}
	if got := MulDivCeil(big.NewInt(10), big.NewInt(3), big.NewInt(4)); got.Int64() != 8 {
		t.Fatalf("ceil mul div: got %s", got)
	}
	if got := MulDivCeil(big.NewInt(8), big.NewInt(2), big.NewInt(4)); got.Int64() != 4 {
		t.Fatalf("exact ceil mul div: got %s", got)
	}
	if got := MulDiv(big.NewInt(1), big.NewInt(1), big.NewInt(0)); got.Sign() != 0 {
		t.Fatalf("zero denominator should yield zero")
	}
}
