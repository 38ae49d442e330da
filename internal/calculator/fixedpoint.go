package calculator

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Fixed-point scales used for every persisted or compared value.
const (
	WadDecimals = 18
	RayDecimals = 27
)

var (
	wadBig = mustBigInt("1000000000000000000")          // 1e18 currency precision
	rayBig = mustBigInt("1000000000000000000000000000") // 1e27 ratio precision

	// WAD is one currency unit in base units.
	WAD = *uint256.MustFromBig(wadBig)
	// RAY is a ratio of exactly one.
	RAY = *uint256.MustFromBig(rayBig)
)

// ErrNegativeAmount is returned when a negative value is parsed into an unsigned fixed-point amount.
var ErrNegativeAmount = errors.New("calculator: negative amount")

// ErrOverflow is returned when a value does not fit into 256 bits.
var ErrOverflow = errors.New("calculator: value overflows 256 bits")

func mustBigInt(value string) *big.Int {
	v, ok := new(big.Int).SetString(value, 10)
	if !ok {
		panic("invalid big integer constant")
	}
	return v
}

// WadBig returns a fresh copy of WAD as a big.Int.
func WadBig() *big.Int { return new(big.Int).Set(wadBig) }

// RayBig returns a fresh copy of RAY as a big.Int.
func RayBig() *big.Int { return new(big.Int).Set(rayBig) }

// Wad returns n whole currency units in base units.
func Wad(n uint64) uint256.Int {
	var z uint256.Int
	z.Mul(uint256.NewInt(n), &WAD)
	return z
}

// ParseWad parses a decimal currency string such as "800.5" into base units.
// Digits below the base unit are floored.
func ParseWad(s string) (uint256.Int, error) {
	return parseScaled(s, WadDecimals)
}

// ParseRay parses a decimal ratio string such as "0.15" into RAY units.
func ParseRay(s string) (uint256.Int, error) {
	return parseScaled(s, RayDecimals)
}

// ParseInt parses a base-10 integer string that is already in base units.
func ParseInt(s string) (uint256.Int, error) {
	if s == "" {
		return uint256.Int{}, nil
	}
	if len(s) > 0 && s[0] == '-' {
		return uint256.Int{}, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	v, err := uint256.FromDecimal(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse integer %q: %w", s, err)
	}
	return *v, nil
}

func parseScaled(s string, decimals int32) (uint256.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return uint256.Int{}, fmt.Errorf("parse decimal %q: %w", s, err)
	}
	if d.IsNegative() {
		return uint256.Int{}, fmt.Errorf("%w: %s", ErrNegativeAmount, s)
	}
	return FromBig(d.Shift(decimals).Floor().BigInt())
}

// FromBig converts a non-negative big.Int into a uint256 value.
func FromBig(b *big.Int) (uint256.Int, error) {
	if b == nil {
		return uint256.Int{}, nil
	}
	if b.Sign() < 0 {
		return uint256.Int{}, fmt.Errorf("%w: %s", ErrNegativeAmount, b.String())
	}
	v, overflow := uint256.FromBig(b)
	if overflow {
		return uint256.Int{}, ErrOverflow
	}
	return *v, nil
}

// FormatWad renders base units as a human readable currency amount.
func FormatWad(x uint256.Int) string {
	return decimal.NewFromBigInt(x.ToBig(), -WadDecimals).String()
}

// FormatRay renders a RAY ratio as a decimal fraction.
func FormatRay(x uint256.Int) string {
	return decimal.NewFromBigInt(x.ToBig(), -RayDecimals).String()
}

// FormatRayPercent renders a RAY ratio as a percentage with two decimals.
func FormatRayPercent(x uint256.Int) string {
	return decimal.NewFromBigInt(x.ToBig(), -RayDecimals).Shift(2).StringFixed(2) + "%"
}

// RayDiv returns a/b as a RAY ratio, rounding down. Division by zero yields zero.
func RayDiv(a, b *big.Int) *big.Int {
	if a == nil || b == nil || b.Sign() == 0 {
		return big.NewInt(0)
	}
	numerator := new(big.Int).Mul(a, rayBig)
	return numerator.Quo(numerator, b)
}

// ToFloatUnits converts x/scale into a float64. It is only used to feed the LP
// relaxation; nothing computed from it is persisted without an exact re-check.
func ToFloatUnits(x, scale *big.Int) float64 {
	if x == nil || scale == nil || scale.Sign() == 0 {
		return 0
	}
	f, _ := new(big.Rat).SetFrac(x, scale).Float64()
	return f
}

// FloorFromFloatUnits converts f·scale into an integer, always rounding down.
// NaN, infinities and negative values collapse to zero.
func FloorFromFloatUnits(f float64, scale *big.Int) *big.Int {
	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 || scale == nil {
		return big.NewInt(0)
	}
	x := new(big.Float).SetPrec(256).SetFloat64(f)
	s := new(big.Float).SetPrec(256).SetInt(scale)
	product := new(big.Float).SetPrec(256).Mul(x, s)
	out, _ := product.Int(nil)
	if out.Sign() < 0 {
		return big.NewInt(0)
	}
	return out
}
