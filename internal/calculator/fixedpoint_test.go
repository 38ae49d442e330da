package calculator

import (
	"math/big"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWad(t *testing.T) {
	w := Wad(800)
	assert.Equal(t, "800000000000000000000", w.Dec())
	assert.Equal(t, "800", FormatWad(w))
}

func TestParseWad(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"0", "0"},
		{"1", "1000000000000000000"},
		{"800.5", "800500000000000000000"},
		{"0.000000000000000001", "1"},
		// sub-base-unit precision is floored
		{"0.0000000000000000019", "1"},
	}
	for _, tt := range tests {
		got, err := ParseWad(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got.Dec(), tt.in)
	}
}

func TestParseWad_Rejects(t *testing.T) {
	_, err := ParseWad("-1")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	_, err = ParseWad("abc")
	assert.Error(t, err)
}

func TestParseRay(t *testing.T) {
	r, err := ParseRay("0.15")
	require.NoError(t, err)
	assert.Equal(t, "150000000000000000000000000", r.Dec())
	assert.Equal(t, "15.00%", FormatRayPercent(r))
	assert.Equal(t, "0.15", FormatRay(r))
}

func TestParseInt(t *testing.T) {
	v, err := ParseInt("125000000000000000000")
	require.NoError(t, err)
	assert.True(t, v.Eq(ptr(Wad(125))))

	_, err = ParseInt("-5")
	assert.ErrorIs(t, err, ErrNegativeAmount)

	v, err = ParseInt("")
	require.NoError(t, err)
	assert.True(t, v.IsZero())
}

func TestFromBig(t *testing.T) {
	_, err := FromBig(big.NewInt(-1))
	assert.ErrorIs(t, err, ErrNegativeAmount)

	huge := new(big.Int).Lsh(big.NewInt(1), 256)
	_, err = FromBig(huge)
	assert.ErrorIs(t, err, ErrOverflow)
}

func TestRayDiv(t *testing.T) {
	half := new(big.Int).Quo(RayBig(), big.NewInt(2))
	assert.Equal(t, half.String(), RayDiv(big.NewInt(1), big.NewInt(2)).String())
	assert.Equal(t, "0", RayDiv(big.NewInt(1), big.NewInt(0)).String())
}

func TestFloorFromFloatUnits(t *testing.T) {
	w := Wad(125)
	assert.Equal(t, w.Dec(), FloorFromFloatUnits(125, WadBig()).String())
	// never rounds up
	got := FloorFromFloatUnits(124.99999999999999, WadBig())
	assert.Equal(t, -1, got.Cmp(WadBig().Mul(WadBig(), big.NewInt(125))))
	assert.Equal(t, "0", FloorFromFloatUnits(-3, WadBig()).String())
}

func TestToFloatUnits(t *testing.T) {
	w := Wad(200)
	assert.InDelta(t, 200.0, ToFloatUnits(w.ToBig(), WadBig()), 1e-12)
	assert.Equal(t, 0.0, ToFloatUnits(w.ToBig(), big.NewInt(0)))
}

func TestJuniorRatio(t *testing.T) {
	r := JuniorRatio(Wad(800), Wad(200), Wad(800))
	want, _ := ParseRay("0.2")
	assert.True(t, r.Eq(&want), r.Dec())

	empty := JuniorRatio(uint256.Int{}, uint256.Int{}, uint256.Int{})
	assert.True(t, empty.IsZero())
	// senior above pool value clamps to zero
	upsideDown := JuniorRatio(Wad(10), Wad(0), Wad(20))
	assert.True(t, upsideDown.IsZero())
}

func ptr(v uint256.Int) *uint256.Int { return &v }
