package calculator

import (
	"math/big"

	"github.com/holiman/uint256"
)

// PoolValue returns netAssetValue + reserve.
func PoolValue(nav, reserve uint256.Int) *big.Int {
	return new(big.Int).Add(nav.ToBig(), reserve.ToBig())
}

// JuniorValue returns the part of the pool value not attributable to the senior
// tranche. A senior value above the pool value yields zero.
func JuniorValue(nav, reserve, senior uint256.Int) *big.Int {
	junior := PoolValue(nav, reserve)
	junior.Sub(junior, senior.ToBig())
	if junior.Sign() < 0 {
		return big.NewInt(0)
	}
	return junior
}

// JuniorRatio returns the junior share of nav+reserve as a RAY ratio, rounded
// down. An empty pool reports a zero ratio.
func JuniorRatio(nav, reserve, senior uint256.Int) uint256.Int {
	total := PoolValue(nav, reserve)
	if total.Sign() == 0 {
		return uint256.Int{}
	}
	ratio := RayDiv(JuniorValue(nav, reserve, senior), total)
	if ratio.Cmp(rayBig) > 0 {
		ratio.Set(rayBig)
	}
	out, _ := FromBig(ratio)
	return out
}

// JuniorRatioBig computes the junior share for already-resolved post-execution
// values. total and senior may be any sign; a non-positive total yields zero.
func JuniorRatioBig(total, senior *big.Int) *big.Int {
	if total == nil || total.Sign() <= 0 {
		return big.NewInt(0)
	}
	junior := new(big.Int).Sub(total, senior)
	if junior.Sign() < 0 {
		return big.NewInt(0)
	}
	return RayDiv(junior, total)
}
