package solver

import (
	"math/big"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

// Projection is the exact pool picture after an allocation is executed.
type Projection struct {
	Reserve          *big.Int
	SeniorAssetValue *big.Int
	PoolValue        *big.Int
	JuniorRatio      *big.Int
}

// Project applies executed amounts to a pool snapshot without touching the
// ledger. Solve checks every feasible result against it before returning.
func Project(state model.PoolState, executed model.OrderSnapshot) Projection {
	reserve := state.Reserve.ToBig()
	senior := state.SeniorAssetValue.ToBig()
	for _, t := range model.OrderTypes {
		v := executed.Get(t)
		signed := new(big.Int).Mul(v.ToBig(), big.NewInt(reserveDelta(t)))
		reserve.Add(reserve, signed)
		if t.IsSenior() {
			senior.Add(senior, signed)
		}
	}

	total := new(big.Int).Add(state.NetAssetValue.ToBig(), reserve)
	return Projection{
		Reserve:          reserve,
		SeniorAssetValue: senior,
		PoolValue:        total,
		JuniorRatio:      calculator.JuniorRatioBig(total, senior),
	}
}

// WithinBounds reports whether the projection honours every pool constraint.
func (p Projection) WithinBounds(state model.PoolState) bool {
	if p.Reserve.Sign() < 0 || p.Reserve.Cmp(state.MaxReserve.ToBig()) > 0 {
		return false
	}
	// compare junior share exactly: (total-senior)·RAY against ratio·total
	junior := new(big.Int).Sub(p.PoolValue, p.SeniorAssetValue)
	junior.Mul(junior, calculator.RayBig())
	low := new(big.Int).Mul(state.MinJuniorRatio.ToBig(), p.PoolValue)
	high := new(big.Int).Mul(state.MaxJuniorRatio.ToBig(), p.PoolValue)
	return junior.Cmp(low) >= 0 && junior.Cmp(high) <= 0
}
