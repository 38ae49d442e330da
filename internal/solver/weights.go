package solver

import (
	"fmt"
	"math/big"

	"EpochKeeper/internal/model"
)

// DefaultMinWeightGap is the smallest accepted multiplicative gap between two
// consecutive priority tiers.
const DefaultMinWeightGap = 10

// DefaultWeights is the reference priority configuration: redemptions before
// investments, senior before junior within redemptions, junior before senior
// within investments.
var DefaultWeights = model.PriorityWeights{
	SeniorRedeem: 1_000_000,
	JuniorRedeem: 100_000,
	JuniorInvest: 10_000,
	SeniorInvest: 1_000,
}

// ValidateWeights checks that every weight is positive and that consecutive
// tiers are separated by at least minGap.
func ValidateWeights(w model.PriorityWeights, minGap uint64) error {
	if minGap < 1 {
		return fmt.Errorf("%w: min gap must be at least 1", ErrWeightGap)
	}
	for _, t := range model.OrderTypes {
		if w.Get(t) == 0 {
			return fmt.Errorf("%w: weight for %s must be positive", ErrWeightGap, t)
		}
	}
	ordered := w.Ordered()
	for i := 0; i+1 < len(ordered); i++ {
		hi, lo := w.Get(ordered[i]), w.Get(ordered[i+1])
		if hi == lo {
			return fmt.Errorf("%w: %s and %s share weight %d", ErrWeightGap, ordered[i], ordered[i+1], hi)
		}
		// hi < minGap*lo, computed without overflow
		need := new(big.Int).Mul(new(big.Int).SetUint64(lo), new(big.Int).SetUint64(minGap))
		if new(big.Int).SetUint64(hi).Cmp(need) < 0 {
			return fmt.Errorf("%w: %s (%d) is less than %dx %s (%d)", ErrWeightGap, ordered[i], hi, minGap, ordered[i+1], lo)
		}
	}
	return nil
}

// exchangeSafe reports whether the weighted objective keeps every tier ahead
// of the ones below it: it must never give up a unit of a higher tier to fund
// more than its weight in lower-tier volume. Two order types compete on a row
// when both consume its capacity.
func exchangeSafe(sys *system, w model.PriorityWeights) bool {
	ordered := w.Ordered()
	for _, r := range sys.rows {
		for i, hi := range ordered {
			if sys.orders[hi].Sign() == 0 || r.coef[hi].Sign() <= 0 {
				continue
			}
			for _, lo := range ordered[i+1:] {
				if sys.orders[lo].Sign() == 0 || r.coef[lo].Sign() <= 0 {
					continue
				}
				lhs := new(big.Int).Mul(new(big.Int).SetUint64(w.Get(hi)), r.coef[lo])
				rhs := new(big.Int).Mul(new(big.Int).SetUint64(w.Get(lo)), r.coef[hi])
				if lhs.Cmp(rhs) < 0 {
					return false
				}
			}
		}
	}
	return true
}
