package solver

import (
	"math/big"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

// constraint is one exact linear inequality  Σ coef[t]·x[t] <= bound  over the
// four order types. Ratio rows are multiplied through by RAY so that no
// division happens inside the program; scale records that factor.
type constraint struct {
	name  string
	coef  [4]*big.Int
	bound *big.Int
	scale *big.Int
}

type system struct {
	rows   []constraint
	orders [4]*big.Int
}

// reserveDelta is the change in reserve per unit of t.
func reserveDelta(t model.OrderType) int64 {
	if t.IsRedeem() {
		return -1
	}
	return 1
}

// seniorDelta is the change in senior asset value per unit of t.
func seniorDelta(t model.OrderType) int64 {
	if !t.IsSenior() {
		return 0
	}
	return reserveDelta(t)
}

// combine returns a·reserveDelta + b·seniorDelta.
func combine(a, b *big.Int) [4]*big.Int {
	var out [4]*big.Int
	for _, t := range model.OrderTypes {
		v := new(big.Int).Mul(a, big.NewInt(reserveDelta(t)))
		v.Add(v, new(big.Int).Mul(b, big.NewInt(seniorDelta(t))))
		out[t] = v
	}
	return out
}

func newSystem(state model.PoolState, orders model.OrderSnapshot) *system {
	one := big.NewInt(1)
	zero := big.NewInt(0)
	ray := calculator.RayBig()

	reserve := state.Reserve.ToBig()
	maxReserve := state.MaxReserve.ToBig()
	senior := state.SeniorAssetValue.ToBig()
	poolValue := calculator.PoolValue(state.NetAssetValue, state.Reserve)
	minRatio := state.MinJuniorRatio.ToBig()
	maxRatio := state.MaxJuniorRatio.ToBig()

	// (RAY - ratio) weights the total pool value, RAY weights the senior value:
	// junior share >= ratio  <=>  (RAY-ratio)·total - RAY·senior >= 0
	minJunior := new(big.Int).Sub(ray, minRatio)
	maxJunior := new(big.Int).Sub(ray, maxRatio)

	minBound := new(big.Int).Mul(minJunior, poolValue)
	minBound.Sub(minBound, new(big.Int).Mul(ray, senior))

	maxBound := new(big.Int).Mul(ray, senior)
	maxBound.Sub(maxBound, new(big.Int).Mul(maxJunior, poolValue))

	sys := &system{
		rows: []constraint{
			{
				name:  "liquidity_min",
				coef:  combine(new(big.Int).Neg(one), zero),
				bound: new(big.Int).Set(reserve),
				scale: one,
			},
			{
				name:  "liquidity_max",
				coef:  combine(one, zero),
				bound: new(big.Int).Sub(maxReserve, reserve),
				scale: one,
			},
			{
				name:  "junior_ratio_min",
				coef:  combine(new(big.Int).Neg(minJunior), ray),
				bound: minBound,
				scale: ray,
			},
			{
				name:  "junior_ratio_max",
				coef:  combine(maxJunior, new(big.Int).Neg(ray)),
				bound: maxBound,
				scale: ray,
			},
		},
	}
	for _, t := range model.OrderTypes {
		v := orders.Get(t)
		sys.orders[t] = v.ToBig()
	}
	return sys
}

func (s *system) lhs(r constraint, x [4]*big.Int) *big.Int {
	sum := new(big.Int)
	for _, t := range model.OrderTypes {
		sum.Add(sum, new(big.Int).Mul(r.coef[t], x[t]))
	}
	return sum
}

// violations returns the names of the rows x does not satisfy, including the
// per-variable bounds.
func (s *system) violations(x [4]*big.Int) []string {
	var out []string
	for _, t := range model.OrderTypes {
		if x[t].Sign() < 0 || x[t].Cmp(s.orders[t]) > 0 {
			out = append(out, "bound_"+t.String())
		}
	}
	for _, r := range s.rows {
		if s.lhs(r, x).Cmp(r.bound) > 0 {
			out = append(out, r.name)
		}
	}
	return out
}

func (s *system) satisfied(x [4]*big.Int) bool {
	return len(s.violations(x)) == 0
}

// interval returns the exact range of x[t] that satisfies every row and the
// variable bounds while all other variables keep their current values.
func (s *system) interval(t model.OrderType, x [4]*big.Int) (lo, hi *big.Int, ok bool) {
	lo = big.NewInt(0)
	hi = new(big.Int).Set(s.orders[t])
	for _, r := range s.rows {
		rest := new(big.Int).Set(r.bound)
		for _, u := range model.OrderTypes {
			if u != t {
				rest.Sub(rest, new(big.Int).Mul(r.coef[u], x[u]))
			}
		}
		c := r.coef[t]
		switch c.Sign() {
		case 0:
			if rest.Sign() < 0 {
				return lo, hi, false
			}
		case 1:
			if q := floorDiv(rest, c); q.Cmp(hi) < 0 {
				hi = q
			}
		case -1:
			if q := ceilDiv(rest, c); q.Cmp(lo) > 0 {
				lo = q
			}
		}
	}
	return lo, hi, lo.Cmp(hi) <= 0
}

// floorDiv returns floor(a/b) for b > 0.
func floorDiv(a, b *big.Int) *big.Int {
	return new(big.Int).Div(a, b)
}

// ceilDiv returns ceil(a/b) for b < 0.
func ceilDiv(a, b *big.Int) *big.Int {
	q := new(big.Int).Div(a, new(big.Int).Neg(b))
	return q.Neg(q)
}

func toSnapshot(x [4]*big.Int) model.OrderSnapshot {
	var out model.OrderSnapshot
	for _, t := range model.OrderTypes {
		v, _ := calculator.FromBig(x[t])
		out.Set(t, v)
	}
	return out
}
