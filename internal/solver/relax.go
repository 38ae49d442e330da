package solver

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize/convex/lp"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

// simplexTolerance bounds the reduced cost accepted as optimal.
const simplexTolerance = 1e-9

// stageSlack is the relative amount a fixed tier may give back in later
// stages, so float noise from one stage cannot make the next infeasible.
const stageSlack = 1e-9

var errRelaxationInfeasible = errors.New("relaxation infeasible")

// relax solves the continuous weighted program with gonum's simplex and
// returns the amounts in whole currency units.
func relax(sys *system, w model.PriorityWeights) ([4]float64, error) {
	var objective [4]float64
	for _, t := range model.OrderTypes {
		objective[t] = float64(w.Get(t))
	}
	return sys.simplex(objective, [4]float64{}, [4]bool{})
}

// relaxStaged maximizes one tier at a time in priority order. Each optimum is
// kept as a lower bound while the tiers below it are solved, so no amount of
// lower-tier volume can buy back a unit of a higher tier.
func relaxStaged(sys *system, priority []model.OrderType) ([4]float64, error) {
	var out, floor [4]float64
	var pinned [4]bool
	solved := false
	for _, t := range priority {
		if sys.orders[t].Sign() == 0 {
			continue
		}
		var objective [4]float64
		objective[t] = 1
		x, err := sys.simplex(objective, floor, pinned)
		if err != nil && solved {
			// the exact settle pass finishes from the last good stage
			break
		}
		if err != nil {
			return out, err
		}
		out, solved = x, true

		// a tier filled to its order is pinned exactly
		v := x[t]
		if v >= (1-stageSlack)*calculator.ToFloatUnits(sys.orders[t], calculator.WadBig()) {
			pinned[t] = true
			continue
		}
		floor[t] = math.Max(0, v-stageSlack*math.Max(1, v))
	}
	return out, nil
}

// simplex maximizes objective·x over the relaxed rows, with floor as a lower
// bound per order type. Pinned order types are fixed at their full order and
// moved into the row bounds exactly; order types with nothing pending are fixed
// at zero. Neither enters the program, nor do rows no remaining variable touches.
func (sys *system) simplex(objective, floor [4]float64, pinned [4]bool) ([4]float64, error) {
	var out [4]float64
	wad := calculator.WadBig()

	var active []model.OrderType
	for _, t := range model.OrderTypes {
		switch {
		case pinned[t]:
			out[t] = calculator.ToFloatUnits(sys.orders[t], wad)
		case sys.orders[t].Sign() > 0:
			active = append(active, t)
		}
	}

	var rows []constraint
	for _, r := range sys.rows {
		r.bound = new(big.Int).Set(r.bound)
		for _, t := range model.OrderTypes {
			if pinned[t] {
				r.bound.Sub(r.bound, new(big.Int).Mul(r.coef[t], sys.orders[t]))
			}
		}
		touched := false
		for _, t := range active {
			if r.coef[t].Sign() != 0 {
				touched = true
				break
			}
		}
		if touched {
			rows = append(rows, r)
			continue
		}
		if r.bound.Sign() < 0 {
			return out, errRelaxationInfeasible
		}
	}
	if len(active) == 0 {
		return out, nil
	}

	var floored []int
	for j, t := range active {
		if floor[t] > 0 {
			floored = append(floored, j)
		}
	}

	nx := len(active)
	m := len(rows) + nx + len(floored)
	n := nx + m

	A := mat.NewDense(m, n, nil)
	b := make([]float64, m)
	c := make([]float64, n)

	for j, t := range active {
		c[j] = -objective[t]
	}
	for i, r := range rows {
		sign := 1.0
		denom := new(big.Int).Mul(r.scale, wad)
		bound := calculator.ToFloatUnits(r.bound, denom)
		if r.bound.Sign() < 0 {
			sign = -1
		}
		for j, t := range active {
			A.Set(i, j, sign*calculator.ToFloatUnits(r.coef[t], r.scale))
		}
		A.Set(i, nx+i, sign)
		b[i] = sign * bound
	}
	for j, t := range active {
		i := len(rows) + j
		A.Set(i, j, 1)
		A.Set(i, nx+i, 1)
		b[i] = calculator.ToFloatUnits(sys.orders[t], wad)
	}
	// x - s = floor
	for k, j := range floored {
		i := len(rows) + nx + k
		A.Set(i, j, 1)
		A.Set(i, nx+i, -1)
		b[i] = floor[active[j]]
	}

	_, x, err := lp.Simplex(c, A, b, simplexTolerance, nil)
	if err != nil {
		if errors.Is(err, lp.ErrInfeasible) {
			return out, errRelaxationInfeasible
		}
		return out, fmt.Errorf("%w: %v", ErrRelaxation, err)
	}
	for j, t := range active {
		out[t] = x[j]
	}
	return out, nil
}
