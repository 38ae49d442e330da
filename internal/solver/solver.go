// Package solver decides how much of each pending epoch order a pool can
// execute without breaking its liquidity and junior-ratio bounds.
//
// The continuous program is solved in floating point, but nothing leaves this
// package before it has been floored to base units and re-checked against the
// exact integer constraints: the solver always under-executes rather than
// over-executes.
package solver

import (
	"errors"
	"fmt"
	"math/big"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

var (
	// ErrInvalidState is returned for pool snapshots the solver refuses to interpret.
	ErrInvalidState = errors.New("solver: invalid pool state")
	// ErrWeightGap is returned for priority weights that are not strictly tiered.
	ErrWeightGap = errors.New("solver: priority weight gap too small")
	// ErrRelaxation is returned when the LP library fails for numerical reasons.
	ErrRelaxation = errors.New("solver: relaxation failed")
)

// Solver is stateless; a single value may be shared by any number of goroutines.
type Solver struct {
	MinWeightGap uint64
}

// New returns a solver enforcing the given tier gap. Zero selects the default.
func New(minWeightGap uint64) Solver {
	if minWeightGap == 0 {
		minWeightGap = DefaultMinWeightGap
	}
	return Solver{MinWeightGap: minWeightGap}
}

// Solve runs the default solver.
func Solve(state model.PoolState, orders model.OrderSnapshot, weights model.PriorityWeights) (model.AllocationResult, error) {
	return New(DefaultMinWeightGap).Solve(state, orders, weights)
}

// ValidateState rejects ratio bounds that are out of order or above one.
func ValidateState(state model.PoolState) error {
	if state.MinJuniorRatio.Gt(&state.MaxJuniorRatio) {
		return fmt.Errorf("%w: min junior ratio %s above max junior ratio %s", ErrInvalidState,
			calculator.FormatRay(state.MinJuniorRatio), calculator.FormatRay(state.MaxJuniorRatio))
	}
	if state.MaxJuniorRatio.Gt(&calculator.RAY) {
		return fmt.Errorf("%w: max junior ratio %s above one", ErrInvalidState, calculator.FormatRay(state.MaxJuniorRatio))
	}
	return nil
}

// Solve maps a pool snapshot and its pending orders to an executable
// allocation. An error is only returned for configuration problems or a
// numerical failure of the relaxation; infeasibility is reported through
// AllocationResult.IsFeasible together with the fallback amounts.
func (s Solver) Solve(state model.PoolState, orders model.OrderSnapshot, weights model.PriorityWeights) (model.AllocationResult, error) {
	if err := ValidateState(state); err != nil {
		return model.AllocationResult{}, err
	}
	if err := ValidateWeights(weights, s.MinWeightGap); err != nil {
		return model.AllocationResult{}, err
	}

	sys := newSystem(state, orders)
	if sys.satisfied(sys.orders) {
		return model.AllocationResult{IsFeasible: true, Executed: orders}, nil
	}
	// weights too close for this pool's rows cannot keep the tiers apart in a
	// single program, so the tiers are solved one after another instead
	var relaxed [4]float64
	var err error
	if exchangeSafe(sys, weights) {
		relaxed, err = relax(sys, weights)
	} else {
		relaxed, err = relaxStaged(sys, weights.Ordered())
	}
	if errors.Is(err, errRelaxationInfeasible) {
		return fallback(state, orders), nil
	}
	if err != nil {
		return model.AllocationResult{}, err
	}

	x, ok := sys.settle(relaxed, weights.Ordered())
	if !ok {
		return fallback(state, orders), nil
	}
	executed := toSnapshot(x)
	if !Project(state, executed).WithinBounds(state) {
		return model.AllocationResult{}, fmt.Errorf("%w: settled allocation breaks the pool bounds", ErrRelaxation)
	}
	return model.AllocationResult{IsFeasible: true, Executed: executed}, nil
}

// settle turns the continuous solution into base units. Every value is floored
// first; if rounding noise left a row violated, the lowest-priority variable
// that can absorb it is clamped into its exact feasible interval. Finally each
// variable, highest priority first, is raised to its exact maximum.
func (s *system) settle(relaxed [4]float64, priority []model.OrderType) ([4]*big.Int, bool) {
	wad := calculator.WadBig()
	var x [4]*big.Int
	for _, t := range model.OrderTypes {
		v := calculator.FloorFromFloatUnits(relaxed[t], wad)
		if v.Cmp(s.orders[t]) > 0 {
			v.Set(s.orders[t])
		}
		x[t] = v
	}

	if !s.satisfied(x) {
		repaired := false
		for i := len(priority) - 1; i >= 0 && !repaired; i-- {
			t := priority[i]
			lo, hi, ok := s.interval(t, x)
			if !ok {
				continue
			}
			if x[t].Cmp(hi) > 0 {
				x[t] = hi
			} else if x[t].Cmp(lo) < 0 {
				x[t] = lo
			}
			repaired = s.satisfied(x)
		}
		if !repaired {
			return x, false
		}
	}

	// a raised lower tier can loosen a row for a higher one, so repeat until stable
	for round := 0; round < 2*len(priority); round++ {
		changed := false
		for _, t := range priority {
			if _, hi, ok := s.interval(t, x); ok && hi.Cmp(x[t]) > 0 {
				x[t] = hi
				changed = true
			}
		}
		if !changed {
			break
		}
	}
	return x, s.satisfied(x)
}
