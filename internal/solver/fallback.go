package solver

import (
	"github.com/holiman/uint256"

	"EpochKeeper/internal/model"
)

// fallback picks the documented policy for a pool outside its risk-buffer
// bounds. With the reserve at or above its ceiling only redemptions are
// executed, senior first, capped by what the reserve holds. Otherwise the
// junior ratio itself is broken and nothing is executed; the caller must
// escalate to governance.
func fallback(state model.PoolState, orders model.OrderSnapshot) model.AllocationResult {
	if state.Reserve.Cmp(&state.MaxReserve) >= 0 {
		return drainDown(state.Reserve, orders)
	}
	return model.AllocationResult{IsFeasible: false, Fallback: model.FallbackHold}
}

func drainDown(reserve uint256.Int, orders model.OrderSnapshot) model.AllocationResult {
	var executed model.OrderSnapshot

	senior := minInt(orders.SeniorRedeem, reserve)
	var left uint256.Int
	left.Sub(&reserve, &senior)
	junior := minInt(orders.JuniorRedeem, left)

	executed.SeniorRedeem = senior
	executed.JuniorRedeem = junior
	return model.AllocationResult{IsFeasible: false, Executed: executed, Fallback: model.FallbackDrainDown}
}

func minInt(a, b uint256.Int) uint256.Int {
	if a.Lt(&b) {
		return a
	}
	return b
}
