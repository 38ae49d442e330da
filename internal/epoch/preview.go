package epoch

import (
	"context"
	"fmt"

	"EpochKeeper/internal/model"
	"EpochKeeper/internal/solver"
)

// Preview is what closing the current epoch would do right now.
type Preview struct {
	Pool       model.Pool
	Epoch      model.EpochRecord
	State      model.PoolState
	Orders     model.OrderSnapshot
	Result     model.AllocationResult
	Projection solver.Projection
	Halt       *Halt
}

// Preview runs the solver on current ledger state without taking the pool
// lock or submitting anything.
func (s *Settler) Preview(ctx context.Context, pool model.Pool) (Preview, error) {
	p := Preview{Pool: pool}
	if h, ok := s.Halts.Get(pool.ID); ok {
		p.Halt = &h
	}

	var err error
	if p.Epoch, err = s.Ledger.ReadEpochRecord(ctx, pool.ID); err != nil {
		return p, fmt.Errorf("read epoch: %w", err)
	}
	if p.State, err = s.Ledger.ReadPoolState(ctx, pool.ID); err != nil {
		return p, fmt.Errorf("read pool state: %w", err)
	}
	if p.Orders, err = s.Ledger.ReadOrderSnapshot(ctx, pool.ID); err != nil {
		return p, fmt.Errorf("read orders: %w", err)
	}
	if p.Result, err = s.solve(pool, p.State, p.Orders); err != nil {
		return p, fmt.Errorf("solve: %w", err)
	}
	p.Projection = solver.Project(p.State, p.Result.Executed)
	return p, nil
}
