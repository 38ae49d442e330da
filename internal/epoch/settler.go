// Package epoch drives a pool's epoch through close, solution, challenge and
// execution against the ledger. The ledger's epoch status is re-read on every
// call; nothing is cached between ticks.
package epoch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/ledger"
	"EpochKeeper/internal/lock"
	"EpochKeeper/internal/metrics"
	"EpochKeeper/internal/model"
	"EpochKeeper/internal/recorder"
	"EpochKeeper/internal/solver"
)

var (
	// ErrStaleSolution is returned when a fresh solve disagrees with the
	// committed solution at the end of the challenge period.
	ErrStaleSolution = errors.New("epoch: committed solution is stale")
	// ErrGovernanceRequired is returned when the pool is outside its junior
	// ratio bounds and no automatic policy applies.
	ErrGovernanceRequired = errors.New("epoch: governance action required")
	// ErrPoolHalted is returned for pools waiting for an operator.
	ErrPoolHalted = errors.New("epoch: pool halted")
)

// Alerter receives operator-facing events.
type Alerter interface {
	Settled(ctx context.Context, pool model.Pool, s model.Settlement)
	Halted(ctx context.Context, pool model.Pool, h Halt)
}

// Settler advances pool epochs. It is safe for concurrent use across pools;
// the Locker keeps one attempt per pool in flight.
type Settler struct {
	Ledger   ledger.Ledger
	Solver   solver.Solver
	Locker   lock.Locker
	Halts    *HaltRegistry
	Recorder recorder.Recorder
	Alerts   Alerter
	Metrics  *metrics.Metrics
	// Weights apply to pools without their own. Zero means the reference weights.
	Weights model.PriorityWeights
}

// NewSettler creates a settler with an in-process locker and no history.
func NewSettler(l ledger.Ledger, s solver.Solver, halts *HaltRegistry) *Settler {
	if halts == nil {
		halts, _ = LoadHaltRegistry("")
	}
	return &Settler{
		Ledger:   l,
		Solver:   s,
		Locker:   lock.NewLocalLocker(),
		Halts:    halts,
		Recorder: recorder.NewNoopRecorder(),
	}
}

// Advance performs at most one protocol step for the pool. Ledger failures
// abandon the step; the next tick starts over from the ledger's state.
func (s *Settler) Advance(ctx context.Context, pool model.Pool) (model.Settlement, error) {
	out := model.Settlement{PoolID: pool.ID, Action: model.ActionWait}

	if h, ok := s.Halts.Get(pool.ID); ok {
		out.Action = model.ActionHalted
		out.EpochID = h.EpochID
		return out, fmt.Errorf("%w: since epoch %d: %s", ErrPoolHalted, h.EpochID, h.Reason)
	}

	release, err := s.Locker.Acquire(ctx, pool.ID)
	if errors.Is(err, lock.ErrLocked) {
		out.Note = "another attempt holds the pool"
		log.Printf("[INFO] pool=%s locked elsewhere, skipping", pool.ID)
		return out, nil
	}
	if err != nil {
		return out, fmt.Errorf("acquire lock: %w", err)
	}
	defer func() {
		if err := release(context.WithoutCancel(ctx)); err != nil {
			log.Printf("[WARN] pool=%s release lock: %v", pool.ID, err)
		}
	}()

	out, err = s.advance(ctx, pool, out)
	s.record(out, err)
	if out.Action.MovesMoney() {
		log.Printf("[INFO] pool=%s epoch=%d action=%s tx=%s", pool.ID, out.EpochID, out.Action, out.Tx.TxHash)
		if s.Alerts != nil {
			s.Alerts.Settled(ctx, pool, out)
		}
	}
	return out, err
}

func (s *Settler) advance(ctx context.Context, pool model.Pool, out model.Settlement) (model.Settlement, error) {
	rec, err := s.Ledger.ReadEpochRecord(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read epoch: %w", err)
	}
	out.EpochID, out.Status = rec.ID, rec.Status

	switch rec.Status {
	case model.EpochCanBeClosed:
		return s.closeEpoch(ctx, pool, out)
	case model.EpochInSubmission:
		return s.resumeSubmission(ctx, pool, out)
	case model.EpochChallengePeriodEnded:
		return s.executeCommitted(ctx, pool, out)
	default:
		// open and challenge are gated by the ledger
		return out, nil
	}
}

func (s *Settler) closeEpoch(ctx context.Context, pool model.Pool, out model.Settlement) (model.Settlement, error) {
	orders, err := s.Ledger.ReadOrderSnapshot(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read orders: %w", err)
	}
	out.Orders = orders

	if orders.Total().Cmp(pool.DustThreshold.ToBig()) < 0 {
		out.Action = model.ActionSkipDust
		log.Printf("[INFO] pool=%s epoch=%d pending volume below dust threshold %s, leaving open",
			pool.ID, out.EpochID, calculator.FormatWad(pool.DustThreshold))
		return out, nil
	}

	state, err := s.Ledger.ReadPoolState(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read pool state: %w", err)
	}
	return s.submit(ctx, pool, out, state, true)
}

// resumeSubmission handles an epoch that was closed without a solution, for
// example after a crash between the close and the submission.
func (s *Settler) resumeSubmission(ctx context.Context, pool model.Pool, out model.Settlement) (model.Settlement, error) {
	_, err := s.Ledger.ReadCommittedSolution(ctx, pool.ID)
	if err == nil {
		out.Note = "solution already committed"
		return out, nil
	}
	if !errors.Is(err, ledger.ErrNoCommittedSolution) {
		return out, fmt.Errorf("read committed solution: %w", err)
	}

	orders, err := s.Ledger.ReadOrderSnapshot(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read orders: %w", err)
	}
	out.Orders = orders
	state, err := s.Ledger.ReadPoolState(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read pool state: %w", err)
	}
	log.Printf("[WARN] pool=%s epoch=%d closed without a solution, submitting one", pool.ID, out.EpochID)
	return s.submit(ctx, pool, out, state, false)
}

// submit solves out.Orders and sends the result. Only an epoch that is still
// closable can be closed and executed in one transaction.
func (s *Settler) submit(ctx context.Context, pool model.Pool, out model.Settlement, state model.PoolState, closable bool) (model.Settlement, error) {
	result, err := s.solve(pool, state, out.Orders)
	if err != nil {
		return out, fmt.Errorf("solve: %w", err)
	}
	out.Result = result

	switch {
	case closable && result.FullyExecutes(out.Orders):
		out.Tx, err = s.Ledger.SubmitCombinedCloseAndExecute(ctx, pool.ID, result)
		if err != nil {
			return out, fmt.Errorf("close and execute: %w", err)
		}
		out.Action = model.ActionExecuted

	case result.IsFeasible:
		out.Tx, err = s.Ledger.SubmitSolution(ctx, pool.ID, result)
		if err != nil {
			return out, fmt.Errorf("submit solution: %w", err)
		}
		out.Action = model.ActionSubmitted

	case result.Fallback == model.FallbackDrainDown:
		if result.Executed.IsZero() {
			out.Note = "drain-down has nothing to redeem"
			log.Printf("[WARN] pool=%s epoch=%d reserve at ceiling with no redemptions pending", pool.ID, out.EpochID)
			return out, nil
		}
		out.Tx, err = s.Ledger.SubmitSolution(ctx, pool.ID, result)
		if err != nil {
			return out, fmt.Errorf("submit drain-down solution: %w", err)
		}
		out.Action = model.ActionSubmittedFallback

	default:
		return s.halt(ctx, pool, out, fmt.Errorf("%w: junior ratio cannot be restored with reserve %s below ceiling %s",
			ErrGovernanceRequired, calculator.FormatWad(state.Reserve), calculator.FormatWad(state.MaxReserve)))
	}
	return out, nil
}

func (s *Settler) executeCommitted(ctx context.Context, pool model.Pool, out model.Settlement) (model.Settlement, error) {
	committed, err := s.Ledger.ReadCommittedSolution(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read committed solution: %w", err)
	}
	orders, err := s.Ledger.ReadOrderSnapshot(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read orders: %w", err)
	}
	out.Orders = orders
	state, err := s.Ledger.ReadPoolState(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("read pool state: %w", err)
	}

	fresh, err := s.solve(pool, state, orders)
	if err != nil {
		return out, fmt.Errorf("solve: %w", err)
	}
	out.Result = fresh
	if !fresh.Executed.Equal(committed) {
		return s.halt(ctx, pool, out, fmt.Errorf("%w: committed %s, fresh %s",
			ErrStaleSolution, describe(committed), describe(fresh.Executed)))
	}

	out.Tx, err = s.Ledger.SubmitExecute(ctx, pool.ID)
	if err != nil {
		return out, fmt.Errorf("execute: %w", err)
	}
	out.Action = model.ActionExecuted
	return out, nil
}

// Resume clears a pool's halt. It reports false when the pool was not halted.
func (s *Settler) Resume(poolID string) (bool, error) {
	h, ok, err := s.Halts.Resume(poolID)
	if err != nil {
		return ok, fmt.Errorf("persist halts: %w", err)
	}
	if !ok {
		return false, nil
	}
	s.Metrics.SetHalted(s.Halts.Len())
	if err := s.Recorder.RecordHalt(&recorder.HaltEvent{PoolID: poolID, EpochID: h.EpochID, Reason: h.Reason, Resumed: true}); err != nil {
		log.Printf("[WARN] pool=%s record resume: %v", poolID, err)
	}
	log.Printf("[INFO] pool=%s resumed by operator (was halted at epoch %d)", poolID, h.EpochID)
	return true, nil
}

func (s *Settler) halt(ctx context.Context, pool model.Pool, out model.Settlement, cause error) (model.Settlement, error) {
	out.Action = model.ActionHalted
	h := Halt{PoolID: pool.ID, EpochID: out.EpochID, Reason: cause.Error(), Since: time.Now()}
	if err := s.Halts.Halt(h); err != nil {
		log.Printf("[ERROR] pool=%s persist halt: %v", pool.ID, err)
	}
	s.Metrics.SetHalted(s.Halts.Len())
	if err := s.Recorder.RecordHalt(&recorder.HaltEvent{PoolID: pool.ID, EpochID: out.EpochID, Reason: h.Reason}); err != nil {
		log.Printf("[WARN] pool=%s record halt: %v", pool.ID, err)
	}
	log.Printf("[ERROR] pool=%s epoch=%d halted: %v", pool.ID, out.EpochID, cause)
	if s.Alerts != nil {
		s.Alerts.Halted(ctx, pool, h)
	}
	return out, cause
}

func (s *Settler) solve(pool model.Pool, state model.PoolState, orders model.OrderSnapshot) (model.AllocationResult, error) {
	start := time.Now()
	result, err := s.Solver.Solve(state, orders, s.weightsFor(pool))
	s.Metrics.Solve(time.Since(start), resultLabel(result, err))
	return result, err
}

// record keeps attempts that moved money, halted or failed.
func (s *Settler) record(out model.Settlement, err error) {
	if err == nil && !out.Action.MovesMoney() && out.Action != model.ActionHalted {
		return
	}
	a := &recorder.Attempt{
		PoolID:     out.PoolID,
		EpochID:    out.EpochID,
		Status:     out.Status,
		Action:     out.Action,
		IsFeasible: out.Result.IsFeasible,
		Fallback:   out.Result.Fallback,
		Orders:     out.Orders,
		Executed:   out.Result.Executed,
		TxHash:     out.Tx.TxHash,
	}
	if err != nil {
		a.Error = err.Error()
	}
	if rerr := s.Recorder.RecordAttempt(a); rerr != nil {
		log.Printf("[WARN] pool=%s record attempt: %v", out.PoolID, rerr)
	}
}

// WeightsFor returns the pool's weights, or the reference weights when the
// pool does not override them.
func WeightsFor(pool model.Pool) model.PriorityWeights {
	if pool.Weights.IsZero() {
		return solver.DefaultWeights
	}
	return pool.Weights
}

func (s *Settler) weightsFor(pool model.Pool) model.PriorityWeights {
	if pool.Weights.IsZero() && !s.Weights.IsZero() {
		return s.Weights
	}
	return WeightsFor(pool)
}

func resultLabel(r model.AllocationResult, err error) string {
	switch {
	case err != nil:
		return "error"
	case r.IsFeasible:
		return "feasible"
	default:
		return string(r.Fallback)
	}
}

func describe(o model.OrderSnapshot) string {
	return fmt.Sprintf("{sr_redeem %s, jr_redeem %s, jr_invest %s, sr_invest %s}",
		calculator.FormatWad(o.SeniorRedeem), calculator.FormatWad(o.JuniorRedeem),
		calculator.FormatWad(o.JuniorInvest), calculator.FormatWad(o.SeniorInvest))
}
