package ledger

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

// MemoryLedger simulates the epoch protocol in process. It backs tests and the
// simulate mode of the keeper.
//
// An open epoch becomes closable once EpochDuration has elapsed, and a
// challenge window ends once ChallengeDuration has elapsed. Both transitions
// are also available as explicit calls.
type MemoryLedger struct {
	EpochDuration     time.Duration
	ChallengeDuration time.Duration

	mu    sync.Mutex
	now   func() time.Time
	pools map[string]*memPool
}

type memPool struct {
	state     model.PoolState
	orders    model.OrderSnapshot
	epoch     model.EpochRecord
	openedAt  time.Time
	committed *model.OrderSnapshot
	failReads error
	txs       []string
}

// NewMemoryLedger creates an empty simulator.
func NewMemoryLedger(epochDuration, challengeDuration time.Duration) *MemoryLedger {
	return &MemoryLedger{
		EpochDuration:     epochDuration,
		ChallengeDuration: challengeDuration,
		now:               time.Now,
		pools:             make(map[string]*memPool),
	}
}

// AddPool registers a pool with an open epoch 1.
func (m *MemoryLedger) AddPool(poolID string, state model.PoolState, orders model.OrderSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pools[poolID] = &memPool{
		state:    state,
		orders:   orders,
		epoch:    model.EpochRecord{ID: 1, Status: model.EpochOpen},
		openedAt: m.now(),
	}
}

// SetOrders replaces the pending orders of a pool.
func (m *MemoryLedger) SetOrders(poolID string, orders model.OrderSnapshot) error {
	return m.with(poolID, func(p *memPool) error {
		p.orders = orders
		return nil
	})
}

// SetState replaces the pool snapshot, e.g. to simulate a NAV update.
func (m *MemoryLedger) SetState(poolID string, state model.PoolState) error {
	return m.with(poolID, func(p *memPool) error {
		p.state = state
		return nil
	})
}

// SetStatus forces the epoch status.
func (m *MemoryLedger) SetStatus(poolID string, status model.EpochStatus) error {
	return m.with(poolID, func(p *memPool) error {
		p.epoch.Status = status
		return nil
	})
}

// AdvanceChallenge ends a running challenge window.
func (m *MemoryLedger) AdvanceChallenge(poolID string) error {
	return m.with(poolID, func(p *memPool) error {
		if p.epoch.Status != model.EpochChallengePeriod {
			return fmt.Errorf("pool %s: epoch %d is %s, not in challenge", poolID, p.epoch.ID, p.epoch.Status)
		}
		p.epoch.Status = model.EpochChallengePeriodEnded
		return nil
	})
}

// FailReads makes every read of the pool return err until called with nil.
func (m *MemoryLedger) FailReads(poolID string, err error) error {
	return m.with(poolID, func(p *memPool) error {
		p.failReads = err
		return nil
	})
}

// Snapshot returns the current simulated pool.
func (m *MemoryLedger) Snapshot(poolID string) (model.PoolState, model.OrderSnapshot, model.EpochRecord, error) {
	var (
		st     model.PoolState
		orders model.OrderSnapshot
		epoch  model.EpochRecord
	)
	err := m.with(poolID, func(p *memPool) error {
		m.tick(p)
		st, orders, epoch = p.state, p.orders, p.epoch
		return nil
	})
	return st, orders, epoch, err
}

// Transactions returns the hashes of all accepted instructions for a pool.
func (m *MemoryLedger) Transactions(poolID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return nil
	}
	return append([]string(nil), p.txs...)
}

func (m *MemoryLedger) ReadPoolState(ctx context.Context, poolID string) (model.PoolState, error) {
	var st model.PoolState
	err := m.read(ctx, poolID, func(p *memPool) { st = p.state })
	return st, err
}

func (m *MemoryLedger) ReadOrderSnapshot(ctx context.Context, poolID string) (model.OrderSnapshot, error) {
	var orders model.OrderSnapshot
	err := m.read(ctx, poolID, func(p *memPool) { orders = p.orders })
	return orders, err
}

func (m *MemoryLedger) ReadEpochRecord(ctx context.Context, poolID string) (model.EpochRecord, error) {
	var epoch model.EpochRecord
	err := m.read(ctx, poolID, func(p *memPool) { epoch = p.epoch })
	return epoch, err
}

func (m *MemoryLedger) ReadCommittedSolution(ctx context.Context, poolID string) (model.OrderSnapshot, error) {
	var (
		executed  model.OrderSnapshot
		committed bool
	)
	err := m.read(ctx, poolID, func(p *memPool) {
		if p.committed != nil {
			executed, committed = *p.committed, true
		}
	})
	if err != nil {
		return model.OrderSnapshot{}, err
	}
	if !committed {
		return model.OrderSnapshot{}, ErrNoCommittedSolution
	}
	return executed, nil
}

func (m *MemoryLedger) SubmitCombinedCloseAndExecute(ctx context.Context, poolID string, result model.AllocationResult) (model.TransactionOutcome, error) {
	return m.submit(ctx, poolID, "close-and-execute", func(p *memPool) error {
		if p.epoch.Status != model.EpochCanBeClosed {
			return fmt.Errorf("epoch %d is %s", p.epoch.ID, p.epoch.Status)
		}
		if err := p.apply(result.Executed); err != nil {
			return err
		}
		p.nextEpoch(m.now())
		return nil
	})
}

func (m *MemoryLedger) SubmitSolution(ctx context.Context, poolID string, result model.AllocationResult) (model.TransactionOutcome, error) {
	return m.submit(ctx, poolID, "solution", func(p *memPool) error {
		if p.epoch.Status != model.EpochCanBeClosed && p.epoch.Status != model.EpochInSubmission {
			return fmt.Errorf("epoch %d is %s", p.epoch.ID, p.epoch.Status)
		}
		if err := p.check(result.Executed); err != nil {
			return err
		}
		executed := result.Executed
		p.committed = &executed
		p.epoch.Status = model.EpochChallengePeriod
		p.epoch.ChallengeDeadline = uint64(m.now().Add(m.ChallengeDuration).Unix())
		return nil
	})
}

func (m *MemoryLedger) SubmitExecute(ctx context.Context, poolID string) (model.TransactionOutcome, error) {
	return m.submit(ctx, poolID, "execute", func(p *memPool) error {
		if p.epoch.Status != model.EpochChallengePeriodEnded {
			return fmt.Errorf("epoch %d is %s", p.epoch.ID, p.epoch.Status)
		}
		if p.committed == nil {
			return ErrNoCommittedSolution
		}
		if err := p.apply(*p.committed); err != nil {
			return err
		}
		p.nextEpoch(m.now())
		return nil
	})
}

func (m *MemoryLedger) with(poolID string, fn func(p *memPool) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pools[poolID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPoolNotFound, poolID)
	}
	return fn(p)
}

func (m *MemoryLedger) read(ctx context.Context, poolID string, fn func(p *memPool)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return m.with(poolID, func(p *memPool) error {
		if p.failReads != nil {
			return p.failReads
		}
		m.tick(p)
		fn(p)
		return nil
	})
}

func (m *MemoryLedger) submit(ctx context.Context, poolID, kind string, fn func(p *memPool) error) (model.TransactionOutcome, error) {
	if err := ctx.Err(); err != nil {
		return model.TransactionOutcome{}, err
	}
	var outcome model.TransactionOutcome
	err := m.with(poolID, func(p *memPool) error {
		m.tick(p)
		outcome.TxHash = "0x" + uuid.NewString()
		if err := fn(p); err != nil {
			outcome.Message = err.Error()
			return fmt.Errorf("submit %s: %w: %v", kind, ErrTransactionFailed, err)
		}
		outcome.Success = true
		p.txs = append(p.txs, outcome.TxHash)
		return nil
	})
	return outcome, err
}

// tick applies the time-gated transitions.
func (m *MemoryLedger) tick(p *memPool) {
	now := m.now()
	switch p.epoch.Status {
	case model.EpochOpen:
		if now.Sub(p.openedAt) >= m.EpochDuration {
			p.epoch.Status = model.EpochCanBeClosed
		}
	case model.EpochChallengePeriod:
		if uint64(now.Unix()) >= p.epoch.ChallengeDeadline {
			p.epoch.Status = model.EpochChallengePeriodEnded
		}
	}
}

func (p *memPool) nextEpoch(now time.Time) {
	p.committed = nil
	p.openedAt = now
	p.epoch = model.EpochRecord{ID: p.epoch.ID + 1, Status: model.EpochOpen}
}

// check rejects executions above the pending orders or beyond the reserve.
func (p *memPool) check(executed model.OrderSnapshot) error {
	for _, t := range model.OrderTypes {
		got, limit := executed.Get(t), p.orders.Get(t)
		if got.Gt(&limit) {
			return fmt.Errorf("%s %s exceeds pending %s", t, calculator.FormatWad(got), calculator.FormatWad(limit))
		}
	}
	reserve, senior := p.project(executed)
	if reserve.Sign() < 0 {
		return fmt.Errorf("reserve would become negative")
	}
	if senior.Sign() < 0 {
		return fmt.Errorf("senior asset value would become negative")
	}
	return nil
}

func (p *memPool) project(executed model.OrderSnapshot) (reserve, senior *big.Int) {
	reserve = p.state.Reserve.ToBig()
	reserve.Add(reserve, executed.JuniorInvest.ToBig())
	reserve.Add(reserve, executed.SeniorInvest.ToBig())
	reserve.Sub(reserve, executed.JuniorRedeem.ToBig())
	reserve.Sub(reserve, executed.SeniorRedeem.ToBig())

	senior = p.state.SeniorAssetValue.ToBig()
	senior.Add(senior, executed.SeniorInvest.ToBig())
	senior.Sub(senior, executed.SeniorRedeem.ToBig())
	return reserve, senior
}

func (p *memPool) apply(executed model.OrderSnapshot) error {
	if err := p.check(executed); err != nil {
		return err
	}
	reserve, senior := p.project(executed)
	p.state.Reserve, _ = calculator.FromBig(reserve)
	p.state.SeniorAssetValue, _ = calculator.FromBig(senior)
	for _, t := range model.OrderTypes {
		left, got := p.orders.Get(t), executed.Get(t)
		left.Sub(&left, &got)
		p.orders.Set(t, left)
	}
	return nil
}
