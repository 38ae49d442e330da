package epoch

import (
	"context"
	"errors"
	"math/big"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/ledger"
	"EpochKeeper/internal/model"
	"EpochKeeper/internal/recorder"
	"EpochKeeper/internal/solver"
)

type fakeAlerts struct {
	mu      sync.Mutex
	settled []model.Settlement
	halted  []Halt
}

func (f *fakeAlerts) Settled(_ context.Context, _ model.Pool, s model.Settlement) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.settled = append(f.settled, s)
}

func (f *fakeAlerts) Halted(_ context.Context, _ model.Pool, h Halt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.halted = append(f.halted, h)
}

func state(t *testing.T, nav, reserve, senior, maxReserve uint64) model.PoolState {
	t.Helper()
	minRatio, err := calculator.ParseRay("0.15")
	require.NoError(t, err)
	maxRatio, err := calculator.ParseRay("0.20")
	require.NoError(t, err)
	return model.PoolState{
		NetAssetValue:    calculator.Wad(nav),
		Reserve:          calculator.Wad(reserve),
		SeniorAssetValue: calculator.Wad(senior),
		MinJuniorRatio:   minRatio,
		MaxJuniorRatio:   maxRatio,
		MaxReserve:       calculator.Wad(maxReserve),
	}
}

func testPool(id string) model.Pool {
	return model.Pool{ID: id, Name: "Pool " + id, DustThreshold: calculator.Wad(1)}
}

type harness struct {
	ledger  *ledger.MemoryLedger
	settler *Settler
	alerts  *fakeAlerts
}

func newHarness(t *testing.T, epochDuration time.Duration) *harness {
	t.Helper()
	halts, err := LoadHaltRegistry(filepath.Join(t.TempDir(), "halts.json"))
	require.NoError(t, err)
	l := ledger.NewMemoryLedger(epochDuration, time.Hour)
	s := NewSettler(l, solver.New(solver.DefaultMinWeightGap), halts)
	alerts := &fakeAlerts{}
	s.Alerts = alerts
	return &harness{ledger: l, settler: s, alerts: alerts}
}

func TestAdvance_OpenEpochWaits(t *testing.T) {
	h := newHarness(t, time.Hour)
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), model.OrderSnapshot{JuniorInvest: calculator.Wad(20)})

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionWait, out.Action)
	assert.Equal(t, model.EpochOpen, out.Status)
	assert.Empty(t, h.ledger.Transactions("p"))
}

func TestAdvance_SkipsDust(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{JuniorInvest: calculator.Wad(1)}
	orders.JuniorInvest.Rsh(&orders.JuniorInvest, 1)
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionSkipDust, out.Action)
	assert.Empty(t, h.ledger.Transactions("p"))
}

func TestAdvance_FullyExecutesInOneStep(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{JuniorInvest: calculator.Wad(20), SeniorInvest: calculator.Wad(100)}
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionExecuted, out.Action)
	assert.True(t, out.Tx.Success)

	st, pending, rec, err := h.ledger.Snapshot("p")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.ID)
	assert.Equal(t, "320", calculator.FormatWad(st.Reserve))
	assert.True(t, pending.IsZero())
	assert.Len(t, h.alerts.settled, 1)
}

func TestAdvance_PartialGoesThroughChallenge(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(100),
		SeniorRedeem: calculator.Wad(300),
		JuniorInvest: calculator.Wad(200),
		SeniorInvest: calculator.Wad(400),
	}
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)
	ctx := context.Background()
	pool := testPool("p")

	out, err := h.settler.Advance(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, model.ActionSubmitted, out.Action)
	assert.Equal(t, "125", calculator.FormatWad(out.Result.Executed.JuniorInvest))

	out, err = h.settler.Advance(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, model.ActionWait, out.Action)
	assert.Equal(t, model.EpochChallengePeriod, out.Status)

	require.NoError(t, h.ledger.AdvanceChallenge("p"))
	out, err = h.settler.Advance(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, model.ActionExecuted, out.Action)

	st, pending, rec, err := h.ledger.Snapshot("p")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), rec.ID)
	assert.Equal(t, "325", calculator.FormatWad(st.Reserve))
	assert.Equal(t, "900", calculator.FormatWad(st.SeniorAssetValue))
	assert.Equal(t, "75", calculator.FormatWad(pending.JuniorInvest))
	assert.Len(t, h.ledger.Transactions("p"), 2)
}

func TestAdvance_InSubmissionWithoutSolutionSubmits(t *testing.T) {
	h := newHarness(t, time.Hour)
	orders := model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(100),
		SeniorRedeem: calculator.Wad(300),
		JuniorInvest: calculator.Wad(200),
		SeniorInvest: calculator.Wad(400),
	}
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)
	require.NoError(t, h.ledger.SetStatus("p", model.EpochInSubmission))
	ctx := context.Background()
	pool := testPool("p")

	out, err := h.settler.Advance(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, model.ActionSubmitted, out.Action)
	assert.Equal(t, model.EpochInSubmission, out.Status)
	assert.Equal(t, "125", calculator.FormatWad(out.Result.Executed.JuniorInvest))
	assert.Len(t, h.ledger.Transactions("p"), 1)

	_, _, rec, err := h.ledger.Snapshot("p")
	require.NoError(t, err)
	assert.Equal(t, model.EpochChallengePeriod, rec.Status)

	// a committed solution is left alone
	require.NoError(t, h.ledger.SetStatus("p", model.EpochInSubmission))
	out, err = h.settler.Advance(ctx, pool)
	require.NoError(t, err)
	assert.Equal(t, model.ActionWait, out.Action)
	assert.Equal(t, "solution already committed", out.Note)
	assert.Len(t, h.ledger.Transactions("p"), 1)
}

func TestAdvance_InSubmissionNeverCombines(t *testing.T) {
	h := newHarness(t, time.Hour)
	orders := model.OrderSnapshot{JuniorInvest: calculator.Wad(20), SeniorInvest: calculator.Wad(100)}
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)
	require.NoError(t, h.ledger.SetStatus("p", model.EpochInSubmission))

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionSubmitted, out.Action)
	assert.True(t, out.Result.FullyExecutes(orders))

	_, _, rec, err := h.ledger.Snapshot("p")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), rec.ID)
	assert.Equal(t, model.EpochChallengePeriod, rec.Status)
}

func TestAdvance_StaleSolutionHalts(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(100),
		SeniorRedeem: calculator.Wad(300),
		JuniorInvest: calculator.Wad(200),
		SeniorInvest: calculator.Wad(400),
	}
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)
	ctx := context.Background()
	pool := testPool("p")

	_, err := h.settler.Advance(ctx, pool)
	require.NoError(t, err)

	// a NAV write-up during the challenge window lowers the junior invest cap
	require.NoError(t, h.ledger.SetState("p", state(t, 900, 200, 800, 10_000)))
	require.NoError(t, h.ledger.AdvanceChallenge("p"))

	out, err := h.settler.Advance(ctx, pool)
	assert.ErrorIs(t, err, ErrStaleSolution)
	assert.Equal(t, model.ActionHalted, out.Action)
	assert.Len(t, h.ledger.Transactions("p"), 1, "execute must not be sent")
	require.Len(t, h.alerts.halted, 1)

	_, err = h.settler.Advance(ctx, pool)
	assert.ErrorIs(t, err, ErrPoolHalted)

	reloaded, err := LoadHaltRegistry(h.settler.Halts.filePath)
	require.NoError(t, err)
	_, halted := reloaded.Get("p")
	assert.True(t, halted)

	ok, err := h.settler.Resume("p")
	require.NoError(t, err)
	assert.True(t, ok)
	_, halted = h.settler.Halts.Get("p")
	assert.False(t, halted)
}

func TestAdvance_GovernanceRequired(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{SeniorRedeem: calculator.Wad(50), JuniorRedeem: calculator.Wad(10)}
	h.ledger.AddPool("p", state(t, 1000, 100, 1050, 1000), orders)

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	assert.ErrorIs(t, err, ErrGovernanceRequired)
	assert.Equal(t, model.ActionHalted, out.Action)
	assert.Equal(t, model.FallbackHold, out.Result.Fallback)
	assert.Empty(t, h.ledger.Transactions("p"))
	assert.Equal(t, 1, h.settler.Halts.Len())
}

func TestAdvance_DrainDownSubmitted(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{
		SeniorRedeem: calculator.Wad(300),
		JuniorRedeem: calculator.Wad(100),
		SeniorInvest: calculator.Wad(50),
	}
	h.ledger.AddPool("p", state(t, 1000, 500, 1400, 400), orders)

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionSubmittedFallback, out.Action)
	assert.False(t, out.Result.IsFeasible)
	assert.Equal(t, "300", calculator.FormatWad(out.Result.Executed.SeniorRedeem))
	assert.Equal(t, "100", calculator.FormatWad(out.Result.Executed.JuniorRedeem))

	_, _, rec, err := h.ledger.Snapshot("p")
	require.NoError(t, err)
	assert.Equal(t, model.EpochChallengePeriod, rec.Status)
}

func TestAdvance_DrainDownWithoutRedemptionsWaits(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.AddPool("p", state(t, 1000, 500, 1400, 400), model.OrderSnapshot{SeniorInvest: calculator.Wad(50)})

	out, err := h.settler.Advance(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionWait, out.Action)
	assert.NotEmpty(t, out.Note)
	assert.Empty(t, h.ledger.Transactions("p"))
}

func TestAdvance_LockedPoolWaits(t *testing.T) {
	h := newHarness(t, 0)
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), model.OrderSnapshot{JuniorInvest: calculator.Wad(20)})
	ctx := context.Background()

	release, err := h.settler.Locker.Acquire(ctx, "p")
	require.NoError(t, err)
	defer release(ctx)

	out, err := h.settler.Advance(ctx, testPool("p"))
	require.NoError(t, err)
	assert.Equal(t, model.ActionWait, out.Action)
	assert.Empty(t, h.ledger.Transactions("p"))
}

type memRecorder struct {
	recorder.NoopRecorder
	attempts []recorder.Attempt
}

func (m *memRecorder) RecordAttempt(a *recorder.Attempt) error {
	m.attempts = append(m.attempts, *a)
	return nil
}

func TestAdvance_LedgerFailureIsRecorded(t *testing.T) {
	h := newHarness(t, 0)
	rec := &memRecorder{}
	h.settler.Recorder = rec
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), model.OrderSnapshot{})
	boom := errors.New("gateway timeout")
	require.NoError(t, h.ledger.FailReads("p", boom))

	_, err := h.settler.Advance(context.Background(), testPool("p"))
	assert.ErrorIs(t, err, boom)
	require.Len(t, rec.attempts, 1)
	assert.Contains(t, rec.attempts[0].Error, "gateway timeout")

	// the failed attempt must not leave the pool locked
	require.NoError(t, h.ledger.FailReads("p", nil))
	_, err = h.settler.Advance(context.Background(), testPool("p"))
	assert.NoError(t, err)
}

func TestAdvance_InvalidStateFailsFast(t *testing.T) {
	h := newHarness(t, 0)
	st := state(t, 800, 200, 800, 10_000)
	st.MinJuniorRatio, st.MaxJuniorRatio = st.MaxJuniorRatio, st.MinJuniorRatio
	h.ledger.AddPool("p", st, model.OrderSnapshot{JuniorInvest: calculator.Wad(20)})

	_, err := h.settler.Advance(context.Background(), testPool("p"))
	assert.ErrorIs(t, err, solver.ErrInvalidState)
	assert.Empty(t, h.ledger.Transactions("p"))
}

func TestPreview_DoesNotWrite(t *testing.T) {
	h := newHarness(t, 0)
	orders := model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(100),
		SeniorRedeem: calculator.Wad(300),
		JuniorInvest: calculator.Wad(200),
		SeniorInvest: calculator.Wad(400),
	}
	h.ledger.AddPool("p", state(t, 800, 200, 800, 10_000), orders)

	p, err := h.settler.Preview(context.Background(), testPool("p"))
	require.NoError(t, err)
	assert.True(t, p.Result.IsFeasible)
	assert.Equal(t, "125", calculator.FormatWad(p.Result.Executed.JuniorInvest))
	want := new(big.Int).Mul(big.NewInt(325), calculator.WadBig())
	assert.Equal(t, want.String(), p.Projection.Reserve.String())
	assert.True(t, p.Projection.WithinBounds(p.State))
	assert.Nil(t, p.Halt)
	assert.Empty(t, h.ledger.Transactions("p"))
}

func TestWeightsFor(t *testing.T) {
	assert.Equal(t, solver.DefaultWeights, WeightsFor(model.Pool{}))
	custom := model.PriorityWeights{SeniorRedeem: 4, JuniorRedeem: 3, JuniorInvest: 2, SeniorInvest: 1}
	assert.Equal(t, custom, WeightsFor(model.Pool{Weights: custom}))
}

func TestSettlerWeightsOverride(t *testing.T) {
	global := model.PriorityWeights{SeniorRedeem: 8000, JuniorRedeem: 800, JuniorInvest: 80, SeniorInvest: 8}
	s := &Settler{Weights: global}
	assert.Equal(t, global, s.weightsFor(model.Pool{}))

	custom := model.PriorityWeights{SeniorRedeem: 4, JuniorRedeem: 3, JuniorInvest: 2, SeniorInvest: 1}
	assert.Equal(t, custom, s.weightsFor(model.Pool{Weights: custom}))

	assert.Equal(t, solver.DefaultWeights, (&Settler{}).weightsFor(model.Pool{}))
}
