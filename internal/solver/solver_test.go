package solver

import (
	"math/big"
	"math/rand"
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"EpochKeeper/internal/calculator"
	"EpochKeeper/internal/model"
)

func ray(t *testing.T, s string) uint256.Int {
	t.Helper()
	v, err := calculator.ParseRay(s)
	require.NoError(t, err)
	return v
}

func wadBig(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), calculator.WadBig())
}

// referencePool is an 800/200 pool sitting exactly on its 20% junior ceiling.
func referencePool(t *testing.T) model.PoolState {
	return model.PoolState{
		NetAssetValue:    calculator.Wad(800),
		Reserve:          calculator.Wad(200),
		SeniorAssetValue: calculator.Wad(800),
		MinJuniorRatio:   ray(t, "0.15"),
		MaxJuniorRatio:   ray(t, "0.20"),
		MaxReserve:       calculator.Wad(10_000),
	}
}

func referenceOrders() model.OrderSnapshot {
	return model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(100),
		SeniorRedeem: calculator.Wad(300),
		JuniorInvest: calculator.Wad(200),
		SeniorInvest: calculator.Wad(400),
	}
}

func assertWad(t *testing.T, want uint64, got uint256.Int, msg string) {
	t.Helper()
	w := calculator.Wad(want)
	assert.Equal(t, w.Dec(), got.Dec(), msg)
}

func TestSolve_JuniorInvestCappedByMaxRatio(t *testing.T) {
	res, err := Solve(referencePool(t), referenceOrders(), DefaultWeights)
	require.NoError(t, err)
	require.True(t, res.IsFeasible)
	assert.Equal(t, model.FallbackNone, res.Fallback)

	assertWad(t, 300, res.Executed.SeniorRedeem, "senior redeem")
	assertWad(t, 100, res.Executed.JuniorRedeem, "junior redeem")
	assertWad(t, 125, res.Executed.JuniorInvest, "junior invest")
	assertWad(t, 400, res.Executed.SeniorInvest, "senior invest")

	p := Project(referencePool(t), res.Executed)
	assert.Equal(t, wadBig(325).String(), p.Reserve.String())
	assert.Equal(t, wadBig(900).String(), p.SeniorAssetValue.String())
	want := ray(t, "0.2")
	assert.Equal(t, want.Dec(), p.JuniorRatio.String())
	assert.True(t, p.WithinBounds(referencePool(t)))
}

func TestSolve_FullySatisfiable(t *testing.T) {
	orders := model.OrderSnapshot{
		JuniorInvest: calculator.Wad(20),
		SeniorInvest: calculator.Wad(100),
	}
	res, err := Solve(referencePool(t), orders, DefaultWeights)
	require.NoError(t, err)
	assert.True(t, res.FullyExecutes(orders))
}

func TestSolve_EmptyOrders(t *testing.T) {
	res, err := Solve(referencePool(t), model.OrderSnapshot{}, DefaultWeights)
	require.NoError(t, err)
	assert.True(t, res.IsFeasible)
	assert.True(t, res.Executed.IsZero())
}

func widePool(t *testing.T) model.PoolState {
	return model.PoolState{
		NetAssetValue:    calculator.Wad(1000),
		Reserve:          calculator.Wad(100),
		SeniorAssetValue: calculator.Wad(500),
		MinJuniorRatio:   ray(t, "0"),
		MaxJuniorRatio:   ray(t, "1"),
		MaxReserve:       calculator.Wad(200),
	}
}

func TestSolve_PriorityOnScarceReserve(t *testing.T) {
	orders := model.OrderSnapshot{
		SeniorRedeem: calculator.Wad(100),
		JuniorRedeem: calculator.Wad(100),
	}

	tests := []struct {
		name       string
		weights    model.PriorityWeights
		wantSenior uint64
		wantJunior uint64
	}{
		{"reference order", DefaultWeights, 100, 0},
		{
			"junior first",
			model.PriorityWeights{SeniorRedeem: 100_000, JuniorRedeem: 1_000_000, JuniorInvest: 10_000, SeniorInvest: 1_000},
			0, 100,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := Solve(widePool(t), orders, tt.weights)
			require.NoError(t, err)
			require.True(t, res.IsFeasible)
			assertWad(t, tt.wantSenior, res.Executed.SeniorRedeem, "senior redeem")
			assertWad(t, tt.wantJunior, res.Executed.JuniorRedeem, "junior redeem")
		})
	}
}

func TestSolve_PriorityOnReserveCeiling(t *testing.T) {
	orders := model.OrderSnapshot{
		JuniorInvest: calculator.Wad(100),
		SeniorInvest: calculator.Wad(100),
	}
	res, err := Solve(widePool(t), orders, DefaultWeights)
	require.NoError(t, err)
	require.True(t, res.IsFeasible)
	assertWad(t, 100, res.Executed.JuniorInvest, "junior invest")
	assert.True(t, res.Executed.SeniorInvest.IsZero())
}

func TestSolve_DrainDown(t *testing.T) {
	tests := []struct {
		name       string
		reserve    uint64
		maxReserve uint64
		senior     uint64
		orders     model.OrderSnapshot
		wantSenior uint64
		wantJunior uint64
	}{
		{
			name:       "redemptions fit in reserve",
			reserve:    500,
			maxReserve: 400,
			senior:     1400,
			orders: model.OrderSnapshot{
				SeniorRedeem: calculator.Wad(300),
				JuniorRedeem: calculator.Wad(100),
				SeniorInvest: calculator.Wad(50),
			},
			wantSenior: 300,
			wantJunior: 100,
		},
		{
			name:       "junior capped by what senior left",
			reserve:    150,
			maxReserve: 100,
			senior:     1100,
			orders: model.OrderSnapshot{
				SeniorRedeem: calculator.Wad(100),
				JuniorRedeem: calculator.Wad(100),
			},
			wantSenior: 100,
			wantJunior: 50,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := model.PoolState{
				NetAssetValue:    calculator.Wad(1000),
				Reserve:          calculator.Wad(tt.reserve),
				SeniorAssetValue: calculator.Wad(tt.senior),
				MinJuniorRatio:   ray(t, "0.15"),
				MaxJuniorRatio:   ray(t, "0.20"),
				MaxReserve:       calculator.Wad(tt.maxReserve),
			}
			res, err := Solve(state, tt.orders, DefaultWeights)
			require.NoError(t, err)
			assert.False(t, res.IsFeasible)
			assert.Equal(t, model.FallbackDrainDown, res.Fallback)
			assertWad(t, tt.wantSenior, res.Executed.SeniorRedeem, "senior redeem")
			assertWad(t, tt.wantJunior, res.Executed.JuniorRedeem, "junior redeem")
			assert.True(t, res.Executed.JuniorInvest.IsZero())
			assert.True(t, res.Executed.SeniorInvest.IsZero())
		})
	}
}

func TestSolve_HoldWhenRatioBroken(t *testing.T) {
	state := model.PoolState{
		NetAssetValue:    calculator.Wad(1000),
		Reserve:          calculator.Wad(100),
		SeniorAssetValue: calculator.Wad(1050),
		MinJuniorRatio:   ray(t, "0.15"),
		MaxJuniorRatio:   ray(t, "0.20"),
		MaxReserve:       calculator.Wad(1000),
	}
	orders := model.OrderSnapshot{
		SeniorRedeem: calculator.Wad(50),
		JuniorRedeem: calculator.Wad(10),
	}
	res, err := Solve(state, orders, DefaultWeights)
	require.NoError(t, err)
	assert.False(t, res.IsFeasible)
	assert.Equal(t, model.FallbackHold, res.Fallback)
	assert.True(t, res.Executed.IsZero())
}

func TestSolve_InvalidState(t *testing.T) {
	state := referencePool(t)
	state.MinJuniorRatio = ray(t, "0.3")
	_, err := Solve(state, referenceOrders(), DefaultWeights)
	assert.ErrorIs(t, err, ErrInvalidState)

	state = referencePool(t)
	state.MaxJuniorRatio = ray(t, "1.5")
	_, err = Solve(state, referenceOrders(), DefaultWeights)
	assert.ErrorIs(t, err, ErrInvalidState)
}

// leakyPool has a 0.1% junior floor: one unit of junior redemption frees
// room for ~1000 units of senior investment, beyond the 100x weight gap.
func leakyPool(t *testing.T) model.PoolState {
	return model.PoolState{
		NetAssetValue:    calculator.Wad(1000),
		Reserve:          calculator.Wad(100),
		SeniorAssetValue: calculator.Wad(800),
		MinJuniorRatio:   ray(t, "0.001"),
		MaxJuniorRatio:   ray(t, "0.5"),
		MaxReserve:       calculator.Wad(10_000),
	}
}

func TestSolve_LeakyWeightsSolvedTierByTier(t *testing.T) {
	orders := model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(500),
		SeniorInvest: calculator.Wad(10),
	}
	sys := newSystem(leakyPool(t), orders)
	require.False(t, exchangeSafe(sys, DefaultWeights))

	res, err := Solve(leakyPool(t), orders, DefaultWeights)
	require.NoError(t, err)
	require.True(t, res.IsFeasible)
	assertWad(t, 110, res.Executed.JuniorRedeem, "junior redeem")
	assertWad(t, 10, res.Executed.SeniorInvest, "senior invest")
	assert.True(t, Project(leakyPool(t), res.Executed).WithinBounds(leakyPool(t)))
}

func TestSolve_SmallJuniorFloorKeepsPriority(t *testing.T) {
	// 1% junior share against a 0.5% floor: the full junior redemption leaves
	// room for 1005 of the 2000 senior investment
	state := model.PoolState{
		NetAssetValue:    calculator.Wad(1000),
		Reserve:          calculator.Wad(1000),
		SeniorAssetValue: calculator.Wad(1980),
		MinJuniorRatio:   ray(t, "0.005"),
		MaxJuniorRatio:   ray(t, "1"),
		MaxReserve:       calculator.Wad(10_000),
	}
	orders := model.OrderSnapshot{
		JuniorRedeem: calculator.Wad(5),
		SeniorInvest: calculator.Wad(2000),
	}
	require.False(t, exchangeSafe(newSystem(state, orders), DefaultWeights))

	res, err := Solve(state, orders, DefaultWeights)
	require.NoError(t, err)
	require.True(t, res.IsFeasible)
	assert.Equal(t, model.FallbackNone, res.Fallback)
	assertWad(t, 5, res.Executed.JuniorRedeem, "junior redeem")
	assertWad(t, 1005, res.Executed.SeniorInvest, "senior invest")
	assert.True(t, Project(state, res.Executed).WithinBounds(state))
}

func TestExchangeSafe(t *testing.T) {
	assert.True(t, exchangeSafe(newSystem(referencePool(t), referenceOrders()), DefaultWeights))

	// with a single pending tier nothing competes
	orders := model.OrderSnapshot{JuniorRedeem: calculator.Wad(500)}
	assert.True(t, exchangeSafe(newSystem(leakyPool(t), orders), DefaultWeights))
}

func TestValidateWeights(t *testing.T) {
	tests := []struct {
		name    string
		weights model.PriorityWeights
		gap     uint64
		wantErr bool
	}{
		{"default", DefaultWeights, DefaultMinWeightGap, false},
		{"zero weight", model.PriorityWeights{SeniorRedeem: 1000, JuniorRedeem: 100, JuniorInvest: 10}, 10, true},
		{"tie", model.PriorityWeights{SeniorRedeem: 1000, JuniorRedeem: 1000, JuniorInvest: 10, SeniorInvest: 1}, 10, true},
		{"gap too small", model.PriorityWeights{SeniorRedeem: 1000, JuniorRedeem: 200, JuniorInvest: 10, SeniorInvest: 1}, 10, true},
		{"smaller gap accepted", model.PriorityWeights{SeniorRedeem: 1000, JuniorRedeem: 200, JuniorInvest: 40, SeniorInvest: 8}, 5, false},
		{"zero gap", DefaultWeights, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateWeights(tt.weights, tt.gap)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrWeightGap)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSolve_Deterministic(t *testing.T) {
	first, err := Solve(referencePool(t), referenceOrders(), DefaultWeights)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Solve(referencePool(t), referenceOrders(), DefaultWeights)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestSolve_RandomPoolsStayInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	ratios := []string{"0.05", "0.1", "0.15", "0.2", "0.25", "0.3", "0.4", "0.5", "0.6"}

	for i := 0; i < 200; i++ {
		lo := rng.Intn(5)
		hi := lo + rng.Intn(len(ratios)-lo)
		nav := uint64(rng.Intn(5000))
		reserve := uint64(rng.Intn(2000))
		state := model.PoolState{
			NetAssetValue:    calculator.Wad(nav),
			Reserve:          calculator.Wad(reserve),
			SeniorAssetValue: calculator.Wad(uint64(rng.Intn(int(nav+reserve) + 1))),
			MinJuniorRatio:   ray(t, ratios[lo]),
			MaxJuniorRatio:   ray(t, ratios[hi]),
			MaxReserve:       calculator.Wad(uint64(rng.Intn(4000) + 1)),
		}
		orders := model.OrderSnapshot{
			SeniorRedeem: calculator.Wad(uint64(rng.Intn(1000))),
			JuniorRedeem: calculator.Wad(uint64(rng.Intn(1000))),
			JuniorInvest: calculator.Wad(uint64(rng.Intn(1000))),
			SeniorInvest: calculator.Wad(uint64(rng.Intn(1000))),
		}

		res, err := Solve(state, orders, DefaultWeights)
		require.NoError(t, err, "case %d", i)

		for _, ot := range model.OrderTypes {
			got, limit := res.Executed.Get(ot), orders.Get(ot)
			assert.False(t, got.Gt(&limit), "case %d: %s exceeds its order", i, ot)
		}
		if res.IsFeasible {
			assert.Equal(t, model.FallbackNone, res.Fallback, "case %d", i)
			assert.True(t, Project(state, res.Executed).WithinBounds(state), "case %d: feasible result out of bounds", i)
		} else {
			assert.NotEqual(t, model.FallbackNone, res.Fallback, "case %d", i)
		}

		again, err := Solve(state, orders, DefaultWeights)
		require.NoError(t, err)
		assert.Equal(t, res, again, "case %d", i)
	}
}

func TestInterval(t *testing.T) {
	orders := referenceOrders()
	sys := newSystem(referencePool(t), orders)
	x := [4]*big.Int{
		model.SeniorRedeem: wadBig(300),
		model.JuniorRedeem: wadBig(100),
		model.JuniorInvest: big.NewInt(0),
		model.SeniorInvest: wadBig(400),
	}
	lo, hi, ok := sys.interval(model.JuniorInvest, x)
	require.True(t, ok)
	// 50/0.85 rounded up, from the junior floor
	assert.Equal(t, "58823529411764705883", lo.String())
	assert.Equal(t, wadBig(125).String(), hi.String())
	assert.Contains(t, sys.violations(x), "junior_ratio_min")
}

func TestSettle(t *testing.T) {
	sys := newSystem(referencePool(t), referenceOrders())
	priority := DefaultWeights.Ordered()

	tests := []struct {
		name    string
		relaxed [4]float64
	}{
		{"overshoot above the cap", [4]float64{300, 100, 125.0000001, 400}},
		{"undershoot everywhere", [4]float64{299.9999, 100, 124.9, 399.5}},
		{"exact", [4]float64{300, 100, 125, 400}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			x, ok := sys.settle(tt.relaxed, priority)
			require.True(t, ok)
			assert.Equal(t, wadBig(300).String(), x[model.SeniorRedeem].String())
			assert.Equal(t, wadBig(100).String(), x[model.JuniorRedeem].String())
			assert.Equal(t, wadBig(125).String(), x[model.JuniorInvest].String())
			assert.Equal(t, wadBig(400).String(), x[model.SeniorInvest].String())
		})
	}
}

func TestCeilFloorDiv(t *testing.T) {
	assert.Equal(t, "2", floorDiv(big.NewInt(7), big.NewInt(3)).String())
	assert.Equal(t, "-3", floorDiv(big.NewInt(-7), big.NewInt(3)).String())
	// x >= -7/-3
	assert.Equal(t, "3", ceilDiv(big.NewInt(-7), big.NewInt(-3)).String())
	assert.Equal(t, "-2", ceilDiv(big.NewInt(7), big.NewInt(-3)).String())
}
