package core_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"StableLend/internal/core"
	fpmath "StableLend/internal/math"
	"StableLend/internal/state"
	"StableLend/internal/venue"
)

const (
	testAsset = "YCOLL"
	testPool  = "pool-main"
)

func units(n uint64) *uint256.Int {
	return fpmath.FromUnits(n)
}

// testRig wires an engine against the in-memory collaborators.
type testRig struct {
	engine     *core.Engine
	oracle     *venue.StaticOracle
	farm       *venue.MemFarm
	collateral *venue.MemToken
	reward     *venue.MemToken
	debt       *venue.MemToken
}

func newRig(t *testing.T) *testRig {
	t.Helper()
	return newRigWithParams(t, state.DefaultParams())
}

func newRigWithParams(t *testing.T, p state.Params) *testRig {
	t.Helper()

	params, err := state.NewParamsManager(p)
	require.NoError(t, err)

	rig := &testRig{
		oracle:     venue.NewStaticOracle(),
		farm:       venue.NewMemFarm(),
		collateral: venue.NewMemToken("COLL"),
		reward:     venue.NewMemToken("RWD"),
		debt:       venue.NewMemToken("SUSD"),
	}
	rig.oracle.SetRate(testAsset, units(1))

	rig.engine = core.NewEngine(core.EngineConfig{
		Ledger:          state.NewLedger(),
		Params:          params,
		Oracle:          rig.oracle,
		Farm:            rig.farm,
		DebtAsset:       rig.debt,
		RewardToken:     rig.reward,
		CollateralToken: rig.collateral,
		Router:          venue.NewMemRouter(units(1), rig.debt),
		CollateralAsset: testAsset,
		PoolID:          testPool,
		Logger:          zerolog.Nop(),
	})
	return rig
}

func (r *testRig) fund(t *testing.T, owner uuid.UUID, amount *uint256.Int) {
	t.Helper()
	require.NoError(t, r.collateral.Mint(context.Background(), owner, amount))
}

func (r *testRig) balance(t *testing.T, token *venue.MemToken, owner uuid.UUID) *uint256.Int {
	t.Helper()
	b, err := token.BalanceOf(context.Background(), owner)
	require.NoError(t, err)
	return b
}

// --- lifecycle ---

func TestEngine_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rig.fund(t, alice, units(100))

	_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)
	require.True(t, rig.balance(t, rig.collateral, core.VaultHolder).Eq(units(100)))
	require.True(t, rig.farm.Staked(testPool).Eq(units(100)))

	_, err = rig.engine.Borrow(ctx, alice, alice, units(50))
	require.NoError(t, err)
	require.True(t, rig.balance(t, rig.debt, alice).Eq(units(50)))

	_, err = rig.engine.Repay(ctx, alice, uuid.Nil, units(50))
	require.NoError(t, err)
	require.True(t, rig.balance(t, rig.debt, alice).IsZero())

	_, err = rig.engine.Withdraw(ctx, alice, alice, alice, units(100))
	require.NoError(t, err)
	require.True(t, rig.balance(t, rig.collateral, alice).Eq(units(100)))
	require.True(t, rig.farm.Staked(testPool).IsZero())

	tc, tp, _ := rig.engine.Totals()
	require.True(t, tc.IsZero())
	require.True(t, tp.IsZero())
	require.Equal(t, int64(4), rig.engine.Sequence())
}

func TestEngine_BorrowInsolventRollsBack(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rig.fund(t, alice, units(100))

	_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)

	// 100 collateral at rate 1.0 with 75% LTV caps principal at 75.
	_, err = rig.engine.Borrow(ctx, alice, alice, units(80))
	require.ErrorIs(t, err, state.ErrInsolventCaller)

	require.True(t, rig.balance(t, rig.debt, alice).IsZero())
	_, tp, _ := rig.engine.Totals()
	require.True(t, tp.IsZero())
	require.Equal(t, int64(1), rig.engine.Sequence())
}

func TestEngine_OracleOutageFailsBorrow(t *testing.T) {
	ctx := context.Background()

	// The oracle only knows some other asset, so the solvency check has no
	// rate for the collateral.
	coldOracle := venue.NewStaticOracle()
	coldOracle.SetRate("OTHER", units(1))

	params, err := state.NewParamsManager(state.DefaultParams())
	require.NoError(t, err)
	debt := venue.NewMemToken("SUSD")
	collateral := venue.NewMemToken("COLL")
	engine := core.NewEngine(core.EngineConfig{
		Ledger:          state.NewLedger(),
		Params:          params,
		Oracle:          coldOracle,
		Farm:            venue.NewMemFarm(),
		DebtAsset:       debt,
		RewardToken:     venue.NewMemToken("RWD"),
		CollateralToken: collateral,
		Router:          venue.NewMemRouter(units(1), debt),
		CollateralAsset: testAsset,
		PoolID:          testPool,
		Logger:          zerolog.Nop(),
	})

	alice := uuid.New()
	require.NoError(t, collateral.Mint(ctx, alice, units(100)))
	_, err = engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)

	_, err = engine.Borrow(ctx, alice, alice, units(10))
	require.ErrorIs(t, err, state.ErrInvalidExchangeRate)
}

// --- batch ---

func TestEngine_BatchAtomicity(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rig.fund(t, alice, units(100))

	_, err := rig.engine.Execute(ctx, alice, []core.Action{
		core.DepositAction{To: alice, Amount: units(100)},
		core.BorrowAction{Recipient: alice, Amount: units(100)},
	})
	require.ErrorIs(t, err, state.ErrInsolventCaller)

	// Nothing moved: no deposit, no stake, no mint.
	require.True(t, rig.balance(t, rig.collateral, alice).Eq(units(100)))
	require.True(t, rig.farm.Staked(testPool).IsZero())
	tc, tp, _ := rig.engine.Totals()
	require.True(t, tc.IsZero())
	require.True(t, tp.IsZero())
}

func TestEngine_BorrowThenDepositWithinBatch(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rig.fund(t, alice, units(200))

	_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)

	// Borrow 100 against 100 collateral would fail alone; the deferred
	// solvency check sees the batch-final 200 collateral.
	_, err = rig.engine.Execute(ctx, alice, []core.Action{
		core.BorrowAction{Recipient: alice, Amount: units(100)},
		core.DepositAction{To: alice, Amount: units(100)},
	})
	require.NoError(t, err)

	require.True(t, rig.balance(t, rig.debt, alice).Eq(units(100)))
	tc, tp, _ := rig.engine.Totals()
	require.True(t, tc.Eq(units(200)))
	require.True(t, tp.Eq(units(100)))
}

func TestEngine_EmptyBatchRejected(t *testing.T) {
	rig := newRig(t)
	_, err := rig.engine.Execute(context.Background(), uuid.New(), nil)
	require.ErrorIs(t, err, state.ErrInvalidRequest)
}

// --- rewards ---

func TestEngine_WithdrawPaysAccruedRewards(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rewardsTo := uuid.New()
	rig.fund(t, alice, units(100))
	require.NoError(t, rig.reward.Mint(ctx, core.VaultHolder, units(10)))

	_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)

	rig.farm.Accrue(testPool, units(10))

	_, err = rig.engine.Withdraw(ctx, alice, alice, rewardsTo, units(100))
	require.NoError(t, err)

	require.True(t, rig.balance(t, rig.reward, rewardsTo).Eq(units(10)))
	require.True(t, rig.balance(t, rig.reward, core.VaultHolder).IsZero())
}

func TestEngine_RewardPayoutCappedByVaultBalance(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rig.fund(t, alice, units(100))
	require.NoError(t, rig.reward.Mint(ctx, core.VaultHolder, units(5)))

	_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)

	rig.farm.Accrue(testPool, units(10))

	// Owed 10, vault holds 5: partial payment, shortfall dropped.
	_, err = rig.engine.Withdraw(ctx, alice, alice, alice, units(100))
	require.NoError(t, err)

	require.True(t, rig.balance(t, rig.reward, alice).Eq(units(5)))
	require.True(t, rig.balance(t, rig.reward, core.VaultHolder).IsZero())
}

func TestEngine_HarvestBeforeDepositOrdering(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice, bob := uuid.New(), uuid.New()
	rig.fund(t, alice, units(100))
	rig.fund(t, bob, units(100))
	require.NoError(t, rig.reward.Mint(ctx, core.VaultHolder, units(200)))

	_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
	require.NoError(t, err)

	// This payout is pending when bob deposits; it must be folded in before
	// bob's collateral exists, so it belongs entirely to alice.
	rig.farm.Accrue(testPool, units(100))
	_, err = rig.engine.Deposit(ctx, bob, bob, units(100))
	require.NoError(t, err)

	rig.farm.Accrue(testPool, units(100))

	_, err = rig.engine.Withdraw(ctx, alice, alice, alice, units(100))
	require.NoError(t, err)
	_, err = rig.engine.Withdraw(ctx, bob, bob, bob, units(100))
	require.NoError(t, err)

	require.True(t, rig.balance(t, rig.reward, alice).Eq(units(150)), "alice got %s", rig.balance(t, rig.reward, alice).Dec())
	require.True(t, rig.balance(t, rig.reward, bob).Eq(units(50)), "bob got %s", rig.balance(t, rig.reward, bob).Dec())
}

func TestEngine_HarvestWithZeroCollateralIsDonated(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	rig.farm.Accrue(testPool, units(10))

	_, err := rig.engine.Harvest(ctx)
	require.NoError(t, err)

	_, _, rpt := rig.engine.Totals()
	require.True(t, rpt.IsZero())
	require.Equal(t, int64(1), rig.engine.Sequence())
}

// --- governance ---

func TestEngine_SetParam(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	half := uint256.NewInt(500_000_000_000_000_000)
	_, err := rig.engine.SetParam(ctx, core.ParamMaxLTVRatio, half)
	require.NoError(t, err)
	require.True(t, rig.engine.Params().MaxLTVRatio.Eq(half))
	require.Equal(t, int64(1), rig.engine.Sequence())
}

func TestEngine_SetParamRejectsOutOfBounds(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)

	over := new(uint256.Int).Add(state.MaxLTVRatioBound, uint256.NewInt(1))
	_, err := rig.engine.SetParam(ctx, core.ParamMaxLTVRatio, over)
	require.ErrorIs(t, err, state.ErrInvalidRequest)

	_, err = rig.engine.SetParam(ctx, "nonsense", units(1))
	require.ErrorIs(t, err, state.ErrInvalidRequest)

	require.Equal(t, int64(0), rig.engine.Sequence())
}

// --- reentrancy ---

// callbackFarm calls back into the engine from inside Harvest.
type callbackFarm struct {
	inner    *venue.MemFarm
	callback func()
}

func (f *callbackFarm) Stake(ctx context.Context, poolID string, amount *uint256.Int) (*uint256.Int, error) {
	return f.inner.Stake(ctx, poolID, amount)
}

func (f *callbackFarm) Unstake(ctx context.Context, poolID string, amount *uint256.Int) (*uint256.Int, error) {
	return f.inner.Unstake(ctx, poolID, amount)
}

func (f *callbackFarm) Harvest(ctx context.Context, poolID string) (*uint256.Int, error) {
	if f.callback != nil {
		f.callback()
	}
	return f.inner.Harvest(ctx, poolID)
}

func TestEngine_ReentrantCallbackRejected(t *testing.T) {
	ctx := context.Background()

	params, err := state.NewParamsManager(state.DefaultParams())
	require.NoError(t, err)

	oracle := venue.NewStaticOracle()
	oracle.SetRate(testAsset, units(1))
	farm := &callbackFarm{inner: venue.NewMemFarm()}
	collateral := venue.NewMemToken("COLL")
	debt := venue.NewMemToken("SUSD")

	engine := core.NewEngine(core.EngineConfig{
		Ledger:          state.NewLedger(),
		Params:          params,
		Oracle:          oracle,
		Farm:            farm,
		DebtAsset:       debt,
		RewardToken:     venue.NewMemToken("RWD"),
		CollateralToken: collateral,
		Router:          venue.NewMemRouter(units(1), debt),
		CollateralAsset: testAsset,
		PoolID:          testPool,
		Logger:          zerolog.Nop(),
	})

	var callbackErr error
	farm.callback = func() {
		_, callbackErr = engine.Harvest(ctx)
	}

	alice := uuid.New()
	require.NoError(t, collateral.Mint(ctx, alice, units(10)))

	_, err = engine.Deposit(ctx, alice, alice, units(10))
	require.NoError(t, err)
	require.ErrorIs(t, callbackErr, core.ErrReentrantCall)
}

// --- hash chain ---

func TestEngine_StateHashDeterministic(t *testing.T) {
	ctx := context.Background()
	alice := uuid.MustParse("550e8400-e29b-41d4-a716-446655440000")

	run := func() [32]byte {
		rig := newRig(t)
		rig.fund(t, alice, units(100))
		_, err := rig.engine.Deposit(ctx, alice, alice, units(100))
		require.NoError(t, err)
		_, err = rig.engine.Borrow(ctx, alice, alice, units(50))
		require.NoError(t, err)
		return rig.engine.StateHash()
	}

	require.Equal(t, run(), run())
}

func TestEngine_StateHashAdvancesPerCommit(t *testing.T) {
	ctx := context.Background()
	rig := newRig(t)
	alice := uuid.New()
	rig.fund(t, alice, units(100))

	h0 := rig.engine.StateHash()
	_, err := rig.engine.Deposit(ctx, alice, alice, units(50))
	require.NoError(t, err)
	h1 := rig.engine.StateHash()
	_, err = rig.engine.Deposit(ctx, alice, alice, units(50))
	require.NoError(t, err)
	h2 := rig.engine.StateHash()

	require.NotEqual(t, h0, h1)
	require.NotEqual(t, h1, h2)
}
