package core

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/rs/zerolog"

	"StableLend/internal/event"
	fpmath "StableLend/internal/math"
	"StableLend/internal/observability"
	"StableLend/internal/state"
	"StableLend/internal/venue"
)

// VaultHolder is the engine's identity on the external token surfaces: it
// custodies deposited collateral and harvested reward tokens. The protocol's
// liquidation fee share is burned from the liquidator rather than paid to a
// treasury account.
var VaultHolder = uuid.NewSHA1(uuid.NameSpaceOID, []byte("stablelend:vault"))

// ErrReentrantCall is returned when a collaborator calls back into the
// engine on the same call stack. Reward and solvency invariants are not
// intermediate-safe, so nested entry is rejected rather than serialized.
var ErrReentrantCall = fmt.Errorf("reentrant call rejected")

// CoreOutput is what the engine emits per committed operation.
type CoreOutput struct {
	Envelope *event.EventEnvelope
}

// Engine owns the ledger aggregate and executes every public operation as a
// single indivisible transaction: one writer lock for the whole operation,
// mutations staged on a clone, commit by swap only after every check and
// external call succeeded.
type Engine struct {
	mu      sync.Mutex
	entered atomic.Bool

	ledger   *state.Ledger
	params   *state.ParamsManager
	solvency *state.SolvencyChecker

	oracle          venue.Oracle
	farm            venue.YieldVenue
	debtAsset       venue.DebtAsset
	rewardToken     venue.Token
	collateralToken venue.Token
	router          venue.SwapRouter

	collateralAsset string
	poolID          string

	hasher   *StateHasher
	sequence int64

	persistChan chan<- CoreOutput
	publishChan chan<- CoreOutput

	metrics *observability.Metrics
	log     zerolog.Logger
}

// EngineConfig wires the engine's collaborators and restore state.
type EngineConfig struct {
	Ledger *state.Ledger
	Params *state.ParamsManager

	Oracle          venue.Oracle
	Farm            venue.YieldVenue
	DebtAsset       venue.DebtAsset
	RewardToken     venue.Token
	CollateralToken venue.Token
	Router          venue.SwapRouter

	// CollateralAsset is the oracle symbol for the collateral.
	CollateralAsset string
	// PoolID identifies the farm pool the collateral is staked into.
	PoolID string

	// StartSequence and PrevHash resume the event log after a restore.
	StartSequence int64
	PrevHash      *[32]byte

	PersistChan chan<- CoreOutput
	PublishChan chan<- CoreOutput

	Metrics *observability.Metrics
	Logger  zerolog.Logger
}

func NewEngine(cfg EngineConfig) *Engine {
	hasher := NewStateHasher()
	if cfg.PrevHash != nil {
		hasher.SetPrevHash(*cfg.PrevHash)
	}

	return &Engine{
		ledger:          cfg.Ledger,
		params:          cfg.Params,
		solvency:        state.NewSolvencyChecker(cfg.Params),
		oracle:          cfg.Oracle,
		farm:            cfg.Farm,
		debtAsset:       cfg.DebtAsset,
		rewardToken:     cfg.RewardToken,
		collateralToken: cfg.CollateralToken,
		router:          cfg.Router,
		collateralAsset: cfg.CollateralAsset,
		poolID:          cfg.PoolID,
		hasher:          hasher,
		sequence:        cfg.StartSequence,
		persistChan:     cfg.PersistChan,
		publishChan:     cfg.PublishChan,
		metrics:         cfg.Metrics,
		log:             cfg.Logger,
	}
}

// enter acquires the reentrancy guard, then the writer lock. The guard is
// checked before the lock so a synchronous callback from a collaborator gets
// ErrReentrantCall instead of deadlocking on the mutex.
func (e *Engine) enter() error {
	if !e.entered.CompareAndSwap(false, true) {
		return ErrReentrantCall
	}
	e.mu.Lock()
	return nil
}

func (e *Engine) exit() {
	e.mu.Unlock()
	e.entered.Store(false)
}

// --- staged batch execution ---

type transfer struct {
	from   uuid.UUID
	to     uuid.UUID
	amount *uint256.Int
}

// batchState stages ledger mutations on a clone and records the external
// effects to perform once the whole batch has validated.
type batchState struct {
	work      *state.Ledger
	positions *state.PositionLedger
	rewards   *state.RewardAccrual

	stakeIn    *uint256.Int
	unstakeOut *uint256.Int

	collateralIn  []transfer // caller -> vault
	collateralOut []transfer // vault -> recipient
	rewardsOut    []transfer // vault -> recipient (capped)

	mints          []transfer
	burnFromCaller *uint256.Int

	// rewardBudget is the reward-token balance still available for payouts
	// in this batch; shortfalls are not tracked further.
	rewardBudget *uint256.Int
	rewardsPaid  *uint256.Int

	needSolvency bool
	kinds        []string
}

func (e *Engine) newBatchState(ctx context.Context) (*batchState, error) {
	work := e.ledger.Clone()
	rewards := state.NewRewardAccrual(work)

	budget, err := e.rewardToken.BalanceOf(ctx, VaultHolder)
	if err != nil {
		return nil, fmt.Errorf("reward balance: %w", err)
	}

	return &batchState{
		work:           work,
		positions:      state.NewPositionLedger(work, rewards, e.params),
		rewards:        rewards,
		stakeIn:        new(uint256.Int),
		unstakeOut:     new(uint256.Int),
		burnFromCaller: new(uint256.Int),
		rewardBudget:   budget,
		rewardsPaid:    new(uint256.Int),
	}, nil
}

// harvestInto folds the farm's pending payout into the staged accumulator.
// Runs before any collateral bookkeeping changes so new collateral cannot
// retroactively capture rewards earned before it existed.
func (e *Engine) harvestInto(ctx context.Context, bs *batchState) (*uint256.Int, error) {
	claimed, err := e.farm.Harvest(ctx, e.poolID)
	if err != nil {
		return nil, fmt.Errorf("harvest: %w", err)
	}
	if _, err := bs.rewards.Harvest(claimed); err != nil {
		return nil, err
	}
	return claimed, nil
}

// payRewards stages a reward payout capped by the remaining budget. The
// un-paid remainder is dropped: the recipient is expected to retry after the
// vault's reward balance is replenished.
func (bs *batchState) payRewards(to uuid.UUID, owed *uint256.Int) *uint256.Int {
	paid := new(uint256.Int).Set(fpmath.Min(owed, bs.rewardBudget))
	if paid.IsZero() {
		return paid
	}
	bs.rewardBudget.Sub(bs.rewardBudget, paid)
	bs.rewardsPaid.Add(bs.rewardsPaid, paid)
	bs.rewardsOut = append(bs.rewardsOut, transfer{from: VaultHolder, to: to, amount: paid})
	return paid
}

func (e *Engine) applyAction(caller uuid.UUID, bs *batchState, action Action) error {
	switch a := action.(type) {
	case DepositAction:
		if err := bs.positions.Deposit(a.To, a.Amount); err != nil {
			return err
		}
		bs.collateralIn = append(bs.collateralIn, transfer{from: caller, to: VaultHolder, amount: a.Amount})
		bs.stakeIn.Add(bs.stakeIn, a.Amount)

	case WithdrawAction:
		if a.CollateralRecipient == uuid.Nil || a.RewardsRecipient == uuid.Nil {
			return state.ErrInvalidAddress
		}
		owed, err := bs.positions.Withdraw(caller, a.Amount)
		if err != nil {
			return err
		}
		bs.payRewards(a.RewardsRecipient, owed)
		bs.unstakeOut.Add(bs.unstakeOut, a.Amount)
		bs.collateralOut = append(bs.collateralOut, transfer{from: VaultHolder, to: a.CollateralRecipient, amount: a.Amount})

	case BorrowAction:
		if a.Recipient == uuid.Nil {
			return state.ErrInvalidAddress
		}
		if err := bs.positions.Borrow(caller, a.Amount); err != nil {
			return err
		}
		bs.mints = append(bs.mints, transfer{to: a.Recipient, amount: a.Amount})

	case RepayAction:
		account := a.Account
		if account == uuid.Nil {
			account = caller
		}
		if err := bs.positions.Repay(account, a.Amount); err != nil {
			return err
		}
		bs.burnFromCaller.Add(bs.burnFromCaller, a.Amount)

	default:
		return fmt.Errorf("%w: unknown action %T", state.ErrInvalidRequest, action)
	}

	if solvencySensitive(action) {
		bs.needSolvency = true
	}
	bs.kinds = append(bs.kinds, action.Kind())
	return nil
}

// checkCallerSolvency runs the single deferred check for a solvency-
// sensitive batch against the staged state.
func (e *Engine) checkCallerSolvency(ctx context.Context, caller uuid.UUID, bs *batchState) error {
	rate, err := e.oracle.PriceOf(ctx, e.collateralAsset)
	if err != nil {
		return fmt.Errorf("%w: %v", state.ErrInvalidExchangeRate, err)
	}

	acct, ok := bs.work.Lookup(caller)
	if !ok {
		return nil
	}
	solvent, err := e.solvency.IsSolvent(acct, rate)
	if err != nil {
		return err
	}
	if !solvent {
		return state.ErrInsolventCaller
	}
	return nil
}

// settleExternals performs the staged token and venue effects. Runs after
// all validation so a failed batch leaves the collaborators untouched; a
// collaborator failure here still aborts before the ledger commit.
func (e *Engine) settleExternals(ctx context.Context, caller uuid.UUID, bs *batchState) error {
	for _, t := range bs.collateralIn {
		if err := e.collateralToken.Transfer(ctx, t.from, t.to, t.amount); err != nil {
			return fmt.Errorf("collateral in: %w", err)
		}
	}

	if !bs.stakeIn.IsZero() {
		claimed, err := e.farm.Stake(ctx, e.poolID, bs.stakeIn)
		if err != nil {
			return fmt.Errorf("stake: %w", err)
		}
		// Pending payout was drained at batch entry, so this is normally
		// zero; any dust still lands in the accumulator.
		if _, err := bs.rewards.Harvest(claimed); err != nil {
			return err
		}
	}
	if !bs.unstakeOut.IsZero() {
		claimed, err := e.farm.Unstake(ctx, e.poolID, bs.unstakeOut)
		if err != nil {
			return fmt.Errorf("unstake: %w", err)
		}
		if _, err := bs.rewards.Harvest(claimed); err != nil {
			return err
		}
	}

	for _, t := range bs.collateralOut {
		if err := e.collateralToken.Transfer(ctx, t.from, t.to, t.amount); err != nil {
			return fmt.Errorf("collateral out: %w", err)
		}
	}
	for _, t := range bs.rewardsOut {
		if err := e.rewardToken.Transfer(ctx, t.from, t.to, t.amount); err != nil {
			return fmt.Errorf("rewards out: %w", err)
		}
	}

	for _, t := range bs.mints {
		if err := e.debtAsset.Mint(ctx, t.to, t.amount); err != nil {
			return fmt.Errorf("mint: %w", err)
		}
	}
	if !bs.burnFromCaller.IsZero() {
		if err := e.debtAsset.Burn(ctx, caller, bs.burnFromCaller); err != nil {
			return fmt.Errorf("burn: %w", err)
		}
	}

	return nil
}

// commit swaps the staged ledger in, assigns a sequence, extends the hash
// chain, and emits the event. Called with the lock held.
func (e *Engine) commit(work *state.Ledger, evt event.Event) (*event.EventEnvelope, error) {
	payload, err := json.Marshal(evt)
	if err != nil {
		return nil, fmt.Errorf("marshal %s event: %w", evt.EventType(), err)
	}

	e.ledger = work

	if err := e.ledger.CheckTotals(); err != nil {
		panic(fmt.Sprintf("FATAL: ledger totals diverged after %s: %v", evt.EventType(), err))
	}

	seq := e.sequence
	e.sequence++

	prevHash := e.hasher.GetPrevHash()
	stateHash := e.hasher.ComputeHash(seq, e.ledger.CanonicalDigest())

	envelope := &event.EventEnvelope{
		Sequence:       seq,
		IdempotencyKey: evt.IdempotencyKey(),
		EventType:      evt.EventType(),
		Timestamp:      time.Now().UTC(),
		Payload:        payload,
		StateHash:      stateHash,
		PrevHash:       prevHash,
	}

	output := CoreOutput{Envelope: envelope}

	// Persistence is a blocking send: if the worker falls behind the engine
	// stalls, guaranteeing no committed operation is lost.
	if e.persistChan != nil {
		e.persistChan <- output
	}

	// Publishing is best-effort; consumers can rebuild from the event log.
	if e.publishChan != nil {
		select {
		case e.publishChan <- output:
		default:
			if e.metrics != nil {
				e.metrics.PublishDrops.Inc()
			}
		}
	}

	if e.metrics != nil {
		e.metrics.OpsApplied.WithLabelValues(evt.EventType().String()).Inc()
		e.metrics.Sequence.Set(float64(e.sequence))
		e.metrics.ObserveTotals(e.ledger.TotalCollateral(), e.ledger.TotalPrincipal(), e.ledger.RewardsPerToken())
	}

	return envelope, nil
}

func (e *Engine) reject(kind string, err error) error {
	if e.metrics != nil {
		e.metrics.OpsRejected.WithLabelValues(kind).Inc()
	}
	e.log.Debug().Str("op", kind).Err(err).Msg("operation rejected")
	return err
}

// --- public operations ---

// Execute runs an ordered batch of actions atomically with a single
// deferred solvency check. A failure in any action aborts the whole batch.
func (e *Engine) Execute(ctx context.Context, caller uuid.UUID, actions []Action) (uuid.UUID, error) {
	if err := e.enter(); err != nil {
		return uuid.Nil, err
	}
	defer e.exit()

	opID := uuid.New()
	start := time.Now()

	bs, evt, err := e.executeLocked(ctx, caller, opID, actions)
	if err != nil {
		return uuid.Nil, e.reject("batch", err)
	}

	if _, err := e.commit(bs.work, evt); err != nil {
		return uuid.Nil, e.reject("batch", err)
	}

	if e.metrics != nil {
		e.metrics.OpDuration.WithLabelValues("batch").Observe(time.Since(start).Seconds())
	}
	e.log.Info().Str("op_id", opID.String()).Strs("actions", bs.kinds).Msg("batch executed")

	return opID, nil
}

func (e *Engine) executeLocked(ctx context.Context, caller uuid.UUID, opID uuid.UUID, actions []Action) (*batchState, event.Event, error) {
	if caller == uuid.Nil {
		return nil, nil, state.ErrInvalidAddress
	}
	if len(actions) == 0 {
		return nil, nil, fmt.Errorf("%w: empty batch", state.ErrInvalidRequest)
	}

	bs, err := e.newBatchState(ctx)
	if err != nil {
		return nil, nil, err
	}

	if _, err := e.harvestInto(ctx, bs); err != nil {
		return nil, nil, err
	}

	for _, action := range actions {
		if err := e.applyAction(caller, bs, action); err != nil {
			return nil, nil, err
		}
	}

	if bs.needSolvency {
		if err := e.checkCallerSolvency(ctx, caller, bs); err != nil {
			return nil, nil, err
		}
	}

	if err := e.settleExternals(ctx, caller, bs); err != nil {
		return nil, nil, err
	}

	return bs, &event.BatchExecuted{
		OperationID:     opID,
		Caller:          caller,
		Actions:         bs.kinds,
		SolvencyChecked: bs.needSolvency,
	}, nil
}
