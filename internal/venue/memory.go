package venue

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/holiman/uint256"

	fpmath "StableLend/internal/math"
)

// In-memory collaborators for tests and single-node local runs. They share
// the interfaces the production adapters implement, so the engine cannot
// tell them apart.

// MemToken is a mintable/burnable balance map.
type MemToken struct {
	mu       sync.Mutex
	symbol   string
	balances map[uuid.UUID]*uint256.Int
}

func NewMemToken(symbol string) *MemToken {
	return &MemToken{
		symbol:   symbol,
		balances: make(map[uuid.UUID]*uint256.Int),
	}
}

func (t *MemToken) balance(holder uuid.UUID) *uint256.Int {
	if b, ok := t.balances[holder]; ok {
		return b
	}
	b := new(uint256.Int)
	t.balances[holder] = b
	return b
}

func (t *MemToken) BalanceOf(_ context.Context, holder uuid.UUID) (*uint256.Int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return new(uint256.Int).Set(t.balance(holder)), nil
}

func (t *MemToken) Transfer(_ context.Context, from, to uuid.UUID, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src := t.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%s transfer %s from %s: %w", t.symbol, amount.Dec(), from, ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	dst := t.balance(to)
	dst.Add(dst, amount)
	return nil
}

func (t *MemToken) Mint(_ context.Context, to uuid.UUID, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	dst := t.balance(to)
	if _, overflow := dst.AddOverflow(dst, amount); overflow {
		return fmt.Errorf("%s mint %s to %s: %w", t.symbol, amount.Dec(), to, fpmath.ErrOverflow)
	}
	return nil
}

func (t *MemToken) Burn(_ context.Context, from uuid.UUID, amount *uint256.Int) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	src := t.balance(from)
	if src.Lt(amount) {
		return fmt.Errorf("%s burn %s from %s: %w", t.symbol, amount.Dec(), from, ErrInsufficientBalance)
	}
	src.Sub(src, amount)
	return nil
}

// MemFarm is a staking pool that accrues a queued reward and pays it out on
// the next stake/unstake, mirroring venues where harvest is a side effect of
// both calls.
type MemFarm struct {
	mu      sync.Mutex
	staked  map[string]*uint256.Int
	pending map[string]*uint256.Int
}

func NewMemFarm() *MemFarm {
	return &MemFarm{
		staked:  make(map[string]*uint256.Int),
		pending: make(map[string]*uint256.Int),
	}
}

// Accrue queues reward for the pool's next harvest.
func (f *MemFarm) Accrue(poolID string, reward *uint256.Int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.pending[poolID]
	if !ok {
		p = new(uint256.Int)
		f.pending[poolID] = p
	}
	p.Add(p, reward)
}

func (f *MemFarm) drain(poolID string) *uint256.Int {
	claimed := new(uint256.Int)
	if p, ok := f.pending[poolID]; ok {
		claimed.Set(p)
		p.Clear()
	}
	return claimed
}

func (f *MemFarm) Stake(_ context.Context, poolID string, amount *uint256.Int) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.staked[poolID]
	if !ok {
		s = new(uint256.Int)
		f.staked[poolID] = s
	}
	s.Add(s, amount)
	return f.drain(poolID), nil
}

func (f *MemFarm) Harvest(_ context.Context, poolID string) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.drain(poolID), nil
}

func (f *MemFarm) Unstake(_ context.Context, poolID string, amount *uint256.Int) (*uint256.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.staked[poolID]
	if !ok || s.Lt(amount) {
		return nil, fmt.Errorf("unstake %s from pool %s: %w", amount.Dec(), poolID, ErrInsufficientBalance)
	}
	s.Sub(s, amount)
	return f.drain(poolID), nil
}

// Staked returns the pool's current staked amount (test hook).
func (f *MemFarm) Staked(poolID string) *uint256.Int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if s, ok := f.staked[poolID]; ok {
		return new(uint256.Int).Set(s)
	}
	return new(uint256.Int)
}

// StaticOracle serves a settable rate.
type StaticOracle struct {
	mu    sync.Mutex
	rates map[string]*uint256.Int
}

func NewStaticOracle() *StaticOracle {
	return &StaticOracle{rates: make(map[string]*uint256.Int)}
}

func (o *StaticOracle) SetRate(asset string, rate *uint256.Int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.rates[asset] = new(uint256.Int).Set(rate)
}

func (o *StaticOracle) PriceOf(_ context.Context, asset string) (*uint256.Int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	rate, ok := o.rates[asset]
	if !ok {
		return nil, fmt.Errorf("oracle has no rate for %s: %w", asset, ErrRateUnavailable)
	}
	return new(uint256.Int).Set(rate), nil
}

// MemRouter converts collateral to debt asset at a fixed rate and credits
// the recipient on the debt token.
type MemRouter struct {
	rate      *uint256.Int // WAD debt per collateral
	debtToken *MemToken
}

func NewMemRouter(rate *uint256.Int, debtToken *MemToken) *MemRouter {
	return &MemRouter{rate: new(uint256.Int).Set(rate), debtToken: debtToken}
}

func (r *MemRouter) Swap(ctx context.Context, route []string, amountIn *uint256.Int, recipient uuid.UUID) (*uint256.Int, error) {
	if len(route) == 0 {
		return nil, fmt.Errorf("swap: empty route")
	}
	out, err := fpmath.MulWad(amountIn, r.rate)
	if err != nil {
		return nil, fmt.Errorf("swap %s: %w", amountIn.Dec(), err)
	}
	if err := r.debtToken.Mint(ctx, recipient, out); err != nil {
		return nil, err
	}
	return out, nil
}
