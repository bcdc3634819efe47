package state

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// Ledger is the single owned aggregate holding all accounts and the global
// totals. It has no ambient state: every operation receives it by exclusive
// reference. Mutation goes through PositionLedger / RewardAccrual in this
// package; the core engine stages mutations on a Clone and commits by swap.
type Ledger struct {
	accounts map[uuid.UUID]*Account

	totalCollateral *uint256.Int
	totalPrincipal  *uint256.Int

	// rewardsPerToken is the monotone WAD-scaled reward accumulator.
	rewardsPerToken *uint256.Int
}

func NewLedger() *Ledger {
	return &Ledger{
		accounts:        make(map[uuid.UUID]*Account),
		totalCollateral: new(uint256.Int),
		totalPrincipal:  new(uint256.Int),
		rewardsPerToken: new(uint256.Int),
	}
}

// Account returns the account for owner, creating it lazily on first use.
func (l *Ledger) Account(owner uuid.UUID) *Account {
	if acct, ok := l.accounts[owner]; ok {
		return acct
	}
	acct := newAccount(owner)
	l.accounts[owner] = acct
	return acct
}

// Lookup returns the account for owner without creating it.
func (l *Ledger) Lookup(owner uuid.UUID) (*Account, bool) {
	acct, ok := l.accounts[owner]
	return acct, ok
}

func (l *Ledger) TotalCollateral() *uint256.Int { return new(uint256.Int).Set(l.totalCollateral) }
func (l *Ledger) TotalPrincipal() *uint256.Int  { return new(uint256.Int).Set(l.totalPrincipal) }
func (l *Ledger) RewardsPerToken() *uint256.Int { return new(uint256.Int).Set(l.rewardsPerToken) }

// Clone deep-copies the whole aggregate. Operations stage their mutations on
// the clone and the engine commits by swapping it in, giving all-or-nothing
// semantics without a host-runtime rollback.
func (l *Ledger) Clone() *Ledger {
	accounts := make(map[uuid.UUID]*Account, len(l.accounts))
	for owner, acct := range l.accounts {
		accounts[owner] = acct.Clone()
	}
	return &Ledger{
		accounts:        accounts,
		totalCollateral: new(uint256.Int).Set(l.totalCollateral),
		totalPrincipal:  new(uint256.Int).Set(l.totalPrincipal),
		rewardsPerToken: new(uint256.Int).Set(l.rewardsPerToken),
	}
}

// sortedOwners returns all account owners in deterministic byte order.
func (l *Ledger) sortedOwners() []uuid.UUID {
	owners := make([]uuid.UUID, 0, len(l.accounts))
	for owner := range l.accounts {
		owners = append(owners, owner)
	}
	sort.Slice(owners, func(i, j int) bool {
		return bytes.Compare(owners[i][:], owners[j][:]) < 0
	})
	return owners
}

// CanonicalDigest builds the deterministic byte representation of the full
// ledger state for hash chaining: globals first, then accounts sorted by owner.
func (l *Ledger) CanonicalDigest() []byte {
	digest := make([]byte, 0, 3*32+len(l.accounts)*(16+4*32))

	for _, v := range []*uint256.Int{l.totalCollateral, l.totalPrincipal, l.rewardsPerToken} {
		b := v.Bytes32()
		digest = append(digest, b[:]...)
	}

	for _, owner := range l.sortedOwners() {
		acct := l.accounts[owner]
		if acct.IsEmpty() && acct.PendingRewards.IsZero() {
			continue
		}
		digest = append(digest, acct.CanonicalBytes()...)
	}

	return digest
}

// CheckTotals verifies that the global totals equal the per-account sums.
// Holds at every quiescent point; a violation means corrupted state.
func (l *Ledger) CheckTotals() error {
	sumCollateral := new(uint256.Int)
	sumPrincipal := new(uint256.Int)

	for _, acct := range l.accounts {
		sumCollateral.Add(sumCollateral, acct.Collateral)
		sumPrincipal.Add(sumPrincipal, acct.Principal)
	}

	if !sumCollateral.Eq(l.totalCollateral) {
		return fmt.Errorf("totalCollateral %s != account sum %s",
			l.totalCollateral.Dec(), sumCollateral.Dec())
	}
	if !sumPrincipal.Eq(l.totalPrincipal) {
		return fmt.Errorf("totalPrincipal %s != account sum %s",
			l.totalPrincipal.Dec(), sumPrincipal.Dec())
	}

	return nil
}

// --- Snapshot support ---

// AccountSnapshot is the serializable form of one account. Amounts are
// decimal strings to survive JSON round-trips without precision loss.
type AccountSnapshot struct {
	Owner          uuid.UUID `json:"owner"`
	Collateral     string    `json:"collateral"`
	Principal      string    `json:"principal"`
	RewardDebt     string    `json:"reward_debt"`
	PendingRewards string    `json:"pending_rewards"`
}

// LedgerSnapshot is the serializable form of the whole aggregate.
type LedgerSnapshot struct {
	TotalCollateral string            `json:"total_collateral"`
	TotalPrincipal  string            `json:"total_principal"`
	RewardsPerToken string            `json:"rewards_per_token"`
	Accounts        []AccountSnapshot `json:"accounts"`
}

// Snapshot captures the current state in deterministic order.
func (l *Ledger) Snapshot() *LedgerSnapshot {
	snap := &LedgerSnapshot{
		TotalCollateral: l.totalCollateral.Dec(),
		TotalPrincipal:  l.totalPrincipal.Dec(),
		RewardsPerToken: l.rewardsPerToken.Dec(),
		Accounts:        make([]AccountSnapshot, 0, len(l.accounts)),
	}

	for _, owner := range l.sortedOwners() {
		acct := l.accounts[owner]
		if acct.IsEmpty() && acct.PendingRewards.IsZero() {
			continue
		}
		snap.Accounts = append(snap.Accounts, AccountSnapshot{
			Owner:          acct.Owner,
			Collateral:     acct.Collateral.Dec(),
			Principal:      acct.Principal.Dec(),
			RewardDebt:     acct.RewardDebt.Dec(),
			PendingRewards: acct.PendingRewards.Dec(),
		})
	}

	return snap
}

// RestoreLedger rebuilds a Ledger from a snapshot.
func RestoreLedger(snap *LedgerSnapshot) (*Ledger, error) {
	l := NewLedger()

	var err error
	if l.totalCollateral, err = uint256.FromDecimal(snap.TotalCollateral); err != nil {
		return nil, fmt.Errorf("restore totalCollateral: %w", err)
	}
	if l.totalPrincipal, err = uint256.FromDecimal(snap.TotalPrincipal); err != nil {
		return nil, fmt.Errorf("restore totalPrincipal: %w", err)
	}
	if l.rewardsPerToken, err = uint256.FromDecimal(snap.RewardsPerToken); err != nil {
		return nil, fmt.Errorf("restore rewardsPerToken: %w", err)
	}

	for _, as := range snap.Accounts {
		acct := newAccount(as.Owner)
		if acct.Collateral, err = uint256.FromDecimal(as.Collateral); err != nil {
			return nil, fmt.Errorf("restore account %s collateral: %w", as.Owner, err)
		}
		if acct.Principal, err = uint256.FromDecimal(as.Principal); err != nil {
			return nil, fmt.Errorf("restore account %s principal: %w", as.Owner, err)
		}
		if acct.RewardDebt, err = uint256.FromDecimal(as.RewardDebt); err != nil {
			return nil, fmt.Errorf("restore account %s rewardDebt: %w", as.Owner, err)
		}
		if acct.PendingRewards, err = uint256.FromDecimal(as.PendingRewards); err != nil {
			return nil, fmt.Errorf("restore account %s pendingRewards: %w", as.Owner, err)
		}
		l.accounts[as.Owner] = acct
	}

	if err := l.CheckTotals(); err != nil {
		return nil, fmt.Errorf("restored snapshot inconsistent: %w", err)
	}

	return l, nil
}
