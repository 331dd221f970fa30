package runtime

import (
	"fmt"
	"sync"

	"github.com/deckarep/golang-set/v2"
	"github.com/ridgeline-labs/valcore/common"
)

// TransactionCost is the cost-model output for one transaction: the set of
// accounts it writes to, plus the account-access and execution cost
// components (kept separate as the real cost model does, since different
// instructions price differently per account touched vs. per compute unit
// burned).
type TransactionCost struct {
	WritableAccounts   []common.Address
	AccountAccessCost  uint32
	ExecutionCost      uint32
}

func (c TransactionCost) total() uint32 { return c.AccountAccessCost + c.ExecutionCost }

// CostStats is a snapshot exposed for diagnostics: total block cost,
// number of distinct writable accounts touched, and the single costliest
// one.
type CostStats struct {
	TotalCost           uint32
	NumberOfAccounts     int
	CostliestAccount     common.Address
	CostliestAccountCost uint32
}

// CostTracker enforces per-block cost admission:
// block_cost + tx_cost <= block_cost_limit and, for every writable account
// the transaction touches, account_cost + tx_cost <= account_cost_limit.
// TryAdd is atomic: a rejected transaction leaves every counter unchanged
type CostTracker struct {
	mu sync.Mutex

	accountCostLimit uint32
	blockCostLimit   uint32
	currentBankSlot  uint64

	costByWritableAccount map[common.Address]uint32
	blockCost             uint32
}

// NewCostTracker constructs a tracker with the given per-account and
// per-block cost ceilings. Mirrors CostTracker::new's assertion that the
// per-account limit never exceeds the block limit.
func NewCostTracker(accountCostLimit, blockCostLimit uint32) *CostTracker {
	if accountCostLimit > blockCostLimit {
		panic("runtime: account cost limit must not exceed block cost limit")
	}
	return &CostTracker{
		accountCostLimit:      accountCostLimit,
		blockCostLimit:        blockCostLimit,
		costByWritableAccount: make(map[common.Address]uint32),
	}
}

// Clone returns a tracker with the same limits and an independent, empty
// cost ledger -- used when a Bank spawns a child that starts its own
// per-slot accounting.
func (t *CostTracker) Clone() *CostTracker {
	return NewCostTracker(t.accountCostLimit, t.blockCostLimit)
}

// ResetIfNewBank clears all accumulated cost if slot differs from the
// tracker's current bank slot -- one cost ledger per Bank.
func (t *CostTracker) ResetIfNewBank(slot uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot != t.currentBankSlot {
		t.currentBankSlot = slot
		t.costByWritableAccount = make(map[common.Address]uint32)
		t.blockCost = 0
	}
}

// TryAdd admits transactionCost if it fits, updating the block and
// per-account counters atomically, and returns the new block_cost. On
// rejection the tracker is left exactly as it was.
func (t *CostTracker) TryAdd(tc TransactionCost) (uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	cost := tc.total()
	if err := t.wouldFitLocked(tc.WritableAccounts, cost); err != nil {
		return 0, err
	}
	t.addTransactionLocked(tc.WritableAccounts, cost)
	return t.blockCost, nil
}

// WouldFit reports, without mutating state, whether a transaction with the
// given writable accounts and cost could currently be admitted.
func (t *CostTracker) WouldFit(writableAccounts []common.Address, cost uint32) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.wouldFitLocked(writableAccounts, cost)
}

func (t *CostTracker) wouldFitLocked(keys []common.Address, cost uint32) error {
	if t.blockCost+cost > t.blockCostLimit {
		return fmt.Errorf("would exceed block cost limit (%d + %d > %d)", t.blockCost, cost, t.blockCostLimit)
	}
	if cost > t.accountCostLimit {
		return fmt.Errorf("transaction cost %d exceeds account cost limit %d", cost, t.accountCostLimit)
	}
	// dedup writable accounts the way the real tracker's per-key chained
	// cost check implicitly requires: a transaction naming the same
	// writable account twice must not double-count it.
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	for _, key := range keys {
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		if chained, ok := t.costByWritableAccount[key]; ok {
			if chained+cost > t.accountCostLimit {
				return fmt.Errorf("would exceed account cost limit for %s (%d + %d > %d)", key, chained, cost, t.accountCostLimit)
			}
		}
	}
	return nil
}

func (t *CostTracker) addTransactionLocked(keys []common.Address, cost uint32) {
	seen := mapset.NewThreadUnsafeSet[common.Address]()
	for _, key := range keys {
		if seen.Contains(key) {
			continue
		}
		seen.Add(key)
		t.costByWritableAccount[key] += cost
	}
	t.blockCost += cost
}

// GetStats returns a CostStats snapshot.
func (t *CostTracker) GetStats() CostStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := CostStats{
		TotalCost:       t.blockCost,
		NumberOfAccounts: len(t.costByWritableAccount),
	}
	for key, cost := range t.costByWritableAccount {
		if cost > stats.CostliestAccountCost {
			stats.CostliestAccount = key
			stats.CostliestAccountCost = cost
		}
	}
	return stats
}

// UpsertInstructionCost blends a freshly observed per-instruction cost with
// whatever was previously recorded by arithmetic mean of (old, new):
// smoothing, though not a true EMA.
func UpsertInstructionCost(previous, observed uint32, hadPrevious bool) uint32 {
	if !hadPrevious {
		return observed
	}
	return (previous + observed) / 2
}
