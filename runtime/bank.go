package runtime

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/common"
)

// Bank is the immutable-after-freeze, slot-scoped view over the ledger.
// Banks do not hold a reference to
// their parent: BankForks is the arena, and a Bank only remembers its
// parent's slot plus the ancestor set it inherited at creation time, so
// ancestor walks never chase a cyclic Arc graph.
type Bank struct {
	Slot       uint64
	ParentSlot uint64
	HasParent  bool
	Epoch      uint64

	mu               sync.Mutex
	blockhash        common.Hash
	tickHeight       uint64
	transactionCount uint64
	frozen           bool
	poisoned         bool

	// ancestors is every proper ancestor of Slot, inherited from the
	// parent at construction time (parent's ancestors plus the parent
	// itself). It never changes after NewFromParent returns.
	ancestors map[uint64]bool

	AccountsDB  *accounts.AccountsDB
	CostTracker *CostTracker
}

// NewBank creates the genesis/root Bank with no parent.
func NewBank(slot uint64, db *accounts.AccountsDB, blockhash common.Hash, accountCostLimit, blockCostLimit uint32) *Bank {
	b := &Bank{
		Slot:        slot,
		blockhash:   blockhash,
		ancestors:   make(map[uint64]bool),
		AccountsDB:  db,
		CostTracker: NewCostTracker(accountCostLimit, blockCostLimit),
	}
	b.CostTracker.ResetIfNewBank(slot)
	return b
}

// NewFromParent creates a child Bank of parent at slot. parent must not
// be frozen-then-discarded; it may be frozen (the common case -- a frozen
// bank's children still extend it).
func NewFromParent(parent *Bank, slot uint64, epoch uint64) *Bank {
	ancestors := make(map[uint64]bool, len(parent.ancestors)+1)
	for s := range parent.ancestors {
		ancestors[s] = true
	}
	ancestors[parent.Slot] = true

	b := &Bank{
		Slot:        slot,
		ParentSlot:  parent.Slot,
		HasParent:   true,
		Epoch:       epoch,
		ancestors:   ancestors,
		AccountsDB:  parent.AccountsDB,
		CostTracker: parent.CostTracker.Clone(),
	}
	parent.mu.Lock()
	b.blockhash = parent.blockhash
	parent.mu.Unlock()
	b.CostTracker.ResetIfNewBank(slot)
	return b
}

// AncestorsForLoad returns the ancestor set used for AccountsDB.Load calls
// against this Bank -- every proper ancestor plus the Bank's own slot,
// so a load through this Bank always sees its own writes.
func (b *Bank) AncestorsForLoad() map[uint64]bool {
	out := make(map[uint64]bool, len(b.ancestors)+1)
	for s := range b.ancestors {
		out[s] = true
	}
	out[b.Slot] = true
	return out
}

// ProperAncestors returns every ancestor slot strictly above this Bank,
// i.e. excluding Slot itself -- used by BankForks to maintain the
// descendants index.
func (b *Bank) ProperAncestors() []uint64 {
	out := make([]uint64, 0, len(b.ancestors))
	for s := range b.ancestors {
		out = append(out, s)
	}
	return out
}

// IsAncestor reports whether slot is a proper ancestor of this Bank (or is
// this Bank's own slot, for convenience at call sites that mean "on this
// fork at or before").
func (b *Bank) IsAncestor(slot uint64) bool {
	return slot == b.Slot || b.ancestors[slot]
}

// IsFrozen reports whether Freeze has been called.
func (b *Bank) IsFrozen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.frozen
}

// IsPoisoned reports whether a store I/O failure aborted this slot: a
// poisoned Bank can never be frozen.
func (b *Bank) IsPoisoned() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.poisoned
}

// Poison marks the Bank's slot as aborted by a storage failure.
func (b *Bank) Poison() {
	b.mu.Lock()
	b.poisoned = true
	b.mu.Unlock()
}

// Freeze seals the Bank: subsequent Store calls against its slot must be
// rejected by the caller (the Account State Engine API itself does not
// enforce this; the pipeline checks IsFrozen before admitting a batch).
func (b *Bank) Freeze() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.poisoned {
		return fmt.Errorf("bank %d: cannot freeze a poisoned slot", b.Slot)
	}
	if b.frozen {
		return nil
	}
	b.frozen = true
	b.AccountsDB.Freeze(b.Slot)
	return nil
}

// RegisterTick advances the intra-slot hash chain by one tick -- an
// entry with no transactions that marks passage of time.
func (b *Bank) RegisterTick(hash common.Hash) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tickHeight++
	b.blockhash = hash
}

// Blockhash returns the Bank's most recent blockhash.
func (b *Bank) Blockhash() common.Hash {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.blockhash
}

// TickHeight returns the number of ticks registered so far.
func (b *Bank) TickHeight() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tickHeight
}

// TransactionCount returns the number of transactions committed so far.
func (b *Bank) TransactionCount() uint64 {
	return atomic.LoadUint64(&b.transactionCount)
}

func (b *Bank) incTransactionCount(n uint64) {
	atomic.AddUint64(&b.transactionCount, n)
}

// Hash computes the deterministic digest of this slot's committed account
// set, standing in for the real bankhash.
func (b *Bank) Hash() common.Hash {
	return b.AccountsDB.Hash(b.Slot)
}
