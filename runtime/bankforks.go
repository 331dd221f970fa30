package runtime

import (
	"fmt"
	"sync"

	"github.com/ridgeline-labs/valcore/accounts"
)

// BankForks is the DAG of in-flight Banks rooted at a committed slot: a
// slot-keyed arena of Banks plus an incrementally maintained descendants
// index. It is the sole mutator of the fork graph; everything else takes
// read access.
type BankForks struct {
	mu          sync.RWMutex
	banks       map[uint64]*Bank
	descendants map[uint64]map[uint64]bool
	root        uint64
	accountsDB  *accounts.AccountsDB
}

// NewBankForks seeds BankForks with a single root Bank.
func NewBankForks(root *Bank) *BankForks {
	bf := &BankForks{
		banks:       map[uint64]*Bank{root.Slot: root},
		descendants: map[uint64]map[uint64]bool{root.Slot: {}},
		root:        root.Slot,
		accountsDB:  root.AccountsDB,
	}
	return bf
}

// Insert adds bank as a new live fork tip and updates the descendants index
// for every one of its proper ancestors. Panics if the slot is already
// present, matching bank_forks.rs's `assert!(prev.is_none())`.
func (bf *BankForks) Insert(bank *Bank) {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	if _, exists := bf.banks[bank.Slot]; exists {
		panic(fmt.Sprintf("bankforks: slot %d already present", bank.Slot))
	}
	bf.banks[bank.Slot] = bank
	if bf.descendants[bank.Slot] == nil {
		bf.descendants[bank.Slot] = make(map[uint64]bool)
	}
	for _, parent := range bank.ProperAncestors() {
		if bf.descendants[parent] == nil {
			bf.descendants[parent] = make(map[uint64]bool)
		}
		bf.descendants[parent][bank.Slot] = true
	}
}

// Get returns the Bank at slot, if live.
func (bf *BankForks) Get(slot uint64) (*Bank, bool) {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	b, ok := bf.banks[slot]
	return b, ok
}

// WorkingBank returns the live Bank with the highest slot.
func (bf *BankForks) WorkingBank() *Bank {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	var best *Bank
	for _, b := range bf.banks {
		if best == nil || b.Slot > best.Slot {
			best = b
		}
	}
	return best
}

// FrozenBanks returns every live, frozen Bank.
func (bf *BankForks) FrozenBanks() map[uint64]*Bank {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	out := make(map[uint64]*Bank)
	for slot, b := range bf.banks {
		if b.IsFrozen() {
			out[slot] = b
		}
	}
	return out
}

// ActiveBanks returns the slots of every live, unfrozen Bank -- the set
// Replay iterates each loop.
func (bf *BankForks) ActiveBanks() []uint64 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	var out []uint64
	for slot, b := range bf.banks {
		if !b.IsFrozen() {
			out = append(out, slot)
		}
	}
	return out
}

// Ancestors returns, for every live Bank, the set of its proper ancestors
// that are >= the current root.
func (bf *BankForks) Ancestors() map[uint64]map[uint64]bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	out := make(map[uint64]map[uint64]bool, len(bf.banks))
	for slot, b := range bf.banks {
		set := make(map[uint64]bool)
		for _, a := range b.ProperAncestors() {
			if a >= bf.root {
				set[a] = true
			}
		}
		out[slot] = set
	}
	return out
}

// Descendants returns the live descendants index.
func (bf *BankForks) Descendants() map[uint64]map[uint64]bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	out := make(map[uint64]map[uint64]bool, len(bf.descendants))
	for slot, set := range bf.descendants {
		cp := make(map[uint64]bool, len(set))
		for s := range set {
			cp[s] = true
		}
		out[slot] = cp
	}
	return out
}

// Root returns the current root slot.
func (bf *BankForks) Root() uint64 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.root
}

// remove drops slot's Bank and symmetrically updates the descendants map;
// caller must hold bf.mu.
func (bf *BankForks) remove(slot uint64) {
	bank, ok := bf.banks[slot]
	if !ok {
		return
	}
	delete(bf.banks, slot)
	for _, parent := range bank.ProperAncestors() {
		if set, ok := bf.descendants[parent]; ok {
			delete(set, slot)
			if len(set) == 0 {
				if _, stillLive := bf.banks[parent]; !stillLive {
					delete(bf.descendants, parent)
				}
			}
		}
	}
	if set, ok := bf.descendants[slot]; ok && len(set) == 0 {
		delete(bf.descendants, slot)
	}
}

// SetRoot designates root as the new committed root, squashes it into the
// Account State Engine, and prunes every Bank that is no longer reachable.
// highestConfirmedRoot, if non-nil, additionally retains every slot between
// it and the new root that is itself an ancestor of root -- the exact
// predicate bank_forks.rs's prune_non_root implements:
//
//	keep(s) := s == root || s ∈ descendants(root) || (highestConfirmedRoot <= s < root && s ∈ ancestors(root))
func (bf *BankForks) SetRoot(root uint64, highestConfirmedRoot *uint64) error {
	bf.mu.Lock()
	defer bf.mu.Unlock()

	rootBank, ok := bf.banks[root]
	if !ok {
		return fmt.Errorf("bankforks: root bank %d not present", root)
	}
	if root < bf.root {
		return fmt.Errorf("bankforks: root must not decrease (%d -> %d)", bf.root, root)
	}
	bf.root = root
	bf.accountsDB.SetRoot(root, func(s uint64) bool { return rootBank.IsAncestor(s) })

	hcr := root
	if highestConfirmedRoot != nil {
		hcr = *highestConfirmedRoot
	}

	rootAncestors := rootBank.ProperAncestors()
	rootAncestorSet := make(map[uint64]bool, len(rootAncestors))
	for _, a := range rootAncestors {
		rootAncestorSet[a] = true
	}

	var toPrune []uint64
	for slot, bank := range bf.banks {
		keep := slot == root
		if !keep {
			keep = bf.descendants[root][slot]
		}
		if !keep && slot < root && slot >= hcr {
			keep = rootAncestorSet[slot]
		}
		if !keep {
			toPrune = append(toPrune, bank.Slot)
		}
	}
	for _, slot := range toPrune {
		bf.remove(slot)
	}
	return nil
}
