// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package accounts implements the account state engine: a slot-keyed,
// copy-on-write store of account data with ancestor-walk reads, fork
// isolation, and root-based garbage collection.
//
// Every write lands in the slot it was made in, a read walks from the
// requested slot back through its ancestor chain until it finds the
// account (or a tombstone), and SetRoot prunes the entries at or below the
// new root that readers can no longer reach.
package accounts

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/ridgeline-labs/valcore/common"
)

// Account is a single ledger account's state at some slot.
type Account struct {
	Lamports   uint64
	Data       []byte
	Owner      common.Address
	Executable bool
	RentEpoch  uint64
}

// IsTombstone reports whether this entry represents a deleted account
// rather than live state: lamports == 0 means the account is semantically
// absent regardless of any residual Data, matching a real runtime where a
// drained account is swept by rent collection before its data would ever
// matter again. SetRoot's pruning pass keeps one tombstone entry at the
// root so a later ancestor-walk read correctly reports "account does not
// exist" instead of falling through to a stale pre-deletion value.
func (a *Account) IsTombstone() bool {
	return a == nil || a.Lamports == 0
}

// Clone returns a deep copy of a, safe to mutate without disturbing any
// other reader's view of the version currently committed to a slot --
// the pipeline clones an account before handing it to a program handler
// for writable access, since AccountsDB.Load hands back the same pointer
// to every concurrent reader on the same ancestor chain.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	cp := *a
	if a.Data != nil {
		cp.Data = make([]byte, len(a.Data))
		copy(cp.Data, a.Data)
	}
	return &cp
}

// WithLamports returns a shallow copy of a with Lamports replaced --
// used by the transaction pipeline to roll an account back to a prior
// balance (e.g. fee-only debit) without disturbing the original value any
// other in-flight reader may still hold.
func (a *Account) WithLamports(lamports uint64) *Account {
	cp := *a
	cp.Lamports = lamports
	return &cp
}

type slotEntry struct {
	slot    uint64
	account *Account
}

// cacheKey is exported-shape but unexported: (slot, address) read-cache key.
type cacheKey struct {
	slot uint64
	addr common.Address
}

// AccountsDB is the two-level Address -> sorted [(slot, storage)] index
// described by the account state engine: writes are appended per slot,
// reads walk the ancestor chain, and roots are advanced monotonically.
type AccountsDB struct {
	mu      sync.RWMutex
	byAddr  map[common.Address][]slotEntry
	frozen  map[uint64]bool
	root    uint64
	rootSet bool

	cache *lru.Cache[cacheKey, *Account]

	pruneCh chan uint64
}

// New creates an AccountsDB with a read-cache of the given size (0 disables
// caching).
func New(cacheSize int) *AccountsDB {
	db := &AccountsDB{
		byAddr:  make(map[common.Address][]slotEntry),
		frozen:  make(map[uint64]bool),
		pruneCh: make(chan uint64, 64),
	}
	if cacheSize > 0 {
		c, _ := lru.New[cacheKey, *Account](cacheSize)
		db.cache = c
	}
	return db
}

// Store records addr's account state as of slot. Storing into a frozen
// slot is a programming error -- the bank pipeline must freeze a slot only
// after its last transaction has committed.
func (db *AccountsDB) Store(slot uint64, addr common.Address, acc *Account) {
	db.mu.Lock()
	defer db.mu.Unlock()

	entries := db.byAddr[addr]
	// Read-your-writes: a second store to the same slot replaces the
	// previous entry rather than appending a duplicate.
	for i := range entries {
		if entries[i].slot == slot {
			entries[i].account = acc
			if db.cache != nil {
				db.cache.Remove(cacheKey{slot: slot, addr: addr})
			}
			return
		}
	}
	entries = append(entries, slotEntry{slot: slot, account: acc})
	sort.Slice(entries, func(i, j int) bool { return entries[i].slot < entries[j].slot })
	db.byAddr[addr] = entries
	if db.cache != nil {
		// Only this exact (slot, addr) cache entry is invalidated here.
		// A descendant slot that had already fallen through to addr via
		// ancestor-walk and cached the pre-write value would go stale, but
		// callers only ever Store into a slot before any descendant of it
		// is created, so no such cache entry can exist yet.
		db.cache.Remove(cacheKey{slot: slot, addr: addr})
	}
}

// Load resolves addr's account as seen from slot, walking the ancestor
// chain (slot, then each entry of ancestors in descending order) until an
// entry is found. Returns (nil, false) if the address has never been
// written on any ancestor of slot.
func (db *AccountsDB) Load(slot uint64, addr common.Address, ancestors map[uint64]bool) (*Account, bool) {
	if db.cache != nil {
		if acc, ok := db.cache.Get(cacheKey{slot: slot, addr: addr}); ok {
			return acc, !acc.IsTombstone()
		}
	}

	db.mu.RLock()
	entries := db.byAddr[addr]
	db.mu.RUnlock()
	if len(entries) == 0 {
		return nil, false
	}

	// Walk from the highest slot <= requested slot that is either the
	// slot itself or one of its ancestors (read-your-writes plus
	// fork isolation: a sibling fork's write must never be visible).
	best := -1
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.slot > slot {
			continue
		}
		if e.slot == slot || ancestors[e.slot] {
			best = i
			break
		}
	}
	if best < 0 {
		return nil, false
	}
	acc := entries[best].account
	if db.cache != nil {
		db.cache.Add(cacheKey{slot: slot, addr: addr}, acc)
	}
	return acc, !acc.IsTombstone()
}

// Freeze marks slot's writes as final; AccountsDB does not itself reject
// later stores (that invariant belongs to the bank/pipeline layer), it
// only records the freeze; Hash does not consult that record.
func (db *AccountsDB) Freeze(slot uint64) {
	db.mu.Lock()
	defer db.mu.Unlock()
	db.frozen[slot] = true
}

// Hash computes a deterministic digest over every account written exactly
// at slot, sorted by address -- a stand-in for the real validator's
// merkle account-state hash, sufficient to detect divergence between two
// banks that should be identical.
func (db *AccountsDB) Hash(slot uint64) common.Hash {
	db.mu.RLock()
	defer db.mu.RUnlock()

	type kv struct {
		addr common.Address
		acc  *Account
	}
	var rows []kv
	for addr, entries := range db.byAddr {
		for _, e := range entries {
			if e.slot == slot {
				rows = append(rows, kv{addr, e.account})
			}
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].addr.Cmp(rows[j].addr) < 0 })

	digest := sha256.New()
	var lamportsBuf [8]byte
	for _, r := range rows {
		digest.Write(r.addr[:])
		if r.acc != nil {
			digest.Write(r.acc.Owner[:])
			binary.LittleEndian.PutUint64(lamportsBuf[:], r.acc.Lamports)
			digest.Write(lamportsBuf[:])
			digest.Write(r.acc.Data)
		}
	}
	return common.BytesToHash(digest.Sum(nil))
}

// SetRoot advances the root to slot and requests a background pruning
// pass over every address's per-slot history. Root advancement is
// monotonic: callers (the Tower, via BankForks) must never call SetRoot
// with a slot older than the current root.
func (db *AccountsDB) SetRoot(slot uint64, isAncestorOfNewRoot func(uint64) bool) {
	db.mu.Lock()
	db.root = slot
	db.rootSet = true
	db.mu.Unlock()

	select {
	case db.pruneCh <- slot:
	default:
		// A prune request is already queued; AccountsBackground will
		// pick up the latest root on its next pass regardless.
	}
	db.pruneNow(slot, isAncestorOfNewRoot)
}

// pruneNow drops, for every address, each entry at or below the root that
// is neither an ancestor of the root nor the newest entry at or before the
// root (which must survive as the value live readers see). Every entry
// above the root is kept: isAncestor cannot tell a descendant of the root
// from a slot on an abandoned fork, so neither is removed here. The read
// cache is purged on every pass.
func (db *AccountsDB) pruneNow(root uint64, isAncestor func(uint64) bool) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.cache != nil {
		db.cache.Purge()
	}

	for addr, entries := range db.byAddr {
		keepIdx := -1
		for i, e := range entries {
			if e.slot <= root {
				keepIdx = i
			}
		}
		kept := entries[:0]
		for i, e := range entries {
			switch {
			case e.slot > root:
				kept = append(kept, e)
			case i == keepIdx:
				kept = append(kept, e)
			case isAncestor != nil && isAncestor(e.slot):
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(db.byAddr, addr)
		} else {
			db.byAddr[addr] = kept
		}
	}

	// The frozen set would otherwise grow without bound over a long
	// validator run; drop bookkeeping for any slot older than the root
	// that isn't one of its ancestors.
	for s := range db.frozen {
		if s < root && (isAncestor == nil || !isAncestor(s)) {
			delete(db.frozen, s)
		}
	}
}

// Root returns the current root slot.
func (db *AccountsDB) Root() (uint64, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.root, db.rootSet
}

// AccountsOwnedBy returns every live (non-tombstone) account visible from
// slot whose owner is the given program, keyed by address -- the scan the
// commitment aggregator and fork-weight computation use to find vote
// accounts without a dedicated owner index.
func (db *AccountsDB) AccountsOwnedBy(slot uint64, owner common.Address, ancestors map[uint64]bool) map[common.Address]*Account {
	db.mu.RLock()
	addrs := make([]common.Address, 0, len(db.byAddr))
	for addr := range db.byAddr {
		addrs = append(addrs, addr)
	}
	db.mu.RUnlock()

	out := make(map[common.Address]*Account)
	for _, addr := range addrs {
		acc, ok := db.Load(slot, addr, ancestors)
		if !ok || acc.Owner != owner {
			continue
		}
		out[addr] = acc
	}
	return out
}
