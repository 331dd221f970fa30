// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package tower implements the local per-validator Tower: the lockout
// stack that turns observed fork weights into at-most-one vote per slot,
// vote admissibility, the switching threshold, and root advancement. It
// shares the lockout push/pop shape of programs/vote's
// VoteState.ProcessVote.
package tower

import "sync"

// MaxLockoutHistory bounds the local lockout stack, matching the on-chain
// VoteState's MAX_LOCKOUT_HISTORY.
const MaxLockoutHistory = 32

// SwitchThreshold is the fixed stake fraction that must be observed on
// a non-descendant fork before switching the vote to it.
const SwitchThreshold = 0.38

// Entry is one (slot, confirmation_count) pair of the lockout stack.
type Entry struct {
	Slot              uint64
	ConfirmationCount uint32
}

// ExpirySlot is the last slot this entry still locks out non-descendant
// forks from: slot + 2^confirmation_count.
func (e Entry) ExpirySlot() uint64 {
	return e.Slot + (uint64(1) << e.ConfirmationCount)
}

// Tower is the validator's own view: its vote stack plus the most
// recently rooted slot. The zero value is a tower with no votes
// and no root, ready to vote on any slot.
type Tower struct {
	mu    sync.Mutex
	votes []Entry
	root  *uint64
}

// New returns an empty Tower.
func New() *Tower { return &Tower{} }

// Votes returns a copy of the current lockout stack, oldest first.
func (t *Tower) Votes() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, len(t.votes))
	copy(out, t.votes)
	return out
}

// Root returns the local root slot, if any has been set.
func (t *Tower) Root() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.root == nil {
		return 0, false
	}
	return *t.root, true
}

// LastVotedSlot returns the slot of the most recent vote, if any.
func (t *Tower) LastVotedSlot() (uint64, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.votes) == 0 {
		return 0, false
	}
	return t.votes[len(t.votes)-1].Slot, true
}

// IsVotable reports whether candidate is admissible given the current
// lockout stack: every entry whose lockout has not yet expired (relative
// to candidate) must have candidate as a descendant. isAncestor reports
// whether s is an ancestor of (or equal to) candidate.
func (t *Tower) IsVotable(candidate uint64, isAncestor func(s uint64) bool) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, e := range t.votes {
		if e.ExpirySlot() < candidate {
			continue
		}
		if e.Slot != candidate && !isAncestor(e.Slot) {
			return false
		}
	}
	return true
}

// CanSwitch reports whether observedStakeFraction (the fraction of total
// stake seen voting on some slot of the candidate fork that is not a
// descendant of the last vote) meets SwitchThreshold.
func CanSwitch(observedStakeFraction float64) bool {
	return observedStakeFraction >= SwitchThreshold
}

// RecordVote pushes slot onto the lockout stack: every entry that is
// neither slot itself nor an ancestor of it, and whose lockout has
// expired, is popped; every surviving entry's confirmation count is
// incremented; slot is pushed with confirmation count 1. When pushing
// would leave more than MaxLockoutHistory entries on the stack, the
// bottom entry is popped and returned as the new root.
//
// Callers must only invoke RecordVote with a slot IsVotable has already
// approved.
func (t *Tower) RecordVote(slot uint64, isAncestor func(s uint64) bool) (newRoot uint64, rootAdvanced bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	kept := t.votes[:0]
	for _, e := range t.votes {
		if e.Slot != slot && !isAncestor(e.Slot) && e.ExpirySlot() < slot {
			continue
		}
		e.ConfirmationCount++
		kept = append(kept, e)
	}
	t.votes = append(kept, Entry{Slot: slot, ConfirmationCount: 1})

	if len(t.votes) > MaxLockoutHistory {
		newRoot = t.votes[0].Slot
		t.root = &newRoot
		t.votes = t.votes[1:]
		rootAdvanced = true
	}
	return newRoot, rootAdvanced
}
