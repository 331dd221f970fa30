// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package replay

import (
	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/programs/vote"
	"github.com/ridgeline-labs/valcore/runtime"
)

// ForkWeights maps a frozen Bank's slot to the total stake of validators
// whose latest vote lies on its ancestor chain.
type ForkWeights map[uint64]uint64

// Best returns the highest-weighted slot, ties broken toward the higher
// slot number (a longer, equally-weighted fork is preferred).
func (fw ForkWeights) Best() (uint64, bool) {
	var best uint64
	var bestWeight uint64
	found := false
	for slot, weight := range fw {
		if !found || weight > bestWeight || (weight == bestWeight && slot > best) {
			best, bestWeight, found = slot, weight, true
		}
	}
	return best, found
}

// LatestVoteSlot returns the most recent slot vs has voted on.
func LatestVoteSlot(vs *vote.VoteState) (uint64, bool) {
	if len(vs.Votes) == 0 {
		return 0, false
	}
	return vs.Votes[len(vs.Votes)-1].Slot, true
}

// SwitchStake sums the stake observed voting on candidate's fork at a
// slot that does not descend from lastVote -- the evidence required to
// abandon the fork lastVote extends and vote for candidate instead. A
// vote for a slot that still descends from lastVote says nothing about
// switching and is excluded.
func SwitchStake(candidate *runtime.Bank, lastVote uint64, forks *runtime.BankForks, voteAccounts map[common.Address]*vote.VoteState, stakedNodes map[common.Address]uint64) uint64 {
	var observed uint64
	for _, vs := range voteAccounts {
		last, ok := LatestVoteSlot(vs)
		if !ok || !candidate.IsAncestor(last) {
			continue
		}
		if lastBank, ok := forks.Get(last); ok && lastBank.IsAncestor(lastVote) {
			continue
		}
		observed += stakedNodes[vs.NodePubkey]
	}
	return observed
}

// ComputeForkWeights recomputes the weight of every frozen Bank: the sum,
// over every vote account, of its node's staked lamports if that vote
// account's latest vote is this Bank's slot or an ancestor of it.
func ComputeForkWeights(frozen map[uint64]*runtime.Bank, voteAccounts map[common.Address]*vote.VoteState, stakedNodes map[common.Address]uint64) ForkWeights {
	out := make(ForkWeights, len(frozen))
	for slot, bank := range frozen {
		var w uint64
		for _, vs := range voteAccounts {
			last, ok := LatestVoteSlot(vs)
			if !ok || !bank.IsAncestor(last) {
				continue
			}
			w += stakedNodes[vs.NodePubkey]
		}
		out[slot] = w
	}
	return out
}
