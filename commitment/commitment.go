// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package commitment implements the stake-weighted confirmation-depth
// accounting behind the BlockCommitment query surface, built on the vote
// lockout stack programs/vote implements.
package commitment

import (
	"fmt"

	"github.com/ridgeline-labs/valcore/programs/vote"
)

// MaxLockoutHistory mirrors programs/vote.MaxLockoutHistory: a vote's
// confirmation count never exceeds this, so the commitment histogram has
// exactly this many buckets.
const MaxLockoutHistory = vote.MaxLockoutHistory

// BlockCommitment is the stake, bucketed by confirmation depth, that has
// been observed voting for a slot: commitment[i-1] is the total stake of
// votes with confirmation count i.
type BlockCommitment struct {
	Commitment [MaxLockoutHistory]uint64
}

// IncreaseConfirmationStake adds stake to the bucket for confirmationCount,
// which must be in [1, MaxLockoutHistory].
func (b *BlockCommitment) IncreaseConfirmationStake(confirmationCount int, stake uint64) {
	if confirmationCount < 1 || confirmationCount > MaxLockoutHistory {
		panic(fmt.Sprintf("commitment: confirmation count %d out of range", confirmationCount))
	}
	b.Commitment[confirmationCount-1] += stake
}

// ConfirmationStake returns the stake recorded at the given confirmation
// depth.
func (b *BlockCommitment) ConfirmationStake(confirmationCount int) uint64 {
	if confirmationCount < 1 || confirmationCount > MaxLockoutHistory {
		panic(fmt.Sprintf("commitment: confirmation count %d out of range", confirmationCount))
	}
	return b.Commitment[confirmationCount-1]
}

// Cache is the latest BlockCommitment snapshot for every slot still being
// tracked, plus the total stake it was computed against. A Cache is
// replaced wholesale on every aggregation pass, never mutated in place, so
// readers never observe a half-updated map.
type Cache struct {
	blockCommitment map[uint64]*BlockCommitment
	totalStake      uint64
}

// NewCache wraps an already-computed commitment map.
func NewCache(blockCommitment map[uint64]*BlockCommitment, totalStake uint64) *Cache {
	return &Cache{blockCommitment: blockCommitment, totalStake: totalStake}
}

// Get returns the BlockCommitment for slot, if tracked.
func (c *Cache) Get(slot uint64) (*BlockCommitment, bool) {
	bc, ok := c.blockCommitment[slot]
	return bc, ok
}

// TotalStake returns the total stake the snapshot was aggregated against.
func (c *Cache) TotalStake() uint64 { return c.totalStake }

// BlockWithDepthCommitment returns the highest slot for which at least
// minimumStakePercentage of total stake has confirmed it to at least
// minimumDepth, or false if none qualifies.
func (c *Cache) BlockWithDepthCommitment(minimumDepth int, minimumStakePercentage float64) (uint64, bool) {
	if minimumDepth < 1 {
		minimumDepth = 1
	}
	var best uint64
	found := false
	for slot, bc := range c.blockCommitment {
		var forkStake uint64
		for i := minimumDepth - 1; i < MaxLockoutHistory; i++ {
			forkStake += bc.Commitment[i]
		}
		if c.totalStake == 0 {
			continue
		}
		if float64(forkStake)/float64(c.totalStake) >= minimumStakePercentage {
			if !found || slot > best {
				best = slot
				found = true
			}
		}
	}
	return best, found
}

// RootedBlockWithCommitment is BlockWithDepthCommitment at the maximum
// lockout depth, i.e. full "rooted" confirmation.
func (c *Cache) RootedBlockWithCommitment(minimumStakePercentage float64) (uint64, bool) {
	return c.BlockWithDepthCommitment(MaxLockoutHistory, minimumStakePercentage)
}
