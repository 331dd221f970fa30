// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package commitment

// confirmedFraction is the stake fraction a slot needs at a given depth
// to count as confirmed or rooted: strictly more than 2/3.
const confirmedFraction = 2.0 / 3.0

// SlotStatus is the externally visible classification of a slot on the
// commitment query surface.
type SlotStatus int

const (
	StatusUnknown SlotStatus = iota
	// StatusProcessed: the slot has been replayed and has commitment
	// entries, but has not reached the confirmation threshold.
	StatusProcessed
	// StatusProcessedDead: the slot was replayed and then its fork was
	// abandoned (entry verification failure, unrecoverable shred gap).
	StatusProcessedDead
	// StatusConfirmed: more than 2/3 of total stake has voted for the
	// slot at confirmation depth >= 1.
	StatusConfirmed
	// StatusRooted: more than 2/3 of total stake holds the slot at the
	// maximum lockout depth.
	StatusRooted
)

func (s SlotStatus) String() string {
	switch s {
	case StatusProcessed:
		return "processed"
	case StatusProcessedDead:
		return "processed-but-dead"
	case StatusConfirmed:
		return "confirmed"
	case StatusRooted:
		return "rooted"
	default:
		return "unknown"
	}
}

// MarkDead records that slot's fork was abandoned. Dead slots remain
// queryable as "processed-but-dead" rather than vanishing, so an RPC
// caller polling a transaction landed on that fork learns its fate.
func (s *CachedStore) MarkDead(slot uint64) {
	s.mu.Lock()
	if s.dead == nil {
		s.dead = make(map[uint64]bool)
	}
	s.dead[slot] = true
	s.mu.Unlock()
}

// IsDead reports whether slot was marked dead.
func (s *CachedStore) IsDead(slot uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dead[slot]
}

// SlotStatus classifies slot against the current cache snapshot. A dead
// slot reports processed-but-dead regardless of any stale stake observed
// for it before its fork died.
func (s *CachedStore) SlotStatus(slot uint64) SlotStatus {
	s.mu.RLock()
	dead := s.dead[slot]
	cache := s.cache
	s.mu.RUnlock()

	if dead {
		return StatusProcessedDead
	}
	bc, ok := cache.Get(slot)
	if !ok {
		return StatusUnknown
	}
	total := cache.TotalStake()
	if total == 0 {
		return StatusProcessed
	}

	if float64(bc.ConfirmationStake(MaxLockoutHistory))/float64(total) > confirmedFraction {
		return StatusRooted
	}
	var depthOneOrDeeper uint64
	for depth := 1; depth <= MaxLockoutHistory; depth++ {
		depthOneOrDeeper += bc.ConfirmationStake(depth)
	}
	if float64(depthOneOrDeeper)/float64(total) > confirmedFraction {
		return StatusConfirmed
	}
	return StatusProcessed
}
