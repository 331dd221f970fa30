// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package commitment

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/ridgeline-labs/valcore/programs/vote"
)

// VoteAccountStake is one vote account's current lockout state and the
// stake behind it, as handed to the aggregator by the replay stage after
// it freezes a bank.
type VoteAccountStake struct {
	Lamports uint64
	State    *vote.VoteState
}

// AggregationData is one unit of work for the aggregation task: the
// ancestor chain of a just-frozen bank (sorted ascending), the vote
// accounts observed in it, and the
// total stake those accounts are weighed against.
type AggregationData struct {
	Ancestors    []uint64
	VoteAccounts []VoteAccountStake
	TotalStake   uint64
}

// Aggregate computes a BlockCommitment for every ancestor slot from the
// set of vote accounts observed: for each account's vote state, every
// ancestor at or before its root is credited a full MaxLockoutHistory
// confirmation, and every ancestor covered by one of its lockout entries
// is credited that entry's confirmation count.
//
// ancestors must be sorted ascending and non-empty.
func Aggregate(data AggregationData) map[uint64]*BlockCommitment {
	out := make(map[uint64]*BlockCommitment)
	for _, va := range data.VoteAccounts {
		if va.Lamports == 0 || va.State == nil {
			continue
		}
		aggregateForAccount(out, va.State, data.Ancestors, va.Lamports)
	}
	return out
}

func aggregateForAccount(out map[uint64]*BlockCommitment, vs *vote.VoteState, ancestors []uint64, lamports uint64) {
	if len(ancestors) == 0 {
		return
	}
	idx := 0
	if vs.RootSlot != nil {
		root := *vs.RootSlot
		idx = len(ancestors)
		for i, a := range ancestors {
			if a <= root {
				bc := out[a]
				if bc == nil {
					bc = &BlockCommitment{}
					out[a] = bc
				}
				bc.IncreaseConfirmationStake(MaxLockoutHistory, lamports)
			} else {
				idx = i
				break
			}
		}
	}

	for _, v := range vs.Votes {
		for idx < len(ancestors) && ancestors[idx] <= v.Slot {
			bc := out[ancestors[idx]]
			if bc == nil {
				bc = &BlockCommitment{}
				out[ancestors[idx]] = bc
			}
			bc.IncreaseConfirmationStake(int(v.ConfirmationCount), lamports)
			idx++
			if idx == len(ancestors) {
				return
			}
		}
	}
}

// CachedStore holds the live Cache behind an RWMutex: the aggregation task
// is the sole writer, replacing the Cache wholesale; every other reader
// (RPC, replay) only ever sees a fully-formed snapshot.
type CachedStore struct {
	mu    sync.RWMutex
	cache *Cache
	dead  map[uint64]bool
}

// NewCachedStore returns a store seeded with an empty, zero-stake cache.
func NewCachedStore() *CachedStore {
	return &CachedStore{cache: NewCache(map[uint64]*BlockCommitment{}, 0)}
}

// Load returns the current cache snapshot.
func (s *CachedStore) Load() *Cache {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cache
}

func (s *CachedStore) swap(c *Cache) {
	s.mu.Lock()
	s.cache = c
	s.mu.Unlock()
}

// AggregationService runs the long-lived commitment-aggregation task: it
// drains its input channel down to the most recently enqueued
// AggregationData (older, superseded bank snapshots are simply dropped)
// and publishes
// the recomputed Cache.
type AggregationService struct {
	store *CachedStore
	in    chan AggregationData
	exit  *int32
	done  chan struct{}
}

// NewAggregationService starts the aggregation task. exit is a shared
// *int32 flag (set via atomic.StoreInt32(exit, 1)) that every cooperating
// validator task polls to shut down in lockstep.
func NewAggregationService(exit *int32, store *CachedStore) (chan<- AggregationData, *AggregationService) {
	in := make(chan AggregationData, 1)
	s := &AggregationService{store: store, in: in, exit: exit, done: make(chan struct{})}
	go s.run()
	return in, s
}

func (s *AggregationService) run() {
	defer close(s.done)
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		if atomic.LoadInt32(s.exit) != 0 {
			return
		}
		select {
		case data := <-s.in:
			data = s.drainLatest(data)
			s.apply(data)
		case <-ticker.C:
		}
	}
}

// drainLatest keeps pulling from s.in without blocking, returning whatever
// arrived last -- drop-all-but-latest coalescing, so the aggregator
// never falls behind a burst of frozen banks.
func (s *AggregationService) drainLatest(latest AggregationData) AggregationData {
	for {
		select {
		case next := <-s.in:
			latest = next
		default:
			return latest
		}
	}
}

func (s *AggregationService) apply(data AggregationData) {
	if len(data.Ancestors) == 0 {
		return
	}
	commitment := Aggregate(data)
	s.store.swap(NewCache(commitment, data.TotalStake))
}

// Join blocks until the aggregation task has observed the exit flag and
// returned.
func (s *AggregationService) Join() {
	<-s.done
}
