// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package shred

import (
	"crypto/ed25519"
	"sort"
	"sync"

	"github.com/ridgeline-labs/valcore/common"
)

// group is one Reed-Solomon erasure set within a slot: k data shards
// followed by n-k coding shards, indexed 0..n-1 into shards.
type group struct {
	k, n    int
	shards  [][]byte
	present int
}

func newGroup(k, n int) *group {
	return &group{k: k, n: n, shards: make([][]byte, n)}
}

// Window is the receive-side sliding window for one slot: it
// accumulates data and coding shreds by index, recovers missing data
// shreds via Reed-Solomon once a group has at least k of its n shards,
// and exposes a contiguous-prefix delivery cursor to Replay.
type Window struct {
	mu sync.Mutex

	Slot      uint64
	k, n      int
	shardSize int
	coder     Coder

	groups    map[uint32]*group
	delivered uint32
	lastIndex *uint32
	dead      bool

	lastDeliveryAdvance int64 // monotonic clock value; no method of Window sets it
}

// NewWindow returns an empty Window for slot, with Reed-Solomon shape
// (k, n) and a fixed per-shard size.
func NewWindow(slot uint64, k, n, shardSize int, coder Coder) *Window {
	return &Window{
		Slot:      slot,
		k:         k,
		n:         n,
		shardSize: shardSize,
		coder:     coder,
		groups:    make(map[uint32]*group),
	}
}

// Dead reports whether this slot has been abandoned.
func (w *Window) Dead() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dead
}

// MarkDead abandons the slot: its Bank is expected to be marked dead by
// the caller.
func (w *Window) MarkDead() {
	w.mu.Lock()
	w.dead = true
	w.mu.Unlock()
}

// Complete reports whether every shred up to and including the
// is_last_in_slot shred has been delivered.
func (w *Window) Complete() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastIndex != nil && w.delivered > *w.lastIndex
}

// Insert places an incoming shred into the window. A shred whose place
// in its erasure group (data index, or coding position) is already
// filled is a duplicate and discarded (duplicate=true, no error). Insert
// attempts greedy per-group recovery and
// returns any shreds the contiguous delivery cursor can now release, in
// increasing index order.
func (w *Window) Insert(s *Shred) (delivered []*Shred, duplicate bool, recoverErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var gid uint32
	var pos int
	switch {
	case s.IsData():
		gid = s.Index / uint32(w.k)
		pos = int(s.Index % uint32(w.k))
	case s.IsCoding():
		k, n := s.groupSize()
		if k != w.k || n != w.n {
			return nil, false, nil
		}
		gid = s.Index / uint32(w.k)
		pos = w.k + int(s.Position)
	default:
		return nil, false, nil
	}

	g := w.groups[gid]
	if g == nil {
		g = newGroup(w.k, w.n)
		w.groups[gid] = g
	}
	if pos < 0 || pos >= len(g.shards) {
		return nil, false, nil
	}
	if g.shards[pos] != nil {
		return nil, true, nil
	}

	shard := make([]byte, w.shardSize)
	copy(shard, s.Payload)
	g.shards[pos] = shard
	g.present++

	if s.IsData() && s.IsLastInSlot() {
		idx := s.Index
		w.lastIndex = &idx
	}

	if g.present >= g.k && g.present < g.n {
		recoverErr = w.coder.Reconstruct(g.shards)
	}

	return w.deliverLocked(), false, recoverErr
}

// deliverLocked advances the delivery cursor across every group that has
// the next expected data shard present, deserializing nothing itself --
// callers reconstruct Entries from the returned payloads.
func (w *Window) deliverLocked() []*Shred {
	var out []*Shred
	for {
		gid := w.delivered / uint32(w.k)
		pos := int(w.delivered % uint32(w.k))
		g := w.groups[gid]
		if g == nil || g.shards[pos] == nil {
			return out
		}
		out = append(out, &Shred{
			Slot:    w.Slot,
			Index:   w.delivered,
			Variant: VariantData,
			Payload: g.shards[pos],
		})
		w.delivered++
	}
}

// MissingIndices returns up to limit indices at or after the delivery
// cursor that are still missing, scanning forward across the highest
// known group. It is the input to repair-request emission.
func (w *Window) MissingIndices(limit int) []uint32 {
	w.mu.Lock()
	defer w.mu.Unlock()

	var maxGid uint32
	for gid := range w.groups {
		if gid > maxGid {
			maxGid = gid
		}
	}

	var out []uint32
	for gid := w.delivered / uint32(w.k); gid <= maxGid && len(out) < limit; gid++ {
		g := w.groups[gid]
		if g == nil {
			for i := 0; i < w.k; i++ {
				out = append(out, gid*uint32(w.k)+uint32(i))
				if len(out) >= limit {
					break
				}
			}
			continue
		}
		for i := 0; i < w.k && len(out) < limit; i++ {
			if g.shards[i] == nil {
				out = append(out, gid*uint32(w.k)+uint32(i))
			}
		}
	}
	return out
}

// VerifyShredSignature checks a shred's 64-byte signature against the
// leader identity it claims to be from.
func VerifyShredSignature(s *Shred, leader common.Address) bool {
	return ed25519.Verify(leader[:], s.SignedPayload(), s.Signature[:])
}

// PeerInfo is what the repair selector knows about one gossip peer.
type PeerInfo struct {
	Address common.Address
	Stake   uint64
	HasSlot bool
}

// SelectRepairPeers ranks peers by stake, descending, excluding any peer
// known to still be missing the slot, and returns up to limit addresses.
func SelectRepairPeers(peers []PeerInfo, limit int) []common.Address {
	eligible := make([]PeerInfo, 0, len(peers))
	for _, p := range peers {
		if p.HasSlot {
			eligible = append(eligible, p)
		}
	}
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].Stake > eligible[j].Stake })
	if len(eligible) > limit {
		eligible = eligible[:limit]
	}
	out := make([]common.Address, len(eligible))
	for i, p := range eligible {
		out[i] = p.Address
	}
	return out
}

// retransmitKey identifies one shred for dedup purposes.
type retransmitKey struct {
	slot     uint64
	index    uint32
	variant  uint8
	position uint16
}

// RetransmitFilter enforces "forward once and only once" and suppresses
// circular retransmission of shreds this node originated itself.
type RetransmitFilter struct {
	mu   sync.Mutex
	self common.Address
	seen map[retransmitKey]bool
}

// NewRetransmitFilter returns a filter that never forwards shreds
// attributed to self.
func NewRetransmitFilter(self common.Address) *RetransmitFilter {
	return &RetransmitFilter{self: self, seen: make(map[retransmitKey]bool)}
}

// ShouldForward reports whether s, received from origin, should be
// retransmitted: it must not have been forwarded before and must not have
// originated from this node.
func (f *RetransmitFilter) ShouldForward(s *Shred, origin common.Address) bool {
	if origin == f.self {
		return false
	}
	key := retransmitKey{slot: s.Slot, index: s.Index, variant: s.Variant, position: s.Position}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen[key] {
		return false
	}
	f.seen[key] = true
	return true
}
