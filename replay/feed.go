// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package replay

import (
	"sync"

	"github.com/ridgeline-labs/valcore/shred"
)

// ShredStore is the durable blockstore the feed writes through: every
// shred the in-memory window accepts as non-duplicate is then persisted
// synchronously, so a restart replays from disk instead of re-fetching the
// network.
type ShredStore interface {
	InsertShred(s *shred.Shred) (inserted bool, err error)
	MarkCompleted(slot uint64) error
	MarkDead(slot uint64) error
}

// ShredFeed adapts the Shred Plane's per-slot Window to the EntrySource
// Stage consumes: every Insert re-assembles the window's delivered data
// shreds into the original serialized entry stream and decodes it.
type ShredFeed struct {
	k, n, shardSize int
	coder           shred.Coder

	// Store, when set, receives every non-duplicate shred and the
	// per-slot completed/dead transitions.
	Store ShredStore

	mu      sync.Mutex
	windows map[uint64]*shred.Window
	// pending buffers a delivered-but-undecodable partial stream per slot,
	// since DecodeEntries only advances past complete length-prefixed
	// records and a shard boundary may land mid-record.
	pending map[uint64][]byte
	queued  map[uint64][]Entry
	decoded map[uint64]int
}

// NewShredFeed returns an empty feed using the given erasure shape for
// every slot's window.
func NewShredFeed(k, n, shardSize int, coder shred.Coder) *ShredFeed {
	return &ShredFeed{
		k: k, n: n, shardSize: shardSize, coder: coder,
		windows: make(map[uint64]*shred.Window),
		pending: make(map[uint64][]byte),
		queued:  make(map[uint64][]Entry),
		decoded: make(map[uint64]int),
	}
}

func (f *ShredFeed) windowFor(slot uint64) *shred.Window {
	w := f.windows[slot]
	if w == nil {
		w = shred.NewWindow(slot, f.k, f.n, f.shardSize, f.coder)
		f.windows[slot] = w
	}
	return w
}

// Insert feeds one received shred into its slot's window, appending any
// newly delivered bytes to that slot's decode buffer. recoverErr carries
// any non-fatal Reed-Solomon recovery failure; err is a blockstore I/O
// failure, which is node-level and must halt the caller.
func (f *ShredFeed) Insert(s *shred.Shred) (duplicate bool, recoverErr, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	w := f.windowFor(s.Slot)
	delivered, dup, recoverErr := w.Insert(s)
	if dup {
		return true, nil, nil
	}
	if f.Store != nil {
		if _, serr := f.Store.InsertShred(s); serr != nil {
			return false, recoverErr, serr
		}
	}
	for _, d := range delivered {
		f.pending[s.Slot] = append(f.pending[s.Slot], d.Payload...)
	}
	entries, decErr := DecodeEntries(f.pending[s.Slot])
	if decErr == nil && len(entries) > f.decoded[s.Slot] {
		f.queued[s.Slot] = append(f.queued[s.Slot], entries[f.decoded[s.Slot]:]...)
		f.decoded[s.Slot] = len(entries)
	}
	if f.Store != nil && w.Complete() {
		if serr := f.Store.MarkCompleted(s.Slot); serr != nil {
			return false, recoverErr, serr
		}
	}
	return false, recoverErr, nil
}

// Poll implements EntrySource: it drains and returns every entry decoded
// for slot since the last call.
func (f *ShredFeed) Poll(slot uint64) []Entry {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := f.queued[slot]
	delete(f.queued, slot)
	return out
}

// Window returns the live Window for slot, creating it if absent --
// exposed so the repair/retransmit tasks can inspect delivery state.
func (f *ShredFeed) Window(slot uint64) *shred.Window {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.windowFor(slot)
}
