// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package replay

import (
	"github.com/ridgeline-labs/valcore/runtime"
	"github.com/ridgeline-labs/valcore/shred"
)

// RepairLimit caps how many missing indices DriveRepair requests per slot
// per pass, so one badly lagging slot cannot starve repair traffic for
// every other slot tracked by the feed.
const RepairLimit = 64

// DriveRepair scans every slot this feed is tracking and, for any that are
// neither dead nor complete, asks transport to fetch their missing shreds
// from up to peerLimit of the given peers. It returns the first error
// encountered, continuing to the next slot rather than aborting the pass.
func (f *ShredFeed) DriveRepair(transport runtime.PeerTransport, peers []shred.PeerInfo, peerLimit int) error {
	f.mu.Lock()
	windows := make([]*shred.Window, 0, len(f.windows))
	for _, w := range f.windows {
		windows = append(windows, w)
	}
	f.mu.Unlock()

	targets := shred.SelectRepairPeers(peers, peerLimit)
	if len(targets) == 0 {
		return nil
	}

	var firstErr error
	for _, w := range windows {
		if w.Dead() || w.Complete() {
			continue
		}
		missing := w.MissingIndices(RepairLimit)
		if len(missing) == 0 {
			continue
		}
		for _, peer := range targets {
			if err := transport.SendRepairRequest(peer, w.Slot, missing); err != nil && firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
