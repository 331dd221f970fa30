package replay

import (
	"sync"
	"testing"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/shred"
)

// fakeTransport records every repair request it is asked to send.
type fakeTransport struct {
	mu       sync.Mutex
	requests []fakeRepairRequest
}

type fakeRepairRequest struct {
	peer    common.Address
	slot    uint64
	indices []uint32
}

func (f *fakeTransport) SendRepairRequest(peer common.Address, slot uint64, indices []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, fakeRepairRequest{peer: peer, slot: slot, indices: indices})
	return nil
}

func (f *fakeTransport) Retransmit(shred []byte) error { return nil }

func addr(b byte) common.Address {
	var a common.Address
	a[0] = b
	return a
}

func TestDriveRepairRequestsMissingIndicesFromRankedPeers(t *testing.T) {
	feed := NewShredFeed(4, 6, 32, nil)
	// Touch the window for slot 5 without delivering anything, leaving its
	// whole first group missing.
	feed.Window(5)

	transport := &fakeTransport{}
	peers := []shred.PeerInfo{
		{Address: addr(1), Stake: 10, HasSlot: true},
		{Address: addr(2), Stake: 50, HasSlot: true},
		{Address: addr(3), Stake: 100, HasSlot: false},
	}

	if err := feed.DriveRepair(transport, peers, 1); err != nil {
		t.Fatalf("DriveRepair: %v", err)
	}

	if len(transport.requests) != 1 {
		t.Fatalf("want 1 repair request dispatched (peerLimit=1), got %d", len(transport.requests))
	}
	req := transport.requests[0]
	if req.peer != addr(2) {
		t.Errorf("want the highest-staked HasSlot peer (addr 2) selected, got %v", req.peer)
	}
	if req.slot != 5 {
		t.Errorf("want repair request for slot 5, got %d", req.slot)
	}
	if len(req.indices) == 0 {
		t.Errorf("want a non-empty set of missing indices")
	}
}

func TestDriveRepairSkipsDeadAndCompleteWindows(t *testing.T) {
	feed := NewShredFeed(4, 6, 32, nil)
	dead := feed.Window(1)
	dead.MarkDead()

	transport := &fakeTransport{}
	peers := []shred.PeerInfo{{Address: addr(9), Stake: 1, HasSlot: true}}

	if err := feed.DriveRepair(transport, peers, 5); err != nil {
		t.Fatalf("DriveRepair: %v", err)
	}
	if len(transport.requests) != 0 {
		t.Errorf("want no repair requests for a dead slot, got %d", len(transport.requests))
	}
}

func TestDriveRepairNoOpsWithoutEligiblePeers(t *testing.T) {
	feed := NewShredFeed(4, 6, 32, nil)
	feed.Window(2)

	transport := &fakeTransport{}
	peers := []shred.PeerInfo{{Address: addr(1), Stake: 10, HasSlot: false}}

	if err := feed.DriveRepair(transport, peers, 5); err != nil {
		t.Fatalf("DriveRepair: %v", err)
	}
	if len(transport.requests) != 0 {
		t.Errorf("want no repair requests when no peer reports having the slot, got %d", len(transport.requests))
	}
}
