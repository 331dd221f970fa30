package shred

import (
	"testing"

	"github.com/ridgeline-labs/valcore/crypto"
)

func buildTestShreds(t *testing.T, k, n int, payload []byte) []*Shred {
	t.Helper()
	coder, err := NewCoder(k, n)
	if err != nil {
		t.Fatalf("NewCoder: %v", err)
	}
	id, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	shreds, err := BuildShreds(10, 9, 1, payload, coder, id)
	if err != nil {
		t.Fatalf("BuildShreds: %v", err)
	}
	return shreds
}

// TestShredIdempotence: inserting the same (slot, index, payload) twice
// leaves the window
// unchanged.
func TestShredIdempotence(t *testing.T) {
	shreds := buildTestShreds(t, 4, 6, []byte("some entry bytes to carry across the wire"))
	coder, _ := NewCoder(4, 6)
	w := NewWindow(10, 4, 6, len(shreds[0].Payload), coder)

	delivered1, dup1, err := w.Insert(shreds[0])
	if err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if dup1 {
		t.Fatalf("first insert of a fresh shred must not be reported duplicate")
	}

	delivered2, dup2, err := w.Insert(shreds[0])
	if err != nil {
		t.Fatalf("second insert: %v", err)
	}
	if !dup2 {
		t.Errorf("re-inserting the same (slot, index, payload) must be reported duplicate")
	}
	if len(delivered2) != 0 {
		t.Errorf("a duplicate insert must not deliver anything new")
	}
	_ = delivered1
}

func TestWindowDeliversContiguousPrefixInOrder(t *testing.T) {
	payload := make([]byte, 2000)
	for i := range payload {
		payload[i] = byte(i)
	}
	shreds := buildTestShreds(t, 4, 6, payload)
	coder, _ := NewCoder(4, 6)
	w := NewWindow(10, 4, 6, len(shreds[0].Payload), coder)

	// Insert data shreds out of order; delivery must still surface them
	// in increasing index order once the gap is filled.
	var delivered []*Shred
	out, _, _ := w.Insert(shreds[1]) // index 1, gap at 0
	delivered = append(delivered, out...)
	if len(delivered) != 0 {
		t.Fatalf("nothing should deliver while index 0 is missing")
	}
	out, _, _ = w.Insert(shreds[0]) // fills the gap
	delivered = append(delivered, out...)
	if len(delivered) != 2 {
		t.Fatalf("want indices 0 and 1 delivered together, got %d", len(delivered))
	}
	if delivered[0].Index != 0 || delivered[1].Index != 1 {
		t.Errorf("want delivery order [0, 1], got [%d, %d]", delivered[0].Index, delivered[1].Index)
	}
}

func TestWindowRecoversMissingDataShredFromCoding(t *testing.T) {
	payload := make([]byte, 4000)
	for i := range payload {
		payload[i] = byte(i * 7)
	}
	shreds := buildTestShreds(t, 4, 6, payload)
	coder, _ := NewCoder(4, 6)
	w := NewWindow(10, 4, 6, len(shreds[0].Payload), coder)

	// Withhold data shred 0; deliver the rest of the data shreds plus
	// both coding shreds, enough (4 of 6) to recover it.
	for i, s := range shreds {
		if i == 0 {
			continue
		}
		if _, _, err := w.Insert(s); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	if !w.Complete() {
		t.Fatalf("want the window complete once the missing data shred was recovered")
	}
}

func TestWindowMarkDeadAndComplete(t *testing.T) {
	coder, _ := NewCoder(2, 3)
	w := NewWindow(1, 2, 3, 16, coder)
	if w.Dead() {
		t.Fatalf("a fresh window must not start dead")
	}
	if w.Complete() {
		t.Errorf("a fresh window with no shreds must not report complete")
	}
	w.MarkDead()
	if !w.Dead() {
		t.Errorf("want window dead after MarkDead")
	}
}

func TestSelectRepairPeersExcludesPeersMissingSlotAndSortsByStake(t *testing.T) {
	peers := []PeerInfo{
		{Address: addrB(1), Stake: 10, HasSlot: true},
		{Address: addrB(2), Stake: 100, HasSlot: true},
		{Address: addrB(3), Stake: 1000, HasSlot: false},
	}
	out := SelectRepairPeers(peers, 5)
	if len(out) != 2 {
		t.Fatalf("want 2 eligible peers (excluding the one missing the slot), got %d", len(out))
	}
	if out[0] != addrB(2) {
		t.Errorf("want highest-stake eligible peer first, got %x", out[0])
	}
}

func TestRetransmitFilterForwardsOnceAndSuppressesSelfOrigin(t *testing.T) {
	self := addrB(9)
	f := NewRetransmitFilter(self)
	s := &Shred{Slot: 1, Index: 0, Variant: VariantData}

	if !f.ShouldForward(s, addrB(1)) {
		t.Errorf("a fresh shred from a peer should be forwarded")
	}
	if f.ShouldForward(s, addrB(1)) {
		t.Errorf("the same shred must not be forwarded twice")
	}
	s2 := &Shred{Slot: 2, Index: 0, Variant: VariantData}
	if f.ShouldForward(s2, self) {
		t.Errorf("a shred attributed to this node's own identity must never be retransmitted")
	}
}

func addrB(b byte) (a [32]byte) {
	a[0] = b
	return a
}
