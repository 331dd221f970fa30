package replay

import (
	"testing"

	"github.com/ridgeline-labs/valcore/common"
)

func TestVerifyChainAcceptsCorrectlyDerivedHash(t *testing.T) {
	prev := common.Hash{1, 2, 3}
	e := &Entry{NumHashes: 7}
	e.Hash = ComputeEntryHash(prev, e.NumHashes, e.Transactions)

	if err := VerifyChain(prev, e); err != nil {
		t.Errorf("a correctly derived entry hash should verify, got %v", err)
	}
}

// TestVerifyChainRejectsForgedHash: an invalid entry hash chain marks
// the fork dead.
func TestVerifyChainRejectsForgedHash(t *testing.T) {
	prev := common.Hash{1}
	e := &Entry{NumHashes: 3, Hash: common.Hash{0xFF}}
	if err := VerifyChain(prev, e); err == nil {
		t.Errorf("a forged/corrupted entry hash must fail verification")
	}
}

func TestIsTickReportsNoTransactions(t *testing.T) {
	tick := &Entry{}
	if !tick.IsTick() {
		t.Errorf("an entry with no transactions is a tick")
	}
}

func TestEncodeDecodeEntriesRoundTrip(t *testing.T) {
	e1 := Entry{Hash: common.Hash{1}, NumHashes: 10}
	e2 := Entry{Hash: common.Hash{2}, NumHashes: 20, LastInSlot: true}

	encoded, err := EncodeEntries([]Entry{e1, e2})
	if err != nil {
		t.Fatalf("EncodeEntries: %v", err)
	}
	decoded, err := DecodeEntries(encoded)
	if err != nil {
		t.Fatalf("DecodeEntries: %v", err)
	}
	if len(decoded) != 2 {
		t.Fatalf("want 2 entries back, got %d", len(decoded))
	}
	if decoded[0].Hash != e1.Hash || decoded[0].NumHashes != e1.NumHashes {
		t.Errorf("first entry mismatch: %+v", decoded[0])
	}
	if !decoded[1].LastInSlot {
		t.Errorf("want the second entry's LastInSlot flag preserved")
	}
}

func TestDecodeEntriesStopsAtZeroPadding(t *testing.T) {
	encoded, err := EncodeEntries([]Entry{{Hash: common.Hash{9}, NumHashes: 1}})
	if err != nil {
		t.Fatalf("EncodeEntries: %v", err)
	}
	// Simulate shard zero-padding appended after the real entry stream.
	padded := append(encoded, make([]byte, 64)...)
	decoded, err := DecodeEntries(padded)
	if err != nil {
		t.Fatalf("DecodeEntries: %v", err)
	}
	if len(decoded) != 1 {
		t.Errorf("want decoding to stop at the zero-length record, got %d entries", len(decoded))
	}
}
