package vote

import (
	"testing"

	"github.com/ridgeline-labs/valcore/common"
)

func TestVoteStateMarshalUnmarshalRoundTrip(t *testing.T) {
	root := uint64(5)
	vs := &VoteState{
		NodePubkey:           common.Address{1},
		AuthorizedVoter:      common.Address{2},
		AuthorizedWithdrawer: common.Address{3},
		Commission:           7,
		Votes:                []Lockout{{Slot: 10, ConfirmationCount: 1}, {Slot: 11, ConfirmationCount: 2}},
		RootSlot:             &root,
		LastTimestampSlot:    11,
		LastTimestampUnixSecs: 1_700_000_000,
	}

	data, err := vs.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}

	var got VoteState
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatalf("UnmarshalBinary: %v", err)
	}
	if got.NodePubkey != vs.NodePubkey || got.Commission != vs.Commission {
		t.Errorf("identity/commission mismatch: %+v", got)
	}
	if len(got.Votes) != 2 || got.Votes[0] != vs.Votes[0] || got.Votes[1] != vs.Votes[1] {
		t.Errorf("votes mismatch: %+v", got.Votes)
	}
	if got.RootSlot == nil || *got.RootSlot != root {
		t.Errorf("want root slot %d, got %v", root, got.RootSlot)
	}
	if got.LastTimestampSlot != 11 || got.LastTimestampUnixSecs != 1_700_000_000 {
		t.Errorf("timestamp mismatch: %+v", got)
	}
}

func TestVoteStateMarshalRejectsTooManyVotes(t *testing.T) {
	votes := make([]Lockout, MaxLockoutHistory+1)
	vs := &VoteState{Votes: votes}
	if _, err := vs.MarshalBinary(); err == nil {
		t.Errorf("want an error encoding more than MaxLockoutHistory votes")
	}
}

func TestVoteStateUnmarshalRejectsUnsupportedVersion(t *testing.T) {
	vs := &VoteState{}
	data, err := vs.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	data[0] = 0xFF // corrupt the version field
	if err := (&VoteState{}).UnmarshalBinary(data); err == nil {
		t.Errorf("want an error decoding an unsupported version")
	}
}

func TestVoteStateUnmarshalRejectsTruncatedData(t *testing.T) {
	if err := (&VoteState{}).UnmarshalBinary([]byte{1, 2, 3}); err == nil {
		t.Errorf("want an error decoding a too-short buffer")
	}
}

func TestProcessVotePopsExpiredNonAncestorEntries(t *testing.T) {
	vs := &VoteState{Votes: []Lockout{{Slot: 1, ConfirmationCount: 1}}}
	// Lockout{1,1}.ExpirySlot() == 3; voting slot 100 on a fork that does
	// not descend from 1 must drop the expired, non-ancestor entry.
	vs.ProcessVote(100, func(uint64) bool { return false })

	if len(vs.Votes) != 1 || vs.Votes[0].Slot != 100 || vs.Votes[0].ConfirmationCount != 1 {
		t.Errorf("want only the new vote on slot 100 to survive, got %+v", vs.Votes)
	}
}

func TestProcessVoteKeepsUnexpiredEntryAndIncrementsConfirmation(t *testing.T) {
	vs := &VoteState{Votes: []Lockout{{Slot: 10, ConfirmationCount: 1}}}
	// ExpirySlot() == 12; voting slot 11 (still within lockout) must keep
	// the entry and bump its confirmation count.
	vs.ProcessVote(11, func(s uint64) bool { return s == 10 })

	if len(vs.Votes) != 2 {
		t.Fatalf("want both entries kept, got %+v", vs.Votes)
	}
	if vs.Votes[0].Slot != 10 || vs.Votes[0].ConfirmationCount != 2 {
		t.Errorf("want slot 10 bumped to confirmation 2, got %+v", vs.Votes[0])
	}
	if vs.Votes[1].Slot != 11 || vs.Votes[1].ConfirmationCount != 1 {
		t.Errorf("want slot 11 pushed at confirmation 1, got %+v", vs.Votes[1])
	}
}

func TestProcessVoteAdvancesRootOnlyWhenStackWouldExceedMaxLockoutHistory(t *testing.T) {
	vs := &VoteState{}
	always := func(uint64) bool { return true }
	for s := uint64(1); s <= MaxLockoutHistory; s++ {
		vs.ProcessVote(s, always)
	}
	if vs.RootSlot != nil {
		t.Fatalf("want no root set before the stack exceeds MaxLockoutHistory, got %v", vs.RootSlot)
	}
	if len(vs.Votes) != MaxLockoutHistory {
		t.Fatalf("want %d votes on the stack before it overflows, got %d", MaxLockoutHistory, len(vs.Votes))
	}

	vs.ProcessVote(MaxLockoutHistory+1, always)
	if vs.RootSlot == nil || *vs.RootSlot != 1 {
		t.Fatalf("want root slot 1 after the %d'th vote, got %v", MaxLockoutHistory+1, vs.RootSlot)
	}
	if len(vs.Votes) != MaxLockoutHistory {
		t.Errorf("want %d votes remaining after the bottom entry roots out, got %d", MaxLockoutHistory, len(vs.Votes))
	}

	vs.ProcessVote(MaxLockoutHistory+2, always)
	if vs.RootSlot == nil || *vs.RootSlot != 2 {
		t.Fatalf("want root slot 2 after the following vote, got %v", vs.RootSlot)
	}
}

func TestSetTimestampRecordsSlotAndUnixSeconds(t *testing.T) {
	vs := &VoteState{}
	vs.SetTimestamp(42, 1_650_000_000)
	if vs.LastTimestampSlot != 42 || vs.LastTimestampUnixSecs != 1_650_000_000 {
		t.Errorf("want timestamp recorded, got %+v", vs)
	}
}
