package tower

import "testing"

// linearAncestor treats every slot at or below s (s included) as s's
// ancestor -- enough to model a single unforked chain for these tests.
func linearAncestor(s uint64) func(uint64) bool {
	return func(candidate uint64) bool { return candidate <= s }
}

func TestIsVotableOnEmptyTower(t *testing.T) {
	tw := New()
	if !tw.IsVotable(5, linearAncestor(5)) {
		t.Errorf("an empty tower should admit any candidate")
	}
}

func TestRecordVoteIncrementsConfirmationOfSurvivingEntries(t *testing.T) {
	tw := New()
	tw.RecordVote(1, linearAncestor(1))
	tw.RecordVote(2, linearAncestor(2))

	votes := tw.Votes()
	if len(votes) != 2 {
		t.Fatalf("want 2 entries, got %d", len(votes))
	}
	if votes[0].Slot != 1 || votes[0].ConfirmationCount != 2 {
		t.Errorf("want slot 1 at confirmation count 2 after voting on its descendant, got %+v", votes[0])
	}
	if votes[1].Slot != 2 || votes[1].ConfirmationCount != 1 {
		t.Errorf("want fresh vote on slot 2 at confirmation count 1, got %+v", votes[1])
	}
}

// TestIsVotableRejectsNonDescendantOfUnexpiredLockout is the Tower lockout
// testable property: a candidate that is not a descendant of an
// unexpired stack entry must be rejected.
func TestIsVotableRejectsNonDescendantOfUnexpiredLockout(t *testing.T) {
	tw := New()
	// Vote on slot 1: lockout expires at 1 + 2^1 = 3.
	tw.RecordVote(1, linearAncestor(1))

	// Slot 2 is a fork off slot 0, not a descendant of 1, and slot 1's
	// lockout (expiry 3) has not yet passed: must be rejected.
	isAncestorOf2 := func(s uint64) bool { return s == 0 }
	if tw.IsVotable(2, isAncestorOf2) {
		t.Errorf("candidate not descending from an unexpired lockout must be rejected")
	}
}

func TestIsVotableAdmitsAfterLockoutExpires(t *testing.T) {
	tw := New()
	tw.RecordVote(1, linearAncestor(1)) // expiry = 1 + 2^1 = 3

	isAncestorOfNobody := func(uint64) bool { return false }
	if tw.IsVotable(3, isAncestorOfNobody) {
		t.Errorf("slot 3 is within the expiry window (<3) boundary check: ExpirySlot()=3 is not < 3, so it still locks out")
	}
	if !tw.IsVotable(4, isAncestorOfNobody) {
		t.Errorf("slot 4 is past slot 1's expiry (3): should be admissible on any fork")
	}
}

func TestRecordVotePopsExpiredNonAncestorEntries(t *testing.T) {
	tw := New()
	tw.RecordVote(1, linearAncestor(1)) // expiry 3

	// Vote on slot 10, far past slot 1's expiry, on a fork unrelated to 1.
	isAncestorOf10 := func(s uint64) bool { return s == 0 }
	tw.RecordVote(10, isAncestorOf10)

	votes := tw.Votes()
	if len(votes) != 1 || votes[0].Slot != 10 {
		t.Errorf("want only the new vote to survive once slot 1's lockout expired, got %+v", votes)
	}
}

func TestRootAdvancesOnlyWhenStackWouldExceedMaxLockoutHistory(t *testing.T) {
	tw := New()
	// A single-chain vote progression on slots 1..34: every earlier vote
	// is an ancestor of every later one, so nothing ever expires and the
	// stack grows by one entry per vote until it would exceed
	// MaxLockoutHistory. Root must not advance while the stack still fits
	// (first MaxLockoutHistory votes): only the (MaxLockoutHistory+1)'th
	// vote (slot 33) pushes it over and roots slot 1, and the next vote
	// (slot 34) roots slot 2.
	for s := uint64(1); s <= uint64(MaxLockoutHistory); s++ {
		_, advanced := tw.RecordVote(s, linearAncestor(s-1))
		if advanced {
			t.Fatalf("want no root advancement before the stack exceeds MaxLockoutHistory, fired at slot %d", s)
		}
	}
	if len(tw.Votes()) != MaxLockoutHistory {
		t.Fatalf("want %d entries on the stack before it overflows, got %d", MaxLockoutHistory, len(tw.Votes()))
	}

	root33, advanced33 := tw.RecordVote(uint64(MaxLockoutHistory)+1, linearAncestor(uint64(MaxLockoutHistory)))
	if !advanced33 || root33 != 1 {
		t.Fatalf("want root advance to slot 1 on the %d'th vote, got root=%d advanced=%v", MaxLockoutHistory+1, root33, advanced33)
	}

	root34, advanced34 := tw.RecordVote(uint64(MaxLockoutHistory)+2, linearAncestor(uint64(MaxLockoutHistory)+1))
	if !advanced34 || root34 != 2 {
		t.Fatalf("want root advance to slot 2 on the following vote, got root=%d advanced=%v", root34, advanced34)
	}

	root, ok := tw.Root()
	if !ok || root != 2 {
		t.Errorf("want tower root 2, got %d (ok=%v)", root, ok)
	}
}

func TestCanSwitchRequiresSwitchThreshold(t *testing.T) {
	if CanSwitch(SwitchThreshold - 0.01) {
		t.Errorf("stake just under the threshold should not permit switching")
	}
	if !CanSwitch(SwitchThreshold) {
		t.Errorf("stake exactly at the threshold should permit switching")
	}
	if !CanSwitch(0.9) {
		t.Errorf("stake well above the threshold should permit switching")
	}
}
