package commitment

import "testing"

func TestIncreaseAndQueryConfirmationStake(t *testing.T) {
	var bc BlockCommitment
	bc.IncreaseConfirmationStake(1, 100)
	bc.IncreaseConfirmationStake(1, 50)
	bc.IncreaseConfirmationStake(2, 10)

	if got := bc.ConfirmationStake(1); got != 150 {
		t.Errorf("want 150 at depth 1, got %d", got)
	}
	if got := bc.ConfirmationStake(2); got != 10 {
		t.Errorf("want 10 at depth 2, got %d", got)
	}
}

func TestIncreaseConfirmationStakePanicsOutOfRange(t *testing.T) {
	var bc BlockCommitment
	defer func() {
		if recover() == nil {
			t.Errorf("want panic for out-of-range confirmation count")
		}
	}()
	bc.IncreaseConfirmationStake(0, 1)
}

func TestBlockWithDepthCommitmentRequiresStakeFraction(t *testing.T) {
	bc5 := &BlockCommitment{}
	bc5.IncreaseConfirmationStake(1, 70) // 70% at depth >=1

	bc6 := &BlockCommitment{}
	bc6.IncreaseConfirmationStake(1, 30) // only 30%

	cache := NewCache(map[uint64]*BlockCommitment{5: bc5, 6: bc6}, 100)

	slot, ok := cache.BlockWithDepthCommitment(1, 2.0/3.0)
	if !ok || slot != 5 {
		t.Errorf("want slot 5 (>2/3 stake at depth 1), got slot=%d ok=%v", slot, ok)
	}
}

func TestBlockWithDepthCommitmentPicksHighestQualifyingSlot(t *testing.T) {
	bcA := &BlockCommitment{}
	bcA.IncreaseConfirmationStake(1, 100)
	bcB := &BlockCommitment{}
	bcB.IncreaseConfirmationStake(1, 100)

	cache := NewCache(map[uint64]*BlockCommitment{3: bcA, 9: bcB}, 100)
	slot, ok := cache.BlockWithDepthCommitment(1, 0.5)
	if !ok || slot != 9 {
		t.Errorf("want the higher qualifying slot (9), got slot=%d ok=%v", slot, ok)
	}
}

func TestRootedBlockWithCommitmentRequiresMaxDepth(t *testing.T) {
	bc := &BlockCommitment{}
	bc.IncreaseConfirmationStake(1, 100) // only shallow confirmation, never reaches max depth

	cache := NewCache(map[uint64]*BlockCommitment{7: bc}, 100)
	if _, ok := cache.RootedBlockWithCommitment(2.0 / 3.0); ok {
		t.Errorf("a slot with no stake at maximum lockout depth must not be reported rooted")
	}

	bcRooted := &BlockCommitment{}
	bcRooted.IncreaseConfirmationStake(MaxLockoutHistory, 100)
	cache2 := NewCache(map[uint64]*BlockCommitment{7: bcRooted}, 100)
	if slot, ok := cache2.RootedBlockWithCommitment(2.0 / 3.0); !ok || slot != 7 {
		t.Errorf("want slot 7 reported rooted, got slot=%d ok=%v", slot, ok)
	}
}

func TestBlockWithDepthCommitmentNoQualifyingSlot(t *testing.T) {
	cache := NewCache(map[uint64]*BlockCommitment{}, 100)
	if _, ok := cache.BlockWithDepthCommitment(1, 0.5); ok {
		t.Errorf("an empty cache should never report a qualifying slot")
	}
}
