package runtime

import (
	"testing"

	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/common"
)

func newTestRoot(slot uint64) *Bank {
	db := accounts.New(0)
	return NewBank(slot, db, common.Hash{}, 200, 300)
}

func TestBankForksInsertAndDescendants(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)

	b1 := NewFromParent(root, 1, 0)
	bf.Insert(b1)
	b2 := NewFromParent(b1, 2, 0)
	bf.Insert(b2)

	desc := bf.Descendants()
	if !desc[0][1] || !desc[0][2] {
		t.Errorf("want slot 0 to have descendants {1,2}, got %v", desc[0])
	}
	if !desc[1][2] {
		t.Errorf("want slot 1 to have descendant 2, got %v", desc[1])
	}
	if len(desc[2]) != 0 {
		t.Errorf("slot 2 should have no descendants, got %v", desc[2])
	}
}

func TestBankForksWorkingBankIsHighestSlot(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)
	bf.Insert(NewFromParent(root, 1, 0))
	bf.Insert(NewFromParent(root, 5, 0))

	if got := bf.WorkingBank().Slot; got != 5 {
		t.Errorf("want working bank slot 5, got %d", got)
	}
}

func TestBankForksActiveAndFrozenBanks(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)
	b1 := NewFromParent(root, 1, 0)
	bf.Insert(b1)
	if err := root.Freeze(); err != nil {
		t.Fatalf("freeze root: %v", err)
	}

	frozen := bf.FrozenBanks()
	if _, ok := frozen[0]; !ok {
		t.Errorf("want slot 0 frozen")
	}
	if _, ok := frozen[1]; ok {
		t.Errorf("slot 1 should not be frozen yet")
	}

	active := bf.ActiveBanks()
	if len(active) != 1 || active[0] != 1 {
		t.Errorf("want active banks [1], got %v", active)
	}
}

func TestBankForksSetRootPrunesSiblingForks(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)

	// Two branches off the root: {1,2} and {3}.
	b1 := NewFromParent(root, 1, 0)
	bf.Insert(b1)
	b2 := NewFromParent(b1, 2, 0)
	bf.Insert(b2)
	b3 := NewFromParent(root, 3, 0)
	bf.Insert(b3)

	if err := bf.SetRoot(1, nil); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}

	if _, ok := bf.Get(3); ok {
		t.Errorf("sibling fork slot 3 should have been pruned")
	}
	if _, ok := bf.Get(0); ok {
		t.Errorf("slot 0 should have been pruned once root advances past it")
	}
	if _, ok := bf.Get(1); !ok {
		t.Errorf("new root slot 1 should remain live")
	}
	if _, ok := bf.Get(2); !ok {
		t.Errorf("descendant of new root should remain live")
	}
}

func TestBankForksSetRootRejectsDecreasingRoot(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)
	b5 := NewFromParent(root, 5, 0)
	bf.Insert(b5)

	if err := bf.SetRoot(5, nil); err != nil {
		t.Fatalf("SetRoot(5): %v", err)
	}
	if err := bf.SetRoot(3, nil); err == nil {
		t.Errorf("want error setting root backwards from 5 to 3")
	}
}

func TestBankForksSetRootKeepsHighestConfirmedRootAncestors(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)
	b1 := NewFromParent(root, 1, 0)
	bf.Insert(b1)
	b2 := NewFromParent(b1, 2, 0)
	bf.Insert(b2)

	hcr := uint64(1)
	if err := bf.SetRoot(2, &hcr); err != nil {
		t.Fatalf("SetRoot: %v", err)
	}
	if _, ok := bf.Get(1); !ok {
		t.Errorf("slot 1 lies between highestConfirmedRoot and the new root and is an ancestor of root: must be kept")
	}
}

func TestBankForksInsertPanicsOnDuplicateSlot(t *testing.T) {
	root := newTestRoot(0)
	bf := NewBankForks(root)
	defer func() {
		if recover() == nil {
			t.Errorf("want panic inserting a slot already present")
		}
	}()
	bf.Insert(newTestRoot(0))
}
