package runtime

import (
	"testing"

	"github.com/ridgeline-labs/valcore/common"
)

func TestCostTrackerAdmitsWithinLimits(t *testing.T) {
	ct := NewCostTracker(200, 300)
	a := common.Address{1}
	cost, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{a}, ExecutionCost: 100})
	if err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	if cost != 100 {
		t.Errorf("want block cost 100, got %d", cost)
	}
}

// TestCostTrackerThirdTransactionRejectedAtomically:
// block_cost_limit=300, per-account limit=200, three cost-100 transactions
// all touching account X; the third is rejected and the counters remain at
// 200 (the state after the first two).
func TestCostTrackerThirdTransactionRejectedAtomically(t *testing.T) {
	ct := NewCostTracker(200, 300)
	x := common.Address{0xAA}

	for i := 0; i < 2; i++ {
		if _, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{x}, ExecutionCost: 100}); err != nil {
			t.Fatalf("transaction %d unexpectedly rejected: %v", i, err)
		}
	}

	before := ct.GetStats()
	if before.TotalCost != 200 {
		t.Fatalf("want block cost 200 after two admits, got %d", before.TotalCost)
	}

	if _, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{x}, ExecutionCost: 100}); err == nil {
		t.Fatalf("want third transaction on account X rejected (would exceed per-account limit 200)")
	}

	after := ct.GetStats()
	if after.TotalCost != 200 {
		t.Errorf("rejected transaction must leave block_cost unchanged: want 200, got %d", after.TotalCost)
	}
	if after.CostliestAccountCost != 200 {
		t.Errorf("rejected transaction must leave per-account cost unchanged: want 200, got %d", after.CostliestAccountCost)
	}
}

func TestCostTrackerRejectsOverBlockLimit(t *testing.T) {
	ct := NewCostTracker(150, 150)
	a, b := common.Address{1}, common.Address{2}
	if _, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{a}, ExecutionCost: 100}); err != nil {
		t.Fatalf("first transaction should fit: %v", err)
	}
	if _, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{b}, ExecutionCost: 100}); err == nil {
		t.Fatalf("want rejection: 100+100 > block limit 150")
	}
	if stats := ct.GetStats(); stats.TotalCost != 100 {
		t.Errorf("rejected transaction must not change block_cost: got %d", stats.TotalCost)
	}
}

func TestCostTrackerDedupesRepeatedWritableAccount(t *testing.T) {
	ct := NewCostTracker(1000, 1000)
	a := common.Address{7}
	// A transaction naming the same writable account twice must only be
	// charged once against that account's running cost.
	if _, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{a, a}, ExecutionCost: 50}); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	stats := ct.GetStats()
	if stats.CostliestAccountCost != 50 {
		t.Errorf("want per-account cost 50 (not double-counted), got %d", stats.CostliestAccountCost)
	}
}

func TestCostTrackerResetIfNewBankClearsLedger(t *testing.T) {
	ct := NewCostTracker(200, 300)
	a := common.Address{3}
	if _, err := ct.TryAdd(TransactionCost{WritableAccounts: []common.Address{a}, ExecutionCost: 100}); err != nil {
		t.Fatalf("unexpected rejection: %v", err)
	}
	ct.ResetIfNewBank(1)
	if stats := ct.GetStats(); stats.TotalCost != 0 {
		t.Errorf("want cost reset to 0 for a new bank slot, got %d", stats.TotalCost)
	}
}

func TestUpsertInstructionCostBlendsByArithmeticMean(t *testing.T) {
	if got := UpsertInstructionCost(0, 100, false); got != 100 {
		t.Errorf("first observation should pass through unchanged, got %d", got)
	}
	if got := UpsertInstructionCost(100, 200, true); got != 150 {
		t.Errorf("want arithmetic mean of (100, 200) = 150, got %d", got)
	}
}
