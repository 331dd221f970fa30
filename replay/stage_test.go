package replay

import (
	"errors"
	"testing"

	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/commitment"
	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/crypto"
	votepkg "github.com/ridgeline-labs/valcore/programs/vote"
	"github.com/ridgeline-labs/valcore/runtime"
	"github.com/ridgeline-labs/valcore/txn"
	"github.com/ridgeline-labs/valcore/vote/tower"
)

// stubSource hands out a fixed set of entries for one slot exactly once,
// then reports none -- enough to drive a single RunOnce iteration.
type stubSource struct {
	bySlot map[uint64][]Entry
}

func (s *stubSource) Poll(slot uint64) []Entry {
	e := s.bySlot[slot]
	delete(s.bySlot, slot)
	return e
}

func newTestForks(t *testing.T) (*accounts.AccountsDB, *runtime.BankForks, *runtime.Bank) {
	t.Helper()
	db := accounts.New(0)
	root := runtime.NewBank(0, db, common.Hash{}, 1_000, 10_000)
	if err := root.Freeze(); err != nil {
		t.Fatalf("freeze root: %v", err)
	}
	return db, runtime.NewBankForks(root), root
}

func TestRunOnceAppliesEntriesAndFreezesOnLastInSlot(t *testing.T) {
	_, forks, root := newTestForks(t)
	b1 := runtime.NewFromParent(root, 1, 0)
	forks.Insert(b1)

	e := Entry{NumHashes: 3, LastInSlot: true}
	e.Hash = ComputeEntryHash(b1.Blockhash(), e.NumHashes, nil)
	src := &stubSource{bySlot: map[uint64][]Entry{1: {e}}}

	pipeline := runtime.NewPipeline(nil, common.ComputeBudgetProgramID, common.VoteProgramID, nil, 5000)
	stage := NewStage(forks, pipeline, src, tower.New(), common.VoteProgramID, nil, 0, new(int32))

	advanced, err := stage.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !advanced {
		t.Errorf("want advanced=true after processing a new entry")
	}
	if !b1.IsFrozen() {
		t.Errorf("want slot 1 frozen after its LastInSlot entry")
	}
}

func TestRunOnceMarksSlotDeadOnHashChainFailure(t *testing.T) {
	_, forks, root := newTestForks(t)
	b1 := runtime.NewFromParent(root, 1, 0)
	forks.Insert(b1)

	// A hash that does not chain from the bank's current blockhash.
	bad := Entry{NumHashes: 3, Hash: common.Hash{0xFF}}
	src := &stubSource{bySlot: map[uint64][]Entry{1: {bad}}}

	pipeline := runtime.NewPipeline(nil, common.ComputeBudgetProgramID, common.VoteProgramID, nil, 5000)
	stage := NewStage(forks, pipeline, src, tower.New(), common.VoteProgramID, nil, 0, new(int32))

	var deadSlot uint64
	var deadCause error
	stage.OnDeadSlot = func(slot uint64, cause error) {
		deadSlot, deadCause = slot, cause
	}

	if _, err := stage.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if deadSlot != 1 || deadCause == nil {
		t.Errorf("want slot 1 marked dead with a non-nil cause, got slot=%d cause=%v", deadSlot, deadCause)
	}
	if !stage.isDead(1) {
		t.Errorf("want isDead(1) true after a forged entry hash")
	}
	if b1.IsFrozen() {
		t.Errorf("a slot killed by a hash-chain failure must not be frozen")
	}
}

// TestRunOnceMarksSlotDeadOnCostTrackerOverflow: a block whose leader
// packed it past the cost limits is a block-level failure -- the slot is
// marked dead with a BlockError instead of freezing normally.
func TestRunOnceMarksSlotDeadOnCostTrackerOverflow(t *testing.T) {
	_, forks, root := newTestForks(t)
	b1 := runtime.NewFromParent(root, 1, 0)
	forks.Insert(b1)

	payer, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %v", err)
	}
	b1.AccountsDB.Store(0, payer.Address, &accounts.Account{Lamports: 100_000, Owner: common.SystemProgramID})

	// With no builtins registered, the transfer defaults to a 200k
	// compute-unit limit -- far past newTestForks' 10k block cost limit.
	data := make([]byte, 9)
	data[0] = 2 // system program transfer tag
	msg := &txn.Message{
		AccountKeys: []txn.PublicKey{payer.Address, {9}, common.SystemProgramID},
		Header: txn.MessageHeader{
			NumRequiredSignatures:       1,
			NumReadonlyUnsignedAccounts: 1,
		},
		Instructions: []txn.CompiledInstruction{
			{ProgramIDIndex: 2, Accounts: []uint16{0, 1}, Data: data},
		},
	}
	msgBytes, err := msg.MarshalBinary()
	if err != nil {
		t.Fatalf("marshal message: %v", err)
	}
	var sig common.Signature
	copy(sig[:], payer.Sign(msgBytes))
	tx := &txn.Transaction{Signatures: []txn.Signature{sig}, Message: *msg}

	e := Entry{NumHashes: 1, Transactions: []*txn.Transaction{tx}, LastInSlot: true}
	e.Hash = ComputeEntryHash(b1.Blockhash(), e.NumHashes, e.Transactions)
	src := &stubSource{bySlot: map[uint64][]Entry{1: {e}}}

	pipeline := runtime.NewPipeline(nil, common.ComputeBudgetProgramID, common.VoteProgramID, nil, 5000)
	stage := NewStage(forks, pipeline, src, tower.New(), common.VoteProgramID, nil, 0, new(int32))

	var deadCause error
	stage.OnDeadSlot = func(slot uint64, cause error) {
		deadCause = cause
	}

	if _, err := stage.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if !stage.isDead(1) {
		t.Fatal("want slot 1 marked dead after a cost-tracker overflow")
	}
	var be *runtime.BlockError
	if !errors.As(deadCause, &be) {
		t.Errorf("dead cause = %v, want a *runtime.BlockError", deadCause)
	}
	if b1.IsFrozen() {
		t.Error("a slot killed by cost-tracker overflow must not be frozen")
	}
}

// switchForks builds root -> 1 (the currently voted fork) and
// root -> 2 -> 4 (the heavier rival), all frozen, with one vote account
// of the given stake whose latest vote is slot 4, and a tower that has
// voted once on slot 1.
func switchForks(t *testing.T, stake uint64) (*Stage, *runtime.Bank) {
	t.Helper()
	db, forks, root := newTestForks(t)
	b1 := runtime.NewFromParent(root, 1, 0)
	forks.Insert(b1)
	b2 := runtime.NewFromParent(root, 2, 0)
	forks.Insert(b2)
	b4 := runtime.NewFromParent(b2, 4, 0)
	forks.Insert(b4)
	for _, b := range []*runtime.Bank{b1, b2, b4} {
		if err := b.Freeze(); err != nil {
			t.Fatalf("freeze slot %d: %v", b.Slot, err)
		}
	}

	node := common.Address{0xAA}
	vs := &votepkg.VoteState{NodePubkey: node, Votes: []votepkg.Lockout{{Slot: 4, ConfirmationCount: 1}}}
	data, err := vs.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	db.Store(0, common.Address{0xBB}, &accounts.Account{Lamports: stake, Owner: common.VoteProgramID, Data: data})

	pipeline := runtime.NewPipeline(nil, common.ComputeBudgetProgramID, common.VoteProgramID, nil, 5000)
	stakedNodes := map[common.Address]uint64{node: stake}
	stg := NewStage(forks, pipeline, &stubSource{bySlot: map[uint64][]Entry{}}, tower.New(), common.VoteProgramID, stakedNodes, 100, new(int32))
	stg.Tower.RecordVote(1, b1.IsAncestor)
	return stg, b4
}

// Voting away from the current fork requires the switching threshold of
// stake observed on the rival fork; 20% of 100 total is not enough.
func TestConsultTowerRefusesSwitchBelowThreshold(t *testing.T) {
	stg, _ := switchForks(t, 20)

	if _, err := stg.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	last, voted := stg.Tower.LastVotedSlot()
	if !voted || last != 1 {
		t.Errorf("last vote = (%d, %v), want the slot-1 vote kept", last, voted)
	}
}

func TestConsultTowerSwitchesWithThresholdStake(t *testing.T) {
	stg, _ := switchForks(t, 62)

	if _, err := stg.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	last, voted := stg.Tower.LastVotedSlot()
	if !voted || last != 4 {
		t.Errorf("last vote = (%d, %v), want the switch to slot 4 recorded", last, voted)
	}
}

func TestConsultTowerAdvancesRootAndDispatchesCommitment(t *testing.T) {
	db, forks, root := newTestForks(t)
	b1 := runtime.NewFromParent(root, 1, 0)
	forks.Insert(b1)
	if err := b1.Freeze(); err != nil {
		t.Fatalf("freeze slot 1: %v", err)
	}

	node := common.Address{0xAA}
	vs := &votepkg.VoteState{NodePubkey: node, Votes: []votepkg.Lockout{{Slot: 1, ConfirmationCount: 1}}}
	data, err := vs.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary: %v", err)
	}
	voteAcc := common.Address{0xBB}
	db.Store(1, voteAcc, &accounts.Account{Lamports: 100, Owner: common.VoteProgramID, Data: data})

	pipeline := runtime.NewPipeline(nil, common.ComputeBudgetProgramID, common.VoteProgramID, nil, 5000)
	commitIn := make(chan commitment.AggregationData, 1)
	stakedNodes := map[common.Address]uint64{node: 100}
	stg := NewStage(forks, pipeline, &stubSource{bySlot: map[uint64][]Entry{}}, tower.New(), common.VoteProgramID, stakedNodes, 100, new(int32))
	stg.CommitmentOut = commitIn

	alwaysAncestor := func(uint64) bool { return true }
	for i := 0; i < tower.MaxLockoutHistory; i++ {
		stg.Tower.RecordVote(1, alwaysAncestor)
	}

	var advancedRoot uint64
	var rootFired bool
	stg.OnRootAdvance = func(root uint64) {
		advancedRoot, rootFired = root, true
	}

	if _, err := stg.RunOnce(); err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if !rootFired || advancedRoot != 1 {
		t.Errorf("want the local root to advance to slot 1, fired=%v root=%d", rootFired, advancedRoot)
	}
	if got := forks.Root(); got != 1 {
		t.Errorf("want BankForks' root forwarded to slot 1, got %d", got)
	}

	select {
	case d := <-commitIn:
		if len(d.VoteAccounts) != 1 || d.VoteAccounts[0].Lamports != 100 {
			t.Errorf("want one vote-account stake of 100 dispatched, got %+v", d.VoteAccounts)
		}
		if d.TotalStake != 100 {
			t.Errorf("want total stake 100, got %d", d.TotalStake)
		}
	default:
		t.Errorf("want a commitment aggregation update dispatched to CommitmentOut")
	}
}
