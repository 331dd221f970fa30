package computebudget

import (
	"encoding/binary"
	"testing"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/txn"
)

var cbProgram = common.ComputeBudgetProgramID

func setComputeUnitLimitIx(limit uint32, programIdx uint16) txn.CompiledInstruction {
	data := make([]byte, 5)
	data[0] = tagSetComputeUnitLimit
	binary.LittleEndian.PutUint32(data[1:], limit)
	return txn.CompiledInstruction{ProgramIDIndex: programIdx, Data: data}
}

func setComputeUnitPriceIx(price uint64, programIdx uint16) txn.CompiledInstruction {
	data := make([]byte, 9)
	data[0] = tagSetComputeUnitPrice
	binary.LittleEndian.PutUint64(data[1:], price)
	return txn.CompiledInstruction{ProgramIDIndex: programIdx, Data: data}
}

func noBuiltins(common.Address) bool { return false }

// TestExtractDuplicateComputeUnitLimitFails: a
// transaction with two SetComputeUnitLimit instructions fails with
// DuplicateInstruction naming the second instruction's index.
func TestExtractDuplicateComputeUnitLimitFails(t *testing.T) {
	msg := &txn.Message{
		AccountKeys: []txn.PublicKey{{}, cbProgram},
		Instructions: []txn.CompiledInstruction{
			setComputeUnitLimitIx(100_000, 1),
			setComputeUnitLimitIx(200_000, 1),
		},
	}

	_, err := Extract(msg, cbProgram, noBuiltins)
	if err == nil {
		t.Fatalf("want DuplicateInstructionError for a repeated SetComputeUnitLimit")
	}
	dupErr, ok := err.(*DuplicateInstructionError)
	if !ok {
		t.Fatalf("want *DuplicateInstructionError, got %T: %v", err, err)
	}
	if dupErr.Index != 1 {
		t.Errorf("want duplicate reported at index 1 (the second occurrence), got %d", dupErr.Index)
	}
}

func TestExtractDefaultsComputeUnitLimitFromInstructionCount(t *testing.T) {
	msg := &txn.Message{
		AccountKeys: []txn.PublicKey{{}, {1}, {2}},
		Instructions: []txn.CompiledInstruction{
			{ProgramIDIndex: 1, Data: []byte{0}},
			{ProgramIDIndex: 2, Data: []byte{0}},
		},
	}
	limits, err := Extract(msg, cbProgram, noBuiltins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := uint32(2 * DefaultPerIx)
	if limits.ComputeUnitLimit != want {
		t.Errorf("want default limit %d for 2 non-builtin instructions, got %d", want, limits.ComputeUnitLimit)
	}
}

func TestExtractClampsComputeUnitLimitToProtocolMax(t *testing.T) {
	msg := &txn.Message{
		AccountKeys:  []txn.PublicKey{{}, cbProgram},
		Instructions: []txn.CompiledInstruction{setComputeUnitLimitIx(MaxComputeUnitLimit*2, 1)},
	}
	limits, err := Extract(msg, cbProgram, noBuiltins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limits.ComputeUnitLimit != MaxComputeUnitLimit {
		t.Errorf("want clamp to %d, got %d", MaxComputeUnitLimit, limits.ComputeUnitLimit)
	}
}

func TestExtractResolvesExplicitLimitAndPrice(t *testing.T) {
	msg := &txn.Message{
		AccountKeys: []txn.PublicKey{{}, cbProgram},
		Instructions: []txn.CompiledInstruction{
			setComputeUnitLimitIx(1000, 1),
			setComputeUnitPriceIx(5000, 1),
		},
	}
	limits, err := Extract(msg, cbProgram, noBuiltins)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if limits.ComputeUnitLimit != 1000 {
		t.Errorf("want limit 1000, got %d", limits.ComputeUnitLimit)
	}
	if limits.ComputeUnitPriceMicroLamports != 5000 {
		t.Errorf("want price 5000, got %d", limits.ComputeUnitPriceMicroLamports)
	}
	// 5000 micro-lamports/CU * 1000 CU / 1e6 = 5 lamports.
	if fee := limits.PrioritizationFee(); fee != 5 {
		t.Errorf("want prioritization fee 5, got %d", fee)
	}
}

func TestDecodeRejectsUnknownTag(t *testing.T) {
	if _, err := Decode([]byte{0xFF}); err == nil {
		t.Errorf("want error decoding an unrecognized instruction tag")
	}
}

func TestDecodeRejectsEmptyData(t *testing.T) {
	if _, err := Decode(nil); err == nil {
		t.Errorf("want error decoding empty instruction data")
	}
}
