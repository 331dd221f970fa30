// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package computebudget decodes the compute-budget instructions a
// transaction may place at the head of its instruction list, and computes
// the effective compute-unit limit, price, heap size and loaded-accounts
// data-size limit those instructions (or their defaults) imply.
//
// Grounded on the real validator's
// runtime-transaction/src/compute_budget_instruction_details.rs clamp/default
// formula: limits clamp to protocol maxima, and an unset compute-unit limit
// defaults to num_non_builtin_instructions * DEFAULT_PER_IX +
// num_builtin_instructions * BUILTIN_PER_IX.
package computebudget

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/txn"
)

// Protocol-wide clamps and defaults.
const (
	MaxComputeUnitLimit = 1_400_000
	// DefaultPerIx is the assumed cost of one non-builtin instruction when
	// the transaction never sets an explicit compute-unit limit.
	DefaultPerIx = 200_000
	// BuiltinPerIx is the assumed cost of one builtin-program instruction
	// (system, vote, compute-budget itself, ...) under the same default.
	BuiltinPerIx = 3_000
	// MaxHeapFrameBytes is the largest heap a transaction may request.
	MaxHeapFrameBytes = 256 * 1024
	// DefaultHeapFrameBytes is what a transaction gets absent a request.
	DefaultHeapFrameBytes = 32 * 1024
	heapFrameGranularity  = 1024
)

// instruction discriminants, matching the on-chain ComputeBudgetInstruction
// enum's tag order.
const (
	tagRequestUnitsDeprecated      uint8 = 0
	tagRequestHeapFrame            uint8 = 1
	tagSetComputeUnitLimit          uint8 = 2
	tagSetComputeUnitPrice          uint8 = 3
	tagSetLoadedAccountsDataSizeLimit uint8 = 4
)

// Instruction is a single decoded compute-budget instruction.
type Instruction struct {
	Tag               uint8
	ComputeUnitLimit  uint32
	ComputeUnitPrice  uint64
	HeapFrameBytes    uint32
	LoadedAccountsLim uint32
}

// Decode parses a single compute-budget instruction's data payload.
func Decode(data []byte) (Instruction, error) {
	if len(data) == 0 {
		return Instruction{}, fmt.Errorf("computebudget: empty instruction data")
	}
	ix := Instruction{Tag: data[0]}
	body := data[1:]
	switch ix.Tag {
	case tagRequestHeapFrame:
		if len(body) < 4 {
			return ix, fmt.Errorf("computebudget: RequestHeapFrame: short data")
		}
		ix.HeapFrameBytes = binary.LittleEndian.Uint32(body)
	case tagSetComputeUnitLimit:
		if len(body) < 4 {
			return ix, fmt.Errorf("computebudget: SetComputeUnitLimit: short data")
		}
		ix.ComputeUnitLimit = binary.LittleEndian.Uint32(body)
	case tagSetComputeUnitPrice:
		if len(body) < 8 {
			return ix, fmt.Errorf("computebudget: SetComputeUnitPrice: short data")
		}
		ix.ComputeUnitPrice = binary.LittleEndian.Uint64(body)
	case tagSetLoadedAccountsDataSizeLimit:
		if len(body) < 4 {
			return ix, fmt.Errorf("computebudget: SetLoadedAccountsDataSizeLimit: short data")
		}
		ix.LoadedAccountsLim = binary.LittleEndian.Uint32(body)
	case tagRequestUnitsDeprecated:
		// carried only so historical transactions still decode; never
		// produced by this codebase's transaction builders.
	default:
		return ix, fmt.Errorf("computebudget: unknown instruction tag %d", ix.Tag)
	}
	return ix, nil
}

// Limits is the resolved, clamped set of compute-budget limits for a
// transaction, after applying every compute-budget instruction present (or
// the protocol defaults if none were).
type Limits struct {
	ComputeUnitLimit            uint32
	ComputeUnitPriceMicroLamports uint64
	HeapFrameBytes              uint32
	LoadedAccountsDataSizeLimit uint32
}

// DuplicateInstructionError is returned with the index of the second
// occurrence of a compute-budget instruction kind within one transaction.
type DuplicateInstructionError struct{ Index int }

func (e *DuplicateInstructionError) Error() string {
	return fmt.Sprintf("duplicate compute-budget instruction at index %d", e.Index)
}

// Extract scans msg's instructions for ones addressed to the compute-budget
// program, decodes them, and returns the resolved Limits. A transaction
// that repeats any one compute-budget instruction kind fails with
// DuplicateInstructionError naming the index of the repeat.
func Extract(msg *txn.Message, computeBudgetProgramID common.Address, numBuiltinPrograms func(programID common.Address) bool) (Limits, error) {
	var (
		seenLimit, seenPrice, seenHeap, seenLoadedLimit bool
		limit, heap, loadedLimit                        uint32
		price                                            uint64
		nonBuiltin, builtin                              int
	)

	for i, ci := range msg.Instructions {
		programID := msg.GetProgram(ci.ProgramIDIndex)
		isBuiltin := numBuiltinPrograms != nil && numBuiltinPrograms(programID)
		if isBuiltin {
			builtin++
		} else {
			nonBuiltin++
		}
		if programID != computeBudgetProgramID {
			continue
		}
		ix, err := Decode(ci.Data)
		if err != nil {
			return Limits{}, fmt.Errorf("instruction %d: %w", i, err)
		}
		switch ix.Tag {
		case tagSetComputeUnitLimit:
			if seenLimit {
				return Limits{}, &DuplicateInstructionError{Index: i}
			}
			seenLimit = true
			limit = ix.ComputeUnitLimit
		case tagSetComputeUnitPrice:
			if seenPrice {
				return Limits{}, &DuplicateInstructionError{Index: i}
			}
			seenPrice = true
			price = ix.ComputeUnitPrice
		case tagRequestHeapFrame:
			if seenHeap {
				return Limits{}, &DuplicateInstructionError{Index: i}
			}
			if ix.HeapFrameBytes%heapFrameGranularity != 0 || ix.HeapFrameBytes > MaxHeapFrameBytes {
				return Limits{}, fmt.Errorf("instruction %d: invalid heap frame request %d", i, ix.HeapFrameBytes)
			}
			seenHeap = true
			heap = ix.HeapFrameBytes
		case tagSetLoadedAccountsDataSizeLimit:
			if seenLoadedLimit {
				return Limits{}, &DuplicateInstructionError{Index: i}
			}
			seenLoadedLimit = true
			loadedLimit = ix.LoadedAccountsLim
		}
	}

	out := Limits{ComputeUnitPriceMicroLamports: price, HeapFrameBytes: DefaultHeapFrameBytes}
	if seenHeap {
		out.HeapFrameBytes = heap
	}
	if seenLimit {
		out.ComputeUnitLimit = limit
	} else {
		out.ComputeUnitLimit = uint32(nonBuiltin*DefaultPerIx + builtin*BuiltinPerIx)
	}
	if out.ComputeUnitLimit > MaxComputeUnitLimit {
		out.ComputeUnitLimit = MaxComputeUnitLimit
	}
	if seenLoadedLimit {
		out.LoadedAccountsDataSizeLimit = loadedLimit
	}
	return out, nil
}

// PrioritizationFee returns the lamport fee implied by the resolved
// compute-unit price and limit: price (micro-lamports/CU) * limit / 1e6.
func (l Limits) PrioritizationFee() uint64 {
	return (l.ComputeUnitPriceMicroLamports * uint64(l.ComputeUnitLimit)) / 1_000_000
}
