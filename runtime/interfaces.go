// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package runtime implements the Bank, BankForks, the transaction
// processing pipeline, and the per-block cost tracker: the slot-scoped view
// over the account state engine and the machinery that turns a batch of
// transactions into committed account writes.
package runtime

import (
	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/common"
)

// AccountView is a single account referenced by an instruction, resolved
// against the Bank's ancestor chain before dispatch. ProgramHandler
// implementations read and mutate Account in place; the pipeline commits
// every AccountView touched by a successful instruction back to the
// Account State Engine as one batch per transaction.
type AccountView struct {
	Address    common.Address
	Account    *accounts.Account
	IsSigner   bool
	IsWritable bool
}

// ExecutionContext is the restricted view a ProgramHandler sees when asked
// to execute one instruction: its own program id, the instruction payload,
// and the accounts the instruction named, in the order the instruction
// named them. A handler may mutate the data/lamports of any AccountView it
// owns (Account.Owner == ProgramID) and may move lamports out of any
// writable signer, but must never change Owner or Executable on an account
// it does not own.
type ExecutionContext struct {
	ProgramID common.Address
	Data      []byte
	Accounts  []*AccountView
	Depth     int

	// Invoke lets a handler perform a cross-program invocation: it
	// re-enters the pipeline's dispatcher with Depth+1, subject to
	// MaxCPIDepth.
	Invoke func(programID common.Address, accounts []*AccountView, data []byte) error
}

// ProgramHandler is the opaque-dispatch seam for on-chain programs: the
// binaries are not modeled, only their invocation contract. Each on-chain
// program owner is registered against exactly one handler.
type ProgramHandler interface {
	Execute(ctx *ExecutionContext) error
}

// LeaderSchedule is the external collaborator that tells the core which
// validator identity is leader for a slot; the leader-selection policy
// itself is external.
type LeaderSchedule interface {
	LeaderForSlot(slot uint64) common.Address
}

// PeerTransport is the external gossip/transport seam the shred window's
// repair and retransmit protocols dispatch through.
type PeerTransport interface {
	SendRepairRequest(peer common.Address, slot uint64, indices []uint32) error
	Retransmit(shred []byte) error
}

// AddressTableLookupResolver resolves the dynamic accounts an address-table
// lookup instruction references against the bank-visible lookup table
// accounts; out of scope to implement the table storage format itself here,
// only the resolution contract the pipeline calls.
type AddressTableLookupResolver interface {
	Resolve(tableAddress common.Address, writableIndexes, readonlyIndexes []uint8) (writable, readonly []common.Address, err error)
}

// Signer can produce a signature over a message; satisfied by crypto.Identity.
type Signer interface {
	Sign(message []byte) []byte
}
