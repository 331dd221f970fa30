// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package system implements the System program's Transfer and
// CreateAccount instruction handlers behind the runtime.ProgramHandler
// dispatch seam.
package system

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/runtime"
)

// instruction discriminants, matching the real System program's enum tag
// order (CreateAccount = 0, ... Transfer = 2).
const (
	tagCreateAccount uint8 = 0
	tagTransfer      uint8 = 2
)

// Handler implements runtime.ProgramHandler for the System program: the
// only program allowed to create new accounts, assign ownership, and move
// lamports between accounts it owns (every brand-new account is owned by
// the System program until reassigned).
type Handler struct{}

var _ runtime.ProgramHandler = Handler{}

func (Handler) Execute(ctx *runtime.ExecutionContext) error {
	if len(ctx.Data) == 0 {
		return fmt.Errorf("system: empty instruction data")
	}
	switch ctx.Data[0] {
	case tagCreateAccount:
		return createAccount(ctx)
	case tagTransfer:
		return transfer(ctx)
	default:
		return fmt.Errorf("system: unknown instruction tag %d", ctx.Data[0])
	}
}

// CreateAccount data layout: tag(1) lamports(8) space(8) owner(32).
func createAccount(ctx *runtime.ExecutionContext) error {
	if len(ctx.Accounts) < 2 {
		return fmt.Errorf("system: CreateAccount requires [funder, new_account]")
	}
	if len(ctx.Data) < 1+8+8+32 {
		return fmt.Errorf("system: CreateAccount: short instruction data")
	}
	lamports := binary.LittleEndian.Uint64(ctx.Data[1:9])
	space := binary.LittleEndian.Uint64(ctx.Data[9:17])
	owner := common.BytesToAddress(ctx.Data[17:49])

	funder, newAcc := ctx.Accounts[0], ctx.Accounts[1]
	if !funder.IsSigner {
		return fmt.Errorf("system: funder must sign CreateAccount")
	}
	if !newAcc.IsSigner {
		return fmt.Errorf("system: new account must sign CreateAccount")
	}
	if newAcc.Account.Lamports != 0 || len(newAcc.Account.Data) != 0 {
		return fmt.Errorf("system: account %s already in use", newAcc.Address)
	}
	if funder.Account.Lamports < lamports {
		return fmt.Errorf("system: funder %s has insufficient lamports", funder.Address)
	}
	funder.Account.Lamports -= lamports
	newAcc.Account.Lamports = lamports
	newAcc.Account.Data = make([]byte, space)
	newAcc.Account.Owner = owner
	return nil
}

// Transfer data layout: tag(1) lamports(8).
func transfer(ctx *runtime.ExecutionContext) error {
	if len(ctx.Accounts) < 2 {
		return fmt.Errorf("system: Transfer requires [from, to]")
	}
	if len(ctx.Data) < 9 {
		return fmt.Errorf("system: Transfer: short instruction data")
	}
	lamports := binary.LittleEndian.Uint64(ctx.Data[1:9])
	from, to := ctx.Accounts[0], ctx.Accounts[1]
	if !from.IsSigner {
		return fmt.Errorf("system: from account must sign Transfer")
	}
	if !from.IsWritable || !to.IsWritable {
		return fmt.Errorf("system: Transfer requires both accounts writable")
	}
	if from.Account.Owner != (common.Address{}) && from.Account.Owner != common.SystemProgramID {
		return fmt.Errorf("system: cannot transfer from an account owned by %s", from.Account.Owner)
	}
	if from.Account.Lamports < lamports {
		return fmt.Errorf("system: insufficient lamports in %s", from.Address)
	}
	from.Account.Lamports -= lamports
	to.Account.Lamports += lamports
	return nil
}

// NewAccountTemplate returns a zero-value System-owned account, the shape
// every freshly created account has before CreateAccount reassigns it.
func NewAccountTemplate() *accounts.Account {
	return &accounts.Account{Owner: common.SystemProgramID}
}
