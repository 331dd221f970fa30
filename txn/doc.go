// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package txn holds the transaction wire format: messages, compiled
// instructions, account metas and the legacy/v0 marshal/unmarshal codec
// consumed by the runtime transaction pipeline.
package txn

import "github.com/ridgeline-labs/valcore/common"

// PublicKey is an alias for common.Address: every on-chain identifier in
// this package (account keys, program ids, vote authorities) is the same
// 32-byte address type used by the accounts and runtime packages.
type PublicKey = common.Address

// Hash is an alias for common.Hash (blockhashes, merkle/account-state roots).
type Hash = common.Hash

// Signature is an alias for common.Signature.
type Signature = common.Signature
