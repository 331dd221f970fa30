// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package rpc

import "context"

// BlockCommitmentResp mirrors the wire shape of a getBlockCommitment
// response: a stake-weighted lockout-depth histogram plus the cluster's
// total stake, matching commitment.BlockCommitment's on-chain counterpart.
type BlockCommitmentResp struct {
	Commitment []uint64 `json:"commitment"`
	TotalStake uint64   `json:"totalStake"`
}

// GetBlockCommitment queries a validator's commitment surface for a given
// slot -- the one Solana-RPC-shaped method this trimmed client keeps,
// since it is the CLI's sole read path onto a running validator.
func (c *Client) GetBlockCommitment(ctx context.Context, slot uint64) (BlockCommitmentResp, error) {
	var res BlockCommitmentResp
	err := c.CallContext(ctx, &res, "getBlockCommitment", slot)
	return res, err
}
