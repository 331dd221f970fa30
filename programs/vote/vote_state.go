// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package vote implements the Vote program: the versioned VoteState
// account layout and the lockout bookkeeping behind its
// InitializeAccount/Vote instruction dispatch.
package vote

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/common"
)

// MaxLockoutHistory bounds the votes deque: VoteState keeps only the
// most recent MaxLockoutHistory votes.
const MaxLockoutHistory = 32

// Lockout is one entry of a VoteState's vote history: the slot voted on
// and the confirmation depth (which doubles as the lockout exponent).
type Lockout struct {
	Slot              uint64
	ConfirmationCount uint32
}

// ExpirySlot is the last slot this lockout excludes non-descendant forks
// from: slot + 2^confirmation_count.
func (l Lockout) ExpirySlot() uint64 {
	return l.Slot + (uint64(1) << l.ConfirmationCount)
}

// VoteState is the versioned on-chain account data a Vote account carries.
type VoteState struct {
	NodePubkey            common.Address
	AuthorizedVoter        common.Address
	AuthorizedWithdrawer   common.Address
	Commission             uint8
	Votes                  []Lockout
	RootSlot               *uint64
	LastTimestampSlot      uint64
	LastTimestampUnixSecs  int64
}

const voteStateVersion uint32 = 1

// MarshalBinary encodes the VoteState account data.
func (vs *VoteState) MarshalBinary() ([]byte, error) {
	buf := make([]byte, 0, 256)
	var tmp4 [4]byte
	var tmp8 [8]byte

	binary.LittleEndian.PutUint32(tmp4[:], voteStateVersion)
	buf = append(buf, tmp4[:]...)
	buf = append(buf, vs.NodePubkey[:]...)
	buf = append(buf, vs.AuthorizedVoter[:]...)
	buf = append(buf, vs.AuthorizedWithdrawer[:]...)
	buf = append(buf, vs.Commission)

	if len(vs.Votes) > MaxLockoutHistory {
		return nil, fmt.Errorf("vote: %d votes exceeds MaxLockoutHistory", len(vs.Votes))
	}
	buf = append(buf, byte(len(vs.Votes)))
	for _, v := range vs.Votes {
		binary.LittleEndian.PutUint64(tmp8[:], v.Slot)
		buf = append(buf, tmp8[:]...)
		binary.LittleEndian.PutUint32(tmp4[:], v.ConfirmationCount)
		buf = append(buf, tmp4[:]...)
	}

	if vs.RootSlot != nil {
		buf = append(buf, 1)
		binary.LittleEndian.PutUint64(tmp8[:], *vs.RootSlot)
		buf = append(buf, tmp8[:]...)
	} else {
		buf = append(buf, 0)
	}

	binary.LittleEndian.PutUint64(tmp8[:], vs.LastTimestampSlot)
	buf = append(buf, tmp8[:]...)
	binary.LittleEndian.PutUint64(tmp8[:], uint64(vs.LastTimestampUnixSecs))
	buf = append(buf, tmp8[:]...)
	return buf, nil
}

// UnmarshalBinary decodes the VoteState account data.
func (vs *VoteState) UnmarshalBinary(data []byte) error {
	if len(data) < 4+32+32+32+1+1 {
		return fmt.Errorf("vote: VoteState data too short")
	}
	off := 0
	version := binary.LittleEndian.Uint32(data[off:])
	off += 4
	if version != voteStateVersion {
		return fmt.Errorf("vote: unsupported VoteState version %d", version)
	}
	copy(vs.NodePubkey[:], data[off:off+32])
	off += 32
	copy(vs.AuthorizedVoter[:], data[off:off+32])
	off += 32
	copy(vs.AuthorizedWithdrawer[:], data[off:off+32])
	off += 32
	vs.Commission = data[off]
	off++

	numVotes := int(data[off])
	off++
	vs.Votes = make([]Lockout, 0, numVotes)
	for i := 0; i < numVotes; i++ {
		if off+12 > len(data) {
			return fmt.Errorf("vote: truncated votes")
		}
		slot := binary.LittleEndian.Uint64(data[off:])
		off += 8
		cc := binary.LittleEndian.Uint32(data[off:])
		off += 4
		vs.Votes = append(vs.Votes, Lockout{Slot: slot, ConfirmationCount: cc})
	}

	if off >= len(data) {
		return fmt.Errorf("vote: truncated root-slot tag")
	}
	hasRoot := data[off]
	off++
	if hasRoot == 1 {
		if off+8 > len(data) {
			return fmt.Errorf("vote: truncated root slot")
		}
		root := binary.LittleEndian.Uint64(data[off:])
		off += 8
		vs.RootSlot = &root
	}

	if off+16 > len(data) {
		return fmt.Errorf("vote: truncated last timestamp")
	}
	vs.LastTimestampSlot = binary.LittleEndian.Uint64(data[off:])
	off += 8
	vs.LastTimestampUnixSecs = int64(binary.LittleEndian.Uint64(data[off:]))
	return nil
}

// ProcessVote applies a newly observed vote slot to the VoteState's
// lockout stack: pop every entry whose slot is not an ancestor of the new
// vote and whose expiry has passed, push the new vote at confirmation
// count 1, and increment every surviving entry's confirmation count by
// one (doubling its lockout). When
// pushing would leave more than MaxLockoutHistory entries on the stack,
// the bottom entry is popped and becomes the new RootSlot.
//
// isAncestor(s) must report whether s lies on the chain leading to slot.
func (vs *VoteState) ProcessVote(slot uint64, isAncestor func(candidate uint64) bool) {
	kept := vs.Votes[:0]
	for _, v := range vs.Votes {
		if v.Slot != slot && !isAncestor(v.Slot) && v.ExpirySlot() < slot {
			continue
		}
		v.ConfirmationCount++
		kept = append(kept, v)
	}
	vs.Votes = append(kept, Lockout{Slot: slot, ConfirmationCount: 1})

	if len(vs.Votes) > MaxLockoutHistory {
		newRoot := vs.Votes[0].Slot
		vs.RootSlot = &newRoot
		vs.Votes = vs.Votes[1:]
	}
}

// SetTimestamp records a vote's wall-clock timestamp for drift
// diagnostics.
func (vs *VoteState) SetTimestamp(slot uint64, unixSecs int64) {
	vs.LastTimestampSlot = slot
	vs.LastTimestampUnixSecs = unixSecs
}
