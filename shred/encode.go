// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package shred

import "fmt"

// Signer produces a detached signature over message, matching
// crypto.Identity's Sign method so the leader's existing identity can
// sign shreds without this package depending on the crypto package.
type Signer interface {
	Sign(message []byte) []byte
}

// BuildShreds serializes a slot's entries into data shreds and extends
// them with Reed-Solomon coding shreds -- the leader's send side. data is
// the already-serialized entry stream for the slot; it is split across
// coder's k data shards (zero-padded to the shard size coder.Divide
// chooses) and coder.Encode fills the n-k coding shards.
func BuildShreds(slot, parentSlot uint64, shredVersion uint16, data []byte, coder Coder, signer Signer) ([]*Shred, error) {
	dataShards, codingShards, shardSize, err := coder.Divide(data)
	if err != nil {
		return nil, fmt.Errorf("shred: divide: %w", err)
	}
	all := append(append([][]byte{}, dataShards...), codingShards...)
	if err := coder.Encode(all); err != nil {
		return nil, fmt.Errorf("shred: encode: %w", err)
	}

	k := len(dataShards)
	n := len(all)
	parentOffset := uint16(slot - parentSlot)

	out := make([]*Shred, 0, n)
	for i, shard := range dataShards {
		flags := uint8(0)
		if i == k-1 {
			flags |= FlagLastInSlot
		}
		s := &Shred{
			Variant:      VariantData,
			Slot:         slot,
			Index:        uint32(i),
			ShredVersion: shredVersion,
			ParentOffset: parentOffset,
			Flags:        flags,
			Payload:      shard,
		}
		if err := signShred(s, signer); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	for i, shard := range codingShards {
		s := &Shred{
			Variant:         VariantCoding,
			Slot:            slot,
			Index:           0,
			ShredVersion:    shredVersion,
			NumDataShreds:   uint16(k),
			NumCodingShreds: uint16(n - k),
			Position:        uint16(i),
			Payload:         shard,
		}
		if err := signShred(s, signer); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	_ = shardSize
	return out, nil
}

func signShred(s *Shred, signer Signer) error {
	sig := signer.Sign(s.SignedPayload())
	if len(sig) != 64 {
		return fmt.Errorf("shred: signer returned %d-byte signature, want 64", len(sig))
	}
	copy(s.Signature[:], sig)
	return nil
}
