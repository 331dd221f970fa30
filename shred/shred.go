// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package shred implements the erasure-coded block dissemination unit:
// the fixed packet layout, Reed-Solomon encode/decode, and the
// receive-side sliding window, in the same idiom as the rest of this
// repo's binary codecs (pkg/encodbin, common/types.go): manual
// encoding/binary LittleEndian, no reflection.
package shred

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/common"
)

// Variant tags.
const (
	VariantData   uint8 = 0xa5
	VariantCoding uint8 = 0x5a
)

// FlagLastInSlot is bit0 of a data shred's flags byte.
const FlagLastInSlot uint8 = 1 << 0

// headerLen is the signature plus the tag/slot/index/version common prefix.
const headerLen = 64 + 1 + 8 + 4 + 2

// Shred is a decoded wire packet: either a Data or a Coding shred,
// distinguished by Variant.
type Shred struct {
	Signature     common.Signature
	Variant       uint8
	Slot          uint64
	Index         uint32
	ShredVersion  uint16

	// Data variant fields.
	ParentOffset uint16
	Flags        uint8
	Payload      []byte

	// Coding variant fields.
	NumDataShreds   uint16
	NumCodingShreds uint16
	Position        uint16
}

// IsData reports whether this is a data shred.
func (s *Shred) IsData() bool { return s.Variant == VariantData }

// IsCoding reports whether this is a coding (parity) shred.
func (s *Shred) IsCoding() bool { return s.Variant == VariantCoding }

// IsLastInSlot reports whether a data shred closes out its slot.
func (s *Shred) IsLastInSlot() bool { return s.IsData() && s.Flags&FlagLastInSlot != 0 }

// ParentSlot is the slot this shred's entries build on.
func (s *Shred) ParentSlot() uint64 { return s.Slot - uint64(s.ParentOffset) }

// SignedPayload returns the bytes the 64-byte signature is computed over:
// everything in the packet after the signature.
func (s *Shred) SignedPayload() []byte {
	buf, _ := s.marshalBody()
	return buf
}

func (s *Shred) marshalBody() ([]byte, error) {
	switch s.Variant {
	case VariantData:
		buf := make([]byte, 0, headerLen-64+2+1+2+len(s.Payload))
		buf = appendCommonHeader(buf, s)
		var tmp2 [2]byte
		binary.LittleEndian.PutUint16(tmp2[:], s.ParentOffset)
		buf = append(buf, tmp2[:]...)
		buf = append(buf, s.Flags)
		binary.LittleEndian.PutUint16(tmp2[:], uint16(len(s.Payload)))
		buf = append(buf, tmp2[:]...)
		buf = append(buf, s.Payload...)
		return buf, nil
	case VariantCoding:
		buf := make([]byte, 0, headerLen-64+6+len(s.Payload))
		buf = appendCommonHeader(buf, s)
		var tmp2 [2]byte
		binary.LittleEndian.PutUint16(tmp2[:], s.NumDataShreds)
		buf = append(buf, tmp2[:]...)
		binary.LittleEndian.PutUint16(tmp2[:], s.NumCodingShreds)
		buf = append(buf, tmp2[:]...)
		binary.LittleEndian.PutUint16(tmp2[:], s.Position)
		buf = append(buf, tmp2[:]...)
		buf = append(buf, s.Payload...)
		return buf, nil
	default:
		return nil, fmt.Errorf("shred: unknown variant 0x%x", s.Variant)
	}
}

func appendCommonHeader(buf []byte, s *Shred) []byte {
	buf = append(buf, s.Variant)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], s.Slot)
	buf = append(buf, tmp8[:]...)
	var tmp4 [4]byte
	binary.LittleEndian.PutUint32(tmp4[:], s.Index)
	buf = append(buf, tmp4[:]...)
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], s.ShredVersion)
	buf = append(buf, tmp2[:]...)
	return buf
}

// Marshal encodes the shred to its full wire form: 64-byte signature
// followed by the variant body.
func (s *Shred) Marshal() ([]byte, error) {
	body, err := s.marshalBody()
	if err != nil {
		return nil, err
	}
	out := make([]byte, 0, 64+len(body))
	out = append(out, s.Signature[:]...)
	out = append(out, body...)
	return out, nil
}

// Unmarshal decodes a wire packet. Malformed input (truncated
// header, unknown variant, truncated payload) is a decode failure the
// caller discards as malformed input, never fatal.
func Unmarshal(data []byte) (*Shred, error) {
	if len(data) < headerLen {
		return nil, fmt.Errorf("shred: packet too short (%d bytes)", len(data))
	}
	s := &Shred{}
	copy(s.Signature[:], data[0:64])
	off := 64
	s.Variant = data[off]
	off++
	s.Slot = binary.LittleEndian.Uint64(data[off:])
	off += 8
	s.Index = binary.LittleEndian.Uint32(data[off:])
	off += 4
	s.ShredVersion = binary.LittleEndian.Uint16(data[off:])
	off += 2

	switch s.Variant {
	case VariantData:
		if off+2+1+2 > len(data) {
			return nil, fmt.Errorf("shred: truncated data header")
		}
		s.ParentOffset = binary.LittleEndian.Uint16(data[off:])
		off += 2
		s.Flags = data[off]
		off++
		size := binary.LittleEndian.Uint16(data[off:])
		off += 2
		if off+int(size) > len(data) {
			return nil, fmt.Errorf("shred: truncated data payload")
		}
		s.Payload = append([]byte(nil), data[off:off+int(size)]...)
		return s, nil
	case VariantCoding:
		if off+6 > len(data) {
			return nil, fmt.Errorf("shred: truncated coding header")
		}
		s.NumDataShreds = binary.LittleEndian.Uint16(data[off:])
		off += 2
		s.NumCodingShreds = binary.LittleEndian.Uint16(data[off:])
		off += 2
		s.Position = binary.LittleEndian.Uint16(data[off:])
		off += 2
		s.Payload = append([]byte(nil), data[off:]...)
		return s, nil
	default:
		return nil, fmt.Errorf("shred: unknown variant tag 0x%x", s.Variant)
	}
}

// groupSize returns (k, n) for the erasure set a coding shred belongs to,
// read from its header: k data shreds and n shreds in all. Data shreds
// carry no group-size field; the Window places them by its own k.
func (s *Shred) groupSize() (k, n int) {
	return int(s.NumDataShreds), int(s.NumDataShreds) + int(s.NumCodingShreds)
}
