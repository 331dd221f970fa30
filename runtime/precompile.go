package runtime

import (
	"crypto/ed25519"
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/txn"
)

// Ed25519ProgramID is the precompile program: instructions addressed to it
// carry no executable code, they are verified in-band by the pipeline
// before any account is touched.
var Ed25519ProgramID = common.StrToAddress("Ed25519SigVerify111111111111111111111111111")

const ed25519SigVerifyEntrySize = 14
const currentInstructionIndex = 0xffff

// VerifyEd25519Precompile validates one Ed25519SigVerify instruction
// against the message's other instructions, per the real program's packed
// (signature_offset, signature_ix, pubkey_offset, pubkey_ix, msg_offset,
// msg_size, msg_ix) header layout. Strict malleability rules means: exactly
// 64-byte signatures, 32-byte public keys, and verification via
// crypto/ed25519 (which already rejects the small set of malleable/invalid
// encodings the precompile instruction format could otherwise smuggle
// through).
func VerifyEd25519Precompile(data []byte, msg *txn.Message, selfData []byte) error {
	if len(data) < 2 {
		return fmt.Errorf("ed25519 precompile: short instruction data")
	}
	count := int(data[0])
	offset := 2
	for i := 0; i < count; i++ {
		if offset+ed25519SigVerifyEntrySize > len(data) {
			return fmt.Errorf("ed25519 precompile: truncated entry %d", i)
		}
		entry := data[offset : offset+ed25519SigVerifyEntrySize]
		sigOffset := binary.LittleEndian.Uint16(entry[0:2])
		sigIxIndex := binary.LittleEndian.Uint16(entry[2:4])
		pubOffset := binary.LittleEndian.Uint16(entry[4:6])
		pubIxIndex := binary.LittleEndian.Uint16(entry[6:8])
		msgOffset := binary.LittleEndian.Uint16(entry[8:10])
		msgSize := binary.LittleEndian.Uint16(entry[10:12])
		msgIxIndex := binary.LittleEndian.Uint16(entry[12:14])
		offset += ed25519SigVerifyEntrySize

		sigBytes, err := resolveIxData(sigIxIndex, selfData, msg)
		if err != nil {
			return err
		}
		pubBytes, err := resolveIxData(pubIxIndex, selfData, msg)
		if err != nil {
			return err
		}
		msgBytes, err := resolveIxData(msgIxIndex, selfData, msg)
		if err != nil {
			return err
		}
		if int(sigOffset)+64 > len(sigBytes) {
			return fmt.Errorf("ed25519 precompile: signature out of range")
		}
		if int(pubOffset)+32 > len(pubBytes) {
			return fmt.Errorf("ed25519 precompile: pubkey out of range")
		}
		if int(msgOffset)+int(msgSize) > len(msgBytes) {
			return fmt.Errorf("ed25519 precompile: message out of range")
		}
		sig := sigBytes[sigOffset : sigOffset+64]
		pub := pubBytes[pubOffset : pubOffset+32]
		message := msgBytes[msgOffset : msgOffset+msgSize]
		if !ed25519.Verify(ed25519.PublicKey(pub), message, sig) {
			return fmt.Errorf("ed25519 precompile: signature %d failed verification", i)
		}
	}
	return nil
}

func resolveIxData(ixIndex uint16, selfData []byte, msg *txn.Message) ([]byte, error) {
	if ixIndex == currentInstructionIndex {
		return selfData, nil
	}
	if int(ixIndex) >= len(msg.Instructions) {
		return nil, fmt.Errorf("ed25519 precompile: instruction index %d out of range", ixIndex)
	}
	return msg.Instructions[ixIndex].Data, nil
}
