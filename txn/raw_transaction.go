package txn

import "github.com/ridgeline-labs/valcore/common"

// RawTransaction is an uncompiled transaction: instructions plus the
// blockhash and payer needed to compile them into a Message.
type RawTransaction struct {
	instructions []Instruction
	blockHash    Hash
	payer        PublicKey
	signers      []string
}

func NewRawTransaction(blockHash Hash, payer string, inst []Instruction, signers []string) *RawTransaction {
	return &RawTransaction{
		instructions: inst,
		blockHash:    blockHash,
		payer:        common.Base58ToAddress(payer),
		signers:      signers,
	}
}
