package txn

import (
	"fmt"
	"sort"

	"github.com/ridgeline-labs/valcore/pkg/encodbin"
)

// Transaction pairs a compiled Message with the signatures over it, in the
// same order as the message's signer account keys.
type Transaction struct {
	Signatures []Signature `json:"signatures"`
	Message    Message     `json:"message"`
}

// Compile flattens a RawTransaction's instructions into an ordered account
// key list (payer first, then signers-before-non-signers,
// writable-before-readonly, per AccountMeta.Less), a set of
// CompiledInstructions referencing that list by index, and a legacy Message.
func (raw *RawTransaction) Compile() (*Message, error) {
	if len(raw.instructions) == 0 {
		return nil, fmt.Errorf("cannot compile a transaction with no instructions")
	}

	metas := AccountMetaSlice{NewAccountMeta(raw.payer, true, true)}
	programs := AccountMetaSlice{}

	for _, ins := range raw.instructions {
		metas = mergeMeta(metas, ins.Accounts())
		programs = mergeMeta(programs, []*AccountMeta{Meta(ins.ProgramID())})
	}
	// Programs are read-only, non-signer, and sort after every account
	// referenced by an instruction -- they are looked up, never written.
	metas = mergeMeta(metas, programs)

	sort.SliceStable(metas, func(i, j int) bool { return metas[i].Less(metas[j]) })

	index := make(map[PublicKey]uint16, len(metas))
	keys := make([]PublicKey, len(metas))
	var header MessageHeader
	for i, m := range metas {
		keys[i] = m.PublicKey
		index[m.PublicKey] = uint16(i)
		if m.IsSigner {
			header.NumRequiredSignatures++
			if !m.IsWritable {
				header.NumReadonlySignedAccounts++
			}
		} else if !m.IsWritable {
			header.NumReadonlyUnsignedAccounts++
		}
	}

	compiled := make([]CompiledInstruction, len(raw.instructions))
	for i, ins := range raw.instructions {
		data, err := ins.Data()
		if err != nil {
			return nil, fmt.Errorf("instruction %d: %w", i, err)
		}
		accIdx := make([]uint16, len(ins.Accounts()))
		for j, a := range ins.Accounts() {
			accIdx[j] = index[a.PublicKey]
		}
		compiled[i] = CompiledInstruction{
			ProgramIDIndex: index[ins.ProgramID()],
			Accounts:       accIdx,
			Data:           data,
		}
	}

	return &Message{
		AccountKeys:     keys,
		Header:          header,
		RecentBlockhash: raw.blockHash,
		Instructions:    compiled,
	}, nil
}

// mergeMeta appends metas not already present (by pubkey), upgrading an
// existing entry's writable/signer flags if the new one asks for more.
func mergeMeta(into AccountMetaSlice, add []*AccountMeta) AccountMetaSlice {
	for _, a := range add {
		found := false
		for _, existing := range into {
			if existing.PublicKey == a.PublicKey {
				existing.IsWritable = existing.IsWritable || a.IsWritable
				existing.IsSigner = existing.IsSigner || a.IsSigner
				found = true
				break
			}
		}
		if !found {
			cp := *a
			into.Append(&cp)
		}
	}
	return into
}

// NewTransaction compiles a RawTransaction and attaches zero-valued
// signature slots, one per required signer, ready for Sign to fill in.
func NewTransaction(raw *RawTransaction) (*Transaction, error) {
	msg, err := raw.Compile()
	if err != nil {
		return nil, err
	}
	return &Transaction{
		Signatures: make([]Signature, msg.Header.NumRequiredSignatures),
		Message:    *msg,
	}, nil
}

// Sign signs the transaction's compiled message with signer, placing the
// signature at signer's index among the message's required signers.
func (t *Transaction) Sign(signer interface {
	Sign([]byte) []byte
}, pub PublicKey) error {
	idx := -1
	for i, k := range t.Message.AccountKeys {
		if k == pub && i < int(t.Message.Header.NumRequiredSignatures) {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("pubkey %s is not a required signer of this message", pub)
	}
	msgBytes, err := t.Message.MarshalBinary()
	if err != nil {
		return err
	}
	copy(t.Signatures[idx][:], signer.Sign(msgBytes))
	return nil
}

// MarshalBinary encodes the transaction in the wire shape the real
// network uses: a compact-u16 signature count, the signatures themselves,
// then the compiled message -- the form the Shred Plane's data shreds
// carry.
func (t *Transaction) MarshalBinary() ([]byte, error) {
	buf := []byte{}
	encodbin.EncodeCompactU16Length(&buf, len(t.Signatures))
	for _, sig := range t.Signatures {
		buf = append(buf, sig[:]...)
	}
	msgBytes, err := t.Message.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("marshal message: %w", err)
	}
	buf = append(buf, msgBytes...)
	return buf, nil
}

// UnmarshalTransaction decodes a transaction from its wire form.
func UnmarshalTransaction(data []byte) (*Transaction, error) {
	decoder := encodbin.NewBinDecoder(data)
	numSigs, err := decoder.ReadCompactU16Length()
	if err != nil {
		return nil, fmt.Errorf("read signature count: %w", err)
	}
	sigs := make([]Signature, numSigs)
	for i := range sigs {
		if _, err := decoder.Read(sigs[i][:]); err != nil {
			return nil, fmt.Errorf("read signature %d: %w", i, err)
		}
	}
	rest, err := decoder.ReadNBytes(decoder.Remaining())
	if err != nil {
		return nil, fmt.Errorf("read message bytes: %w", err)
	}
	msg := &Message{}
	if err := msg.UnmarshalWithDecoder(encodbin.NewBinDecoder(rest)); err != nil {
		return nil, fmt.Errorf("unmarshal message: %w", err)
	}
	return &Transaction{Signatures: sigs, Message: *msg}, nil
}
