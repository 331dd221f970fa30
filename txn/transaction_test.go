package txn

import (
	"testing"

	"github.com/ridgeline-labs/valcore/crypto"
)

type stubInstruction struct {
	program PublicKey
	accs    []*AccountMeta
	data    []byte
}

func (s stubInstruction) ProgramID() PublicKey     { return s.program }
func (s stubInstruction) Accounts() []*AccountMeta { return s.accs }
func (s stubInstruction) Data() ([]byte, error)    { return s.data, nil }

func TestCompileOrdersSignersAndWritableFirst(t *testing.T) {
	payer, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %s", err)
	}
	dest, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %s", err)
	}
	program, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %s", err)
	}

	raw := NewRawTransaction(Hash{1, 2, 3}, payer.Address.String(), []Instruction{
		stubInstruction{
			program: program.Address,
			accs: []*AccountMeta{
				Meta(payer.Address).WRITE().SIGNER(),
				Meta(dest.Address).WRITE(),
			},
			data: []byte{0x02, 0x00, 0x00, 0x00},
		},
	}, nil)

	msg, err := raw.Compile()
	if err != nil {
		t.Fatalf("Compile failed: %s", err)
	}

	if msg.Header.NumRequiredSignatures != 1 {
		t.Errorf("expected 1 required signature, got %d", msg.Header.NumRequiredSignatures)
	}
	if msg.AccountKeys[0] != payer.Address {
		t.Errorf("expected payer to be first account key, got %s", msg.AccountKeys[0])
	}
	if len(msg.Instructions) != 1 {
		t.Fatalf("expected 1 compiled instruction, got %d", len(msg.Instructions))
	}
	if msg.AccountKeys[msg.Instructions[0].ProgramIDIndex] != program.Address {
		t.Errorf("compiled instruction's program index does not resolve to the program account")
	}
}

func TestTransactionSignPlacesSignatureAtSignerIndex(t *testing.T) {
	payer, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %s", err)
	}
	program, err := crypto.GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity: %s", err)
	}

	raw := NewRawTransaction(Hash{9}, payer.Address.String(), []Instruction{
		stubInstruction{
			program: program.Address,
			accs:    []*AccountMeta{Meta(payer.Address).WRITE().SIGNER()},
			data:    []byte{0x01},
		},
	}, nil)

	tx, err := NewTransaction(raw)
	if err != nil {
		t.Fatalf("NewTransaction failed: %s", err)
	}
	if err := tx.Sign(payer, payer.Address); err != nil {
		t.Fatalf("Sign failed: %s", err)
	}
	var zero Signature
	if tx.Signatures[0] == zero {
		t.Errorf("expected a non-zero signature at the payer's signer index")
	}
}
