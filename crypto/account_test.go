package crypto

import (
	"crypto/ed25519"
	"testing"

	"github.com/ridgeline-labs/valcore/common"
)

func TestIdentityRoundTrips(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %s", err)
	}

	var pubFromPriv common.Address
	copy(pubFromPriv[:], id.PrivateKey.Public().(ed25519.PublicKey))
	if id.Address != pubFromPriv {
		t.Errorf("identity address != derived public key. want %s, got %s", id.Address, pubFromPriv)
	}

	fromBytes, err := IdentityFromBytes(id.PrivateKey)
	if err != nil {
		t.Fatalf("IdentityFromBytes failed: %s", err)
	}
	if id.Address != fromBytes.Address {
		t.Errorf("address mismatch after IdentityFromBytes: want %s, got %s", id.Address, fromBytes.Address)
	}

	fromSeed, err := IdentityFromSeed(id.PrivateKey.Seed())
	if err != nil {
		t.Fatalf("IdentityFromSeed failed: %s", err)
	}
	if id.Address != fromSeed.Address {
		t.Errorf("address mismatch after IdentityFromSeed: want %s, got %s", id.Address, fromSeed.Address)
	}

	base58Key, err := GenerateBase58PrvKey(id)
	if err != nil {
		t.Fatalf("GenerateBase58PrvKey failed: %s", err)
	}
	fromBase58, err := IdentityFromBase58Key(base58Key)
	if err != nil {
		t.Fatalf("IdentityFromBase58Key failed: %s", err)
	}
	if id.Address != fromBase58.Address {
		t.Errorf("address mismatch after base58 round trip: want %s, got %s", id.Address, fromBase58.Address)
	}

	hexKey, err := GenerateHexPrvKey(id)
	if err != nil {
		t.Fatalf("GenerateHexPrvKey failed: %s", err)
	}
	fromHex, err := IdentityFromHexKey(hexKey)
	if err != nil {
		t.Fatalf("IdentityFromHexKey failed: %s", err)
	}
	if id.Address != fromHex.Address {
		t.Errorf("address mismatch after hex round trip: want %s, got %s", id.Address, fromHex.Address)
	}
}

func TestIdentityFromMnemonicIsDeterministic(t *testing.T) {
	mnemonic := "letter advice cage absurd amount doctor acoustic avoid letter advice cage above"
	a, err := IdentityFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("IdentityFromMnemonic failed: %s", err)
	}
	b, err := IdentityFromMnemonic(mnemonic, "")
	if err != nil {
		t.Fatalf("IdentityFromMnemonic failed: %s", err)
	}
	if a.Address != b.Address {
		t.Errorf("same mnemonic produced different addresses: %s vs %s", a.Address, b.Address)
	}

	c, err := IdentityFromMnemonic(mnemonic, "with-a-passphrase")
	if err != nil {
		t.Fatalf("IdentityFromMnemonic with password failed: %s", err)
	}
	if a.Address == c.Address {
		t.Errorf("password should change the derived identity")
	}
}

func TestIdentitySign(t *testing.T) {
	id, err := GenerateIdentity()
	if err != nil {
		t.Fatalf("GenerateIdentity failed: %s", err)
	}
	msg := []byte("replay-vote")
	sig := id.Sign(msg)
	if !ed25519.Verify(id.PrivateKey.Public().(ed25519.PublicKey), msg, sig) {
		t.Errorf("signature did not verify against the identity's own public key")
	}
}
