// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mr-tron/base58"
	"github.com/tyler-smith/go-bip39"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/core"
)

// Identity is a validator node's (or authorized-voter's) ed25519 keypair.
// This is not an on-chain Account (see accounts.Account for ledger state).
type Identity struct {
	Address    common.Address
	PrivateKey ed25519.PrivateKey
}

// GenerateIdentity Random a new identity from ed25519
func GenerateIdentity() (Identity, error) {
	var id Identity
	pub, prv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return id, err
	}
	copy(id.Address[:], pub)
	id.PrivateKey = prv
	return id, err
}

// GenerateBase58PrvKey return base58 private key
func GenerateBase58PrvKey(a Identity) (string, error) {
	if len(a.PrivateKey) == 0 {
		return "", core.ErrEmptyAccount
	}
	return base58.Encode(a.PrivateKey), nil
}

// GenerateHexPrvKey return hex private key
func GenerateHexPrvKey(a Identity) (string, error) {
	if len(a.PrivateKey) == 0 {
		return "", core.ErrEmptyAccount
	}
	enHexKey := hex.EncodeToString(a.PrivateKey)
	return "0x" + enHexKey, nil
}

// IdentityFromBytes generate an identity by bytes
func IdentityFromBytes(b []byte) (Identity, error) {
	if len(b) != ed25519.PrivateKeySize {
		return Identity{}, fmt.Errorf("PrivateKey size mismatch, expected: %v, got: %v", ed25519.PrivateKeySize, len(b))
	}
	id := Identity{PrivateKey: ed25519.PrivateKey(b)}
	id.Address = common.BytesToAddress(id.PrivateKey.Public().(ed25519.PublicKey))
	return id, nil
}

// IdentityFromBase58Key generate an identity by base58 private key
func IdentityFromBase58Key(key string) (Identity, error) {
	if len(key) == 0 {
		return Identity{}, core.ErrEmptyString
	}
	b, err := base58.Decode(key)
	if err != nil {
		return Identity{}, core.StdErr("IdentityFromBase58", err)
	}
	return IdentityFromBytes(b)
}

// IdentityFromHexKey generate an identity by hex private key
func IdentityFromHexKey(key string) (Identity, error) {
	if len(key) == 0 {
		return Identity{}, core.ErrEmptyString
	}
	if core.Has0xPrefix(key) {
		key = key[2:]
	}
	b, err := hex.DecodeString(key)
	if err != nil {
		return Identity{}, core.StdErr("IdentityFromHex", err)
	}
	return IdentityFromBytes(b)
}

// IdentityFromSeed generate an identity by seed
func IdentityFromSeed(seed []byte) (Identity, error) {
	pk := ed25519.NewKeyFromSeed(seed)
	return IdentityFromBytes(pk)
}

// IdentityFromMnemonic generate an identity by bip39 mnemonic and optional passphrase.
// Unlike a BIP-32/SLIP-10 hardened path derivation, the seed's first 32 bytes
// are used directly as the ed25519 seed -- single-identity-per-mnemonic, which
// is all a validator key needs.
func IdentityFromMnemonic(mnemonic, password string) (Identity, error) {
	seed, err := bip39.NewSeedWithErrorChecking(mnemonic, password)
	if err != nil {
		return Identity{}, core.StdErr("NewSeedWithErrorChecking", err)
	}
	return IdentityFromSeed(seed[:ed25519.SeedSize])
}

// IdentityFromKeygenFile generate an identity by keygen file (solana-keygen JSON array format)
func IdentityFromKeygenFile(file string) (Identity, error) {
	content, err := os.ReadFile(file)
	if err != nil {
		return Identity{}, core.StdErr("read keygen file", err)
	}

	var values []byte
	if err = json.Unmarshal(content, &values); err != nil {
		return Identity{}, core.StdErr("decode keygen file", err)
	}
	return IdentityFromBytes(values)
}

// Sign the message with the identity's private key
func (a Identity) Sign(message []byte) []byte {
	return ed25519.Sign(a.PrivateKey, message)
}
