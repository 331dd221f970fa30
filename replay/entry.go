// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package replay implements the Replay & Voting Core: the loop that
// pulls newly available entries for every active Bank, verifies their
// hash chain, feeds transactions through the transaction pipeline,
// freezes completed Banks, recomputes fork weights, and consults the
// Tower for a vote target -- long-lived tasks supervised with
// golang.org/x/sync/errgroup and a shared exit flag.
package replay

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/txn"
)

// Entry is the unit the Shred Plane delivers to Replay: either a tick
// (no transactions, marks passage of time) or a batch of transactions,
// hash-chained to the entry before it.
type Entry struct {
	Hash         common.Hash
	NumHashes    uint64
	Transactions []*txn.Transaction
	LastInSlot   bool
}

// IsTick reports whether this entry carries no transactions.
func (e *Entry) IsTick() bool { return len(e.Transactions) == 0 }

// ComputeEntryHash derives an entry's hash from the previous entry's hash,
// its hash-count, and (if any) the signatures of its transactions -- the
// chain Replay's step 2 verifies against the parent Bank's last blockhash.
func ComputeEntryHash(prevHash common.Hash, numHashes uint64, txs []*txn.Transaction) common.Hash {
	h := sha256.New()
	h.Write(prevHash[:])
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], numHashes)
	h.Write(buf[:])
	for _, tx := range txs {
		for _, sig := range tx.Signatures {
			h.Write(sig[:])
		}
	}
	return common.BytesToHash(h.Sum(nil))
}

// VerifyChain checks that entry.Hash is exactly what ComputeEntryHash
// would derive from prevHash, rejecting a forged or corrupted entry.
func VerifyChain(prevHash common.Hash, entry *Entry) error {
	want := ComputeEntryHash(prevHash, entry.NumHashes, entry.Transactions)
	if want != entry.Hash {
		return fmt.Errorf("replay: entry hash chain broken: want %s, got %s", want, entry.Hash)
	}
	return nil
}

// EntrySource is the Shred Plane's per-slot output: Poll returns every
// entry newly available for slot since the last call, non-blocking.
type EntrySource interface {
	Poll(slot uint64) []Entry
}

// EncodeEntries serializes a slot's entries into the byte stream the Shred
// Plane splits across data shreds on the send side: each entry is a
// length-prefixed record (u32 length, 0 meaning end-of-stream/padding), so
// that shard zero-padding added to round a data shred up to the erasure
// code's shard size is harmlessly read back as the terminating
// zero-length record.
func EncodeEntries(entries []Entry) ([]byte, error) {
	var out []byte
	for _, e := range entries {
		body, err := marshalEntry(&e)
		if err != nil {
			return nil, err
		}
		var lenBuf [4]byte
		binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(body)))
		out = append(out, lenBuf[:]...)
		out = append(out, body...)
	}
	return out, nil
}

func marshalEntry(e *Entry) ([]byte, error) {
	buf := make([]byte, 0, 64)
	buf = append(buf, e.Hash[:]...)
	var tmp8 [8]byte
	binary.LittleEndian.PutUint64(tmp8[:], e.NumHashes)
	buf = append(buf, tmp8[:]...)
	flags := byte(0)
	if e.LastInSlot {
		flags |= 1
	}
	buf = append(buf, flags)
	var tmp2 [2]byte
	binary.LittleEndian.PutUint16(tmp2[:], uint16(len(e.Transactions)))
	buf = append(buf, tmp2[:]...)
	for _, tx := range e.Transactions {
		txBytes, err := tx.MarshalBinary()
		if err != nil {
			return nil, err
		}
		var tmp4 [4]byte
		binary.LittleEndian.PutUint32(tmp4[:], uint32(len(txBytes)))
		buf = append(buf, tmp4[:]...)
		buf = append(buf, txBytes...)
	}
	return buf, nil
}

// DecodeEntries parses the byte stream EncodeEntries produced, stopping at
// the first zero-length record (real data exhausted, the rest is shard
// padding) or when fewer than 4 bytes remain.
func DecodeEntries(data []byte) ([]Entry, error) {
	var out []Entry
	off := 0
	for off+4 <= len(data) {
		n := binary.LittleEndian.Uint32(data[off:])
		off += 4
		if n == 0 {
			break
		}
		if off+int(n) > len(data) {
			return nil, fmt.Errorf("replay: truncated entry record")
		}
		e, err := unmarshalEntry(data[off : off+int(n)])
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
		off += int(n)
	}
	return out, nil
}

func unmarshalEntry(data []byte) (*Entry, error) {
	if len(data) < 32+8+1+2 {
		return nil, fmt.Errorf("replay: truncated entry header")
	}
	e := &Entry{}
	off := 0
	copy(e.Hash[:], data[off:off+32])
	off += 32
	e.NumHashes = binary.LittleEndian.Uint64(data[off:])
	off += 8
	flags := data[off]
	off++
	e.LastInSlot = flags&1 != 0
	numTx := int(binary.LittleEndian.Uint16(data[off:]))
	off += 2
	e.Transactions = make([]*txn.Transaction, 0, numTx)
	for i := 0; i < numTx; i++ {
		if off+4 > len(data) {
			return nil, fmt.Errorf("replay: truncated transaction length")
		}
		txLen := int(binary.LittleEndian.Uint32(data[off:]))
		off += 4
		if off+txLen > len(data) {
			return nil, fmt.Errorf("replay: truncated transaction bytes")
		}
		tx, err := txn.UnmarshalTransaction(data[off : off+txLen])
		if err != nil {
			return nil, fmt.Errorf("replay: unmarshal transaction %d: %w", i, err)
		}
		e.Transactions = append(e.Transactions, tx)
		off += txLen
	}
	return e, nil
}
