// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package accounts

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/ridgeline-labs/valcore/common"
)

// An AppendVec is one slot's on-disk account segment, named
// <slot>.<append_vec_id>. Segment content is a sequence of
// (stored_meta || account_meta || data) records:
//
//	stored_meta:  u64 write_version, 32-byte address, u64 data_len
//	account_meta: u64 lamports, u64 rent_epoch, 32-byte owner, u8 executable
//
// All integers little-endian, matching every other codec in this repo.
type AppendVec struct {
	path string
	f    *os.File
	w    *bufio.Writer

	writeVersion uint64
}

const appendVecRecordHeader = 8 + 32 + 8 + 8 + 8 + 32 + 1

// CreateAppendVec creates the segment file for slot under dir with the
// given append-vec id.
func CreateAppendVec(dir string, slot, id uint64) (*AppendVec, error) {
	path := filepath.Join(dir, fmt.Sprintf("%d.%d", slot, id))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("accounts: create append vec %s: %w", path, err)
	}
	return &AppendVec{path: path, f: f, w: bufio.NewWriter(f)}, nil
}

// Append writes one account record. Write versions are assigned
// monotonically within the segment so a reader can resolve "most recent
// write within the slot wins" without relying on file order alone.
func (v *AppendVec) Append(addr common.Address, acc *Account) error {
	var hdr [appendVecRecordHeader]byte
	off := 0
	binary.LittleEndian.PutUint64(hdr[off:], v.writeVersion)
	off += 8
	copy(hdr[off:], addr[:])
	off += 32
	binary.LittleEndian.PutUint64(hdr[off:], uint64(len(acc.Data)))
	off += 8
	binary.LittleEndian.PutUint64(hdr[off:], acc.Lamports)
	off += 8
	binary.LittleEndian.PutUint64(hdr[off:], acc.RentEpoch)
	off += 8
	copy(hdr[off:], acc.Owner[:])
	off += 32
	if acc.Executable {
		hdr[off] = 1
	}
	v.writeVersion++

	if _, err := v.w.Write(hdr[:]); err != nil {
		return fmt.Errorf("accounts: append record to %s: %w", v.path, err)
	}
	if _, err := v.w.Write(acc.Data); err != nil {
		return fmt.Errorf("accounts: append record data to %s: %w", v.path, err)
	}
	return nil
}

// Close flushes and closes the segment.
func (v *AppendVec) Close() error {
	if err := v.w.Flush(); err != nil {
		v.f.Close()
		return fmt.Errorf("accounts: flush append vec %s: %w", v.path, err)
	}
	if err := v.f.Close(); err != nil {
		return fmt.Errorf("accounts: close append vec %s: %w", v.path, err)
	}
	return nil
}

// StoredAccount is one record read back from an AppendVec.
type StoredAccount struct {
	WriteVersion uint64
	Address      common.Address
	Account      *Account
}

// ReadAppendVec iterates every record in the segment at path in file
// order, calling fn for each. Any short read of a record header or of its
// data, such as a torn trailing record left by a crash mid-append, ends
// iteration without error; record contents are not otherwise validated.
func ReadAppendVec(path string, fn func(StoredAccount) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("accounts: open append vec %s: %w", path, err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [appendVecRecordHeader]byte
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return nil // torn trailing header
		}
		rec := StoredAccount{Account: &Account{}}
		off := 0
		rec.WriteVersion = binary.LittleEndian.Uint64(hdr[off:])
		off += 8
		copy(rec.Address[:], hdr[off:])
		off += 32
		dataLen := binary.LittleEndian.Uint64(hdr[off:])
		off += 8
		rec.Account.Lamports = binary.LittleEndian.Uint64(hdr[off:])
		off += 8
		rec.Account.RentEpoch = binary.LittleEndian.Uint64(hdr[off:])
		off += 8
		copy(rec.Account.Owner[:], hdr[off:])
		off += 32
		rec.Account.Executable = hdr[off] != 0

		if dataLen > 0 {
			rec.Account.Data = make([]byte, dataLen)
			if _, err := io.ReadFull(r, rec.Account.Data); err != nil {
				return nil // torn trailing data
			}
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
}
