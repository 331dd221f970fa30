// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package accounts

import (
	"archive/tar"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dsnet/compress/bzip2"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"

	"github.com/ridgeline-labs/valcore/common"
)

// Snapshot archive formats.
const (
	ArchiveTarGzip  = "tar+gzip"
	ArchiveTarZstd  = "tar+zstd"
	ArchiveTarBzip2 = "tar+bzip2"
	ArchivePlain    = "plain"
)

// SnapshotVersion identifies the snapshot directory layout. A loader
// refuses any other value.
const SnapshotVersion = "1.2.0"

const (
	versionFileName    = "version"
	bankFieldsFileName = "bank_fields"
	accountsDirName    = "accounts"
)

// BankFields is the top-level snapshot descriptor: the frozen bank state
// the account segments were captured against.
type BankFields struct {
	Slot             uint64      `json:"slot"`
	Blockhash        common.Hash `json:"blockhash"`
	TickHeight       uint64      `json:"tickHeight"`
	TransactionCount uint64      `json:"transactionCount"`
	Epoch            uint64      `json:"epoch"`
}

// WriteSnapshot captures every account version at or below fields.Slot
// into per-slot append-vec segments under dir/accounts, plus the
// bank_fields and version descriptor files.
func WriteSnapshot(db *AccountsDB, dir string, fields BankFields) error {
	accountsDir := filepath.Join(dir, accountsDirName)
	if err := os.MkdirAll(accountsDir, 0o755); err != nil {
		return fmt.Errorf("accounts: create snapshot dir: %w", err)
	}

	type row struct {
		addr common.Address
		acc  *Account
	}
	bySlot := make(map[uint64][]row)
	db.mu.RLock()
	for addr, entries := range db.byAddr {
		for _, e := range entries {
			if e.slot <= fields.Slot {
				bySlot[e.slot] = append(bySlot[e.slot], row{addr: addr, acc: e.account})
			}
		}
	}
	db.mu.RUnlock()

	slots := make([]uint64, 0, len(bySlot))
	for s := range bySlot {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })

	for id, slot := range slots {
		rows := bySlot[slot]
		sort.Slice(rows, func(i, j int) bool { return rows[i].addr.Cmp(rows[j].addr) < 0 })
		vec, err := CreateAppendVec(accountsDir, slot, uint64(id))
		if err != nil {
			return err
		}
		for _, r := range rows {
			if err := vec.Append(r.addr, r.acc); err != nil {
				vec.Close()
				return err
			}
		}
		if err := vec.Close(); err != nil {
			return err
		}
	}

	fieldsJSON, err := json.Marshal(fields)
	if err != nil {
		return fmt.Errorf("accounts: marshal bank fields: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, bankFieldsFileName), fieldsJSON, 0o644); err != nil {
		return fmt.Errorf("accounts: write bank fields: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, versionFileName), []byte(SnapshotVersion), 0o644); err != nil {
		return fmt.Errorf("accounts: write snapshot version: %w", err)
	}
	return nil
}

// LoadSnapshot reconstructs an AccountsDB from a snapshot directory
// written by WriteSnapshot (or extracted from an archive). The returned
// database has its root set to the snapshot's slot.
func LoadSnapshot(dir string, cacheSize int) (*AccountsDB, BankFields, error) {
	var fields BankFields

	versionBytes, err := os.ReadFile(filepath.Join(dir, versionFileName))
	if err != nil {
		return nil, fields, fmt.Errorf("accounts: read snapshot version: %w", err)
	}
	if v := strings.TrimSpace(string(versionBytes)); v != SnapshotVersion {
		return nil, fields, fmt.Errorf("accounts: unsupported snapshot version %q", v)
	}

	fieldsBytes, err := os.ReadFile(filepath.Join(dir, bankFieldsFileName))
	if err != nil {
		return nil, fields, fmt.Errorf("accounts: read bank fields: %w", err)
	}
	if err := json.Unmarshal(fieldsBytes, &fields); err != nil {
		return nil, fields, fmt.Errorf("accounts: decode bank fields: %w", err)
	}

	db := New(cacheSize)
	segs, err := os.ReadDir(filepath.Join(dir, accountsDirName))
	if err != nil {
		return nil, fields, fmt.Errorf("accounts: list snapshot segments: %w", err)
	}
	for _, seg := range segs {
		if seg.IsDir() {
			continue
		}
		slotStr, _, ok := strings.Cut(seg.Name(), ".")
		if !ok {
			continue
		}
		slot, err := strconv.ParseUint(slotStr, 10, 64)
		if err != nil {
			continue
		}
		path := filepath.Join(dir, accountsDirName, seg.Name())
		err = ReadAppendVec(path, func(rec StoredAccount) error {
			db.Store(slot, rec.Address, rec.Account)
			return nil
		})
		if err != nil {
			return nil, fields, err
		}
		db.Freeze(slot)
	}

	db.mu.Lock()
	db.root = fields.Slot
	db.rootSet = true
	db.mu.Unlock()
	return db, fields, nil
}

// ArchiveSnapshot packs the snapshot directory at srcDir into a single
// archive at archivePath using the given format, and returns the
// archive's sha256 digest for comparison against a trusted validator's
// published snapshot hash.
func ArchiveSnapshot(srcDir, archivePath, format string) (common.Hash, error) {
	out, err := os.OpenFile(archivePath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return common.Hash{}, fmt.Errorf("accounts: create snapshot archive: %w", err)
	}
	defer out.Close()

	digest := sha256.New()
	cw, err := compressWriter(io.MultiWriter(out, digest), format)
	if err != nil {
		return common.Hash{}, err
	}
	tw := tar.NewWriter(cw)

	err = filepath.WalkDir(srcDir, func(path string, d fs.DirEntry, werr error) error {
		if werr != nil {
			return werr
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(srcDir, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		hdr := &tar.Header{
			Name: filepath.ToSlash(rel),
			Mode: 0o644,
			Size: info.Size(),
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return err
		}
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		_, err = io.Copy(tw, f)
		return err
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("accounts: archive snapshot: %w", err)
	}
	if err := tw.Close(); err != nil {
		return common.Hash{}, fmt.Errorf("accounts: finish snapshot tar: %w", err)
	}
	if err := cw.Close(); err != nil {
		return common.Hash{}, fmt.Errorf("accounts: finish snapshot compression: %w", err)
	}
	return common.BytesToHash(digest.Sum(nil)), nil
}

// ExtractSnapshot unpacks an archive written by ArchiveSnapshot into
// dstDir. Entry names that escape dstDir are rejected.
func ExtractSnapshot(archivePath, dstDir, format string) error {
	in, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("accounts: open snapshot archive: %w", err)
	}
	defer in.Close()

	cr, err := decompressReader(in, format)
	if err != nil {
		return err
	}
	defer cr.Close()

	tr := tar.NewReader(cr)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("accounts: read snapshot archive: %w", err)
		}
		name := filepath.FromSlash(hdr.Name)
		if strings.Contains(name, "..") {
			return fmt.Errorf("accounts: snapshot archive entry %q escapes target", hdr.Name)
		}
		path := filepath.Join(dstDir, name)
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return err
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		if err := f.Close(); err != nil {
			return err
		}
	}
}

// SnapshotArchiveHash recomputes the sha256 digest of an archive on disk,
// for verifying a downloaded snapshot against a trusted validator's
// published hash before loading it.
func SnapshotArchiveHash(archivePath string) (common.Hash, error) {
	f, err := os.Open(archivePath)
	if err != nil {
		return common.Hash{}, fmt.Errorf("accounts: open snapshot archive: %w", err)
	}
	defer f.Close()
	digest := sha256.New()
	if _, err := io.Copy(digest, f); err != nil {
		return common.Hash{}, fmt.Errorf("accounts: hash snapshot archive: %w", err)
	}
	return common.BytesToHash(digest.Sum(nil)), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }

func compressWriter(w io.Writer, format string) (io.WriteCloser, error) {
	switch format {
	case ArchiveTarGzip:
		return gzip.NewWriter(w), nil
	case ArchiveTarZstd:
		return zstd.NewWriter(w)
	case ArchiveTarBzip2:
		return bzip2.NewWriter(w, &bzip2.WriterConfig{Level: bzip2.BestSpeed})
	case ArchivePlain:
		return nopWriteCloser{w}, nil
	default:
		return nil, fmt.Errorf("accounts: unknown snapshot archive format %q", format)
	}
}

func decompressReader(r io.Reader, format string) (io.ReadCloser, error) {
	switch format {
	case ArchiveTarGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("accounts: open gzip snapshot stream: %w", err)
		}
		return gr, nil
	case ArchiveTarZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, fmt.Errorf("accounts: open zstd snapshot stream: %w", err)
		}
		return zr.IOReadCloser(), nil
	case ArchiveTarBzip2:
		br, err := bzip2.NewReader(r, nil)
		if err != nil {
			return nil, fmt.Errorf("accounts: open bzip2 snapshot stream: %w", err)
		}
		return br, nil
	case ArchivePlain:
		return io.NopCloser(r), nil
	default:
		return nil, fmt.Errorf("accounts: unknown snapshot archive format %q", format)
	}
}
