// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package ledger implements the on-disk blockstore: an append-only store
// of shreds keyed by (slot, index) plus per-slot derived metadata
// (parent, completed, dead). The window service inserts into it
// synchronously under the blockstore lock; replay and repair read from
// it; a retention bound prunes the oldest slots once the shred count
// exceeds the configured ceiling.
package ledger

import (
	"bufio"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ridgeline-labs/valcore/shred"
)

const (
	shredLogName = "shreds.log"
	metaLogName  = "meta.log"
)

// ErrClosed is returned by every operation after Close.
var ErrClosed = errors.New("ledger: blockstore is closed")

// SlotMeta is the per-slot derived metadata record.
type SlotMeta struct {
	Slot      uint64  `json:"slot"`
	Parent    uint64  `json:"parent"`
	Received  uint32  `json:"received"`
	LastIndex *uint32 `json:"lastIndex,omitempty"`
	Completed bool    `json:"completed"`
	Dead      bool    `json:"dead"`
	// Pruned marks a slot evicted by the retention bound; its shred
	// records are dropped on replay of the log and reclaimed by the next
	// compaction.
	Pruned bool `json:"pruned,omitempty"`
}

type shredKey struct {
	slot    uint64
	index   uint32
	variant uint8
}

// keyIndex is the index a shred is stored under: data shreds use their
// wire index, coding shreds their erasure-set position (their wire index
// field is not unique within a slot).
func keyIndex(s *shred.Shred) uint32 {
	if s.IsCoding() {
		return uint32(s.Position)
	}
	return s.Index
}

type recordRef struct {
	off int64
	n   uint32
}

// Blockstore is the ledger directory's shred store. All methods are safe
// for concurrent use; every mutation lands in the append-only logs before
// the in-memory index reflects it, so a crash never loses an acknowledged
// insert.
type Blockstore struct {
	mu sync.Mutex

	dir      string
	shredLog *os.File
	metaLog  *os.File
	logSize  int64

	index map[shredKey]recordRef
	metas map[uint64]*SlotMeta

	liveShreds   uint64
	prunedShreds uint64
	maxShreds    uint64

	closed bool
}

// Open opens (or creates) the blockstore under dir. maxShreds bounds the
// total retained shreds; 0 disables pruning.
func Open(dir string, maxShreds uint64) (*Blockstore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("ledger: create blockstore dir: %w", err)
	}
	bs := &Blockstore{
		dir:       dir,
		index:     make(map[shredKey]recordRef),
		metas:     make(map[uint64]*SlotMeta),
		maxShreds: maxShreds,
	}
	if err := bs.replayMetaLog(); err != nil {
		return nil, err
	}
	if err := bs.replayShredLog(); err != nil {
		return nil, err
	}

	// A torn trailing record (crash mid-append) replays as a shorter log
	// than the file on disk; drop the tail so append offsets line up with
	// the index again.
	shredPath := filepath.Join(dir, shredLogName)
	if info, err := os.Stat(shredPath); err == nil && info.Size() > bs.logSize {
		if err := os.Truncate(shredPath, bs.logSize); err != nil {
			return nil, fmt.Errorf("ledger: truncate torn shred log: %w", err)
		}
	}

	var err error
	bs.shredLog, err = os.OpenFile(shredPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ledger: open shred log: %w", err)
	}
	metaPath := filepath.Join(dir, metaLogName)
	bs.metaLog, err = os.OpenFile(metaPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		bs.shredLog.Close()
		return nil, fmt.Errorf("ledger: open meta log: %w", err)
	}
	// A torn trailing meta line must not run into the next append; the
	// separating newline makes it a skippable blank on the next replay.
	if info, err := bs.metaLog.Stat(); err == nil && info.Size() > 0 {
		if _, err := bs.metaLog.Write([]byte{'\n'}); err != nil {
			bs.Close()
			return nil, fmt.Errorf("ledger: open meta log: %w", err)
		}
	}
	return bs, nil
}

// replayMetaLog rebuilds the per-slot metadata map: the log is a sequence
// of JSON lines, one SlotMeta snapshot each, last record per slot wins.
func (bs *Blockstore) replayMetaLog() error {
	f, err := os.Open(filepath.Join(bs.dir, metaLogName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: open meta log for replay: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var m SlotMeta
		if err := json.Unmarshal(line, &m); err != nil {
			// A torn trailing write from a crash; everything before it
			// already replayed.
			break
		}
		cp := m
		bs.metas[m.Slot] = &cp
	}
	return sc.Err()
}

// replayShredLog rebuilds the (slot, index) -> offset index. Record
// layout: u64 slot, u32 index, u8 variant, u32 len, then len bytes of the
// shred's wire form.
func (bs *Blockstore) replayShredLog() error {
	f, err := os.Open(filepath.Join(bs.dir, shredLogName))
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("ledger: open shred log for replay: %w", err)
	}
	defer f.Close()

	r := bufio.NewReader(f)
	var hdr [17]byte
	var off int64
	for {
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF {
				break
			}
			// Torn trailing record; keep what replayed cleanly.
			break
		}
		slot := binary.LittleEndian.Uint64(hdr[0:])
		index := binary.LittleEndian.Uint32(hdr[8:])
		variant := hdr[12]
		n := binary.LittleEndian.Uint32(hdr[13:])
		if _, err := io.CopyN(io.Discard, r, int64(n)); err != nil {
			break
		}
		recOff := off
		off += 17 + int64(n)

		meta := bs.metas[slot]
		if meta != nil && meta.Pruned {
			bs.prunedShreds++
			continue
		}
		key := shredKey{slot: slot, index: index, variant: variant}
		if _, dup := bs.index[key]; dup {
			continue
		}
		bs.index[key] = recordRef{off: recOff + 17, n: n}
		bs.liveShreds++
	}
	bs.logSize = off
	return nil
}

// InsertShred appends s to the store. Inserting a shred already present
// at the same (slot, index, variant) is a no-op that leaves the store
// byte-identical and returns inserted=false. An I/O failure here is a
// node-level fault: the caller must treat a non-nil error as grounds for
// shutdown, not retry.
func (bs *Blockstore) InsertShred(s *shred.Shred) (inserted bool, err error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return false, ErrClosed
	}

	key := shredKey{slot: s.Slot, index: keyIndex(s), variant: s.Variant}
	if _, dup := bs.index[key]; dup {
		return false, nil
	}
	if meta := bs.metas[s.Slot]; meta != nil && meta.Pruned {
		return false, nil
	}

	wire, err := s.Marshal()
	if err != nil {
		return false, fmt.Errorf("ledger: marshal shred (%d, %d): %w", s.Slot, s.Index, err)
	}
	rec := make([]byte, 17+len(wire))
	binary.LittleEndian.PutUint64(rec[0:], s.Slot)
	binary.LittleEndian.PutUint32(rec[8:], key.index)
	rec[12] = s.Variant
	binary.LittleEndian.PutUint32(rec[13:], uint32(len(wire)))
	copy(rec[17:], wire)
	if _, err := bs.shredLog.Write(rec); err != nil {
		return false, fmt.Errorf("ledger: append shred (%d, %d): %w", s.Slot, s.Index, err)
	}

	bs.index[key] = recordRef{off: bs.logSize + 17, n: uint32(len(wire))}
	bs.logSize += int64(len(rec))
	bs.liveShreds++

	meta := bs.metaFor(s.Slot)
	meta.Received++
	if s.IsData() {
		meta.Parent = s.ParentSlot()
		if s.IsLastInSlot() {
			idx := s.Index
			meta.LastIndex = &idx
		}
	}
	if err := bs.writeMetaLocked(meta); err != nil {
		return false, err
	}

	if bs.maxShreds > 0 && bs.liveShreds > bs.maxShreds {
		if err := bs.pruneOldestLocked(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (bs *Blockstore) metaFor(slot uint64) *SlotMeta {
	meta := bs.metas[slot]
	if meta == nil {
		meta = &SlotMeta{Slot: slot}
		bs.metas[slot] = meta
	}
	return meta
}

func (bs *Blockstore) writeMetaLocked(meta *SlotMeta) error {
	line, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("ledger: marshal slot meta %d: %w", meta.Slot, err)
	}
	line = append(line, '\n')
	if _, err := bs.metaLog.Write(line); err != nil {
		return fmt.Errorf("ledger: append slot meta %d: %w", meta.Slot, err)
	}
	return nil
}

// GetShred reads back the shred stored at (slot, index); coding selects
// the parity variant, in which case index is the shred's erasure-set
// position.
func (bs *Blockstore) GetShred(slot uint64, index uint32, coding bool) (*shred.Shred, bool, error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return nil, false, ErrClosed
	}
	variant := shred.VariantData
	if coding {
		variant = shred.VariantCoding
	}
	ref, ok := bs.index[shredKey{slot: slot, index: index, variant: variant}]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, ref.n)
	f, err := os.Open(filepath.Join(bs.dir, shredLogName))
	if err != nil {
		return nil, false, fmt.Errorf("ledger: open shred log for read: %w", err)
	}
	defer f.Close()
	if _, err := f.ReadAt(buf, ref.off); err != nil {
		return nil, false, fmt.Errorf("ledger: read shred (%d, %d): %w", slot, index, err)
	}
	s, err := shred.Unmarshal(buf)
	if err != nil {
		return nil, false, fmt.Errorf("ledger: corrupt shred record (%d, %d): %w", slot, index, err)
	}
	return s, true, nil
}

// Meta returns a copy of slot's metadata record.
func (bs *Blockstore) Meta(slot uint64) (SlotMeta, bool) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	meta := bs.metas[slot]
	if meta == nil {
		return SlotMeta{}, false
	}
	return *meta, true
}

// MarkDead records that slot's fork was abandoned (entry verification
// failure, unrecoverable shred gap).
func (bs *Blockstore) MarkDead(slot uint64) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return ErrClosed
	}
	meta := bs.metaFor(slot)
	meta.Dead = true
	return bs.writeMetaLocked(meta)
}

// MarkCompleted records that every shred up to the last-in-slot marker
// has been delivered to replay.
func (bs *Blockstore) MarkCompleted(slot uint64) error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return ErrClosed
	}
	meta := bs.metaFor(slot)
	meta.Completed = true
	return bs.writeMetaLocked(meta)
}

// ShredCount returns the number of live (non-pruned) shreds retained.
func (bs *Blockstore) ShredCount() uint64 {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.liveShreds
}

// pruneOldestLocked evicts whole slots, lowest first, until the live
// count is back under the ceiling, then compacts if the log is mostly
// dead weight.
func (bs *Blockstore) pruneOldestLocked() error {
	for bs.liveShreds > bs.maxShreds {
		lowest, found := uint64(0), false
		for key := range bs.index {
			if !found || key.slot < lowest {
				lowest, found = key.slot, true
			}
		}
		if !found {
			break
		}
		for key := range bs.index {
			if key.slot == lowest {
				delete(bs.index, key)
				bs.liveShreds--
				bs.prunedShreds++
			}
		}
		meta := bs.metaFor(lowest)
		meta.Pruned = true
		if err := bs.writeMetaLocked(meta); err != nil {
			return err
		}
	}
	if bs.prunedShreds > bs.liveShreds {
		return bs.compactLocked()
	}
	return nil
}

// compactLocked rewrites the shred log with only live records, dropping
// everything pruned, then atomically swaps it in.
func (bs *Blockstore) compactLocked() error {
	src, err := os.Open(filepath.Join(bs.dir, shredLogName))
	if err != nil {
		return fmt.Errorf("ledger: open shred log for compaction: %w", err)
	}
	defer src.Close()

	tmpPath := filepath.Join(bs.dir, shredLogName+".tmp")
	dst, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: create compaction temp: %w", err)
	}

	newIndex := make(map[shredKey]recordRef, len(bs.index))
	var newSize int64
	var hdr [17]byte
	for key, ref := range bs.index {
		buf := make([]byte, ref.n)
		if _, err := src.ReadAt(buf, ref.off); err != nil {
			dst.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("ledger: compaction read (%d, %d): %w", key.slot, key.index, err)
		}
		binary.LittleEndian.PutUint64(hdr[0:], key.slot)
		binary.LittleEndian.PutUint32(hdr[8:], key.index)
		hdr[12] = key.variant
		binary.LittleEndian.PutUint32(hdr[13:], ref.n)
		if _, err := dst.Write(hdr[:]); err != nil {
			dst.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("ledger: compaction write: %w", err)
		}
		if _, err := dst.Write(buf); err != nil {
			dst.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("ledger: compaction write: %w", err)
		}
		newIndex[key] = recordRef{off: newSize + 17, n: ref.n}
		newSize += 17 + int64(ref.n)
	}
	if err := dst.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("ledger: close compaction temp: %w", err)
	}

	bs.shredLog.Close()
	if err := os.Rename(tmpPath, filepath.Join(bs.dir, shredLogName)); err != nil {
		return fmt.Errorf("ledger: swap compacted shred log: %w", err)
	}
	bs.shredLog, err = os.OpenFile(filepath.Join(bs.dir, shredLogName), os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("ledger: reopen compacted shred log: %w", err)
	}
	bs.index = newIndex
	bs.logSize = newSize
	bs.prunedShreds = 0
	return nil
}

// Close flushes and closes both logs.
func (bs *Blockstore) Close() error {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.closed {
		return nil
	}
	bs.closed = true
	err1 := bs.shredLog.Close()
	err2 := bs.metaLog.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
