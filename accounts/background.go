// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package accounts

import (
	"context"

	"go.uber.org/zap"
)

// AccountsBackground drains db's prune-request channel and performs slot
// compaction off the SetRoot caller's critical path. SetRoot itself still
// runs pruneNow synchronously, since a reader must never observe a root
// whose superseded forks haven't been dropped; AccountsBackground exists so
// the possibly-large byAddr scan for a rapid run of SetRoot calls coalesces
// onto whichever root was most recent by the time a worker picks it up,
// instead of every call paying for its own full pass serially on the
// replay thread.
func AccountsBackground(ctx context.Context, db *AccountsDB, isAncestor func(uint64) bool, log *zap.Logger) {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return
		case root, ok := <-db.pruneCh:
			if !ok {
				return
			}
			// Coalesce: drain any further queued roots so only the newest
			// one gets compacted this pass.
			latest := root
		drain:
			for {
				select {
				case r := <-db.pruneCh:
					latest = r
				default:
					break drain
				}
			}
			db.pruneNow(latest, isAncestor)
			log.Debug("accounts background compaction", zap.Uint64("root", latest))
		}
	}
}

// SnapshotRequest asks the snapshot task to capture the database as of a
// rooted slot into Dir and pack it into ArchivePath with Format.
type SnapshotRequest struct {
	Dir         string
	ArchivePath string
	Format      string
	Fields      BankFields
}

// SnapshotBackground drains snapshot requests off the replay thread's
// critical path. A snapshot write or archive failure is accounts storage
// I/O failure, which is node-level: the error is returned so the caller's
// task group unwinds every sibling.
func SnapshotBackground(ctx context.Context, db *AccountsDB, reqs <-chan SnapshotRequest, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case req, ok := <-reqs:
			if !ok {
				return nil
			}
			if err := WriteSnapshot(db, req.Dir, req.Fields); err != nil {
				return err
			}
			hash, err := ArchiveSnapshot(req.Dir, req.ArchivePath, req.Format)
			if err != nil {
				return err
			}
			log.Info("snapshot archived",
				zap.Uint64("slot", req.Fields.Slot),
				zap.String("archive", req.ArchivePath),
				zap.String("hash", hash.String()),
			)
		}
	}
}
