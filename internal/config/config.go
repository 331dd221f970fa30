// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Package config defines the validator core's external-facing
// configuration and its spf13/pflag flag wiring.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/ridgeline-labs/valcore/common"
)

// ArchiveFormat is the on-disk snapshot archive encoding.
type ArchiveFormat string

const (
	ArchiveTarGzip  ArchiveFormat = "tar+gzip"
	ArchiveTarZstd  ArchiveFormat = "tar+zstd"
	ArchiveTarBzip2 ArchiveFormat = "tar+bzip2"
	ArchivePlain    ArchiveFormat = "plain"
)

func (f ArchiveFormat) valid() bool {
	switch f {
	case ArchiveTarGzip, ArchiveTarZstd, ArchiveTarBzip2, ArchivePlain:
		return true
	default:
		return false
	}
}

// Config is the core-facing validator configuration: the ledger root,
// retention bound, snapshotting
// cadence and archive format, and an optional trusted-validator set used
// to verify downloaded snapshots.
type Config struct {
	LedgerDir             string
	MaxLedgerShreds       uint64
	SnapshotIntervalSlots uint64
	SnapshotArchiveFormat ArchiveFormat
	TrustedValidators     []common.Address
	// RepairEndpoints maps a peer's identity to the JSON-RPC URL this
	// validator dispatches shred-repair requests to; the trusted-validator
	// set alone does not carry a dialable address.
	RepairEndpoints map[common.Address]string

	// archiveFormatFlag, trustedValidatorFlags, and repairPeerFlags back
	// the string-typed pflag values until Finalize converts them into the
	// fields above.
	archiveFormatFlag     string
	trustedValidatorFlags []string
	repairPeerFlags       []string
}

// DefaultConfig returns the configuration a bare `valcore-validator` run
// uses absent any flags.
func DefaultConfig() *Config {
	return &Config{
		LedgerDir:             "./ledger",
		MaxLedgerShreds:       1 << 20,
		SnapshotIntervalSlots: 100,
		SnapshotArchiveFormat: ArchiveTarZstd,
	}
}

// RegisterFlags binds Config's fields onto fs. Call Finalize after
// fs.Parse to validate and
// convert the string-typed flags it collects.
func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.LedgerDir, "ledger", c.LedgerDir, "ledger root directory")
	fs.Uint64Var(&c.MaxLedgerShreds, "limit-ledger-size", c.MaxLedgerShreds, "maximum shreds retained in the blockstore before the oldest are pruned")
	fs.Uint64Var(&c.SnapshotIntervalSlots, "snapshot-interval-slots", c.SnapshotIntervalSlots, "slots between full snapshots")
	c.archiveFormatFlag = string(c.SnapshotArchiveFormat)
	fs.StringVar(&c.archiveFormatFlag, "snapshot-archive-format", c.archiveFormatFlag, "snapshot archive format: tar+gzip, tar+zstd, tar+bzip2, or plain")
	fs.StringSliceVar(&c.trustedValidatorFlags, "trusted-validator", nil, "base58 pubkey of a trusted validator to verify downloaded snapshots against (repeatable)")
	fs.StringSliceVar(&c.repairPeerFlags, "repair-peer", nil, "pubkey@rpc-url of a peer to request shred repairs from (repeatable)")
}

// Finalize validates and converts the string-typed flag values
// RegisterFlags bound into Config's typed fields.
func (c *Config) Finalize() error {
	if c.archiveFormatFlag != "" {
		c.SnapshotArchiveFormat = ArchiveFormat(c.archiveFormatFlag)
	}
	if !c.SnapshotArchiveFormat.valid() {
		return fmt.Errorf("config: invalid --snapshot-archive-format %q", c.SnapshotArchiveFormat)
	}

	c.TrustedValidators = c.TrustedValidators[:0]
	for _, s := range c.trustedValidatorFlags {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		c.TrustedValidators = append(c.TrustedValidators, common.Base58ToAddress(s))
	}

	c.RepairEndpoints = make(map[common.Address]string, len(c.repairPeerFlags))
	for _, s := range c.repairPeerFlags {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		pubkey, url, ok := strings.Cut(s, "@")
		if !ok || pubkey == "" || url == "" {
			return fmt.Errorf("config: --repair-peer %q must be of the form pubkey@rpc-url", s)
		}
		c.RepairEndpoints[common.Base58ToAddress(pubkey)] = url
	}

	if c.SnapshotIntervalSlots == 0 {
		return fmt.Errorf("config: --snapshot-interval-slots must be positive")
	}
	return nil
}
