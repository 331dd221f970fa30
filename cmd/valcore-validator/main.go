// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

// Command valcore-validator wires the Account State Engine, Transaction
// Pipeline, BankForks, Tower, Commitment Aggregator, and Shred Plane
// together into one long-lived process, cancelled cooperatively through a
// shared exit flag.
package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/commitment"
	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/crypto"
	"github.com/ridgeline-labs/valcore/internal/config"
	"github.com/ridgeline-labs/valcore/ledger"
	"github.com/ridgeline-labs/valcore/pkg/encodtext/format"
	"github.com/ridgeline-labs/valcore/programs/system"
	votepkg "github.com/ridgeline-labs/valcore/programs/vote"
	"github.com/ridgeline-labs/valcore/replay"
	"github.com/ridgeline-labs/valcore/rpc"
	"github.com/ridgeline-labs/valcore/runtime"
	"github.com/ridgeline-labs/valcore/shred"
	"github.com/ridgeline-labs/valcore/txn"
	"github.com/ridgeline-labs/valcore/vote/tower"
)

// erasure shape for every slot's shred window, fixed for this core
// rather than derived per-block.
const (
	erasureK         = 32
	erasureN         = 64
	shredShardSize   = 1024
	accountCostLimit = 1 << 20
	blockCostLimit   = 1 << 24
	baseFeePerSig    = 5000
)

func main() {
	cfg := config.DefaultConfig()
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	root := &cobra.Command{
		Use:   "valcore-validator",
		Short: "run the validator core",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := cfg.Finalize(); err != nil {
				return err
			}
			return run(cmd.Context(), cfg, logger)
		},
	}
	cfg.RegisterFlags(root.Flags())
	root.AddCommand(inspectCmd(), commitmentCmd())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	root.SetContext(ctx)

	if err := root.Execute(); err != nil {
		logger.Error("valcore-validator exited with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	logger.Info("starting validator core",
		zap.String("ledger", cfg.LedgerDir),
		zap.Uint64("snapshot_interval_slots", cfg.SnapshotIntervalSlots),
		zap.String("snapshot_archive_format", string(cfg.SnapshotArchiveFormat)),
	)

	identity, err := crypto.GenerateIdentity()
	if err != nil {
		return fmt.Errorf("generate validator identity: %w", err)
	}

	db := accounts.New(1 << 16)
	genesis := runtime.NewBank(0, db, common.Hash{}, accountCostLimit, blockCostLimit)
	if err := genesis.Freeze(); err != nil {
		return fmt.Errorf("freeze genesis bank: %w", err)
	}
	forks := runtime.NewBankForks(genesis)

	handlers := map[common.Address]runtime.ProgramHandler{
		common.SystemProgramID: system.Handler{},
		common.VoteProgramID:   votepkg.Handler{Now: func() int64 { return time.Now().Unix() }},
	}
	builtins := map[common.Address]bool{
		common.SystemProgramID:        true,
		common.VoteProgramID:          true,
		common.ComputeBudgetProgramID: true,
	}
	pipeline := runtime.NewPipeline(handlers, common.ComputeBudgetProgramID, common.VoteProgramID, builtins, baseFeePerSig)
	statusCache := runtime.NewStatusCache()
	pipeline.StatusCache = statusCache

	var exitFlag int32

	store := commitment.NewCachedStore()
	commitIn, aggSvc := commitment.NewAggregationService(&exitFlag, store)

	blockstore, err := ledger.Open(filepath.Join(cfg.LedgerDir, "blockstore"), cfg.MaxLedgerShreds)
	if err != nil {
		return fmt.Errorf("open blockstore: %w", err)
	}
	defer blockstore.Close()

	coder, err := shred.NewCoder(erasureK, erasureN)
	if err != nil {
		return fmt.Errorf("construct reed-solomon coder: %w", err)
	}
	feed := replay.NewShredFeed(erasureK, erasureN, shredShardSize, coder)
	feed.Store = blockstore

	stakedNodes := map[common.Address]uint64{identity.Address: 1}

	snapshotReqs := make(chan accounts.SnapshotRequest, 1)
	var lastSnapshotRoot uint64

	stage := replay.NewStage(forks, pipeline, feed, tower.New(), common.VoteProgramID, stakedNodes, 1, &exitFlag)
	stage.Log = logger
	stage.OnDeadSlot = func(slot uint64, cause error) {
		store.MarkDead(slot)
		if err := blockstore.MarkDead(slot); err != nil {
			logger.Error("record dead slot in blockstore", zap.Uint64("slot", slot), zap.Error(err))
			atomic.StoreInt32(&exitFlag, 1)
		}
	}
	stage.OnRootAdvance = func(rootSlot uint64) {
		statusCache.PruneBelow(rootSlot)
		if rootSlot-lastSnapshotRoot < cfg.SnapshotIntervalSlots {
			return
		}
		rootBank, ok := forks.Get(rootSlot)
		if !ok {
			return
		}
		lastSnapshotRoot = rootSlot
		req := accounts.SnapshotRequest{
			Dir:         filepath.Join(cfg.LedgerDir, "snapshots", strconv.FormatUint(rootSlot, 10)),
			ArchivePath: filepath.Join(cfg.LedgerDir, fmt.Sprintf("snapshot-%d%s", rootSlot, archiveExt(cfg.SnapshotArchiveFormat))),
			Format:      string(cfg.SnapshotArchiveFormat),
			Fields: accounts.BankFields{
				Slot:             rootSlot,
				Blockhash:        rootBank.Blockhash(),
				TickHeight:       rootBank.TickHeight(),
				TransactionCount: rootBank.TransactionCount(),
				Epoch:            rootBank.Epoch,
			},
		}
		select {
		case snapshotReqs <- req:
		default:
			logger.Warn("snapshot request dropped, previous capture still running", zap.Uint64("root", rootSlot))
		}
	}
	stage.CommitmentOut = commitIn

	g, gctx := errgroup.WithContext(ctx)
	isRootAncestor := func(s uint64) bool {
		rootBank, ok := forks.Get(forks.Root())
		return ok && rootBank.IsAncestor(s)
	}
	g.Go(func() error {
		accounts.AccountsBackground(gctx, db, isRootAncestor, logger)
		return nil
	})
	g.Go(func() error {
		return accounts.SnapshotBackground(gctx, db, snapshotReqs, logger)
	})
	g.Go(func() error {
		return stage.Run()
	})
	g.Go(func() error {
		<-gctx.Done()
		atomic.StoreInt32(&exitFlag, 1)
		return nil
	})

	err = g.Wait()
	aggSvc.Join()
	if err != nil && err != context.Canceled {
		return err
	}
	logger.Info("validator core stopped")
	return nil
}

// archiveExt maps a snapshot archive format to its file extension.
func archiveExt(format config.ArchiveFormat) string {
	switch format {
	case config.ArchiveTarGzip:
		return ".tar.gz"
	case config.ArchiveTarZstd:
		return ".tar.zst"
	case config.ArchiveTarBzip2:
		return ".tar.bz2"
	default:
		return ".tar"
	}
}

// commitmentCmd queries a running validator's commitment surface: the
// stake-by-confirmation-depth histogram the RPC front-end exposes per
// slot.
func commitmentCmd() *cobra.Command {
	var url string
	cmd := &cobra.Command{
		Use:   "commitment <slot>",
		Short: "query a running validator's block commitment for a slot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			slot, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("parse slot: %w", err)
			}
			client, err := rpc.Dial(url)
			if err != nil {
				return err
			}
			defer client.Close()
			var result json.RawMessage
			if err := client.CallContext(cmd.Context(), &result, "getBlockCommitment", slot); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(result))
			return nil
		},
	}
	cmd.Flags().StringVar(&url, "url", "http://127.0.0.1:8899", "JSON-RPC endpoint of the running validator")
	return cmd
}

// inspectCmd decodes a base64 wire transaction and prints its program,
// instruction, and account metadata -- the same dump an operator would want
// when a transaction is rejected deep in the pipeline.
func inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <base64-transaction>",
		Short: "decode and pretty-print a wire transaction",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := base64.StdEncoding.DecodeString(args[0])
			if err != nil {
				return fmt.Errorf("decode base64 transaction: %w", err)
			}
			tx, err := txn.UnmarshalTransaction(raw)
			if err != nil {
				return fmt.Errorf("unmarshal transaction: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), dumpTransaction(tx))
			return nil
		},
	}
}

func dumpTransaction(tx *txn.Transaction) string {
	msg := tx.Message
	var b strings.Builder
	for i, ci := range msg.Instructions {
		programID := msg.GetProgram(ci.ProgramIDIndex)
		fmt.Fprintf(&b, "%s\n", format.Program(fmt.Sprintf("#%d", i), programID))
		for _, accIdx := range ci.Accounts {
			key := msg.AccountKeys[accIdx]
			meta := txn.NewAccountMeta(key, msg.IsWritable(key), msg.IsSigner(key))
			fmt.Fprintf(&b, "  %s\n", format.Meta("account", meta))
		}
		fmt.Fprintf(&b, "  %s\n", format.Param("data", ci.Data))
	}
	return b.String()
}
