// Copyright 2024 The go-solana Authors
// This file is part of the go-solana library.

package replay

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/ridgeline-labs/valcore/commitment"
	"github.com/ridgeline-labs/valcore/common"
	votepkg "github.com/ridgeline-labs/valcore/programs/vote"
	"github.com/ridgeline-labs/valcore/runtime"
	"github.com/ridgeline-labs/valcore/vote/tower"
)

// PollInterval is how often Run retries EntrySource.Poll when no active
// Bank has new entries -- a fallback cadence, not a correctness bound.
const PollInterval = 10 * time.Millisecond

// Stage is the long-lived Replay & Voting Core task. Its Exit field is
// the shared cancellation flag every cooperating validator task polls:
// set it with atomic.StoreInt32 to unwind Run.
type Stage struct {
	Forks         *runtime.BankForks
	Pipeline      *runtime.Pipeline
	Entries       EntrySource
	Tower         *tower.Tower
	VoteProgramID common.Address
	StakedNodes   map[common.Address]uint64
	TotalStake    uint64
	CommitmentOut chan<- commitment.AggregationData

	// Log receives the stage's structured progress events; nil means
	// silent.
	Log *zap.Logger

	// OnDeadSlot, if set, is invoked whenever a slot is marked dead (entry
	// hash-chain failure or catastrophic pipeline error).
	OnDeadSlot func(slot uint64, err error)
	// OnRootAdvance, if set, is invoked whenever the Tower advances the
	// local root and it has been forwarded to BankForks.
	OnRootAdvance func(root uint64)

	Exit *int32

	mu   sync.Mutex
	dead map[uint64]bool
}

// NewStage wires the Replay task together.
func NewStage(forks *runtime.BankForks, pipeline *runtime.Pipeline, entries EntrySource, t *tower.Tower, voteProgramID common.Address, stakedNodes map[common.Address]uint64, totalStake uint64, exit *int32) *Stage {
	return &Stage{
		Forks:         forks,
		Pipeline:      pipeline,
		Entries:       entries,
		Tower:         t,
		VoteProgramID: voteProgramID,
		StakedNodes:   stakedNodes,
		TotalStake:    totalStake,
		Exit:          exit,
		dead:          make(map[uint64]bool),
	}
}

// Run repeats RunOnce until the shared exit flag is set, sleeping
// PollInterval between iterations that found no new entries at all.
func (s *Stage) Run() error {
	for atomic.LoadInt32(s.Exit) == 0 {
		advanced, err := s.RunOnce()
		if err != nil {
			return err
		}
		if !advanced {
			time.Sleep(PollInterval)
		}
	}
	return nil
}

func (s *Stage) isDead(slot uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dead[slot]
}

func (s *Stage) markDead(slot uint64, err error) {
	s.mu.Lock()
	s.dead[slot] = true
	s.mu.Unlock()
	if s.Log != nil {
		s.Log.Warn("slot marked dead", zap.Uint64("slot", slot), zap.Error(err))
	}
	if s.OnDeadSlot != nil {
		s.OnDeadSlot(slot, err)
	}
}

// RunOnce performs one full replay pass across every active Bank, then
// the Tower consultation. It returns
// advanced=true if any new entry was processed, so Run can skip its idle
// sleep.
func (s *Stage) RunOnce() (advanced bool, err error) {
	for _, slot := range s.Forks.ActiveBanks() {
		if s.isDead(slot) {
			continue
		}
		bank, ok := s.Forks.Get(slot)
		if !ok {
			continue
		}
		entries := s.Entries.Poll(slot)
		if len(entries) == 0 {
			continue
		}
		advanced = true

		prevHash := bank.Blockhash()
		for i := range entries {
			e := entries[i]
			if verr := VerifyChain(prevHash, &e); verr != nil {
				s.markDead(slot, verr)
				break
			}
			if len(e.Transactions) > 0 {
				results := s.Pipeline.ProcessBatch(bank, e.Transactions)
				if berr := costOverflow(results); berr != nil {
					s.markDead(slot, berr)
					break
				}
			}
			bank.RegisterTick(e.Hash)
			prevHash = e.Hash

			if e.LastInSlot {
				if ferr := bank.Freeze(); ferr != nil {
					return advanced, fmt.Errorf("replay: freeze slot %d: %w", slot, ferr)
				}
				break
			}
		}
	}

	if cerr := s.consultTower(); cerr != nil {
		return advanced, cerr
	}
	return advanced, nil
}

// consultTower recomputes fork weights over every frozen Bank, asks the
// Tower for a vote target, and forwards any resulting root advance to
// BankForks. It also dispatches the latest vote accounts to the
// Commitment Aggregator.
func (s *Stage) consultTower() error {
	frozen := s.Forks.FrozenBanks()
	if len(frozen) == 0 {
		return nil
	}

	working := s.Forks.WorkingBank()
	voteAccounts := s.decodeVoteAccounts(working)

	weights := ComputeForkWeights(frozen, voteAccounts, s.StakedNodes)
	candidate, ok := weights.Best()
	if !ok {
		return nil
	}
	candidateBank, ok := s.Forks.Get(candidate)
	if !ok {
		return nil
	}

	// Voting for a slot that does not descend from the last vote abandons
	// the current fork; that needs the switching threshold of stake
	// already observed voting on the new fork, on top of lockout
	// admissibility.
	canVote := true
	if lastVote, voted := s.Tower.LastVotedSlot(); voted && !candidateBank.IsAncestor(lastVote) {
		observed := SwitchStake(candidateBank, lastVote, s.Forks, voteAccounts, s.StakedNodes)
		var fraction float64
		if s.TotalStake > 0 {
			fraction = float64(observed) / float64(s.TotalStake)
		}
		canVote = tower.CanSwitch(fraction)
		if !canVote && s.Log != nil {
			s.Log.Debug("switch threshold not met",
				zap.Uint64("candidate", candidate),
				zap.Uint64("last_vote", lastVote),
				zap.Float64("observed_stake_fraction", fraction),
			)
		}
	}

	if canVote && s.Tower.IsVotable(candidate, candidateBank.IsAncestor) {
		if newRoot, rootAdvanced := s.Tower.RecordVote(candidate, candidateBank.IsAncestor); rootAdvanced {
			if err := s.Forks.SetRoot(newRoot, nil); err != nil {
				return fmt.Errorf("replay: set_root(%d): %w", newRoot, err)
			}
			if s.Log != nil {
				s.Log.Info("local root advanced", zap.Uint64("root", newRoot), zap.Uint64("vote", candidate))
			}
			if s.OnRootAdvance != nil {
				s.OnRootAdvance(newRoot)
			}
		}
	}

	if s.CommitmentOut != nil && working != nil {
		s.dispatchCommitment(working, voteAccounts)
	}
	return nil
}

// costOverflow scans a processed batch for a cost-tracker admission
// failure. A block its leader packed past the cost limits is invalid as a
// whole: the failure is block-level, never recorded against the
// individual transaction, and the slot must be marked dead.
func costOverflow(results []runtime.TxResult) error {
	for i, r := range results {
		var te *runtime.TxError
		if errors.As(r.Err, &te) && te.Code == runtime.ReasonCostLimitExceeded {
			return &runtime.BlockError{
				Reason: fmt.Sprintf("cost tracker overflow at batch transaction %d", i),
				Err:    te,
			}
		}
	}
	return nil
}

func (s *Stage) decodeVoteAccounts(bank *runtime.Bank) map[common.Address]*votepkg.VoteState {
	if bank == nil {
		return nil
	}
	raw := bank.AccountsDB.AccountsOwnedBy(bank.Slot, s.VoteProgramID, bank.AncestorsForLoad())
	out := make(map[common.Address]*votepkg.VoteState, len(raw))
	for addr, acc := range raw {
		vs := &votepkg.VoteState{}
		if err := vs.UnmarshalBinary(acc.Data); err != nil {
			continue
		}
		out[addr] = vs
	}
	return out
}

func (s *Stage) dispatchCommitment(working *runtime.Bank, voteAccounts map[common.Address]*votepkg.VoteState) {
	ancestors := working.ProperAncestors()
	ancestors = append(ancestors, working.Slot)
	sort.Slice(ancestors, func(i, j int) bool { return ancestors[i] < ancestors[j] })

	raw := working.AccountsDB.AccountsOwnedBy(working.Slot, s.VoteProgramID, working.AncestorsForLoad())
	stakes := make([]commitment.VoteAccountStake, 0, len(voteAccounts))
	for addr, vs := range voteAccounts {
		acc := raw[addr]
		if acc == nil {
			continue
		}
		stakes = append(stakes, commitment.VoteAccountStake{Lamports: acc.Lamports, State: vs})
	}

	data := commitment.AggregationData{Ancestors: ancestors, VoteAccounts: stakes, TotalStake: s.TotalStake}
	select {
	case s.CommitmentOut <- data:
	default:
		// Coalescing channel is full; AggregationService will drain to
		// the latest send regardless, so a dropped intermediate update
		// here is harmless.
	}
}

