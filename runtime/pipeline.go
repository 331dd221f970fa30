package runtime

import (
	"crypto/ed25519"
	"fmt"

	"github.com/ridgeline-labs/valcore/accounts"
	"github.com/ridgeline-labs/valcore/common"
	"github.com/ridgeline-labs/valcore/programs/computebudget"
	"github.com/ridgeline-labs/valcore/txn"
)

// verifyEd25519 checks sig over msg under pub using the standard library's
// ed25519.Verify, which already enforces the strict (non-malleable)
// signature encoding.
func verifyEd25519(pub common.Address, msg []byte, sig common.Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(pub[:]), msg, sig[:])
}

// TxResult is the per-transaction outcome of Pipeline.Process: either the
// transaction committed (Err == nil, fee and accounts applied) or it failed
// (Err != nil, fee still charged if it got that far).
type TxResult struct {
	Err              error
	Fee              uint64
	ComputeUnitsUsed uint32
	IsVote           bool
	VoteAccount      common.Address
}

// Pipeline implements the six-step transaction processing: verify,
// extract compute-budget, compute fee, load accounts, dispatch, commit.
type Pipeline struct {
	Handlers               map[common.Address]ProgramHandler
	ComputeBudgetProgramID common.Address
	VoteProgramID          common.Address
	BuiltinPrograms        map[common.Address]bool
	BaseFeePerSignature    uint64
	MaxCPIDepth            int
	TableResolver          AddressTableLookupResolver

	// OnCommit fires once per successfully committed transaction, after
	// the account batch lands, notifying the Commitment Aggregator when
	// the transaction was a vote.
	OnCommit func(bank *Bank, result TxResult, msg *txn.Message)

	// StatusCache, when set, short-circuits duplicate submissions before
	// signature verification and records every transaction-level outcome.
	StatusCache *StatusCache
}

// NewPipeline constructs a Pipeline with the given program dispatch table.
func NewPipeline(handlers map[common.Address]ProgramHandler, computeBudgetProgramID, voteProgramID common.Address, builtins map[common.Address]bool, baseFee uint64) *Pipeline {
	return &Pipeline{
		Handlers:               handlers,
		ComputeBudgetProgramID: computeBudgetProgramID,
		VoteProgramID:          voteProgramID,
		BuiltinPrograms:        builtins,
		BaseFeePerSignature:    baseFee,
		MaxCPIDepth:            4,
	}
}

// ProcessBatch processes txs against bank strictly sequentially, so
// transactions whose writable account sets overlap always commit in
// batch order. Transactions with disjoint write sets could run in
// parallel with the same observable ordering; this implementation keeps
// commit order trivially correct instead.
func (p *Pipeline) ProcessBatch(bank *Bank, txs []*txn.Transaction) []TxResult {
	results := make([]TxResult, len(txs))
	for i, tx := range txs {
		results[i] = p.process(bank, tx)
	}
	return results
}

func (p *Pipeline) process(bank *Bank, tx *txn.Transaction) TxResult {
	if bank.IsFrozen() {
		return TxResult{Err: fmt.Errorf("runtime: cannot process transaction against frozen slot %d", bank.Slot)}
	}
	if p.StatusCache != nil && len(tx.Signatures) > 0 {
		if st, ok := p.StatusCache.Get(tx.Message.RecentBlockhash, tx.Signatures[0]); ok {
			return TxResult{Err: newTxErr(ReasonAlreadyProcessed, -1, fmt.Errorf("transaction already processed at slot %d (%s)", st.Slot, st.Code))}
		}
	}
	res := p.processInner(bank, tx)
	if p.StatusCache != nil && len(tx.Signatures) > 0 {
		if code, record := statusCodeOf(res.Err); record {
			p.StatusCache.Insert(tx.Message.RecentBlockhash, tx.Signatures[0], bank.Slot, code)
		}
	}
	return res
}

// statusCodeOf classifies a process result for the status cache.
// Successes and transaction-level failures are recorded; malformed input
// is not -- an unverified signature must never key a cache entry, or a
// forger could poison the status of a signature its owner has yet to
// submit. Cost-tracker rejection is not recorded either: admission is
// block-scoped, and the same transaction may fit a later block.
func statusCodeOf(err error) (ReasonCode, bool) {
	if err == nil {
		return ReasonNone, true
	}
	te, ok := err.(*TxError)
	if !ok {
		return ReasonNone, false
	}
	switch te.Code {
	case ReasonMalformedSignature, ReasonMalformedPrecompile, ReasonCostLimitExceeded:
		return ReasonNone, false
	}
	return te.Code, true
}

func (p *Pipeline) processInner(bank *Bank, tx *txn.Transaction) TxResult {
	msg := &tx.Message

	// Step 1: signature + precompile verification.
	if err := p.verifySignatures(tx); err != nil {
		return TxResult{Err: newTxErr(ReasonMalformedSignature, -1, err)}
	}
	if err := p.verifyPrecompiles(msg); err != nil {
		return TxResult{Err: newTxErr(ReasonMalformedPrecompile, -1, err)}
	}

	// Step 2: compute-budget extraction.
	limits, err := computebudget.Extract(msg, p.ComputeBudgetProgramID, func(addr common.Address) bool { return p.BuiltinPrograms[addr] })
	if err != nil {
		var dup *computebudget.DuplicateInstructionError
		if ok := asDuplicate(err, &dup); ok {
			return TxResult{Err: duplicateInstructionErr(dup.Index)}
		}
		return TxResult{Err: newTxErr(ReasonComputeBudgetExceeded, -1, err)}
	}

	// Step 3: fee calculation. Payer must be the first signer.
	payer := msg.AccountKeys[0]
	fee := p.BaseFeePerSignature*uint64(msg.Header.NumRequiredSignatures) + limits.PrioritizationFee()

	ancestors := bank.AncestorsForLoad()
	payerAcc, found := bank.AccountsDB.Load(bank.Slot, payer, ancestors)
	if !found || payerAcc.Lamports < fee {
		return TxResult{Err: newTxErr(ReasonInsufficientFundsForFee, -1, fmt.Errorf("payer %s cannot cover fee %d", payer, fee))}
	}

	// Step 4: account loading.
	views, err := p.loadAccounts(bank, msg, ancestors)
	if err != nil {
		return TxResult{Err: newTxErr(ReasonAccountLoadFailed, -1, err)}
	}

	// Cost admission before execution: a leader's own block must not
	// overflow the cost tracker.
	writable := make([]common.Address, 0, len(views))
	for _, v := range views {
		if v.IsWritable {
			writable = append(writable, v.Address)
		}
	}
	if _, err := bank.CostTracker.TryAdd(TransactionCost{
		WritableAccounts:  writable,
		AccountAccessCost: uint32(len(views)),
		ExecutionCost:     limits.ComputeUnitLimit,
	}); err != nil {
		return TxResult{Err: newTxErr(ReasonCostLimitExceeded, -1, err)}
	}

	// Debit the fee up front: on any later failure, fees remain charged
	// and the rest of the account state rolls back.
	payerView := findView(views, payer)
	payerView.Account.Lamports -= fee

	if execErr := p.execute(msg, views); execErr != nil {
		// Roll back to the pre-execution snapshot except the fee debit.
		bank.AccountsDB.Store(bank.Slot, payer, payerAcc.WithLamports(payerAcc.Lamports-fee))
		return TxResult{Err: execErr, Fee: fee}
	}

	// Step 6: commit. Every touched writable account lands as part of
	// this transaction's store.
	for _, v := range views {
		if v.IsWritable {
			bank.AccountsDB.Store(bank.Slot, v.Address, v.Account)
		}
	}
	bank.incTransactionCount(1)

	result := TxResult{
		Fee:              fee,
		ComputeUnitsUsed: limits.ComputeUnitLimit,
		IsVote:           isVoteTransaction(msg, p.VoteProgramID),
	}
	if result.IsVote {
		result.VoteAccount = voteAccountOf(msg, p.VoteProgramID)
	}
	if p.OnCommit != nil {
		p.OnCommit(bank, result, msg)
	}
	return result
}

func (p *Pipeline) verifySignatures(tx *txn.Transaction) error {
	msg := &tx.Message
	if len(tx.Signatures) != int(msg.Header.NumRequiredSignatures) {
		return fmt.Errorf("signature count %d does not match header %d", len(tx.Signatures), msg.Header.NumRequiredSignatures)
	}
	msgBytes, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	for i := 0; i < int(msg.Header.NumRequiredSignatures); i++ {
		if !verifyEd25519(msg.AccountKeys[i], msgBytes, tx.Signatures[i]) {
			return fmt.Errorf("signature %d failed verification", i)
		}
	}
	return nil
}

func (p *Pipeline) verifyPrecompiles(msg *txn.Message) error {
	for _, ci := range msg.Instructions {
		programID := msg.GetProgram(ci.ProgramIDIndex)
		if programID == Ed25519ProgramID {
			if err := VerifyEd25519Precompile(ci.Data, msg, ci.Data); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadAccounts resolves every address the message references (including
// address-table-lookup accounts) against the Bank's ancestor chain,
// rejecting a writable/readonly index collision.
func (p *Pipeline) loadAccounts(bank *Bank, msg *txn.Message, ancestors map[uint64]bool) ([]*AccountView, error) {
	var views []*AccountView
	seen := make(map[common.Address]bool)

	addView := func(addr common.Address, writable, signer bool) error {
		if seen[addr] {
			return nil
		}
		seen[addr] = true
		acc, found := bank.AccountsDB.Load(bank.Slot, addr, ancestors)
		if !found {
			acc = &accounts.Account{}
		} else if writable {
			// Never mutate the shared pointer every other ancestor-chain
			// reader still holds.
			acc = acc.Clone()
		}
		views = append(views, &AccountView{Address: addr, Account: acc, IsSigner: signer, IsWritable: writable})
		return nil
	}

	for _, addr := range msg.AccountKeys {
		if err := addView(addr, msg.IsWritable(addr), msg.IsSigner(addr)); err != nil {
			return nil, err
		}
	}

	if len(msg.AddressTableLookups) > 0 {
		if p.TableResolver == nil {
			return nil, fmt.Errorf("message references address table lookups but no resolver is configured")
		}
		writableSeen := make(map[common.Address]bool)
		readonlySeen := make(map[common.Address]bool)
		for _, lookup := range msg.AddressTableLookups {
			writable, readonly, err := p.TableResolver.Resolve(lookup.AccountKey, lookup.WritableIndexes, lookup.ReadonlyIndexes)
			if err != nil {
				return nil, fmt.Errorf("resolve address table %s: %w", lookup.AccountKey, err)
			}
			for _, addr := range writable {
				if readonlySeen[addr] {
					return nil, fmt.Errorf("%w: %s", errWritableReadonlyCollision, addr)
				}
				writableSeen[addr] = true
				if err := addView(addr, true, false); err != nil {
					return nil, err
				}
			}
			for _, addr := range readonly {
				if writableSeen[addr] {
					return nil, fmt.Errorf("%w: %s", errWritableReadonlyCollision, addr)
				}
				readonlySeen[addr] = true
				if err := addView(addr, false, false); err != nil {
					return nil, err
				}
			}
		}
	}
	return views, nil
}

var errWritableReadonlyCollision = fmt.Errorf("writable index collides with readonly index")

// execute dispatches every instruction in order, skipping Ed25519
// precompile instructions (already verified in step 1). A handler may trigger a
// cross-program invocation via ExecutionContext.Invoke, which re-enters
// this dispatcher with an incremented depth, subject to MaxCPIDepth.
func (p *Pipeline) execute(msg *txn.Message, views []*AccountView) error {
	for i, ci := range msg.Instructions {
		programID := msg.GetProgram(ci.ProgramIDIndex)
		if programID == Ed25519ProgramID {
			continue
		}
		ixAccounts := make([]*AccountView, len(ci.Accounts))
		for j, idx := range ci.Accounts {
			ixAccounts[j] = views[idx]
		}
		if err := p.dispatch(programID, ixAccounts, ci.Data, 0); err != nil {
			return newTxErr(ReasonProgramError, i, err)
		}
	}
	return nil
}

func (p *Pipeline) dispatch(programID common.Address, accountViews []*AccountView, data []byte, depth int) error {
	if depth > p.MaxCPIDepth {
		return newTxErr(ReasonCPIDepthExceeded, -1, fmt.Errorf("cross-program invocation depth %d exceeds limit %d", depth, p.MaxCPIDepth))
	}
	handler, ok := p.Handlers[programID]
	if !ok {
		return fmt.Errorf("no handler registered for program %s", programID)
	}
	ctx := &ExecutionContext{
		ProgramID: programID,
		Data:      data,
		Accounts:  accountViews,
		Depth:     depth,
		Invoke: func(innerProgram common.Address, innerAccounts []*AccountView, innerData []byte) error {
			return p.dispatch(innerProgram, innerAccounts, innerData, depth+1)
		},
	}
	return handler.Execute(ctx)
}

func findView(views []*AccountView, addr common.Address) *AccountView {
	for _, v := range views {
		if v.Address == addr {
			return v
		}
	}
	return nil
}

func isVoteTransaction(msg *txn.Message, voteProgramID common.Address) bool {
	for _, ci := range msg.Instructions {
		if msg.GetProgram(ci.ProgramIDIndex) == voteProgramID {
			return true
		}
	}
	return false
}

func voteAccountOf(msg *txn.Message, voteProgramID common.Address) common.Address {
	for _, ci := range msg.Instructions {
		if msg.GetProgram(ci.ProgramIDIndex) == voteProgramID && len(ci.Accounts) > 0 {
			return msg.AccountKeys[ci.Accounts[0]]
		}
	}
	return common.Address{}
}

func asDuplicate(err error, target **computebudget.DuplicateInstructionError) bool {
	if d, ok := err.(*computebudget.DuplicateInstructionError); ok {
		*target = d
		return true
	}
	return false
}
