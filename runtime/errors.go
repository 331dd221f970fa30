package runtime

import "fmt"

// ReasonCode is the typed reason a transaction was rejected or failed,
// surfaced on the commitment query surface and to anything reading the
// status cache.
type ReasonCode int

const (
	ReasonNone ReasonCode = iota
	ReasonMalformedSignature
	ReasonMalformedPrecompile
	ReasonDuplicateComputeBudgetInstruction
	ReasonInsufficientFundsForFee
	ReasonAccountNotFound
	ReasonAccountLoadFailed
	ReasonProgramError
	ReasonComputeBudgetExceeded
	ReasonCostLimitExceeded
	ReasonWritableReadonlyCollision
	ReasonCPIDepthExceeded
	ReasonAlreadyProcessed
)

func (r ReasonCode) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonMalformedSignature:
		return "malformed_signature"
	case ReasonMalformedPrecompile:
		return "malformed_precompile"
	case ReasonDuplicateComputeBudgetInstruction:
		return "duplicate_compute_budget_instruction"
	case ReasonInsufficientFundsForFee:
		return "insufficient_funds_for_fee"
	case ReasonAccountNotFound:
		return "account_not_found"
	case ReasonAccountLoadFailed:
		return "account_load_failed"
	case ReasonProgramError:
		return "program_error"
	case ReasonComputeBudgetExceeded:
		return "compute_budget_exceeded"
	case ReasonCostLimitExceeded:
		return "cost_limit_exceeded"
	case ReasonWritableReadonlyCollision:
		return "writable_readonly_collision"
	case ReasonCPIDepthExceeded:
		return "cpi_depth_exceeded"
	case ReasonAlreadyProcessed:
		return "already_processed"
	default:
		return "unknown"
	}
}

// TxError is a transaction-level failure: recorded, then the batch
// continues with the next transaction.
// Index, when >= 0, names the offending instruction.
type TxError struct {
	Code  ReasonCode
	Index int
	Err   error
}

func (e *TxError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("%s (instruction %d): %v", e.Code, e.Index, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

func (e *TxError) Unwrap() error { return e.Err }

func newTxErr(code ReasonCode, index int, err error) *TxError {
	return &TxError{Code: code, Index: index, Err: err}
}

func duplicateInstructionErr(index int) *TxError {
	return newTxErr(ReasonDuplicateComputeBudgetInstruction, index, fmt.Errorf("duplicate compute-budget instruction"))
}

// BlockError is a block-level failure: it marks the fork dead rather
// than being recorded per-transaction.
type BlockError struct {
	Reason string
	Err    error
}

func (e *BlockError) Error() string { return fmt.Sprintf("%s: %v", e.Reason, e.Err) }
func (e *BlockError) Unwrap() error { return e.Err }
