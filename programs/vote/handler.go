package vote

import (
	"encoding/binary"
	"fmt"

	"github.com/ridgeline-labs/valcore/runtime"
)

const (
	tagInitializeAccount uint8 = 0
	tagAuthorize         uint8 = 1
	tagVote              uint8 = 2
	tagWithdraw          uint8 = 3
)

// Handler implements runtime.ProgramHandler for the Vote program: mutates
// the VoteState account named by accounts[0] in response to
// InitializeAccount and Vote instructions: a replayed vote mutates the
// VoteState account it names.
type Handler struct {
	// Now returns the current unix time for Vote instructions that carry
	// a timestamp; overridable for deterministic tests.
	Now func() int64
}

var _ runtime.ProgramHandler = Handler{}

func (h Handler) Execute(ctx *runtime.ExecutionContext) error {
	if len(ctx.Data) == 0 {
		return fmt.Errorf("vote: empty instruction data")
	}
	if len(ctx.Accounts) == 0 {
		return fmt.Errorf("vote: instruction requires at least the vote account")
	}
	voteAcc := ctx.Accounts[0]
	switch ctx.Data[0] {
	case tagInitializeAccount:
		return h.initializeAccount(voteAcc, ctx.Data[1:])
	case tagVote:
		return h.processVote(voteAcc, ctx.Data[1:])
	case tagAuthorize, tagWithdraw:
		return fmt.Errorf("vote: instruction tag %d not implemented by this core", ctx.Data[0])
	default:
		return fmt.Errorf("vote: unknown instruction tag %d", ctx.Data[0])
	}
}

func (h Handler) initializeAccount(voteAcc *runtime.AccountView, body []byte) error {
	if !voteAcc.IsWritable {
		return fmt.Errorf("vote: vote account must be writable")
	}
	if len(voteAcc.Account.Data) != 0 {
		return fmt.Errorf("vote: account already initialized")
	}
	if len(body) < 32+32+32+1 {
		return fmt.Errorf("vote: InitializeAccount: short data")
	}
	vs := &VoteState{}
	copy(vs.NodePubkey[:], body[0:32])
	copy(vs.AuthorizedVoter[:], body[32:64])
	copy(vs.AuthorizedWithdrawer[:], body[64:96])
	vs.Commission = body[96]

	encoded, err := vs.MarshalBinary()
	if err != nil {
		return err
	}
	voteAcc.Account.Data = encoded
	return nil
}

// processVote decodes "numSlots(u8) slots(u64 each) hash(32) hasTimestamp(u8) [timestamp(i64)]"
// and applies every slot to the VoteState's lockout stack in the order the
// instruction lists them; the order is not checked.
func (h Handler) processVote(voteAcc *runtime.AccountView, body []byte) error {
	if !voteAcc.IsWritable {
		return fmt.Errorf("vote: vote account must be writable")
	}
	vs := &VoteState{}
	if err := vs.UnmarshalBinary(voteAcc.Account.Data); err != nil {
		return fmt.Errorf("vote: decode VoteState: %w", err)
	}

	if len(body) < 1 {
		return fmt.Errorf("vote: Vote: empty body")
	}
	numSlots := int(body[0])
	off := 1
	if numSlots == 0 {
		return fmt.Errorf("vote: Vote: EmptySlots")
	}
	slots := make([]uint64, numSlots)
	for i := 0; i < numSlots; i++ {
		if off+8 > len(body) {
			return fmt.Errorf("vote: Vote: truncated slots")
		}
		slots[i] = binary.LittleEndian.Uint64(body[off:])
		off += 8
	}
	if off+32 > len(body) {
		return fmt.Errorf("vote: Vote: truncated hash")
	}
	off += 32

	var hasTimestamp bool
	var timestamp int64
	if off < len(body) {
		hasTimestamp = body[off] == 1
		off++
		if hasTimestamp {
			if off+8 > len(body) {
				return fmt.Errorf("vote: Vote: truncated timestamp")
			}
			timestamp = int64(binary.LittleEndian.Uint64(body[off:]))
		}
	}

	ancestry := make(map[uint64]bool, len(vs.Votes)+numSlots)
	for _, s := range slots {
		ancestry[s] = true
	}
	isAncestor := func(s uint64) bool { return ancestry[s] }

	for _, slot := range slots {
		vs.ProcessVote(slot, isAncestor)
	}
	if hasTimestamp {
		vs.SetTimestamp(slots[len(slots)-1], timestamp)
	} else if h.Now != nil {
		vs.SetTimestamp(slots[len(slots)-1], h.Now())
	}

	encoded, err := vs.MarshalBinary()
	if err != nil {
		return err
	}
	voteAcc.Account.Data = encoded
	return nil
}
