package runtime

import (
	"testing"

	"github.com/ridgeline-labs/valcore/common"
)

func TestPipelineDispatchEnforcesCPIDepthLimit(t *testing.T) {
	p := NewPipeline(map[common.Address]ProgramHandler{}, common.ComputeBudgetProgramID, common.VoteProgramID, map[common.Address]bool{}, 5000)
	p.MaxCPIDepth = 1
	if err := p.dispatch(common.SystemProgramID, nil, nil, 2); err == nil {
		t.Errorf("want error dispatching at a depth beyond MaxCPIDepth")
	}
}
