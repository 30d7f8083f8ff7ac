// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package scheduler

import (
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"

	"context"
)

// runJoinAndContinue dispatches the join task itself once every
// contributing branch has arrived, then resumes the chain from the join's
// single successor. contributed is nil for an empty foreach split (zero
// iterations): the join still runs, with an empty Inputs view, matching
// the reference's "join always runs, even over zero branches" semantics.
func (s *Scheduler) runJoinAndContinue(ctx context.Context, rc *runContext, joinName string, stack []joinFrame, contributed []id.Pathspec, runID string) error {
	node := s.Graph.Node(joinName)
	if node == nil || node.Type != graph.NodeJoin {
		return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "matching join "+joinName+" is not a join step")
	}

	taskID := s.nextTaskID(joinName)
	ps := id.Pathspec{Flow: s.FlowName, Run: runID, Step: joinName, Task: taskID}
	if err := s.Metadata.NewStep(ctx, s.FlowName, runID, joinName); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "registering join step %s", joinName)
	}

	spec := AttemptSpec{
		Pathspec:        ps,
		StepName:        joinName,
		IsJoin:          true,
		ParentPathspecs: contributed,
	}

	res, ok, err := s.runTask(ctx, ps, spec)
	if err != nil {
		rc.markFailed(joinName)
		return err
	}
	if !ok {
		return nil
	}
	_ = res

	if len(node.Out) == 0 {
		return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "join "+joinName+" has no successor and is not the end step")
	}
	return s.runChain(ctx, rc, node.Out[0], stack, []id.Pathspec{ps}, nil, 0, 0, runID, "")
}
