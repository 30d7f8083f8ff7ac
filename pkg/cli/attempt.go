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

package cli

import (
	"fmt"

	"github.com/tombee/flowcore/pkg/scheduler"
)

// backendFlags is the datastore/metadata wiring both the orchestrator and
// worker sides need, threaded from the orchestrator's own flags onto every
// worker invocation so the child opens the same backends the parent did.
type backendFlags struct {
	flow          string
	datastoreName string
	datastoreRoot string
	metadataName  string
	metadataRoot  string
}

// attemptArgs renders spec plus the backend wiring into the argv
// cmd/flowcore-worker expects, mirroring the length-prefixed-frame style
// contract described for the task executor: every field the worker needs
// crosses the process boundary as an explicit flag, never as inherited
// in-memory state.
func attemptArgs(spec scheduler.AttemptSpec, bf backendFlags) []string {
	args := []string{
		"--flow", bf.flow,
		"--datastore", bf.datastoreName,
		"--datastore-root", bf.datastoreRoot,
		"--metadata", bf.metadataName,
		"--metadata-root", bf.metadataRoot,
		"--pathspec", spec.Pathspec.String(),
		"--attempt", fmt.Sprintf("%d", spec.Attempt),
	}
	if spec.IsJoin {
		args = append(args, "--join")
	}
	for _, p := range spec.ParentPathspecs {
		args = append(args, "--parent", p.String())
	}
	if spec.ForeachPush != nil {
		fp := spec.ForeachPush
		args = append(args,
			"--foreach-step", fp.Step,
			"--foreach-var", fp.Var,
			"--foreach-index", fmt.Sprintf("%d", fp.Index),
			"--foreach-num-splits", fmt.Sprintf("%d", fp.NumSplits),
		)
	}
	if spec.ParallelCount > 1 {
		args = append(args,
			"--parallel-index", fmt.Sprintf("%d", spec.ParallelIndex),
			"--parallel-count", fmt.Sprintf("%d", spec.ParallelCount),
		)
	}
	return args
}
