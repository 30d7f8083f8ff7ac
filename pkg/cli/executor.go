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
	"context"
	"os"

	"github.com/tombee/flowcore/pkg/executor"
	"github.com/tombee/flowcore/pkg/scheduler"
)

// subprocessExecutor implements scheduler.TaskExecutor by re-exec'ing
// workerBinary once per attempt, the production wiring named in the task
// executor's component notes: no fork(), a real OS subprocess per task
// attempt, talking back over pkg/executor's result pipe.
type subprocessExecutor struct {
	workerBinary string
	backend      backendFlags
}

var _ scheduler.TaskExecutor = (*subprocessExecutor)(nil)

func (e *subprocessExecutor) ExecuteAttempt(ctx context.Context, spec scheduler.AttemptSpec) (executor.AttemptResult, error) {
	return executor.RunAttempt(ctx, executor.Spec{
		WorkerPath: e.workerBinary,
		Args:       attemptArgs(spec, e.backend),
		Env:        os.Environ(),
	})
}
