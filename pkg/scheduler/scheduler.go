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

// Package scheduler walks a built graph.Graph one run at a time, deciding
// which task to dispatch next, waiting on splits to reach their matching
// join, and driving the retry/catch loop around every attempt. It never
// runs a step body itself: every attempt is handed to a TaskExecutor, which
// in production launches the separate flowcore-worker binary as a
// subprocess (pkg/executor) and in tests is a fake that returns canned results. This
// mirrors the reference orchestrator's own parent/child split, translated
// from fork() to exec.Command.
package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/tombee/flowcore/pkg/datastore"
	"github.com/tombee/flowcore/pkg/decorator"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/executor"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/taskcontext"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("flowcore.scheduler")

// ForeachPush tells a worker which foreach frame to push onto its instance
// before running the step body. The scheduler never sees the iterated
// value itself — the worker loads the split task's own artifact named Var
// and indexes it by Index, keeping arbitrary user values out of IPC.
type ForeachPush struct {
	Step      string
	Var       string
	Index     int
	NumSplits int
}

// AttemptSpec is everything a TaskExecutor needs to run one attempt: which
// task, which attempt number, and which predecessor tasks it should load
// artifacts from. Parallel workers carry their index/count instead of a
// ForeachPush; a join task's ParentPathspecs lists every contributing
// predecessor in the order they arrived.
type AttemptSpec struct {
	Pathspec        id.Pathspec
	StepName        string
	Attempt         int
	IsJoin          bool
	ParentPathspecs []id.Pathspec
	ForeachPush     *ForeachPush
	ParallelIndex   int
	ParallelCount   int
}

// TaskExecutor runs one task attempt and reports how it ended. The
// production implementation launches cmd/flowcore-worker via pkg/executor
// and translates its AttemptResult; see cmd/flowcore for the wiring.
type TaskExecutor interface {
	ExecuteAttempt(ctx context.Context, spec AttemptSpec) (executor.AttemptResult, error)
}

// StepPolicy is everything the scheduler needs about a step's declared
// decorators without depending on how they were parsed: the retry budget
// and the decorator set to run task_exception hooks against. Concrete
// per-attempt hooks (init/pre_step/decorate/post_step) run inside the
// worker; only task_exception runs here, in the parent, since only the
// parent knows whether the retry budget is exhausted and can finalize the
// task's persisted artifacts once a handler suppresses the failure.
type StepPolicy struct {
	MaxAttempts int
	Decorators  []any
}

// PolicyResolver returns the StepPolicy declared for a step.
type PolicyResolver func(stepName string) StepPolicy

// RunResult summarises a completed (or failed) run.
type RunResult struct {
	RunID      string
	Success    bool
	FailedStep string
	Err        error
}

// Scheduler drives one flow's graph to completion, one run at a time.
type Scheduler struct {
	FlowName       string
	Graph          *graph.Graph
	Datastore      datastore.Datastore
	Metadata       metadata.Provider
	Executor       TaskExecutor
	Policy         PolicyResolver
	Project        string
	Tags           []string
	MaxConcurrency int

	taskMu  sync.Mutex
	taskSeq map[string]int
}

// New constructs a Scheduler. Policy may be nil, in which case every step
// gets a single attempt and no exception handlers.
func New(flowName string, g *graph.Graph, ds datastore.Datastore, md metadata.Provider, ex TaskExecutor, policy PolicyResolver) *Scheduler {
	if policy == nil {
		policy = func(string) StepPolicy { return StepPolicy{MaxAttempts: 1} }
	}
	return &Scheduler{
		FlowName:  flowName,
		Graph:     g,
		Datastore: ds,
		Metadata:  md,
		Executor:  ex,
		Policy:    policy,
		taskSeq:   make(map[string]int),
	}
}

func (s *Scheduler) concurrencyLimit() int {
	if s.MaxConcurrency > 0 {
		return s.MaxConcurrency
	}
	return 16
}

// nextTaskID allocates the next task id for step, starting at "1", matching
// the reference's per-step monotonically increasing task counter.
func (s *Scheduler) nextTaskID(step string) string {
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	s.taskSeq[step]++
	return fmt.Sprintf("%d", s.taskSeq[step])
}

// Run starts a fresh run of the flow from its start step and walks the
// graph to completion, returning once every chain has reached the end
// step or a failure has propagated out unhandled.
func (s *Scheduler) Run(ctx context.Context, runID string, userTags []string) (*RunResult, error) {
	start := s.Graph.Node("start")
	if start == nil {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "graph has no start step")
	}

	if err := s.Metadata.NewRun(ctx, s.FlowName, runID, userTags, nil); err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "registering run %s/%s", s.FlowName, runID)
	}

	rc := newRunContext()
	err := s.runChain(ctx, rc, "start", nil, nil, nil, 0, 0, runID, "")

	res := &RunResult{RunID: runID}
	switch {
	case err != nil:
		res.Err = err
		res.FailedStep = rc.failedStep()
	case !rc.reachedEnd():
		res.Err = flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "run ended without reaching the end step")
	}

	// A run is marked done in metadata whether it succeeded or failed —
	// only an orchestrator crash before this point should ever leave a
	// run's status stuck at "running".
	if doneErr := s.Metadata.DoneRun(ctx, s.FlowName, runID); doneErr != nil {
		if res.Err == nil {
			res.Err = flowerrors.Wrapf(flowerrors.KindInternal, doneErr, "marking run %s/%s done", s.FlowName, runID)
		}
		return res, res.Err
	}

	if res.Err != nil {
		return res, res.Err
	}
	res.Success = true
	return res, nil
}

// runTask runs every attempt of one task through its retry budget,
// invoking task_exception hooks once the budget is exhausted. It returns
// ok=false (with a nil error) only for a non-control parallel worker that
// was killed by signal: its failure is swallowed, deferring to whatever
// the control task's own attempt loop decides.
func (s *Scheduler) runTask(ctx context.Context, ps id.Pathspec, spec AttemptSpec) (res executor.AttemptResult, ok bool, err error) {
	policy := s.Policy(spec.StepName)
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	pipeline := decorator.New(policy.Decorators...)

	if err := s.Metadata.NewTask(ctx, ps.Flow, ps.Run, ps.Step, ps.Task); err != nil {
		return executor.AttemptResult{}, false, flowerrors.Wrapf(flowerrors.KindInternal, err, "registering task %s", ps)
	}
	if len(spec.ParentPathspecs) > 0 {
		parents := make([]string, len(spec.ParentPathspecs))
		for i, p := range spec.ParentPathspecs {
			parents[i] = p.String()
		}
		raw, err := json.Marshal(parents)
		if err != nil {
			return executor.AttemptResult{}, false, flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding parents of %s", ps)
		}
		entry := []metadata.Entry{{Type: "parent-task-ids", Value: string(raw)}}
		if err := s.Metadata.RegisterMetadata(ctx, ps.Flow, ps.Run, ps.Step, ps.Task, entry); err != nil {
			return executor.AttemptResult{}, false, flowerrors.Wrapf(flowerrors.KindInternal, err, "recording parents of %s", ps)
		}
	}

	tc := taskcontext.Context{
		Pathspec:      ps,
		Project:       s.Project,
		Tags:          s.Tags,
		ParallelIndex: spec.ParallelIndex,
		ParallelCount: spec.ParallelCount,
	}

	isNonControlWorker := spec.ParallelCount > 1 && spec.ParallelIndex != 0

	for attempt := 0; attempt < maxAttempts; attempt++ {
		tc.Retry = attempt
		spec.Attempt = attempt

		if attempt > 0 {
			if err := s.Datastore.ClearTaskArtifacts(ctx, ps); err != nil {
				return executor.AttemptResult{}, false, flowerrors.Wrapf(flowerrors.KindInternal, err, "clearing artifacts before retry of %s", ps)
			}
		}
		_ = s.Metadata.RegisterMetadata(ctx, ps.Flow, ps.Run, ps.Step, ps.Task, []metadata.Entry{
			{Type: "attempt", Value: fmt.Sprintf("%d", attempt)},
		})

		res, err = s.runAttemptSpan(ctx, spec)
		if err != nil {
			return res, false, flowerrors.Wrapf(flowerrors.KindInternal, err, "launching attempt %d of %s", attempt, ps)
		}
		s.persistAttemptLogs(ctx, ps, res)

		isLastAttempt := attempt == maxAttempts-1

		switch res.Outcome {
		case executor.OutcomeSuccess:
			recordAttemptOutcome(spec.StepName, "success")
			if err := s.Metadata.DoneTask(ctx, ps.Flow, ps.Run, ps.Step, ps.Task); err != nil {
				return res, false, flowerrors.Wrapf(flowerrors.KindInternal, err, "marking task %s done", ps)
			}
			return res, true, nil

		case executor.OutcomeSignaled:
			if !isLastAttempt {
				continue
			}
			failure := flowerrors.NewFlowError(flowerrors.KindFailureHandledByCatch,
				fmt.Sprintf("task %s was killed by signal %s", ps, res.Signal))
			suppressed, exports, herr := pipeline.RunTaskException(ctx, tc, failure)
			if herr != nil {
				return res, false, flowerrors.Wrapf(flowerrors.KindInternal, herr, "running task_exception for %s", ps)
			}
			if suppressed {
				return res, true, s.finishSuppressed(ctx, ps, exports)
			}
			recordAttemptOutcome(spec.StepName, "signaled")
			if isNonControlWorker {
				// A non-control parallel worker's signal death is not this
				// run's failure to report; the control task's own attempt
				// loop and @catch (if any) governs the cohort's outcome.
				return res, false, nil
			}
			return res, false, failure

		case executor.OutcomeFailed:
			if !isLastAttempt {
				continue
			}
			var failure error
			if res.Exception != nil {
				failure = flowerrors.Wrapf(flowerrors.Kind(res.Exception.Kind), flowerrors.New(res.Exception.Message),
					"step %s failed", spec.StepName)
			} else {
				failure = flowerrors.NewFlowError(flowerrors.KindUserStep, fmt.Sprintf("task %s exited without a result", ps))
			}
			suppressed, exports, herr := pipeline.RunTaskException(ctx, tc, failure)
			if herr != nil {
				return res, false, flowerrors.Wrapf(flowerrors.KindInternal, herr, "running task_exception for %s", ps)
			}
			if suppressed {
				return res, true, s.finishSuppressed(ctx, ps, exports)
			}
			recordAttemptOutcome(spec.StepName, "failed")
			return res, false, failure
		}
	}
	return res, false, flowerrors.NewFlowError(flowerrors.KindInternal, fmt.Sprintf("attempt loop for %s ended without a resolution", ps))
}

// runAttemptSpan wraps one ExecuteAttempt call in a span, tagged with the
// pathspec and attempt number, so a trace exporter can show where wall
// clock time goes across a run's fan-out.
func (s *Scheduler) runAttemptSpan(ctx context.Context, spec AttemptSpec) (executor.AttemptResult, error) {
	ctx, span := tracer.Start(ctx, "task.attempt",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			attribute.String("flowcore.pathspec", spec.Pathspec.String()),
			attribute.String("flowcore.step", spec.StepName),
			attribute.Int("flowcore.attempt", spec.Attempt),
		),
	)
	defer span.End()

	res, err := s.Executor.ExecuteAttempt(ctx, spec)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return res, err
}

// persistAttemptLogs copies the attempt's captured stdout/stderr temp files
// into the datastore's own log storage, keyed by the task's pathspec. Best
// effort: a worker that was killed before its capture files were flushed
// leaves the log empty rather than failing the attempt over it.
func (s *Scheduler) persistAttemptLogs(ctx context.Context, ps id.Pathspec, res executor.AttemptResult) {
	if res.StdoutPath != "" {
		if b, err := os.ReadFile(res.StdoutPath); err == nil {
			_ = s.Datastore.SaveLog(ctx, ps, datastore.StreamStdout, string(b))
		}
	}
	if res.StderrPath != "" {
		if b, err := os.ReadFile(res.StderrPath); err == nil {
			_ = s.Datastore.SaveLog(ctx, ps, datastore.StreamStderr, string(b))
		}
	}
}

// finishSuppressed persists a caught exception handler's exports (if any),
// flips the task's exception-stamped _task_ok back to true now that a
// handler has absorbed the failure, and marks the task done.
func (s *Scheduler) finishSuppressed(ctx context.Context, ps id.Pathspec, exports map[string]any) error {
	merged := make(map[string]any, len(exports)+1)
	for name, v := range exports {
		merged[name] = v
	}
	merged["_task_ok"] = true
	if err := s.applyExports(ctx, ps, merged); err != nil {
		return err
	}
	if err := s.Metadata.DoneTask(ctx, ps.Flow, ps.Run, ps.Step, ps.Task); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "marking caught task %s done", ps)
	}
	return nil
}
