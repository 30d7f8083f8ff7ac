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
	"encoding/json"
	"fmt"
	"reflect"

	"github.com/spf13/cobra"

	"github.com/tombee/flowcore/pkg/datastore"
	"github.com/tombee/flowcore/pkg/decorator"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/executor"
	"github.com/tombee/flowcore/pkg/flow"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/scheduler"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// preflightError marks a failure that happened before any step code ran —
// bad flags, an unparseable pathspec, or a backend that refused to open.
// cmd/flowcore-worker's main maps this to exit 2; everything else (a step
// body error, safely captured into a TaskResult and written to the result
// pipe) maps to exit 1, mirroring the "caught exception vs. uncatchable
// base condition" split in the attempt contract.
type preflightError struct{ err error }

func (e *preflightError) Error() string { return e.err.Error() }
func (e *preflightError) Unwrap() error { return e.err }

// IsPreflight reports whether err represents a pre-execution failure that
// should exit 2 rather than 1.
func IsPreflight(err error) bool {
	var pe *preflightError
	return flowerrors.As(err, &pe)
}

// attemptRequest is the worker's decoded view of one attempt, the in-memory
// counterpart of the argv attemptArgs produces.
type attemptRequest struct {
	backend       backendFlags
	pathspec      id.Pathspec
	attempt       int
	isJoin        bool
	parents       []id.Pathspec
	foreachPush   *scheduler.ForeachPush
	parallelIndex int
	parallelCount int
}

// runAttempt is the worker's entire job: load inputs, run one step body
// once, write the result. It never retries and never runs task_exception
// handlers — both are the scheduler's job, in the parent process, since
// only the parent knows the retry budget and can decide whether a handler
// suppresses the final failure.
//
// A non-nil returned error means setup itself never got far enough to run
// the step body — an unreachable backend, an unknown step, a malformed
// foreach push. Nothing is written to the result pipe for these; the
// caller exits 2, the "uncatchable base condition" case. Once the step
// body is actually invoked, every failure from there on (the body itself,
// or deriving TakenBranch/NumSplits, or persisting artifacts) is reported
// as a TaskResult with Success=false instead, exit 1, since the scheduler
// treats it as a normal caught exception eligible for retry or a @catch
// handler.
func runAttempt(ctx context.Context, app AppSpec, req attemptRequest) (executor.TaskResult, error) {
	ds, err := openDatastore(req.backend.datastoreName, req.backend.datastoreRoot)
	if err != nil {
		return executor.TaskResult{}, &preflightError{err}
	}

	node := app.Graph.Node(req.pathspec.Step)
	if node == nil {
		return executor.TaskResult{}, &preflightError{flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			fmt.Sprintf("no step %q in graph %s", req.pathspec.Step, app.Graph.Name))}
	}

	inst := flow.New(nil, nil, nil)
	var inputs *flow.Inputs

	switch {
	case req.isJoin:
		built, err := loadJoinInputs(ctx, ds, req.parents)
		if err != nil {
			return executor.TaskResult{}, &preflightError{err}
		}
		inputs = built
	case len(req.parents) > 0:
		parentArtifacts, err := loadDecodedArtifacts(ctx, ds, req.parents[0])
		if err != nil {
			return executor.TaskResult{}, &preflightError{err}
		}
		inst.LoadParentState(parentArtifacts)
		if req.foreachPush != nil {
			v, ok := inst.Get(req.foreachPush.Var)
			if !ok {
				return executor.TaskResult{}, &preflightError{flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
					fmt.Sprintf("foreach variable %q not found on parent %s", req.foreachPush.Var, req.parents[0]))}
			}
			value, err := indexAt(v, req.foreachPush.Index)
			if err != nil {
				return executor.TaskResult{}, &preflightError{err}
			}
			inst.PushFrame(flow.Frame{
				Step:      req.foreachPush.Step,
				Var:       req.foreachPush.Var,
				Index:     req.foreachPush.Index,
				Value:     value,
				NumSplits: req.foreachPush.NumSplits,
			})
		}
	}

	tc := taskcontext.Context{
		Pathspec:      req.pathspec,
		Retry:         req.attempt,
		ParallelIndex: req.parallelIndex,
		ParallelCount: req.parallelCount,
	}
	ctx = taskcontext.With(ctx, tc)

	policy := scheduler.StepPolicy{MaxAttempts: 1}
	if app.Policy != nil {
		policy = app.Policy(req.pathspec.Step)
	}
	pipeline := decorator.New(policy.Decorators...)

	if err := pipeline.RunStepInit(ctx, tc); err != nil {
		return executor.TaskResult{}, &preflightError{err}
	}
	if err := pipeline.RunTaskPreStep(ctx, tc, req.attempt); err != nil {
		return executor.TaskResult{}, &preflightError{err}
	}

	runBody := func(ctx context.Context) error {
		if node.IsJoin() {
			return node.JoinFn(ctx, inst, inputs)
		}
		return node.StepFn(ctx, inst)
	}
	body := pipeline.WrapBody(ctx, tc, runBody)
	if err := body(ctx); err != nil {
		return recordFailure(ctx, ds, req.pathspec, err)
	}
	if err := pipeline.RunTaskPostStep(ctx, tc); err != nil {
		return recordFailure(ctx, ds, req.pathspec, err)
	}

	result := executor.TaskResult{Success: true}
	switch node.Type {
	case graph.NodeSplitOr:
		branch, err := resolveTakenBranch(inst, node)
		if err != nil {
			return recordFailure(ctx, ds, req.pathspec, err)
		}
		result.TakenBranch = branch
	case graph.NodeForeach:
		if node.ForeachVar != "" {
			v, ok := inst.Get(node.ForeachVar)
			if !ok {
				return recordFailure(ctx, ds, req.pathspec, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
					fmt.Sprintf("foreach variable %q missing after step %q ran", node.ForeachVar, node.Name)))
			}
			n, unbounded, err := lengthOf(v)
			if err != nil {
				return recordFailure(ctx, ds, req.pathspec, err)
			}
			result.NumSplits = n
			result.Unbounded = unbounded
		} else {
			result.NumParallel = node.NumParallel
		}
	}

	inst.SetSystem("_task_ok", true)
	if err := persistAttemptArtifacts(ctx, ds, req, inst); err != nil {
		return recordFailure(ctx, ds, req.pathspec, err)
	}
	return result, nil
}

func failureResult(err error) executor.TaskResult {
	return executor.TaskResult{
		Success: false,
		Exception: &executor.ExceptionPayload{
			Kind:    string(flowerrors.KindOf(err)),
			Message: err.Error(),
		},
	}
}

// recordFailure builds a TaskResult for a caught exception and, per the
// attempt contract, clears whatever this attempt had written and persists
// an exception-stamped snapshot (_task_ok=false, _exception=<wrapper>) in
// its place, so a later @catch suppression or a plain client read of this
// task sees a consistent _task_ok even though the step body never
// finished. A failure persisting that snapshot is itself an uncatchable
// base condition, not a normal caught exception — it means the result the
// rest of the system depends on was never durably written.
func recordFailure(ctx context.Context, ds datastore.Datastore, ps id.Pathspec, cause error) (executor.TaskResult, error) {
	res := failureResult(cause)
	if err := persistFailureSnapshot(ctx, ds, ps, res.Exception); err != nil {
		return executor.TaskResult{}, &preflightError{err}
	}
	return res, nil
}

// persistFailureSnapshot clears any artifacts this attempt already wrote
// and replaces them with the two system artifacts a caught exception
// leaves behind.
func persistFailureSnapshot(ctx context.Context, ds datastore.Datastore, ps id.Pathspec, payload *executor.ExceptionPayload) error {
	if err := ds.ClearTaskArtifacts(ctx, ps); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "clearing artifacts before exception snapshot for %s", ps)
	}
	okBytes, err := json.Marshal(false)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding _task_ok for %s", ps)
	}
	excBytes, err := json.Marshal(payload)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding _exception for %s", ps)
	}
	if err := ds.SaveArtifacts(ctx, ps, map[string][]byte{"_task_ok": okBytes, "_exception": excBytes}); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "saving exception snapshot for %s", ps)
	}
	return nil
}

func resolveTakenBranch(inst *flow.Instance, node *graph.Node) (string, error) {
	tr := inst.TransitionOf()
	if tr == nil || tr.ConditionVar == "" {
		return "", flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			fmt.Sprintf("switch step %q did not record a condition variable", node.Name))
	}
	v, ok := inst.Get(tr.ConditionVar)
	if !ok {
		return "", flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			fmt.Sprintf("switch condition variable %q not set by step %q", tr.ConditionVar, node.Name))
	}
	branch := fmt.Sprintf("%v", v)
	if node.ConditionMap != nil {
		target, ok := node.ConditionMap[branch]
		if !ok {
			return "", flowerrors.NewFlowError(flowerrors.KindUnhandledMerge,
				fmt.Sprintf("switch step %q has no target for condition value %q", node.Name, branch))
		}
		return target, nil
	}
	return branch, nil
}

// lengthOf returns a foreach source's element count, or unbounded=true if
// the value satisfies UnboundedForeachSource and reports an unknown length.
func lengthOf(v any) (n int, unbounded bool, err error) {
	if u, isUnboundedSource := v.(flow.UnboundedForeachSource); isUnboundedSource {
		count, known := u.Len()
		if !known {
			return 0, true, nil
		}
		return count, false, nil
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice {
		return 0, false, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			"foreach variable is neither a slice nor an unbounded foreach marker")
	}
	return rv.Len(), false, nil
}

func indexAt(v any, index int) (any, error) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice || index < 0 || index >= rv.Len() {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			fmt.Sprintf("foreach index %d out of range", index))
	}
	return rv.Index(index).Interface(), nil
}

func loadDecodedArtifacts(ctx context.Context, ds datastore.Datastore, ps id.Pathspec) (map[string]any, error) {
	raw, err := ds.LoadArtifacts(ctx, ps)
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "loading artifacts for %s", ps)
	}
	out := make(map[string]any, len(raw))
	for name, b := range raw {
		var v any
		if err := json.Unmarshal(b, &v); err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "decoding artifact %s of %s", name, ps)
		}
		out[name] = v
	}
	return out, nil
}

func loadJoinInputs(ctx context.Context, ds datastore.Datastore, parents []id.Pathspec) (*flow.Inputs, error) {
	items := make([]flow.Input, 0, len(parents))
	for _, p := range parents {
		arts, err := loadDecodedArtifacts(ctx, ds, p)
		if err != nil {
			return nil, err
		}
		items = append(items, flow.Input{StepName: p.Step, Artifacts: arts})
	}
	return flow.NewInputs(items), nil
}

// persistAttemptArtifacts writes the instance's artifacts to the
// datastore. The scheduler, in the parent process, owns every metadata
// lifecycle call (NewTask/RegisterMetadata/DoneTask) and the prior
// ClearTaskArtifacts for this attempt; the worker's only job here is the
// artifact bytes themselves.
func persistAttemptArtifacts(ctx context.Context, ds datastore.Datastore, req attemptRequest, inst *flow.Instance) error {
	ps := req.pathspec
	encoded := make(map[string][]byte, len(inst.Artifacts))
	for name, v := range inst.Artifacts {
		b, err := json.Marshal(v)
		if err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding artifact %s of %s", name, ps)
		}
		encoded[name] = b
	}
	if err := ds.SaveArtifacts(ctx, ps, encoded); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "saving artifacts for %s", ps)
	}
	return nil
}

// NewWorkerCommand builds the cmd/flowcore-worker root command around app.
// It has no subcommands: invoking it runs exactly one attempt and exits 0
// on success, 1 on a caught failure, matching the executor's exit-code
// contract (signal deaths are detected by the parent from the OS, not by
// any exit code the worker itself chooses).
func NewWorkerCommand(app AppSpec) *cobra.Command {
	var (
		flowName      string
		dsName        string
		dsRoot        string
		mdName        string
		mdRoot        string
		pathspecStr   string
		attempt       int
		isJoin        bool
		parents       []string
		foreachStep   string
		foreachVar    string
		foreachIndex  int
		foreachSplits int
		parallelIndex int
		parallelCount int
	)

	cmd := &cobra.Command{
		Use:           "flowcore-worker",
		Short:         fmt.Sprintf("run one task attempt of %s", app.Name),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if flowName != app.Name {
				return &preflightError{flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
					fmt.Sprintf("worker compiled for flow %q, invoked with --flow %q", app.Name, flowName))}
			}
			ps, err := id.Parse(pathspecStr)
			if err != nil {
				return &preflightError{err}
			}
			parentPS := make([]id.Pathspec, 0, len(parents))
			for _, p := range parents {
				pp, err := id.Parse(p)
				if err != nil {
					return &preflightError{err}
				}
				parentPS = append(parentPS, pp)
			}
			req := attemptRequest{
				backend: backendFlags{
					flow:          flowName,
					datastoreName: dsName,
					datastoreRoot: dsRoot,
					metadataName:  mdName,
					metadataRoot:  mdRoot,
				},
				pathspec:      ps,
				attempt:       attempt,
				isJoin:        isJoin,
				parents:       parentPS,
				parallelIndex: parallelIndex,
				parallelCount: parallelCount,
			}
			if foreachVar != "" {
				req.foreachPush = &scheduler.ForeachPush{
					Step: foreachStep, Var: foreachVar, Index: foreachIndex, NumSplits: foreachSplits,
				}
			}

			res, err := runAttempt(cmd.Context(), app, req)
			if err != nil {
				return err
			}
			w := executor.ResultWriter()
			defer w.Close()
			if err := executor.WriteResult(w, res); err != nil {
				return &preflightError{err}
			}
			if !res.Success {
				return flowerrors.NewFlowError(flowerrors.KindUserStep, "attempt failed")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&flowName, "flow", "", "flow name, checked against the binary's compiled-in flow")
	flags.StringVar(&dsName, "datastore", "local", "datastore backend name")
	flags.StringVar(&dsRoot, "datastore-root", "", "datastore root/path")
	flags.StringVar(&mdName, "metadata", "local", "metadata backend name")
	flags.StringVar(&mdRoot, "metadata-root", "", "metadata root/path")
	flags.StringVar(&pathspecStr, "pathspec", "", "fully qualified task pathspec")
	flags.IntVar(&attempt, "attempt", 0, "0-based attempt number")
	flags.BoolVar(&isJoin, "join", false, "true if this task is a join step")
	flags.StringArrayVar(&parents, "parent", nil, "contributing predecessor pathspec (repeatable)")
	flags.StringVar(&foreachStep, "foreach-step", "", "foreach split step name")
	flags.StringVar(&foreachVar, "foreach-var", "", "foreach source artifact name")
	flags.IntVar(&foreachIndex, "foreach-index", 0, "foreach element index")
	flags.IntVar(&foreachSplits, "foreach-num-splits", 0, "foreach total split count")
	flags.IntVar(&parallelIndex, "parallel-index", 0, "num_parallel worker index")
	flags.IntVar(&parallelCount, "parallel-count", 0, "num_parallel worker count")

	return cmd
}
