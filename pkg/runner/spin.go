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

package runner

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tombee/flowcore/pkg/datastore"
	"github.com/tombee/flowcore/pkg/decorator"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/flow"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// SpinOptions configures a single Spin call.
type SpinOptions struct {
	// Overrides assigns artifact values on the flow.Instance before the
	// step body runs, taking precedence over whatever was loaded from the
	// parent task(s). Mirrors the reference's ARTIFACTS-module override.
	Overrides map[string]any

	// JoinOverrides, keyed by a parent pathspec string, overrides artifacts
	// within that one parent's contribution to a join step's Inputs —
	// mirrors the reference spin's override_artifacts dict keyed by
	// "run/step/task" when the target step is a join.
	JoinOverrides map[string]map[string]any

	// Persist writes a new one-task run to Datastore/Metadata recording
	// the spin's result, instead of only returning it in memory.
	Persist bool

	// SkipDecorators runs the bare step body with no decorator lifecycle
	// (no pre/post-step hooks, no task_exception handling).
	SkipDecorators bool

	// SpinRunID names the run id used when Persist is set. A caller-chosen
	// value makes repeated spins addressable; left empty, SpinTaskID alone
	// still makes the spin pathspec predictable for test fixtures.
	SpinRunID string
	// SpinTaskID names the task id used when Persist is set. Defaults to "1".
	SpinTaskID string
}

// SpinResult is the in-memory (or, if Persisted, also on-disk) outcome of
// a Spin call: a task-shaped view over the artifacts the re-executed step
// body produced.
type SpinResult struct {
	Pathspec        id.Pathspec
	ParentPathspecs []id.Pathspec
	Persisted       bool
	artifacts       map[string]any
}

// Finished always reports true: Spin only returns once the step body has
// already run to completion (or been suppressed by a catch decorator).
func (s *SpinResult) Finished() bool { return true }

// Successful always reports true for the same reason Finished does; a
// step body that raised and was not suppressed causes Spin itself to
// return an error instead of a SpinResult.
func (s *SpinResult) Successful() bool { return true }

// Data returns every non-underscore artifact the step body produced.
func (s *SpinResult) Data() map[string]any {
	out := make(map[string]any, len(s.artifacts))
	for k, v := range s.artifacts {
		if !strings.HasPrefix(k, "_") {
			out[k] = v
		}
	}
	return out
}

// Artifact returns one artifact's value by name, including underscore-
// prefixed system artifacts (e.g. "_graph_info").
func (s *SpinResult) Artifact(name string) (any, bool) {
	v, ok := s.artifacts[name]
	return v, ok
}

// Spin re-executes a single step in-process against the task identified by
// pathspec: it loads that task's parent artifacts (or, for a join step,
// every contributing parent's artifacts) from ds/md the same way the
// scheduler would for a fresh attempt, runs the step body through the
// supplied decorator pipeline, and returns the resulting artifacts without
// ever spawning a worker subprocess. It is the fast-iteration complement
// to Runner.Run: a single step of a large flow can be replayed, with
// artifact overrides, in milliseconds instead of re-running everything
// upstream of it.
func Spin(ctx context.Context, g *graph.Graph, ds datastore.Datastore, md metadata.Provider, pipeline *decorator.Pipeline, pathspec string, opts SpinOptions) (*SpinResult, error) {
	ps, err := id.Parse(pathspec)
	if err != nil {
		return nil, err
	}
	if !ps.IsTask() {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, fmt.Sprintf("spin pathspec %q must address a single task", pathspec))
	}

	node := g.Node(ps.Step)
	if node == nil {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, fmt.Sprintf("no step %q in graph %s", ps.Step, g.Name))
	}

	origArtifacts, err := loadDecoded(ctx, ds, ps)
	if err != nil {
		return nil, err
	}

	parentPathspecs, err := parentPathspecsOf(ctx, md, ps)
	if err != nil {
		return nil, err
	}

	inst := flow.New(nil, nil, nil)
	var inputs *flow.Inputs

	if node.IsJoin() {
		inputs, err = buildJoinInputs(ctx, ds, ps.Run, parentPathspecs, opts.JoinOverrides)
		if err != nil {
			return nil, err
		}
	} else if len(parentPathspecs) > 0 {
		parentArtifacts, err := loadDecoded(ctx, ds, parentPathspecs[0])
		if err != nil {
			return nil, err
		}
		inst.LoadParentState(parentArtifacts)
	} else {
		// Start step: no parent, only this task's own artifacts (params/configs).
		inst.LoadParentState(origArtifacts)
	}

	for name, v := range opts.Overrides {
		inst.SetSystem(name, v)
	}

	tc := taskcontext.Context{Pathspec: ps}
	ctx = taskcontext.With(ctx, tc)

	runBody := func(ctx context.Context) error {
		if node.IsJoin() {
			return node.JoinFn(ctx, inst, inputs)
		}
		return node.StepFn(ctx, inst)
	}

	if opts.SkipDecorators || pipeline == nil {
		if err := runBody(ctx); err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindUserStep, err, "spin of %s", pathspec)
		}
	} else {
		if err := pipeline.RunTaskPreStep(ctx, tc, 0); err != nil {
			return nil, err
		}
		body := pipeline.WrapBody(ctx, tc, runBody)
		if err := body(ctx); err != nil {
			suppressed, exports, hErr := pipeline.RunTaskException(ctx, tc, err)
			if hErr != nil {
				return nil, hErr
			}
			if !suppressed {
				return nil, flowerrors.Wrapf(flowerrors.KindUserStep, err, "spin of %s", pathspec)
			}
			for name, v := range exports {
				inst.SetSystem(name, v)
			}
		} else if err := pipeline.RunTaskPostStep(ctx, tc); err != nil {
			return nil, err
		}
	}

	inst.SetSystem(taskOKArtifact, true)
	result := &SpinResult{
		Pathspec:        ps,
		ParentPathspecs: parentPathspecs,
		artifacts:       inst.Artifacts,
	}

	if opts.Persist {
		spinRunID := opts.SpinRunID
		if spinRunID == "" {
			spinRunID = ps.Run + "-spin"
		}
		spinTaskID := opts.SpinTaskID
		if spinTaskID == "" {
			spinTaskID = "1"
		}
		spinPS := id.Pathspec{Flow: ps.Flow, Run: spinRunID, Step: ps.Step, Task: spinTaskID}
		if err := persistSpin(ctx, ds, md, spinPS, parentPathspecs, inst.Artifacts); err != nil {
			return nil, err
		}
		result.Pathspec = spinPS
		result.Persisted = true
	}

	return result, nil
}

const (
	taskOKArtifact        = "_task_ok"
	parentTaskIDsMetaType = "parent-task-ids"
)

func loadDecoded(ctx context.Context, ds datastore.Datastore, ps id.Pathspec) (map[string]any, error) {
	raw, err := ds.LoadArtifacts(ctx, ps)
	if err != nil {
		return nil, err
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

func parentPathspecsOf(ctx context.Context, md metadata.Provider, ps id.Pathspec) ([]id.Pathspec, error) {
	entries, err := md.GetTaskMetadata(ctx, ps.Flow, ps.Run, ps.Step, ps.Task)
	if err != nil {
		return nil, err
	}
	var parents []id.Pathspec
	for _, e := range entries {
		if e.Type != parentTaskIDsMetaType {
			continue
		}
		var raw []string
		if err := json.Unmarshal([]byte(e.Value), &raw); err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "decoding parent-task-ids of %s", ps)
		}
		for _, s := range raw {
			p, err := id.Parse(s)
			if err != nil {
				return nil, err
			}
			parents = append(parents, p)
		}
	}
	return parents, nil
}

func buildJoinInputs(ctx context.Context, ds datastore.Datastore, runID string, parents []id.Pathspec, overrides map[string]map[string]any) (*flow.Inputs, error) {
	items := make([]flow.Input, 0, len(parents))
	for _, p := range parents {
		arts, err := loadDecoded(ctx, ds, p)
		if err != nil {
			return nil, err
		}
		if ov, ok := overrides[p.String()]; ok {
			for k, v := range ov {
				arts[k] = v
			}
		}
		items = append(items, flow.Input{StepName: p.Step, Artifacts: arts})
	}
	return flow.NewInputs(items), nil
}

func persistSpin(ctx context.Context, ds datastore.Datastore, md metadata.Provider, ps id.Pathspec, parents []id.Pathspec, artifacts map[string]any) error {
	if err := md.NewRun(ctx, ps.Flow, ps.Run, nil, []string{"runtime:spin"}); err != nil {
		return err
	}
	if err := md.NewStep(ctx, ps.Flow, ps.Run, ps.Step); err != nil {
		return err
	}
	if err := md.NewTask(ctx, ps.Flow, ps.Run, ps.Step, ps.Task); err != nil {
		return err
	}
	if len(parents) > 0 {
		names := make([]string, len(parents))
		for i, p := range parents {
			names[i] = p.String()
		}
		raw, err := json.Marshal(names)
		if err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding parents of %s", ps)
		}
		if err := md.RegisterMetadata(ctx, ps.Flow, ps.Run, ps.Step, ps.Task, []metadata.Entry{
			{Type: parentTaskIDsMetaType, Value: string(raw)},
		}); err != nil {
			return err
		}
	}

	encoded := make(map[string][]byte, len(artifacts))
	for name, v := range artifacts {
		b, err := json.Marshal(v)
		if err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding artifact %s of %s", name, ps)
		}
		encoded[name] = b
	}
	if err := ds.SaveArtifacts(ctx, ps, encoded); err != nil {
		return err
	}

	if err := md.DoneTask(ctx, ps.Flow, ps.Run, ps.Step, ps.Task); err != nil {
		return err
	}
	return md.DoneRun(ctx, ps.Flow, ps.Run)
}
