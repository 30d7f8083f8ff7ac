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

// Package client exposes the lazy, namespace-filtered read model over a
// completed or in-flight run: Flow, Run, Step, Task, and DataArtifact
// objects that read through to the datastore and metadata provider on
// first access and cache nothing the backend itself doesn't already cache.
// Every lookup below a Flow is checked against the ambient namespace
// (SetNamespace/CurrentNamespace); a lookup outside it fails with
// KindNamespaceMismatch.
package client

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tombee/flowcore/pkg/datastore"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/metadata"
)

// Client is the shared backend handle every read-model object is built
// from. It holds no state of its own beyond the two provider interfaces.
type Client struct {
	Datastore datastore.Datastore
	Metadata  metadata.Provider
}

// New constructs a Client over the given backends.
func New(ds datastore.Datastore, md metadata.Provider) *Client {
	return &Client{Datastore: ds, Metadata: md}
}

// Flow addresses every run of a named flow.
func (c *Client) Flow(name string) *Flow {
	return &Flow{client: c, Name: name}
}

// Run addresses one run directly, given its pathspec. The run pathspec has
// two components (flow/run); checkNamespace is applied immediately.
func (c *Client) Run(ctx context.Context, pathspec string) (*Run, error) {
	ps, err := id.Parse(pathspec)
	if err != nil {
		return nil, err
	}
	if !ps.IsRun() {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "not a run pathspec: "+pathspec)
	}
	return c.Flow(ps.Flow).run(ctx, ps.Run, true)
}

// Step addresses one step directly, given its pathspec.
func (c *Client) Step(ctx context.Context, pathspec string) (*Step, error) {
	ps, err := id.Parse(pathspec)
	if err != nil {
		return nil, err
	}
	if !ps.IsStep() {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "not a step pathspec: "+pathspec)
	}
	run, err := c.Flow(ps.Flow).run(ctx, ps.Run, true)
	if err != nil {
		return nil, err
	}
	return run.step(ps.Step), nil
}

// Task addresses one task directly, given its pathspec.
func (c *Client) Task(ctx context.Context, pathspec string) (*Task, error) {
	ps, err := id.Parse(pathspec)
	if err != nil {
		return nil, err
	}
	if !ps.IsTask() {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "not a task pathspec: "+pathspec)
	}
	return c.taskAt(ps), nil
}

// taskAt builds a Task handle without a namespace check of its own; the
// check happens at the owning Run, since a task has no tags of its own
// beyond its run's.
func (c *Client) taskAt(ps id.Pathspec) *Task {
	return &Task{client: c, ps: ps}
}

func allTags(meta *metadata.RunMeta) map[string]bool {
	set := make(map[string]bool, len(meta.Tags)+len(meta.SysTags))
	for _, t := range meta.Tags {
		set[t] = true
	}
	for _, t := range meta.SysTags {
		set[t] = true
	}
	return set
}

// checkNamespace enforces spec §4.J's rule: if the ambient namespace is
// non-null, meta's tag set (user ∪ system) must contain it.
func checkNamespace(meta *metadata.RunMeta, pathspec string) error {
	ns := CurrentNamespace()
	if ns == nil {
		return nil
	}
	if !allTags(meta)[*ns] {
		return flowerrors.NewFlowError(flowerrors.KindNamespaceMismatch, pathspec+" not in namespace "+*ns)
	}
	return nil
}

// Flow addresses every run of one named flow.
type Flow struct {
	client *Client
	Name   string
}

// Runs yields every run of the flow, most recent first, optionally
// filtered to only those carrying every tag in tags, and always filtered
// by the ambient namespace.
func (f *Flow) Runs(ctx context.Context, tags ...string) ([]*Run, error) {
	runIDs, err := f.client.Metadata.GetRunIDs(ctx, f.Name)
	if err != nil {
		return nil, err
	}
	var runs []*Run
	for _, rid := range runIDs {
		meta, ok, err := f.client.Metadata.GetRunMeta(ctx, f.Name, rid)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if ns := CurrentNamespace(); ns != nil && !allTags(meta)[*ns] {
			continue
		}
		if !hasAllTags(allTags(meta), tags) {
			continue
		}
		runs = append(runs, &Run{client: f.client, Flow: f.Name, ID: rid, meta: meta})
	}
	return runs, nil
}

// Run addresses one run of the flow by id.
func (f *Flow) Run(ctx context.Context, runID string) (*Run, error) {
	return f.run(ctx, runID, true)
}

func (f *Flow) run(ctx context.Context, runID string, check bool) (*Run, error) {
	meta, ok, err := f.client.Metadata.GetRunMeta(ctx, f.Name, runID)
	if err != nil {
		return nil, err
	}
	ps := id.Pathspec{Flow: f.Name, Run: runID}
	if !ok {
		if check {
			if ns := CurrentNamespace(); ns != nil {
				return nil, flowerrors.NewFlowError(flowerrors.KindNamespaceMismatch, ps.String()+" not found")
			}
		}
		return nil, flowerrors.NewFlowError(flowerrors.KindNotFound, ps.String()+" not found")
	}
	if check {
		if err := checkNamespace(meta, ps.String()); err != nil {
			return nil, err
		}
	}
	return &Run{client: f.client, Flow: f.Name, ID: runID, meta: meta}, nil
}

// LatestRun returns the most recently created run, or ok=false if the flow
// has no runs.
func (f *Flow) LatestRun(ctx context.Context) (run *Run, ok bool, err error) {
	runIDs, err := f.client.Metadata.GetRunIDs(ctx, f.Name)
	if err != nil {
		return nil, false, err
	}
	if len(runIDs) == 0 {
		return nil, false, nil
	}
	r, err := f.run(ctx, runIDs[0], false)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// LatestSuccessfulRun returns the most recent run whose end task succeeded,
// or ok=false if none did.
func (f *Flow) LatestSuccessfulRun(ctx context.Context) (run *Run, ok bool, err error) {
	runIDs, err := f.client.Metadata.GetRunIDs(ctx, f.Name)
	if err != nil {
		return nil, false, err
	}
	for _, rid := range runIDs {
		r, err := f.run(ctx, rid, false)
		if err != nil {
			return nil, false, err
		}
		successful, err := r.Successful(ctx)
		if err != nil {
			return nil, false, err
		}
		if successful {
			return r, true, nil
		}
	}
	return nil, false, nil
}

func hasAllTags(set map[string]bool, want []string) bool {
	for _, t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

// Run is one run of a flow.
type Run struct {
	client *Client
	Flow   string
	ID     string
	meta   *metadata.RunMeta
}

// Pathspec renders the run's two-part pathspec.
func (r *Run) Pathspec() id.Pathspec { return id.Pathspec{Flow: r.Flow, Run: r.ID} }

// Tags returns the run's user and system tags combined.
func (r *Run) Tags() []string { return sortedKeys(allTags(r.meta)) }

// UserTags returns only the run's user-supplied tags.
func (r *Run) UserTags() []string { return append([]string(nil), r.meta.Tags...) }

// SystemTags returns only the run's system-assigned tags.
func (r *Run) SystemTags() []string { return append([]string(nil), r.meta.SysTags...) }

// Finished reports whether the run has been marked done.
func (r *Run) Finished(ctx context.Context) (bool, error) {
	return r.client.Metadata.IsRunDone(ctx, r.Flow, r.ID)
}

// Successful reports whether the run finished and its end step's task
// completed with _task_ok == true.
func (r *Run) Successful(ctx context.Context) (bool, error) {
	if r.meta.Status != "completed" {
		return false, nil
	}
	end := r.step("end")
	tasks, err := end.Tasks(ctx)
	if err != nil {
		if flowerrors.IsKind(err, flowerrors.KindNotFound) {
			return false, nil
		}
		return false, err
	}
	for _, t := range tasks {
		ok, err := t.Successful(ctx)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

// Data is a shortcut for the end step's (single) task data.
func (r *Run) Data(ctx context.Context) (map[string]any, error) {
	end := r.step("end")
	tasks, err := end.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	if len(tasks) == 0 {
		return nil, flowerrors.NewFlowError(flowerrors.KindNotFound, r.Pathspec().String()+" has no end task")
	}
	return tasks[len(tasks)-1].Data(ctx)
}

// Steps yields every step of the run in registration order, optionally
// filtered to those carrying every tag in tags (a step's tags are its
// run's tags, since only runs carry tags in this model).
func (r *Run) Steps(ctx context.Context, tags ...string) ([]*Step, error) {
	if !hasAllTags(allTags(r.meta), tags) {
		return nil, nil
	}
	names, err := r.client.Metadata.GetStepNames(ctx, r.Flow, r.ID)
	if err != nil {
		return nil, err
	}
	steps := make([]*Step, len(names))
	for i, name := range names {
		steps[i] = r.step(name)
	}
	return steps, nil
}

// Step addresses one named step of the run.
func (r *Run) Step(name string) *Step { return r.step(name) }

func (r *Run) step(name string) *Step {
	return &Step{client: r.client, run: r, Flow: r.Flow, RunID: r.ID, Name: name}
}

// String renders the run's pathspec, the same accessor style as Task/Step
// below, for symmetry.
func (r *Run) String() string { return r.Pathspec().String() }

// Step is one named step of one run.
type Step struct {
	client *Client
	run    *Run
	Flow   string
	RunID  string
	Name   string
}

// Pathspec renders the step's three-part pathspec.
func (s *Step) Pathspec() id.Pathspec { return id.Pathspec{Flow: s.Flow, Run: s.RunID, Step: s.Name} }

// Tags returns the step's run's tags.
func (s *Step) Tags() []string { return s.run.Tags() }

// Tasks yields every task of the step in creation order, optionally
// filtered to those carrying every tag in tags.
func (s *Step) Tasks(ctx context.Context, tags ...string) ([]*Task, error) {
	if !hasAllTags(allTags(s.run.meta), tags) {
		return nil, nil
	}
	ids, err := s.client.Metadata.GetTaskIDs(ctx, s.Flow, s.RunID, s.Name)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, flowerrors.NewFlowError(flowerrors.KindNotFound, "no tasks in step "+s.Pathspec().String())
	}
	out := make([]*Task, len(ids))
	for i, tid := range ids {
		out[i] = s.client.taskAt(s.Pathspec().WithTask(tid))
	}
	return out, nil
}

// Task returns the latest (highest task id) task of the step.
func (s *Step) Task(ctx context.Context) (*Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	return tasks[len(tasks)-1], nil
}

// ControlTasks yields only the tasks with a recorded parallel-node-index
// of 0 — the coordinating member of a @parallel cohort.
func (s *Step) ControlTasks(ctx context.Context) ([]*Task, error) {
	tasks, err := s.Tasks(ctx)
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, t := range tasks {
		entries, err := s.client.Metadata.GetTaskMetadata(ctx, t.ps.Flow, t.ps.Run, t.ps.Step, t.ps.Task)
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			if e.Type == "parallel-node-index" && e.Value == "0" {
				out = append(out, t)
				break
			}
		}
	}
	return out, nil
}

// Task is one attempt-bearing unit of work identified by a full pathspec.
type Task struct {
	client *Client
	ps     id.Pathspec
}

// Pathspec returns the task's full four-part pathspec.
func (t *Task) Pathspec() id.Pathspec { return t.ps }

// Parent returns the step this task belongs to.
func (t *Task) Parent() *Step {
	return &Step{client: t.client, Flow: t.ps.Flow, RunID: t.ps.Run, Name: t.ps.Step}
}

func (t *Task) loadArtifacts(ctx context.Context) (map[string][]byte, error) {
	return t.client.Datastore.LoadArtifacts(ctx, t.ps)
}

// Data decodes every user-visible (non-underscore-prefixed) artifact as
// JSON into a plain map, matching how pkg/scheduler encodes exports.
func (t *Task) Data(ctx context.Context) (map[string]any, error) {
	raw, err := t.loadArtifacts(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]any, len(raw))
	for name, blob := range raw {
		if strings.HasPrefix(name, "_") {
			continue
		}
		var v any
		if err := json.Unmarshal(blob, &v); err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "decoding artifact %s of %s", name, t.ps)
		}
		out[name] = v
	}
	return out, nil
}

// Artifact returns the named artifact's raw bytes, or a KindNotFound error
// if absent.
// Unlike Data, this does not filter underscore-prefixed names and does not
// decode the value — it is the primitive DataArtifact accessor.
func (t *Task) Artifact(ctx context.Context, name string) (*DataArtifact, error) {
	blob, ok, err := t.client.Datastore.LoadArtifact(ctx, t.ps, name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, flowerrors.NewFlowError(flowerrors.KindNotFound, "no artifact "+name+" in task "+t.ps.String())
	}
	return &DataArtifact{Pathspec: t.ps, Name: name, raw: blob}, nil
}

// Finished reports whether the task's attempt completed.
func (t *Task) Finished(ctx context.Context) (bool, error) {
	return t.client.Metadata.IsTaskDone(ctx, t.ps.Flow, t.ps.Run, t.ps.Step, t.ps.Task)
}

// Successful reports whether the task's "_task_ok" system artifact is true.
func (t *Task) Successful(ctx context.Context) (bool, error) {
	raw, err := t.loadArtifacts(ctx)
	if err != nil {
		return false, err
	}
	blob, ok := raw["_task_ok"]
	if !ok {
		return false, nil
	}
	var v bool
	if err := json.Unmarshal(blob, &v); err != nil {
		return false, nil
	}
	return v, nil
}

// Stdout returns the task's captured standard output.
func (t *Task) Stdout(ctx context.Context) (string, error) {
	return t.client.Datastore.LoadLog(ctx, t.ps, datastore.StreamStdout)
}

// Stderr returns the task's captured standard error.
func (t *Task) Stderr(ctx context.Context) (string, error) {
	return t.client.Datastore.LoadLog(ctx, t.ps, datastore.StreamStderr)
}

// Metadata returns the task's full append-only metadata log.
func (t *Task) Metadata(ctx context.Context) ([]metadata.Entry, error) {
	return t.client.Metadata.GetTaskMetadata(ctx, t.ps.Flow, t.ps.Run, t.ps.Step, t.ps.Task)
}

// ParentPathspecs decodes the task's recorded "parent-task-ids" metadata
// entry, the write side of which is pkg/scheduler's runTask.
func (t *Task) ParentPathspecs(ctx context.Context) ([]id.Pathspec, error) {
	entries, err := t.Metadata(ctx)
	if err != nil {
		return nil, err
	}
	for _, e := range entries {
		if e.Type != "parent-task-ids" {
			continue
		}
		var raw []string
		if err := json.Unmarshal([]byte(e.Value), &raw); err != nil {
			return nil, nil
		}
		out := make([]id.Pathspec, 0, len(raw))
		for _, s := range raw {
			ps, err := id.Parse(s)
			if err != nil {
				continue
			}
			out = append(out, ps)
		}
		return out, nil
	}
	return nil, nil
}

// ParentTasks resolves ParentPathspecs into Task handles.
func (t *Task) ParentTasks(ctx context.Context) ([]*Task, error) {
	parents, err := t.ParentPathspecs(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]*Task, len(parents))
	for i, ps := range parents {
		out[i] = t.client.taskAt(ps)
	}
	return out, nil
}

// ChildTasks scans every step after this task's own for tasks whose
// recorded parents include this task's pathspec. This is an O(run size)
// scan — the metadata provider has no reverse index — matching the
// reference client's own linear child-task search.
func (t *Task) ChildTasks(ctx context.Context) ([]*Task, error) {
	stepNames, err := t.client.Metadata.GetStepNames(ctx, t.ps.Flow, t.ps.Run)
	if err != nil {
		return nil, err
	}
	var out []*Task
	for _, sname := range stepNames {
		taskIDs, err := t.client.Metadata.GetTaskIDs(ctx, t.ps.Flow, t.ps.Run, sname)
		if err != nil {
			return nil, err
		}
		for _, tid := range taskIDs {
			candidate := id.Pathspec{Flow: t.ps.Flow, Run: t.ps.Run, Step: sname, Task: tid}
			entries, err := t.client.Metadata.GetTaskMetadata(ctx, candidate.Flow, candidate.Run, candidate.Step, candidate.Task)
			if err != nil {
				return nil, err
			}
			for _, e := range entries {
				if e.Type != "parent-task-ids" {
					continue
				}
				var parents []string
				if err := json.Unmarshal([]byte(e.Value), &parents); err != nil {
					continue
				}
				if containsString(parents, t.ps.String()) {
					out = append(out, t.client.taskAt(candidate))
				}
			}
		}
	}
	return out, nil
}

func containsString(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}

// DataArtifact is a single named artifact value.
type DataArtifact struct {
	Pathspec id.Pathspec
	Name     string
	raw      []byte
}

// Data decodes the artifact's JSON-encoded value.
func (a *DataArtifact) Data() (any, error) {
	var v any
	if err := json.Unmarshal(a.raw, &v); err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "decoding artifact %s", a.Name)
	}
	return v, nil
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
