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
	"context"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/id"
)

// Resume starts newRunID by reusing every completed task from originRunID
// strictly before resumeStep, then dispatches forward from resumeStep as a
// fresh run. Reused steps are physically cloned (metadata and artifacts
// copied under the new run's pathspecs) rather than referenced across
// runs, so the rest of the scheduler never needs to reason about mixed-run
// pathspecs.
//
// This only supports resuming at a step reachable via a single linear
// chain of single-task steps — the common case of resuming after a
// top-level step failed. Resuming inside an still-open foreach, branch, or
// switch scope (where a predecessor step has more than one task) is
// rejected with KindGraphInvariant: reconstructing the split's barrier
// state from historical metadata is deferred, since splits record their
// expected contributor count in scheduler memory, not in the metadata
// provider.
func (s *Scheduler) Resume(ctx context.Context, newRunID, originRunID, resumeStep string, userTags []string) (*RunResult, error) {
	if s.Graph.Node(resumeStep) == nil {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "resume step "+resumeStep+" does not exist")
	}
	if err := s.Metadata.NewRun(ctx, s.FlowName, newRunID, userTags, []string{"resumed_from:" + originRunID}); err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "registering resumed run %s/%s", s.FlowName, newRunID)
	}

	var parents []id.Pathspec
	for _, stepName := range s.Graph.Order {
		if stepName == resumeStep {
			break
		}

		taskIDs, err := s.Metadata.GetTaskIDs(ctx, s.FlowName, originRunID, stepName)
		if err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "listing tasks for %s/%s/%s", s.FlowName, originRunID, stepName)
		}
		if len(taskIDs) != 1 {
			return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
				"resume does not support a split still open ahead of the resume point (step "+stepName+")")
		}

		done, err := s.Metadata.IsTaskDone(ctx, s.FlowName, originRunID, stepName, taskIDs[0])
		if err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "checking completion of %s/%s/%s", s.FlowName, originRunID, stepName)
		}
		if !done {
			return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
				"cannot resume: step "+stepName+" did not complete in run "+originRunID)
		}

		originPS := id.Pathspec{Flow: s.FlowName, Run: originRunID, Step: stepName, Task: taskIDs[0]}
		newPS := id.Pathspec{Flow: s.FlowName, Run: newRunID, Step: stepName, Task: taskIDs[0]}
		if err := s.cloneTask(ctx, originPS, newPS); err != nil {
			return nil, err
		}
		s.reserveTaskID(stepName, taskIDs[0])
		parents = []id.Pathspec{newPS}
	}

	rc := newRunContext()
	err := s.runChain(ctx, rc, resumeStep, nil, parents, nil, 0, 0, newRunID, "")

	res := &RunResult{RunID: newRunID}
	switch {
	case err != nil:
		res.Err = err
		res.FailedStep = rc.failedStep()
	case !rc.reachedEnd():
		res.Err = flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "resumed run ended without reaching the end step")
	}

	// A resumed run is marked done in metadata whether it succeeded or
	// failed, same as a fresh Run.
	if doneErr := s.Metadata.DoneRun(ctx, s.FlowName, newRunID); doneErr != nil {
		if res.Err == nil {
			res.Err = flowerrors.Wrapf(flowerrors.KindInternal, doneErr, "marking resumed run %s/%s done", s.FlowName, newRunID)
		}
		return res, res.Err
	}

	if res.Err != nil {
		return res, res.Err
	}
	res.Success = true
	return res, nil
}

// cloneTask physically copies one task's metadata and artifacts from
// origin to dest, preserving its attempt history.
func (s *Scheduler) cloneTask(ctx context.Context, origin, dest id.Pathspec) error {
	if err := s.Metadata.NewStep(ctx, dest.Flow, dest.Run, dest.Step); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "registering cloned step %s", dest.Step)
	}
	if err := s.Metadata.NewTask(ctx, dest.Flow, dest.Run, dest.Step, dest.Task); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "registering cloned task %s", dest)
	}

	entries, err := s.Metadata.GetTaskMetadata(ctx, origin.Flow, origin.Run, origin.Step, origin.Task)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "reading metadata for %s", origin)
	}
	if len(entries) > 0 {
		if err := s.Metadata.RegisterMetadata(ctx, dest.Flow, dest.Run, dest.Step, dest.Task, entries); err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "cloning metadata onto %s", dest)
		}
	}

	artifacts, err := s.Datastore.LoadArtifacts(ctx, origin)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "loading artifacts for %s", origin)
	}
	if len(artifacts) > 0 {
		if err := s.Datastore.SaveArtifacts(ctx, dest, artifacts); err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "cloning artifacts onto %s", dest)
		}
	}

	if err := s.Metadata.DoneTask(ctx, dest.Flow, dest.Run, dest.Step, dest.Task); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "marking cloned task %s done", dest)
	}
	return nil
}

// reserveTaskID advances step's allocator past taskID, a decimal task id,
// so a cloned task's id is never handed out again for a freshly dispatched
// one.
func (s *Scheduler) reserveTaskID(step, taskID string) {
	n := 0
	for _, c := range taskID {
		if c < '0' || c > '9' {
			return
		}
		n = n*10 + int(c-'0')
	}
	s.taskMu.Lock()
	defer s.taskMu.Unlock()
	if n > s.taskSeq[step] {
		s.taskSeq[step] = n
	}
}
