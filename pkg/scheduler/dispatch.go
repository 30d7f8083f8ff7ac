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
	"sync"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"
)

// childSpec is one task to dispatch as part of a split: a target step name
// plus whatever per-child addressing it needs (a foreach frame to push, or
// a parallel worker index/count). taskID is pre-allocated by dispatchSplit
// in enumeration order, before any child goroutine starts.
type childSpec struct {
	target        string
	taskID        string
	push          *ForeachPush
	parallelIndex int
	parallelCount int
}

// runChain dispatches the task named by name and, once it succeeds, keeps
// walking forward: a linear step recurses into its single successor, a
// split registers a barrier and fans out into dispatchChildren, and a join
// reports arrival at the barrier its originating split registered. It
// returns once this branch reaches the end step, reaches a join it is not
// the last contributor to, or fails unhandled.
//
// taskID, when non-empty, is used instead of allocating a fresh one — the
// split dispatching this task already reserved it in enumeration order so
// that task ids within a step never depend on goroutine scheduling order.
func (s *Scheduler) runChain(ctx context.Context, rc *runContext, name string, stack []joinFrame, parents []id.Pathspec, push *ForeachPush, pIdx, pCount int, runID string, taskID string) error {
	node := s.Graph.Node(name)
	if node == nil {
		return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "no such step "+name)
	}

	if node.Type == graph.NodeJoin && len(stack) > 0 && stack[len(stack)-1].join == name {
		frame := stack[len(stack)-1]
		ready, contributed := rc.arrive(frame.origin, name, parents[0])
		if !ready {
			return nil
		}
		return s.runJoinAndContinue(ctx, rc, name, stack[:len(stack)-1], contributed, runID)
	}

	if taskID == "" {
		taskID = s.nextTaskID(name)
	}
	ps := id.Pathspec{Flow: s.FlowName, Run: runID, Step: name, Task: taskID}
	if err := s.Metadata.NewStep(ctx, s.FlowName, runID, name); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "registering step %s", name)
	}

	spec := AttemptSpec{
		Pathspec:        ps,
		StepName:        name,
		IsJoin:          node.Type == graph.NodeJoin,
		ParentPathspecs: parents,
		ForeachPush:     push,
		ParallelIndex:   pIdx,
		ParallelCount:   pCount,
	}

	res, ok, err := s.runTask(ctx, ps, spec)
	if err != nil {
		rc.markFailed(name)
		return err
	}
	if !ok {
		return nil
	}

	switch node.Type {
	case graph.NodeEnd:
		rc.markEnded()
		return nil

	case graph.NodeStart, graph.NodeLinear:
		if len(node.Out) == 0 {
			return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "step "+name+" has no successor and is not the end step")
		}
		return s.runChain(ctx, rc, node.Out[0], stack, []id.Pathspec{ps}, nil, 0, 0, runID, "")

	case graph.NodeSplitAnd:
		children := make([]childSpec, len(node.Out))
		for i, target := range node.Out {
			children[i] = childSpec{target: target}
		}
		return s.dispatchSplit(ctx, rc, node, ps, stack, children, runID)

	case graph.NodeSplitOr:
		return s.runSwitch(ctx, rc, node, ps, stack, res.Result.TakenBranch, runID)

	case graph.NodeForeach:
		if node.ForeachVar != "" {
			n := res.Result.NumSplits
			children := make([]childSpec, n)
			for i := 0; i < n; i++ {
				children[i] = childSpec{
					target: node.Out[0],
					push:   &ForeachPush{Step: name, Var: node.ForeachVar, Index: i, NumSplits: n},
				}
			}
			return s.dispatchSplit(ctx, rc, node, ps, stack, children, runID)
		}
		n := res.Result.NumParallel
		children := make([]childSpec, n)
		for i := 0; i < n; i++ {
			children[i] = childSpec{target: node.Out[0], parallelIndex: i, parallelCount: n}
		}
		return s.dispatchSplit(ctx, rc, node, ps, stack, children, runID)

	default:
		return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "step "+name+" has an unhandled node type")
	}
}

// runSwitch resolves a split-or's chosen branch. A self-referencing switch
// (taken == its own name) loops in place, dispatching fresh tasks at the
// same step until a different branch is chosen, without ever opening a
// join scope — resolveMatchingJoins never assigns one to this shape.
func (s *Scheduler) runSwitch(ctx context.Context, rc *runContext, node *graph.Node, ps id.Pathspec, stack []joinFrame, taken string, runID string) error {
	if taken == "" {
		return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "switch step "+node.Name+" did not report a taken branch")
	}
	if taken != node.Name {
		if node.MatchingJoin == "" {
			return s.runChain(ctx, rc, taken, stack, []id.Pathspec{ps}, nil, 0, 0, runID, "")
		}
		readyNow := rc.registerBarrier(ps, node.MatchingJoin, 1)
		if readyNow {
			return s.runJoinAndContinue(ctx, rc, node.MatchingJoin, stack, nil, runID)
		}
		return s.runChain(ctx, rc, taken, append(stack, joinFrame{origin: ps, join: node.MatchingJoin}), []id.Pathspec{ps}, nil, 0, 0, runID, "")
	}

	// Self-loop: dispatch a fresh task at the same step and re-evaluate.
	taskID := s.nextTaskID(node.Name)
	loopPs := id.Pathspec{Flow: s.FlowName, Run: runID, Step: node.Name, Task: taskID}
	spec := AttemptSpec{Pathspec: loopPs, StepName: node.Name, ParentPathspecs: []id.Pathspec{ps}}
	res, ok, err := s.runTask(ctx, loopPs, spec)
	if err != nil {
		rc.markFailed(node.Name)
		return err
	}
	if !ok {
		return nil
	}
	return s.runSwitch(ctx, rc, node, loopPs, stack, res.Result.TakenBranch, runID)
}

// dispatchSplit registers the split's barrier and fans its children out
// concurrently, bounded by the scheduler's concurrency limit.
func (s *Scheduler) dispatchSplit(ctx context.Context, rc *runContext, node *graph.Node, ps id.Pathspec, stack []joinFrame, children []childSpec, runID string) error {
	if node.MatchingJoin == "" {
		return flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "split "+node.Name+" has no matching join")
	}
	readyNow := rc.registerBarrier(ps, node.MatchingJoin, len(children))
	if readyNow {
		return s.runJoinAndContinue(ctx, rc, node.MatchingJoin, stack, nil, runID)
	}

	childStack := append(append([]joinFrame(nil), stack...), joinFrame{origin: ps, join: node.MatchingJoin})

	// Task ids are reserved here, in enumeration order, before any child
	// goroutine starts — allocating them lazily inside runChain would make
	// task-id assignment follow goroutine-scheduling order instead of the
	// children slice's order.
	for i := range children {
		children[i].taskID = s.nextTaskID(children[i].target)
	}

	sem := make(chan struct{}, s.concurrencyLimit())
	var wg sync.WaitGroup
	errs := make([]error, len(children))
	for i, c := range children {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, c childSpec) {
			defer wg.Done()
			defer func() { <-sem }()
			errs[i] = s.runChain(ctx, rc, c.target, childStack, []id.Pathspec{ps}, c.push, c.parallelIndex, c.parallelCount, runID, c.taskID)
		}(i, c)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
