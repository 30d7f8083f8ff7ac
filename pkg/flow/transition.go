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

package flow

import (
	"fmt"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// Transition records what a step's Next call declared: a list of target
// step names, optionally a foreach variable, a switch condition variable,
// or a parallel count. At most one of these three modes is set.
type Transition struct {
	Targets      []string
	ForeachVar   string
	ConditionVar string
	NumParallel  int
}

// Next records the step's transition. It does not perform any scheduling;
// the scheduler consumes the recorded Transition after the step body
// returns. Calling Next more than once per task, or combining foreach,
// condition, or num_parallel in one call, is a user-code error.
func (i *Instance) Next(targets ...string) error {
	if i.transition != nil {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "next() called more than once in this step")
	}
	if len(targets) == 0 {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "next() requires at least one target")
	}
	i.transition = &Transition{Targets: targets}
	return nil
}

// NextForeach records a foreach transition: a single target, split over
// the artifact named by foreachVar.
func (i *Instance) NextForeach(target, foreachVar string) error {
	if i.transition != nil {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "next() called more than once in this step")
	}
	i.transition = &Transition{Targets: []string{target}, ForeachVar: foreachVar}
	return nil
}

// NextParallel records a parallel-split transition: a single target,
// replicated into numParallel tasks.
func (i *Instance) NextParallel(target string, numParallel int) error {
	if i.transition != nil {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "next() called more than once in this step")
	}
	if numParallel < 1 {
		return flowerrors.NewFlowError(flowerrors.KindUserStep,
			fmt.Sprintf("num_parallel must be at least 1, got %d", numParallel))
	}
	i.transition = &Transition{Targets: []string{target}, NumParallel: numParallel}
	return nil
}

// NextSwitch records a switch transition: targets are candidate branches,
// conditionVar names the artifact whose value selects among them at
// runtime (either directly, or via the graph node's declared value→target
// dict — resolved by the scheduler, not here).
func (i *Instance) NextSwitch(conditionVar string, targets ...string) error {
	if i.transition != nil {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "next() called more than once in this step")
	}
	if len(targets) == 0 {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "next() requires at least one candidate target")
	}
	i.transition = &Transition{Targets: targets, ConditionVar: conditionVar}
	return nil
}

// TransitionOf returns the transition recorded by this task's step body, or
// nil if Next was never called (e.g. the end step).
func (i *Instance) TransitionOf() *Transition {
	return i.transition
}
