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

import flowerrors "github.com/tombee/flowcore/pkg/errors"

// foreachStackKey is the reserved artifact name carrying the live foreach
// frame stack, copied verbatim between parent and child by LoadParentState.
const foreachStackKey = "_foreach_stack"

// Frame is one level of the foreach nesting: (step, var, index, value,
// numSplits). NumSplits is -1 when the source is declared unbounded at
// compile time, meaning it is known only at runtime.
type Frame struct {
	Step      string
	Var       string
	Index     int
	Value     any
	NumSplits int
}

// PushFrame pushes a new foreach frame, called by the scheduler before
// dispatching each inner-chain iteration.
func (i *Instance) PushFrame(f Frame) {
	i.stack = append(i.stack, f)
}

// PopFrame removes the most recently pushed frame, called by the
// scheduler when an inner chain iteration completes.
func (i *Instance) PopFrame() {
	if len(i.stack) == 0 {
		return
	}
	i.stack = i.stack[:len(i.stack)-1]
}

// ForeachStack returns the full stack of enclosing foreach frames,
// outermost first, as visible to the step currently executing.
func (i *Instance) ForeachStack() []Frame {
	return append([]Frame(nil), i.stack...)
}

// Input returns the current (innermost) foreach frame's value.
func (i *Instance) Input() (any, error) {
	if len(i.stack) == 0 {
		return nil, flowerrors.NewFlowError(flowerrors.KindUserStep, "input() called outside a foreach step")
	}
	return i.stack[len(i.stack)-1].Value, nil
}

// Index returns the current (innermost) foreach frame's index.
func (i *Instance) Index() (int, error) {
	if len(i.stack) == 0 {
		return 0, flowerrors.NewFlowError(flowerrors.KindUserStep, "index() called outside a foreach step")
	}
	return i.stack[len(i.stack)-1].Index, nil
}
