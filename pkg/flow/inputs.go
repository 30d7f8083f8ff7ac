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

// Input is one contributing predecessor task's view, exposed to a join
// step as one element of an Inputs collection.
type Input struct {
	StepName  string
	Artifacts map[string]any
}

// Get returns the named artifact from this input, and whether it exists.
func (in Input) Get(name string) (any, bool) {
	v, ok := in.Artifacts[name]
	return v, ok
}

// Inputs is the ordered, name-indexed view over a join step's predecessor
// tasks, passed as the second positional parameter of a join step body.
type Inputs struct {
	items  []Input
	byStep map[string]int
}

// NewInputs builds an Inputs view over the given predecessor contributions,
// in the order the scheduler collected them.
func NewInputs(items []Input) *Inputs {
	byStep := make(map[string]int, len(items))
	for idx, in := range items {
		byStep[in.StepName] = idx
	}
	return &Inputs{items: items, byStep: byStep}
}

// Len returns the number of contributing predecessor tasks.
func (in *Inputs) Len() int {
	return len(in.items)
}

// At returns the i'th contribution, in collection order.
func (in *Inputs) At(i int) Input {
	return in.items[i]
}

// ByStep returns the contribution from the named predecessor step, if any.
func (in *Inputs) ByStep(name string) (Input, bool) {
	idx, ok := in.byStep[name]
	if !ok {
		return Input{}, false
	}
	return in.items[idx], true
}

// All returns every contribution, in collection order.
func (in *Inputs) All() []Input {
	return append([]Input(nil), in.items...)
}
