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

package graph

import (
	"fmt"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// stepSpec accumulates one step's declared shape before Build classifies it.
type stepSpec struct {
	name   string
	isJoin bool
	stepFn StepFunc
	joinFn JoinFunc

	decorators []string

	targets      []string
	foreachVar   string
	conditionVar string
	conditionMap map[string]string
	numParallel  int
}

// Option configures a step's declared out-edges and metadata at
// registration time, in place of discovering them from source.
type Option func(*stepSpec)

// Next declares a linear (one target) or split-and (multiple targets)
// transition. The end step takes no Next option at all.
func Next(targets ...string) Option {
	return func(s *stepSpec) { s.targets = targets }
}

// Foreach declares a foreach split: a single target, iterated once per
// element of the artifact named foreachVar.
func Foreach(foreachVar, target string) Option {
	return func(s *stepSpec) {
		s.targets = []string{target}
		s.foreachVar = foreachVar
	}
}

// Parallel declares a num_parallel split: a single target, replicated into
// numParallel tasks that run as one parallel cohort.
func Parallel(target string, numParallel int) Option {
	return func(s *stepSpec) {
		s.targets = []string{target}
		s.numParallel = numParallel
	}
}

// Switch declares a split-or (switch) transition over a fixed candidate
// list: conditionVar names the artifact whose runtime value selects among
// targets.
func Switch(conditionVar string, targets ...string) Option {
	return func(s *stepSpec) {
		s.targets = targets
		s.conditionVar = conditionVar
	}
}

// SwitchDict declares a split-or transition over a value→step dict: the
// condition value is looked up in dict at runtime rather than matched
// against a fixed candidate list.
func SwitchDict(conditionVar string, dict map[string]string) Option {
	return func(s *stepSpec) {
		targets := make([]string, 0, len(dict))
		for _, target := range dict {
			targets = append(targets, target)
		}
		s.targets = targets
		s.conditionVar = conditionVar
		s.conditionMap = dict
	}
}

// Decorators attaches the names of any decorators declared on this step
// (retry, catch, timeout, environment, ...); the graph only carries the
// names forward, it does not interpret them.
func Decorators(names ...string) Option {
	return func(s *stepSpec) { s.decorators = names }
}

// Builder assembles a flow's steps before classification.
type Builder struct {
	name  string
	specs map[string]*stepSpec
	order []string
	err   error
}

// New starts a builder for a flow named name.
func New(name string) *Builder {
	return &Builder{name: name, specs: make(map[string]*stepSpec)}
}

// Step registers a linear/split/foreach step body.
func (b *Builder) Step(name string, fn StepFunc, opts ...Option) *Builder {
	return b.add(name, &stepSpec{name: name, stepFn: fn}, opts)
}

// Join registers a join step body, whose second positional parameter
// receives the collected predecessor inputs.
func (b *Builder) Join(name string, fn JoinFunc, opts ...Option) *Builder {
	return b.add(name, &stepSpec{name: name, isJoin: true, joinFn: fn}, opts)
}

func (b *Builder) add(name string, spec *stepSpec, opts []Option) *Builder {
	if b.err != nil {
		return b
	}
	if _, exists := b.specs[name]; exists {
		b.err = flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			fmt.Sprintf("step %q registered more than once", name))
		return b
	}
	for _, opt := range opts {
		opt(spec)
	}
	b.specs[name] = spec
	b.order = append(b.order, name)
	return b
}

// Build classifies every registered step, resolves matching joins, and
// computes a topological order. It fails with a KindGraphInvariant
// FlowError on any structural violation accumulated during registration or
// found here (missing start/end, unreachable join).
func (b *Builder) Build() (*Graph, error) {
	if b.err != nil {
		return nil, b.err
	}

	if _, ok := b.specs["start"]; !ok {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "flow must have a 'start' step")
	}
	if _, ok := b.specs["end"]; !ok {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "flow must have an 'end' step")
	}

	nodes := make(map[string]*Node, len(b.specs))
	for name, spec := range b.specs {
		nodes[name] = &Node{
			Name:         name,
			Out:          spec.targets,
			ForeachVar:   spec.foreachVar,
			ConditionVar: spec.conditionVar,
			ConditionMap: spec.conditionMap,
			NumParallel:  spec.numParallel,
			Decorators:   spec.decorators,
			StepFn:       spec.stepFn,
			JoinFn:       spec.joinFn,
		}
	}

	for name, node := range nodes {
		for _, target := range node.Out {
			child, ok := nodes[target]
			if !ok {
				return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
					fmt.Sprintf("step %q names unknown target %q", name, target))
			}
			if !containsStr(child.In, name) {
				child.In = append(child.In, name)
			}
		}
	}

	classify(nodes, b.specs)

	for name, node := range nodes {
		if name == "start" || name == "end" {
			continue
		}
		if node.Type != NodeJoin && externalInCount(node) > 1 {
			return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
				fmt.Sprintf("step %q has multiple in-edges but was registered as a non-join step", name))
		}
	}

	if err := resolveMatchingJoins(nodes); err != nil {
		return nil, err
	}

	order := topologicalOrder(nodes)

	return &Graph{Name: b.name, Nodes: nodes, Order: order}, nil
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
