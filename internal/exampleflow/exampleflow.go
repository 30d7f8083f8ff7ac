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

// Package exampleflow is the flow compiled into cmd/flowcore and
// cmd/flowcore-worker: the foreach-doubling shape used as a worked example
// throughout the graph/scheduler design (a start step splits a list,
// a worker step doubles each element, and a join collects the sorted
// results). It exists so the two binaries have a concrete graph to drive
// end to end, not as a library API other flows are expected to import.
package exampleflow

import (
	"context"
	"sort"

	"github.com/tombee/flowcore/pkg/decorator"
	"github.com/tombee/flowcore/pkg/flow"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/scheduler"
)

// Name identifies this flow in metadata, pathspecs, and the --flow flag
// both binaries validate against.
const Name = "ForeachDoubling"

func startStep(ctx context.Context, f *flow.Instance) error {
	if err := f.Set("xs", []any{1.0, 2.0, 3.0}); err != nil {
		return err
	}
	return f.NextForeach("worker", "xs")
}

func workerStep(ctx context.Context, f *flow.Instance) error {
	v, err := f.Input()
	if err != nil {
		return err
	}
	n, _ := v.(float64)
	if err := f.Set("y", n*2); err != nil {
		return err
	}
	return f.Next("joiner")
}

func joinerStep(ctx context.Context, f *flow.Instance, inputs *flow.Inputs) error {
	ys := make([]float64, 0, inputs.Len())
	for _, in := range inputs.All() {
		v, _ := in.Get("y")
		n, _ := v.(float64)
		ys = append(ys, n)
	}
	sort.Float64s(ys)
	if err := f.Set("ys", ys); err != nil {
		return err
	}
	return f.Next("end")
}

func endStep(ctx context.Context, f *flow.Instance) error {
	return nil
}

// Graph builds the flow's DAG. It panics on a build error since the shape
// is fixed at compile time — a failure here means the builder call itself
// is wrong, not that runtime input was bad.
func Graph() *graph.Graph {
	g, err := graph.New(Name).
		Step("start", startStep, graph.Foreach("xs", "worker")).
		Step("worker", workerStep, graph.Next("joiner"), graph.Decorators("retry")).
		Join("joiner", joinerStep, graph.Next("end")).
		Step("end", endStep).
		Build()
	if err != nil {
		panic(err)
	}
	return g
}

// Policy resolves each step's retry budget and decorator set from the
// names the graph recorded via graph.Decorators, translating a declared
// name into a concrete pkg/decorator instance. Only "worker" carries one
// here (@retry, two retries after the first attempt).
func Policy(g *graph.Graph) scheduler.PolicyResolver {
	return func(step string) scheduler.StepPolicy {
		node := g.Node(step)
		if node == nil {
			return scheduler.StepPolicy{MaxAttempts: 1}
		}
		policy := scheduler.StepPolicy{MaxAttempts: 1}
		for _, name := range node.Decorators {
			if name == "retry" {
				r := &decorator.Retry{Times: 2}
				policy.Decorators = append(policy.Decorators, r)
				policy.MaxAttempts = r.MaxAttempts()
			}
		}
		return policy
	}
}
