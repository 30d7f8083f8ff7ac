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

// Package graph builds and classifies a flow's DAG. Unlike a system that
// discovers transitions by walking a method body's AST, a graph here is
// assembled by an explicit builder: each step declares its own out-edges via
// a Next/Foreach/Parallel/Switch option at registration time, and Build
// classifies nodes, resolves matching joins, and computes a topological
// order from that declared structure.
package graph

import (
	"context"

	"github.com/tombee/flowcore/pkg/flow"
)

// StepFunc is a linear, split, or foreach step body.
type StepFunc func(ctx context.Context, f *flow.Instance) error

// JoinFunc is a join step body; its second positional parameter is the
// collected view over every contributing predecessor task.
type JoinFunc func(ctx context.Context, f *flow.Instance, inputs *flow.Inputs) error

// NodeType classifies a graph node's role in the DAG.
type NodeType int

const (
	NodeLinear NodeType = iota
	NodeStart
	NodeEnd
	NodeSplitAnd
	NodeSplitOr
	NodeForeach
	NodeJoin
)

func (t NodeType) String() string {
	switch t {
	case NodeStart:
		return "start"
	case NodeEnd:
		return "end"
	case NodeSplitAnd:
		return "split-and"
	case NodeSplitOr:
		return "split-or"
	case NodeForeach:
		return "foreach"
	case NodeJoin:
		return "join"
	default:
		return "linear"
	}
}

// Node is one classified step in the built graph.
type Node struct {
	Name string
	Type NodeType

	In  []string
	Out []string

	ForeachVar   string
	ConditionVar string
	ConditionMap map[string]string
	NumParallel  int
	MatchingJoin string

	Decorators []string

	StepFn StepFunc
	JoinFn JoinFunc
}

// IsJoin reports whether this node's body takes the inputs parameter.
func (n *Node) IsJoin() bool {
	return n.Type == NodeJoin
}

// Graph is a fully classified, validated flow DAG.
type Graph struct {
	Name  string
	Nodes map[string]*Node

	// Order lists every node name in topological order: every non-loop edge
	// points forward. Back-edges only exist at self-referencing switches.
	Order []string
}

// Node returns the named node, or nil if no such step was registered.
func (g *Graph) Node(name string) *Node {
	return g.Nodes[name]
}
