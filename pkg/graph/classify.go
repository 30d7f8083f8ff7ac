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

// classify assigns each node's Type from its declared out-edge shape, then
// promotes any node registered via Builder.Join to NodeJoin. A linear node
// that ends up with more than one external in-edge without having been
// registered as a join is caught separately, as a build error — the source
// system infers "join" from either signal (≥2 in-edges, or a second
// positional parameter); since a Go step's signature is fixed at
// registration, the explicit Builder.Join call is the only source of truth
// here, and a mismatch is a build-time mistake, not a silent promotion.
func classify(nodes map[string]*Node, specs map[string]*stepSpec) {
	for name, node := range nodes {
		switch {
		case name == "start":
			node.Type = NodeStart
		case name == "end":
			node.Type = NodeEnd
		case node.ForeachVar != "" || node.NumParallel > 0:
			node.Type = NodeForeach
		case node.ConditionVar != "":
			node.Type = NodeSplitOr
		case len(node.Out) > 1:
			node.Type = NodeSplitAnd
		default:
			node.Type = NodeLinear
		}
	}

	for name, node := range nodes {
		if node.Type != NodeLinear {
			continue
		}
		if specs[name].isJoin {
			node.Type = NodeJoin
		}
	}
}

// externalInCount counts a node's in-edges from other steps, excluding a
// self-loop (the recursive-switch form), which never counts toward
// join-promotion or the multi-predecessor invariant.
func externalInCount(node *Node) int {
	n := 0
	for _, in := range node.In {
		if in != node.Name {
			n++
		}
	}
	return n
}

// isSplit reports whether a node's type introduces a branch that needs a
// matching join.
func isSplit(t NodeType) bool {
	return t == NodeForeach || t == NodeSplitAnd || t == NodeSplitOr
}

// isSelfReferencingSwitch reports whether node is a split-or whose own
// out-edges include itself — the recursive-switch loop form, the one
// legal cycle in the graph.
func isSelfReferencingSwitch(node *Node) bool {
	if node.Type != NodeSplitOr {
		return false
	}
	return containsStr(node.Out, node.Name)
}

// resolveMatchingJoins walks out-edges depth-first from each split,
// incrementing depth on every nested split and decrementing on every join;
// the first join found at depth==0 is the split's matching join. A
// self-referencing switch is a loop, not an additional nested split, and
// never counts toward depth. Foreach splits require a matching join;
// split-and/split-or do too, unless the split is itself a self-referencing
// switch.
func resolveMatchingJoins(nodes map[string]*Node) error {
	for name, node := range nodes {
		if !isSplit(node.Type) {
			continue
		}
		if isSelfReferencingSwitch(node) {
			continue
		}

		join, err := walkToMatchingJoin(nodes, name)
		if err != nil {
			return err
		}
		if join == "" {
			return flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
				fmt.Sprintf("split %q has no reachable matching join", name))
		}
		node.MatchingJoin = join
	}
	return nil
}

func walkToMatchingJoin(nodes map[string]*Node, splitName string) (string, error) {
	visited := map[string]bool{splitName: true}
	depth := 1

	current := nodes[splitName]
	next := firstNonSelfTarget(current, splitName)

	for next != "" && !visited[next] {
		visited[next] = true
		node, ok := nodes[next]
		if !ok {
			return "", flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
				fmt.Sprintf("split %q reaches unknown step %q while resolving its matching join", splitName, next))
		}

		if isSplit(node.Type) && !isSelfReferencingSwitch(node) {
			depth++
		} else if node.Type == NodeJoin {
			depth--
			if depth == 0 {
				return node.Name, nil
			}
		}

		next = firstNonSelfTarget(node, next)
	}
	return "", nil
}

// firstNonSelfTarget returns node's first out-edge, skipping a
// self-reference so a recursive switch's loop edge doesn't stall the walk.
func firstNonSelfTarget(node *Node, selfName string) string {
	for _, out := range node.Out {
		if out != selfName {
			return out
		}
	}
	return ""
}
