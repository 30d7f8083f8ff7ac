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

// topologicalOrder computes a forward-pointing node order via reverse
// postorder DFS from "start": every non-loop edge points forward, and the
// only back-edges are a self-referencing switch's loop edge to itself.
func topologicalOrder(nodes map[string]*Node) []string {
	visited := make(map[string]bool, len(nodes))
	var postorder []string

	var visit func(name string)
	visit = func(name string) {
		if visited[name] {
			return
		}
		visited[name] = true
		node, ok := nodes[name]
		if !ok {
			return
		}
		for _, out := range node.Out {
			if out == name {
				continue
			}
			visit(out)
		}
		postorder = append(postorder, name)
	}

	visit("start")
	for name := range nodes {
		visit(name)
	}

	order := make([]string, len(postorder))
	for i, name := range postorder {
		order[len(postorder)-1-i] = name
	}
	return order
}
