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

// Command flowcore-worker runs exactly one task attempt of the
// ForeachDoubling flow and exits. cmd/flowcore re-execs this binary once
// per attempt via pkg/executor; it is never invoked directly by a human.
package main

import (
	"fmt"
	"os"

	"github.com/tombee/flowcore/internal/exampleflow"
	"github.com/tombee/flowcore/pkg/cli"
)

func main() {
	graph := exampleflow.Graph()
	app := cli.AppSpec{
		Name:   exampleflow.Name,
		Graph:  graph,
		Policy: exampleflow.Policy(graph),
	}
	cli.RegisterDefaultBackends()

	cmd := cli.NewWorkerCommand(app)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowcore-worker: %v\n", err)
		if cli.IsPreflight(err) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
