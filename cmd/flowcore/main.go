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

// Command flowcore is the orchestrator binary for the ForeachDoubling
// flow: it drives runs to completion, re-exec'ing cmd/flowcore-worker once
// per task attempt.
package main

import (
	"fmt"
	"os"
	"path/filepath"

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

	workerBinary := os.Getenv("FLOWCORE_WORKER_BINARY")
	if workerBinary == "" {
		self, err := os.Executable()
		if err != nil {
			fmt.Fprintf(os.Stderr, "flowcore: resolving own binary path: %v\n", err)
			os.Exit(2)
		}
		workerBinary = filepath.Join(filepath.Dir(self), "flowcore-worker")
	}

	root := cli.NewOrchestratorCommand(app, workerBinary)
	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "flowcore: %v\n", err)
		os.Exit(1)
	}
}
