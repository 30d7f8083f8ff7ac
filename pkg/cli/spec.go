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

package cli

import (
	"github.com/tombee/flowcore/pkg/datastore"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/scheduler"
)

// AppSpec is the one flow a compiled cmd/flowcore / cmd/flowcore-worker
// pair serves. Each flow gets its own pair of binaries built around the
// same AppSpec value, the Go analogue of a Python flow file being its own
// __main__ entrypoint: there is no runtime registry mapping a --flow name
// to a graph, since the graph is compiled into the binary itself.
type AppSpec struct {
	// Name identifies the flow in pathspecs and is checked against the
	// --flow flag both CLIs accept, catching an accidental mismatch between
	// an orchestrator and worker binary pair.
	Name string
	// Graph is the flow's built DAG.
	Graph *graph.Graph
	// Policy resolves each step's retry budget and decorator set. A nil
	// Policy gives every step a single attempt and no decorators.
	Policy scheduler.PolicyResolver
}

func openDatastore(name, root string) (datastore.Datastore, error) {
	ds, err := datastore.New(name, map[string]string{"root": root})
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindConfigRequired, err, "opening datastore %q", name)
	}
	return ds, nil
}

func openMetadata(name, root string) (metadata.Provider, error) {
	md, err := metadata.New(name, map[string]string{"root": root, "path": root})
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindConfigRequired, err, "opening metadata provider %q", name)
	}
	return md, nil
}
