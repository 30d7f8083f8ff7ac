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

// Package cli builds the cmd/flowcore orchestrator command and the
// cmd/flowcore-worker re-exec'd child command around a caller-supplied
// AppSpec, the way the reference's internal/cli assembles a root command
// around a caller-supplied set of subcommands. Both binaries import this
// package rather than duplicating flag parsing and backend wiring.
package cli

import (
	"fmt"

	"github.com/tombee/flowcore/pkg/datastore"
	"github.com/tombee/flowcore/pkg/datastore/localstore"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/metadata/localmeta"
	"github.com/tombee/flowcore/pkg/metadata/sqlitemeta"
)

// RegisterDefaultBackends binds the backend names both the orchestrator and
// worker CLIs recognise out of the box. It is called explicitly from
// cmd/flowcore's and cmd/flowcore-worker's main(), never from an init(): a
// concrete backend is wired in at the binary's own startup, not discovered
// by a runtime scan. remotestore/remotemeta are intentionally not
// registered here since they need a *url.URL and caller-supplied retry
// policy rather than a flat settings map; a caller that needs them
// registers those names itself alongside this call.
func RegisterDefaultBackends() {
	datastore.Register("local", func(settings map[string]string) (datastore.Datastore, error) {
		return localstore.New(settings["root"]), nil
	})
	metadata.Register("local", func(settings map[string]string) (metadata.Provider, error) {
		return localmeta.New(settings["root"]), nil
	})
	metadata.Register("sqlite", func(settings map[string]string) (metadata.Provider, error) {
		path := settings["path"]
		if path == "" {
			return nil, fmt.Errorf("metadata backend %q requires a non-empty path setting", "sqlite")
		}
		return sqlitemeta.New(sqlitemeta.Config{Path: path, WAL: settings["wal"] == "true"})
	})
}
