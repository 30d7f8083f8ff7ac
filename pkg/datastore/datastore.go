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

// Package datastore defines the artifact and log storage contract, plus a
// small explicit registry so a concrete backend (localstore, remotestore)
// is wired in by name at the orchestrator's startup, not discovered by a
// runtime scan.
package datastore

import (
	"context"
	"fmt"
	"sync"

	"github.com/tombee/flowcore/pkg/id"
)

// Stream identifies which of a task's two captured output streams a log
// operation addresses.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Datastore stores and retrieves a task's artifacts and captured logs.
// Values are opaque byte blobs; serialisation is the caller's concern.
// Every operation is keyed by a full task-level Pathspec.
type Datastore interface {
	// SaveArtifacts persists every given artifact, overwriting any stored
	// artifact of the same name. It is not atomic across the group. Callers
	// clear prior contents first via ClearTaskArtifacts — SaveArtifacts
	// itself does not implicitly clear.
	SaveArtifacts(ctx context.Context, ps id.Pathspec, artifacts map[string][]byte) error

	// LoadArtifact returns the named artifact's bytes, or ok=false if absent.
	LoadArtifact(ctx context.Context, ps id.Pathspec, name string) (value []byte, ok bool, err error)

	// LoadArtifacts returns every artifact stored for the task.
	LoadArtifacts(ctx context.Context, ps id.Pathspec) (map[string][]byte, error)

	// HasArtifact reports whether the named artifact is stored for the task.
	HasArtifact(ctx context.Context, ps id.Pathspec, name string) (bool, error)

	// ArtifactNames lists every artifact name stored for the task.
	ArtifactNames(ctx context.Context, ps id.Pathspec) ([]string, error)

	// ClearTaskArtifacts idempotently removes every artifact for the task.
	// Called before each retry attempt writes.
	ClearTaskArtifacts(ctx context.Context, ps id.Pathspec) error

	// SaveLog persists a captured output stream's full content.
	SaveLog(ctx context.Context, ps id.Pathspec, stream Stream, content string) error

	// LoadLog returns a captured output stream's content, or "" if absent.
	LoadLog(ctx context.Context, ps id.Pathspec, stream Stream) (string, error)
}

// Factory constructs a Datastore from backend-specific string settings
// (e.g. "root", "endpoint_url"), the way orchestrator config layers
// environment overrides into simple key/value pairs.
type Factory func(settings map[string]string) (Datastore, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register binds name to factory, called once per backend at the
// orchestrator's wiring point (cmd/flowcore), not from an init().
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[name] = factory
}

// New constructs the named backend's Datastore.
func New(name string, settings map[string]string) (Datastore, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("datastore: no provider registered for %q", name)
	}
	return factory(settings)
}
