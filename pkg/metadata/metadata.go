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

// Package metadata defines the run/step/task lifecycle and tagging contract,
// plus a small explicit registry so a concrete backend (localmeta,
// sqlitemeta, remotemeta) is wired in by name at the orchestrator's startup,
// mirroring pkg/datastore's Register/New pattern.
package metadata

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Entry is one append-only metadata record attached to a task.
type Entry struct {
	Type  string `json:"type"`
	Value string `json:"value"`
}

// RunMeta is a run's externally-visible summary.
type RunMeta struct {
	Tags       []string   `json:"tags"`
	SysTags    []string   `json:"sys_tags"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Provider is the metadata backend contract. Every operation is idempotent
// where the underlying semantics allow it (NewRun/NewStep/NewTask on an
// existing pathspec updates nothing and returns no error).
type Provider interface {
	NewRun(ctx context.Context, flow, run string, userTags, sysTags []string) error
	NewStep(ctx context.Context, flow, run, step string) error
	NewTask(ctx context.Context, flow, run, step, task string) error

	// RegisterMetadata appends entries to the task's metadata log. Append
	// only: existing entries are never rewritten or removed.
	RegisterMetadata(ctx context.Context, flow, run, step, task string, entries []Entry) error

	DoneTask(ctx context.Context, flow, run, step, task string) error
	DoneRun(ctx context.Context, flow, run string) error

	IsTaskDone(ctx context.Context, flow, run, step, task string) (bool, error)
	IsRunDone(ctx context.Context, flow, run string) (bool, error)

	// GetRunIDs returns every run id for flow in reverse chronological order.
	GetRunIDs(ctx context.Context, flow string) ([]string, error)
	GetStepNames(ctx context.Context, flow, run string) ([]string, error)
	GetTaskIDs(ctx context.Context, flow, run, step string) ([]string, error)
	GetTaskMetadata(ctx context.Context, flow, run, step, task string) ([]Entry, error)

	// GetRunMeta returns ok=false if the run does not exist.
	GetRunMeta(ctx context.Context, flow, run string) (meta *RunMeta, ok bool, err error)

	// UpdateRunTags replaces the run's user tags; sys_tags are untouched.
	UpdateRunTags(ctx context.Context, flow, run string, tags []string) error
}

// Factory constructs a Provider from backend-specific string settings.
type Factory func(settings map[string]string) (Provider, error)

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

// New constructs the named backend's Provider.
func New(name string, settings map[string]string) (Provider, error) {
	registryMu.RLock()
	factory, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("metadata: no provider registered for %q", name)
	}
	return factory(settings)
}
