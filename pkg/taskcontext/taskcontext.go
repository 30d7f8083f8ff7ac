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

// Package taskcontext carries the ambient "Current" snapshot bound once per
// task, before user step code runs. It is immutable and threaded through
// context.Context rather than held in a mutable package-level singleton: the
// scheduler isolates each attempt in its own OS process, so there is never a
// concurrent writer to race against, but a singleton would still make every
// package implicitly depend on global mutable state for no benefit.
package taskcontext

import (
	"context"

	"github.com/tombee/flowcore/pkg/id"
)

// Context is the immutable ambient snapshot bound once per task attempt.
type Context struct {
	Pathspec      id.Pathspec
	Retry         int
	ParallelIndex int
	ParallelCount int
	Project       string
	Tags          []string
}

// Flow, Run, Step, Task expose the pathspec components directly, matching
// the reference's flat current.flow_name/run_id/step_name/task_id surface.
func (c Context) Flow() string { return c.Pathspec.Flow }
func (c Context) Run() string  { return c.Pathspec.Run }
func (c Context) Step() string { return c.Pathspec.Step }
func (c Context) Task() string { return c.Pathspec.Task }

// IsParallelWorker reports whether this attempt is one worker of an
// @parallel step (ParallelCount > 1).
func (c Context) IsParallelWorker() bool { return c.ParallelCount > 1 }

type contextKey struct{}

// With attaches tc to ctx, returning a derived context.
func With(ctx context.Context, tc Context) context.Context {
	return context.WithValue(ctx, contextKey{}, tc)
}

// From retrieves the Context bound to ctx. ok is false if no task context
// has been bound — e.g. code running outside a task attempt.
func From(ctx context.Context) (Context, bool) {
	tc, ok := ctx.Value(contextKey{}).(Context)
	return tc, ok
}

// MustFrom retrieves the Context bound to ctx, panicking if none is bound.
// Reserved for code paths that are only ever reachable from inside a task
// attempt (user-step wrapper code), where an absent Context is a
// programming error, not a runtime condition to handle.
func MustFrom(ctx context.Context) Context {
	tc, ok := From(ctx)
	if !ok {
		panic("taskcontext: no Context bound to ctx")
	}
	return tc
}
