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

package scheduler

import (
	"sync"

	"github.com/tombee/flowcore/pkg/id"
)

// joinFrame records one currently-open split on the path from "start" to
// wherever a chain's walk currently is: origin is the split's own task
// pathspec, join is the step name its branches must all reach. Splits
// nest properly (resolveMatchingJoins guarantees it), so a stack — rather
// than a single pending join — is enough to resolve arbitrarily nested
// split/join pairs correctly.
type joinFrame struct {
	origin id.Pathspec
	join   string
}

// barrier counts how many of a split's expected contributors have arrived
// at its matching join. The split registers it with the expected count
// before dispatching any children; each arriving chain decrements it and
// the last arrival triggers the join task itself.
type barrier struct {
	mu          sync.Mutex
	remaining   int
	contributed []id.Pathspec
}

// runContext is shared mutable state for one Scheduler.Run call: every
// goroutine walking a branch of the same run reports into it.
type runContext struct {
	mu       sync.Mutex
	barriers map[string]*barrier
	ended    bool
	failStep string
}

func newRunContext() *runContext {
	return &runContext{barriers: make(map[string]*barrier)}
}

func barrierKey(origin id.Pathspec, join string) string {
	return origin.String() + "|" + join
}

// registerBarrier creates the barrier for (origin, join) with the given
// expected arrival count. If expected is zero (an empty foreach split),
// the barrier is immediately ready and the caller must dispatch the join
// itself with no contributors.
func (rc *runContext) registerBarrier(origin id.Pathspec, join string, expected int) (readyNow bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.barriers[barrierKey(origin, join)] = &barrier{remaining: expected}
	return expected <= 0
}

// arrive reports that contributor has reached the matching join for
// (origin, join). The last arrival gets ready=true and the full ordered
// contributor list.
func (rc *runContext) arrive(origin id.Pathspec, join string, contributor id.Pathspec) (ready bool, contributed []id.Pathspec) {
	rc.mu.Lock()
	b := rc.barriers[barrierKey(origin, join)]
	rc.mu.Unlock()
	if b == nil {
		// No split registered this barrier (a join reached directly, e.g.
		// single in-edge at build time never happens for a real NodeJoin,
		// but defensive all the same): treat this lone arrival as complete.
		return true, []id.Pathspec{contributor}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.contributed = append(b.contributed, contributor)
	b.remaining--
	if b.remaining > 0 {
		return false, nil
	}
	return true, append([]id.Pathspec(nil), b.contributed...)
}

func (rc *runContext) markEnded() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.ended = true
}

func (rc *runContext) reachedEnd() bool {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.ended
}

func (rc *runContext) markFailed(step string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.failStep == "" {
		rc.failStep = step
	}
}

func (rc *runContext) failedStep() string {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	return rc.failStep
}
