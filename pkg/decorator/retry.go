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

package decorator

import (
	"context"
	"time"

	"github.com/tombee/flowcore/pkg/taskcontext"
)

// Retry is the @retry decorator. It does not itself re-invoke the step body
// — the scheduler owns the attempt loop and consults Times/MaxAttempts to
// decide whether another attempt is warranted — but it does implement
// PreStepper so each new attempt waits out the configured backoff before the
// scheduler starts it, matching the reference decorator's sleep-before-retry
// placement.
type Retry struct {
	// Times is the number of retries after the first attempt, so the total
	// attempt budget is Times+1.
	Times int
	// MinutesBetweenRetries is the wait before each retry attempt (attempt >= 1).
	MinutesBetweenRetries int
}

var _ PreStepper = (*Retry)(nil)

// MaxAttempts returns the total number of attempts the scheduler should
// allow for a step carrying this decorator, including the first.
func (r *Retry) MaxAttempts() int {
	if r.Times < 0 {
		return 1
	}
	return r.Times + 1
}

// TaskPreStep sleeps before any attempt after the first. The scheduler
// passes attempt as a 0-based index; attempt 0 is the first try.
func (r *Retry) TaskPreStep(ctx context.Context, tc taskcontext.Context, attempt int) error {
	if attempt == 0 || r.MinutesBetweenRetries <= 0 {
		return nil
	}
	wait := time.Duration(r.MinutesBetweenRetries) * time.Minute
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
