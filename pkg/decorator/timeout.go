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

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// Timeout is the @timeout decorator. It wraps the step body with a wall-clock
// budget; exceeding it aborts the attempt with KindTimeout rather than
// waiting for the user code to return.
type Timeout struct {
	Seconds int
	Minutes int
	Hours   int
}

var _ Decorater = (*Timeout)(nil)

// Budget returns the total duration across all three fields.
func (t *Timeout) Budget() time.Duration {
	return time.Duration(t.Seconds)*time.Second +
		time.Duration(t.Minutes)*time.Minute +
		time.Duration(t.Hours)*time.Hour
}

// TaskDecorate runs body in a goroutine and races it against Budget. A body
// that exceeds budget is abandoned (its goroutine is not killed, since Go
// offers no way to force-cancel running code without cooperative context
// checks) and the attempt fails with KindTimeout; the scheduler's subprocess
// boundary is what actually reclaims the step's resources.
func (t *Timeout) TaskDecorate(ctx context.Context, tc taskcontext.Context, body StepBody) StepBody {
	budget := t.Budget()
	if budget <= 0 {
		return body
	}
	return func(ctx context.Context) error {
		deadlineCtx, cancel := context.WithTimeout(ctx, budget)
		defer cancel()

		done := make(chan error, 1)
		go func() {
			done <- body(deadlineCtx)
		}()

		select {
		case err := <-done:
			return err
		case <-deadlineCtx.Done():
			return flowerrors.Wrapf(flowerrors.KindTimeout, deadlineCtx.Err(),
				"step %s exceeded timeout budget of %s", tc.Step(), budget)
		}
	}
}
