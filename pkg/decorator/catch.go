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
	"fmt"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// Catch is the @catch decorator. On the step's final failed attempt it
// absorbs the failure instead of letting it propagate: the step is marked
// successful, and the wrapped exception is recorded under Var so downstream
// steps can inspect it via Instance.Get(Var).
type Catch struct {
	// Var is the artifact name the caught exception is stored under. Empty
	// means the exception is swallowed without being recorded.
	Var string
	// PrintException, when true, writes a one-line summary of the caught
	// failure to standard output before suppressing it.
	PrintException bool
}

var _ ExceptionHandler = (*Catch)(nil)

// TaskException always suppresses: @catch is only ever consulted by the
// scheduler once the retry budget for a step is exhausted, so any failure
// reaching here is final for this task.
func (c *Catch) TaskException(ctx context.Context, tc taskcontext.Context, failure error) (suppressed bool, exports map[string]any, err error) {
	if c.PrintException {
		fmt.Printf("%s: caught exception: %v\n", tc.Pathspec, failure)
	}
	if c.Var == "" {
		return true, nil, nil
	}
	return true, map[string]any{c.Var: flowerrors.Wrapf(flowerrors.KindFailureHandledByCatch, failure,
		"step %s caught by @catch", tc.Step())}, nil
}
