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
	"os"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// Environment is the @environment decorator. It sets process environment
// variables before the step body runs, so they are visible to the user step
// code and anything it shells out to. The scheduler runs every attempt in
// its own subprocess, so mutating the process environment here never leaks
// across attempts or tasks.
type Environment struct {
	Vars map[string]string
}

var _ PreStepper = (*Environment)(nil)

// TaskPreStep sets each configured variable, failing fast if any os.Setenv
// call itself fails (e.g. a NUL byte in a value).
func (e *Environment) TaskPreStep(ctx context.Context, tc taskcontext.Context, attempt int) error {
	for name, value := range e.Vars {
		if err := os.Setenv(name, value); err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err,
				"@environment: setting %s", name)
		}
	}
	return nil
}
