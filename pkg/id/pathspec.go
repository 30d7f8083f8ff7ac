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

// Package id defines the four-part pathspec identifier model and tag
// validation shared by every other package: Flow/Run/Step/Task.
package id

import (
	"fmt"
	"strings"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// Pathspec identifies a task, or a prefix of one (flow, run, or step level).
// A fully qualified pathspec has all four fields set; client lookups may
// address a higher level by leaving trailing fields empty.
type Pathspec struct {
	Flow string
	Run  string
	Step string
	Task string
}

// String renders the pathspec in canonical slash-separated form, stopping
// at the first empty field.
func (p Pathspec) String() string {
	parts := make([]string, 0, 4)
	for _, part := range []string{p.Flow, p.Run, p.Step, p.Task} {
		if part == "" {
			break
		}
		parts = append(parts, part)
	}
	return strings.Join(parts, "/")
}

// IsTask reports whether p fully addresses a single task.
func (p Pathspec) IsTask() bool {
	return p.Flow != "" && p.Run != "" && p.Step != "" && p.Task != ""
}

// IsStep reports whether p addresses a step (with or without a task).
func (p Pathspec) IsStep() bool {
	return p.Flow != "" && p.Run != "" && p.Step != ""
}

// IsRun reports whether p addresses a run (with or without a step).
func (p Pathspec) IsRun() bool {
	return p.Flow != "" && p.Run != ""
}

// Parse splits a canonical pathspec string into its components. It
// validates that no intermediate segment is empty and that at most four
// segments are present (Flow, Run, Step, Task — fewer segments address
// higher levels).
func Parse(s string) (Pathspec, error) {
	if s == "" {
		return Pathspec{}, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "empty pathspec")
	}

	segs := strings.Split(s, "/")
	if len(segs) > 4 {
		return Pathspec{}, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
			fmt.Sprintf("pathspec %q has more than four segments", s))
	}

	for i, seg := range segs {
		if seg == "" {
			return Pathspec{}, flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
				fmt.Sprintf("pathspec %q has an empty segment at position %d", s, i))
		}
	}

	var p Pathspec
	if len(segs) > 0 {
		p.Flow = segs[0]
	}
	if len(segs) > 1 {
		p.Run = segs[1]
	}
	if len(segs) > 2 {
		p.Step = segs[2]
	}
	if len(segs) > 3 {
		p.Task = segs[3]
	}
	return p, nil
}

// WithStep returns a copy of p addressing the given step instead.
func (p Pathspec) WithStep(step string) Pathspec {
	return Pathspec{Flow: p.Flow, Run: p.Run, Step: step}
}

// WithTask returns a copy of p addressing the given task within the same step.
func (p Pathspec) WithTask(task string) Pathspec {
	return Pathspec{Flow: p.Flow, Run: p.Run, Step: p.Step, Task: task}
}
