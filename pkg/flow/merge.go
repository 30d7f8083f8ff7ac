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

package flow

import (
	"fmt"
	"reflect"
	"sort"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// MergeOptions configures MergeArtifacts. Exclude and Include are mutually
// exclusive; supplying both is a user-code error.
type MergeOptions struct {
	Exclude []string
	Include []string
}

// MergeArtifacts implements spec §4.E's merge_artifacts, only legal in a
// join step:
//  1. Collect every non-underscore artifact present on any input.
//  2. Apply Exclude/Include.
//  3. For each remaining candidate not already set on self: adopt it if
//     every input agrees on its value, else record a conflict.
//  4. Fail with KindUnhandledMerge if any conflicts remain; otherwise apply
//     every resolved value atomically.
func (i *Instance) MergeArtifacts(in *Inputs, opts MergeOptions) error {
	if len(opts.Exclude) > 0 && len(opts.Include) > 0 {
		return flowerrors.NewFlowError(flowerrors.KindUserStep, "merge_artifacts: exclude and include are mutually exclusive")
	}

	candidates := make(map[string]struct{})
	valuesByName := make(map[string][]any)
	for _, item := range in.All() {
		for name, v := range item.Artifacts {
			if len(name) > 0 && name[0] == systemPrefix[0] {
				continue
			}
			if _, reserved := i.paramNames[name]; reserved {
				continue
			}
			if _, reserved := i.configNames[name]; reserved {
				continue
			}
			candidates[name] = struct{}{}
			valuesByName[name] = append(valuesByName[name], v)
		}
	}

	if len(opts.Include) > 0 {
		filtered := make(map[string]struct{}, len(opts.Include))
		for _, name := range opts.Include {
			if _, ok := candidates[name]; !ok {
				return flowerrors.NewFlowError(flowerrors.KindMissingMerge,
					fmt.Sprintf("merge_artifacts: included name %q is not present on any input", name)).
					WithUnhandled([]string{name})
			}
			filtered[name] = struct{}{}
		}
		candidates = filtered
	} else if len(opts.Exclude) > 0 {
		for _, name := range opts.Exclude {
			delete(candidates, name)
		}
	}

	resolved := make(map[string]any)
	var conflicts []string
	for name := range candidates {
		if _, already := i.Artifacts[name]; already {
			continue
		}
		vals := valuesByName[name]
		if allEqual(vals) {
			resolved[name] = vals[0]
		} else {
			conflicts = append(conflicts, name)
		}
	}

	if len(conflicts) > 0 {
		sort.Strings(conflicts)
		return flowerrors.NewFlowError(flowerrors.KindUnhandledMerge,
			fmt.Sprintf("merge_artifacts: conflicting values for %v", conflicts)).
			WithUnhandled(conflicts)
	}

	for name, v := range resolved {
		i.Artifacts[name] = v
	}
	return nil
}

func allEqual(values []any) bool {
	if len(values) <= 1 {
		return true
	}
	for _, v := range values[1:] {
		if !reflect.DeepEqual(values[0], v) {
			return false
		}
	}
	return true
}
