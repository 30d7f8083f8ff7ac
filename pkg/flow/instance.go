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

// Package flow provides the per-task Instance: the explicit artifacts map
// and transition recorder that a step body reads and writes, replacing the
// dynamic attribute interception of the source system with a Get/Set
// boundary.
package flow

import (
	"fmt"
	"strings"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// systemPrefix marks artifact names reserved for the scheduler's own
// bookkeeping (_task_ok, _foreach_stack, _exception, _graph_info, _card_*).
const systemPrefix = "_"

// Instance is the per-task object a step body operates on. It is
// constructed fresh for each task attempt by the scheduler.
type Instance struct {
	Artifacts map[string]any

	paramNames    map[string]struct{}
	configNames   map[string]struct{}
	classVarNames map[string]struct{}

	transition *Transition
	stack      []Frame
}

// New constructs an empty Instance. paramNames, configNames, and
// classVarNames list the reserved names that a step body may not assign;
// they are populated from the flow class's declared Parameter/Config/class
// variable descriptors once at flow-registration time and passed down by
// the scheduler for each task.
func New(paramNames, configNames, classVarNames []string) *Instance {
	return &Instance{
		Artifacts:     make(map[string]any),
		paramNames:    toSet(paramNames),
		configNames:   toSet(configNames),
		classVarNames: toSet(classVarNames),
	}
}

func toSet(names []string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

// Get returns the artifact value bound to name, and whether it exists.
// A missing name (neither an artifact nor a declared parameter/config/class
// variable) is reported via ok=false; callers that need the source
// system's AttributeMissing failure mode should use MustGet.
func (i *Instance) Get(name string) (any, bool) {
	v, ok := i.Artifacts[name]
	return v, ok
}

// MustGet returns the artifact value bound to name, or a KindNotFound
// FlowError if name is bound nowhere.
func (i *Instance) MustGet(name string) (any, error) {
	v, ok := i.Get(name)
	if !ok {
		return nil, flowerrors.NewFlowError(flowerrors.KindNotFound,
			fmt.Sprintf("attribute %q is neither an artifact nor a declared descriptor", name))
	}
	return v, nil
}

// Set assigns an artifact value from user step code. Assigning to a
// parameter, config, or class variable name, or to an underscore-prefixed
// system name, is rejected: the source system treats this as a user-code
// error.
func (i *Instance) Set(name string, v any) error {
	if err := i.checkMutable(name); err != nil {
		return err
	}
	i.Artifacts[name] = v
	return nil
}

func (i *Instance) checkMutable(name string) error {
	if _, ok := i.paramNames[name]; ok {
		return flowerrors.NewFlowError(flowerrors.KindUserStep,
			fmt.Sprintf("cannot assign to parameter %q", name))
	}
	if _, ok := i.configNames[name]; ok {
		return flowerrors.NewFlowError(flowerrors.KindUserStep,
			fmt.Sprintf("cannot assign to config %q", name))
	}
	if _, ok := i.classVarNames[name]; ok {
		return flowerrors.NewFlowError(flowerrors.KindUserStep,
			fmt.Sprintf("cannot assign to class variable %q", name))
	}
	if strings.HasPrefix(name, systemPrefix) {
		return flowerrors.NewFlowError(flowerrors.KindUserStep,
			fmt.Sprintf("%q is a reserved system artifact name", name))
	}
	return nil
}

// SetSystem assigns an underscore-prefixed system artifact (_task_ok,
// _exception, etc). Only the scheduler and executor call this; it bypasses
// the reserved-name check that Set enforces against user step code.
func (i *Instance) SetSystem(name string, v any) {
	i.Artifacts[name] = v
}

// ArtifactNames returns the names of every non-underscore artifact
// currently bound, the set exposed to the client's Task.data view and to
// merge_artifacts.
func (i *Instance) ArtifactNames() []string {
	names := make([]string, 0, len(i.Artifacts))
	for name := range i.Artifacts {
		if strings.HasPrefix(name, systemPrefix) {
			continue
		}
		names = append(names, name)
	}
	return names
}

// LoadParentState copies every non-underscore artifact from parent into
// this instance and extracts _foreach_stack verbatim, per spec §4.E's
// load_parent_state.
func (i *Instance) LoadParentState(parent map[string]any) {
	for name, v := range parent {
		if name == foreachStackKey {
			if frames, ok := v.([]Frame); ok {
				i.stack = append([]Frame(nil), frames...)
			}
			continue
		}
		if strings.HasPrefix(name, systemPrefix) {
			continue
		}
		i.Artifacts[name] = v
	}
}
