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

// Project declares the flow belongs to a named project/branch namespace,
// consumed once at run start to derive the project-qualified flow name and
// seed the run's system tags (project:<name>, project_branch:<branch>). It
// is never consulted during task execution, unlike the per-step decorators
// above.
type Project struct {
	Name   string
	Branch string
}

// Schedule declares a cron-like recurring trigger for an external scheduler
// to act on. This engine does not run a scheduler daemon itself (out of
// scope); Schedule is carried so flow definitions remain inspectable and a
// future cron integration has somewhere to read the expression from.
type Schedule struct {
	Cron     string
	Weekly   string
	Hourly   bool
	Timezone string
}

// TriggerEvent names one event this flow's @trigger decorator waits on,
// optionally renaming its published parameters on the way into this flow's
// Parameters.
type TriggerEvent struct {
	Name       string
	Parameters map[string]string
}

// Trigger declares the set of events that start a new run of this flow.
type Trigger struct {
	Events []TriggerEvent
}

// TriggerOnFinishEvent names one upstream flow whose completion starts a new
// run of this flow.
type TriggerOnFinishEvent struct {
	Flow    string
	Project string
}

// TriggerOnFinish declares the set of upstream flows this flow chains off.
type TriggerOnFinish struct {
	Flows []TriggerOnFinishEvent
}
