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

// UnboundedForeachSource is satisfied by a foreach source that may not
// know its length until runtime. Len's second return is false when the
// source is unbounded; the scheduler then synthesises a control task per
// inner step instead of enumerating a fixed index range up front.
type UnboundedForeachSource interface {
	Len() (n int, ok bool)
}

// InternalTestUnboundedForeachInput is a testing affordance: a foreach
// source that always reports unbounded, regardless of its underlying
// slice length, so tests can exercise the control-task synthesis path
// without standing up a genuinely unbounded data source.
type InternalTestUnboundedForeachInput struct {
	Values []any
}

// Len always reports ok=false, marking the source unbounded.
func (s InternalTestUnboundedForeachInput) Len() (int, bool) {
	return len(s.Values), false
}
