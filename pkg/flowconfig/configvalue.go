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

package flowconfig

import (
	"fmt"
	"strings"
)

// ConfigValue is an immutable, recursively-wrapped view over a resolved
// config's decoded JSON/YAML value. Go has no dynamic attribute access, so
// the Python original's `cfg.a.b.c` becomes `cfg.Get("a.b.c")`; every nested
// map is wrapped the same way lazily, on lookup.
type ConfigValue struct {
	raw any
}

// freeze wraps v as the root of a ConfigValue tree. Named after spec §9's
// Go constructor for the immutable config wrapper.
func freeze(v any) ConfigValue {
	return ConfigValue{raw: v}
}

// Freeze is the exported entry point; freeze stays unexported to keep the
// "frozen at construction, immutable from then on" framing local to this
// file.
func Freeze(v any) ConfigValue { return freeze(v) }

// Raw returns the unwrapped value at this node (a map[string]any, []any, or
// a scalar).
func (c ConfigValue) Raw() any { return c.raw }

// Get resolves a dotted path ("a.b.c") against nested maps, wrapping the
// result. ok is false if any segment is missing or the path descends into a
// non-map.
func (c ConfigValue) Get(path string) (ConfigValue, bool) {
	cur := c.raw
	for _, segment := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return ConfigValue{}, false
		}
		val, ok := m[segment]
		if !ok {
			return ConfigValue{}, false
		}
		cur = val
	}
	return freeze(cur), true
}

// String renders scalar leaves; non-scalars render via Go's default %v
// formatting of the underlying value (callers wanting JSON should marshal
// Raw() directly).
func (c ConfigValue) String() string {
	if s, ok := c.raw.(string); ok {
		return s
	}
	return toString(c.raw)
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}

// ToMap recursively unwraps into plain Go maps/slices/scalars, mirroring
// ConfigValue.to_dict().
func (c ConfigValue) ToMap() any {
	return unwrap(c.raw)
}

func unwrap(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = unwrap(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = unwrap(val)
		}
		return out
	default:
		return v
	}
}
