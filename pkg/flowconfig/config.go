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
	"encoding/json"
	"os"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// Parser parses a config's raw string content into a decoded value (JSON is
// the default when Parser is nil).
type Parser func(raw string) (any, error)

// Config is a flow-level config descriptor, resolved once at run start.
type Config struct {
	Name         string
	Required     bool
	Parser       Parser
	Help         string
	Plain        bool // if true, skip ConfigValue wrapping even for map results
	Default      string
	DefaultValue func(resolved map[string]ConfigValue) (any, error)
}

// Sources, in precedence order, feed into Resolve: CLI config-value,
// CLI config file path, environment, DefaultValue, Default.

// Resolve resolves the descriptor's final value. cliValue/cliFile are the
// highest-precedence overrides (already read from argv by the caller);
// resolvedSoFar feeds already-resolved sibling configs into DefaultValue,
// matching the "read-only view of already-resolved configs" requirement.
func (c Config) Resolve(cliValue, cliFile *string, resolvedSoFar map[string]ConfigValue) (ConfigValue, error) {
	var raw string
	var haveRaw bool

	switch {
	case cliValue != nil:
		raw, haveRaw = *cliValue, true
	case cliFile != nil:
		data, err := os.ReadFile(*cliFile)
		if err != nil {
			return ConfigValue{}, flowerrors.Wrap(err, "config '"+c.Name+"': read "+*cliFile)
		}
		raw, haveRaw = string(data), true
	default:
		if envVal, ok := os.LookupEnv("METAFLOW_FLOW_CONFIG_VALUE"); ok {
			raw, haveRaw = envVal, true
		} else if envFile, ok := os.LookupEnv("METAFLOW_FLOW_CONFIG"); ok {
			data, err := os.ReadFile(envFile)
			if err != nil {
				return ConfigValue{}, flowerrors.Wrap(err, "config '"+c.Name+"': read METAFLOW_FLOW_CONFIG")
			}
			raw, haveRaw = string(data), true
		}
	}

	var decoded any
	var err error

	switch {
	case haveRaw:
		decoded, err = c.decode(raw)
	case c.DefaultValue != nil:
		decoded, err = c.DefaultValue(resolvedSoFar)
	case c.Default != "":
		decoded, err = c.resolveDefaultPath()
	default:
		if c.Required {
			return ConfigValue{}, flowerrors.NewFlowError(flowerrors.KindConfigRequired,
				"config '"+c.Name+"' is required but not provided")
		}
		return freeze(nil), nil
	}
	if err != nil {
		return ConfigValue{}, err
	}

	if !c.Plain {
		if m, ok := decoded.(map[string]any); ok {
			return freeze(m), nil
		}
	}
	return freeze(decoded), nil
}

// decode applies the declared Parser, falling back to JSON.
func (c Config) decode(raw string) (any, error) {
	if c.Parser != nil {
		return c.Parser(raw)
	}
	var out any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		// Non-JSON literal content (e.g. a plain string config) is kept as-is,
		// matching the "parsed by the declared parser or JSON" fallback.
		return raw, nil
	}
	return out, nil
}

// resolveDefaultPath treats Default as a file path; on read failure the
// literal string is used as the value instead (matching the reference's
// broad except-and-fall-back-to-literal behavior).
func (c Config) resolveDefaultPath() (any, error) {
	data, err := os.ReadFile(c.Default)
	if err != nil {
		return c.Default, nil
	}
	return c.decode(string(data))
}
