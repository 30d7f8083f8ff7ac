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

// Package flowconfig implements the flow-level Parameter/IncludeFile/Config
// descriptors and the immutable ConfigValue wrapper they resolve into.
package flowconfig

import (
	"encoding/json"
	"os"
	"strconv"
	"strings"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// Kind enumerates a Parameter's declared coercion target. KindUnspecified
// means "infer from the default's Go type".
type Kind int

const (
	KindUnspecified Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindJSON
)

// Parameter is a per-flow-class declared input, bound from the CLI or from
// METAFLOW_RUN_<NAME> before the environment variable is ever consulted for
// anything else.
type Parameter struct {
	Name        string
	Default     any
	Required    bool
	Help        string
	Type        Kind
	Separator   string
	ShowDefault bool
}

func envKey(name string) string {
	return "METAFLOW_RUN_" + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

// LoadFromEnv returns the raw string override for this parameter, and
// whether one was set.
func (p Parameter) LoadFromEnv() (string, bool) {
	return os.LookupEnv(envKey(p.Name))
}

// Resolve produces the parameter's final value. raw, if non-nil, is a
// caller-supplied override (e.g. from a CLI flag); otherwise the
// environment override is consulted, then the default.
func (p Parameter) Resolve(raw *string) (any, error) {
	var val string
	var hasVal bool

	if raw != nil {
		val, hasVal = *raw, true
	} else if envVal, ok := p.LoadFromEnv(); ok {
		val, hasVal = envVal, true
	}

	if !hasVal {
		if p.Default == nil && p.Required {
			return nil, flowerrors.NewFlowError(flowerrors.KindConfigRequired,
				"parameter '"+p.Name+"' is required but not provided")
		}
		return p.Default, nil
	}

	coerced, err := p.coerce(val)
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindParameterCoercion, err,
			"parameter '%s' could not be coerced", p.Name)
	}
	return coerced, nil
}

// coerce turns a raw string override into the parameter's declared (or
// inferred) type. Bool is checked before int since a bool default and an
// int default are otherwise indistinguishable once boxed in `any`.
func (p Parameter) coerce(val string) (any, error) {
	kind := p.Type
	if kind == KindUnspecified {
		switch p.Default.(type) {
		case bool:
			kind = KindBool
		case int, int64:
			kind = KindInt
		case float64, float32:
			kind = KindFloat
		}
	}

	if kind == KindJSON {
		var out any
		if err := json.Unmarshal([]byte(val), &out); err != nil {
			return nil, err
		}
		return out, nil
	}

	if p.Separator != "" {
		return strings.Split(val, p.Separator), nil
	}

	switch kind {
	case KindBool:
		lower := strings.ToLower(val)
		return lower != "false" && lower != "0" && lower != "no" && lower != "", nil
	case KindInt:
		n, err := strconv.ParseInt(val, 10, 64)
		if err != nil {
			return nil, err
		}
		return n, nil
	case KindFloat:
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return nil, err
		}
		return f, nil
	default:
		return val, nil
	}
}
