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
	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// configEnv is the restricted expression environment: a map of resolved
// config name -> decoded value, so a decorator attribute written as
// "mycfg.nested.value" resolves "mycfg" as a top-level identifier and walks
// into it. The environment defines no other identifiers and no functions of
// its own; expr's standard built-in functions stay available, since
// CompileRef does not disable them.
type configEnv map[string]any

// DeferredRef is a compiled config expression, e.g. a decorator attribute
// written as "mycfg.nested.value" in a flow definition. Compilation happens
// once at flow-registration time so a malformed reference fails before any
// task runs.
type DeferredRef struct {
	source  string
	program *vm.Program
}

// CompileRef validates and compiles a deferred config reference against the
// restricted environment. It never evaluates the expression.
func CompileRef(source string) (*DeferredRef, error) {
	program, err := expr.Compile(source, expr.Env(configEnv{}), expr.AllowUndefinedVariables())
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindConfigRequired, err,
			"config expression %q failed to compile", source)
	}
	return &DeferredRef{source: source, program: program}, nil
}

// Resolve evaluates the compiled reference against the given resolved
// configs map (name -> decoded ConfigValue.Raw()).
func (r *DeferredRef) Resolve(resolvedConfigs map[string]any) (any, error) {
	out, err := expr.Run(r.program, configEnv(resolvedConfigs))
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindConfigRequired, err,
			"config expression %q failed to evaluate", r.source)
	}
	return out, nil
}

// Source returns the original expression text, e.g. for error messages
// attributing a failure to the decorator attribute that held it.
func (r *DeferredRef) Source() string { return r.source }
