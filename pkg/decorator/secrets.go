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
	"regexp"
	"strings"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// SecretBackend resolves a named secret source to the environment variables
// it contributes. Concrete backends (a vault client, a cloud secrets
// manager) live outside this package and are wired in by whatever
// constructs the Secrets decorator.
type SecretBackend interface {
	Fetch(ctx context.Context, source string) (map[string]string, error)
}

var envVarName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Secrets is the @secrets decorator. Sources names external secret sources
// resolved through Backend; Inline supplies literal name/value pairs
// (intended for local development and tests, not production secrets).
// Every resulting variable name must be a valid identifier, must not start
// with METAFLOW_ (reserved for engine bookkeeping), must not collide across
// sources, and must not already be set in the process environment.
type Secrets struct {
	Sources []string
	Inline  map[string]string
	Backend SecretBackend
}

var _ PreStepper = (*Secrets)(nil)

// TaskPreStep fetches every configured source, validates the combined name
// set, and sets each variable in the process environment.
func (s *Secrets) TaskPreStep(ctx context.Context, tc taskcontext.Context, attempt int) error {
	resolved := map[string]string{}

	addAll := func(origin string, vars map[string]string) error {
		for name, value := range vars {
			if err := validateSecretName(name); err != nil {
				return flowerrors.Wrapf(flowerrors.KindInvalidTag, err,
					"@secrets: %s (from %s)", name, origin)
			}
			if _, exists := resolved[name]; exists {
				return flowerrors.NewFlowError(flowerrors.KindInvalidTag,
					"@secrets: "+name+" is supplied by more than one source")
			}
			if _, exists := os.LookupEnv(name); exists {
				return flowerrors.NewFlowError(flowerrors.KindInvalidTag,
					"@secrets: "+name+" would shadow an existing environment variable")
			}
			resolved[name] = value
		}
		return nil
	}

	if err := addAll("inline", s.Inline); err != nil {
		return err
	}
	for _, source := range s.Sources {
		if s.Backend == nil {
			return flowerrors.NewFlowError(flowerrors.KindInternal,
				"@secrets: source "+source+" configured with no backend")
		}
		vars, err := s.Backend.Fetch(ctx, source)
		if err != nil {
			return flowerrors.Wrapf(flowerrors.KindTransientBackend, err,
				"@secrets: fetching source %s", source)
		}
		if err := addAll(source, vars); err != nil {
			return err
		}
	}

	for name, value := range resolved {
		if err := os.Setenv(name, value); err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "@secrets: setting %s", name)
		}
	}
	return nil
}

func validateSecretName(name string) error {
	if !envVarName.MatchString(name) {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag,
			"not a valid environment variable name: "+name)
	}
	if strings.HasPrefix(name, "METAFLOW_") {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag,
			"reserved prefix METAFLOW_: "+name)
	}
	return nil
}
