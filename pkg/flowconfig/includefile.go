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
	"os"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// IncludeFile is a file-backed parameter: its value is the content of a
// local file read at bind time, not the path itself.
type IncludeFile struct {
	Name     string
	Default  string // path, used when no override is supplied
	Required bool
	Help     string
	IsText   bool
}

// LoadFromEnv mirrors Parameter.LoadFromEnv: an override path supplied via
// METAFLOW_RUN_<NAME>.
func (f IncludeFile) LoadFromEnv() (string, bool) {
	return os.LookupEnv(envKey(f.Name))
}

// Resolve reads the file at the resolved path (override, else env, else
// Default) and returns its content. IsText does not change how the file is
// read: the raw bytes are returned as a string either way.
func (f IncludeFile) Resolve(path *string) (string, error) {
	target := f.Default
	if path != nil {
		target = *path
	} else if envPath, ok := f.LoadFromEnv(); ok {
		target = envPath
	}

	if target == "" {
		if f.Required {
			return "", flowerrors.NewFlowError(flowerrors.KindConfigRequired,
				"include file '"+f.Name+"' is required but no path was provided")
		}
		return "", nil
	}

	data, err := os.ReadFile(target)
	if err != nil {
		return "", flowerrors.Wrap(err, "include file '"+f.Name+"': read "+target)
	}
	return string(data), nil
}
