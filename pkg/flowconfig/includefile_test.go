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

package flowconfig_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/flowconfig"
)

func TestIncludeFile_Resolve_ReadsDefaultPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data.csv")
	require.NoError(t, os.WriteFile(path, []byte("a,b,c\n1,2,3\n"), 0o644))

	f := flowconfig.IncludeFile{Name: "dataset", Default: path, IsText: true}
	content, err := f.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "a,b,c\n1,2,3\n", content)
}

func TestIncludeFile_Resolve_OverridePathWins(t *testing.T) {
	defaultPath := filepath.Join(t.TempDir(), "default.txt")
	overridePath := filepath.Join(t.TempDir(), "override.txt")
	require.NoError(t, os.WriteFile(defaultPath, []byte("default"), 0o644))
	require.NoError(t, os.WriteFile(overridePath, []byte("override"), 0o644))

	f := flowconfig.IncludeFile{Name: "dataset", Default: defaultPath, IsText: true}
	content, err := f.Resolve(&overridePath)
	require.NoError(t, err)
	assert.Equal(t, "override", content)
}

func TestIncludeFile_Resolve_RequiredWithNoPathFails(t *testing.T) {
	f := flowconfig.IncludeFile{Name: "dataset", Required: true}
	_, err := f.Resolve(nil)
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindConfigRequired, flowerrors.KindOf(err))
}

func TestIncludeFile_Resolve_OptionalWithNoPathReturnsEmpty(t *testing.T) {
	f := flowconfig.IncludeFile{Name: "dataset"}
	content, err := f.Resolve(nil)
	require.NoError(t, err)
	assert.Equal(t, "", content)
}
