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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/flowconfig"
)

func TestCompileRef_ResolvesNestedValue(t *testing.T) {
	ref, err := flowconfig.CompileRef("mycfg.nested.value")
	require.NoError(t, err)

	resolved := map[string]any{
		"mycfg": map[string]any{
			"nested": map[string]any{"value": 3.0},
		},
	}
	out, err := ref.Resolve(resolved)
	require.NoError(t, err)
	assert.Equal(t, 3.0, out)
}

func TestCompileRef_InvalidSyntaxFailsAtCompileTime(t *testing.T) {
	_, err := flowconfig.CompileRef("mycfg..value")
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindConfigRequired, flowerrors.KindOf(err))
}

func TestCompileRef_MissingKeyResolvesToNil(t *testing.T) {
	ref, err := flowconfig.CompileRef("mycfg.missing")
	require.NoError(t, err)

	out, err := ref.Resolve(map[string]any{"mycfg": map[string]any{}})
	require.NoError(t, err)
	assert.Nil(t, out, "a missing key on a dynamic map env resolves to nil, not an error")
}

func TestCompileRef_Source(t *testing.T) {
	ref, err := flowconfig.CompileRef("mycfg.value")
	require.NoError(t, err)
	assert.Equal(t, "mycfg.value", ref.Source())
}
