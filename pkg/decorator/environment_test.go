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

package decorator_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/decorator"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

func TestEnvironment_TaskPreStep_SetsVars(t *testing.T) {
	e := &decorator.Environment{Vars: map[string]string{"FLOWCORE_TEST_VAR": "hello"}}
	require.NoError(t, e.TaskPreStep(context.Background(), taskcontext.Context{}, 0))
	t.Cleanup(func() { os.Unsetenv("FLOWCORE_TEST_VAR") })

	val, ok := os.LookupEnv("FLOWCORE_TEST_VAR")
	assert.True(t, ok)
	assert.Equal(t, "hello", val)
}
