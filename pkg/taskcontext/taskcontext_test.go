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

package taskcontext_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

func TestWithAndFrom_RoundTrips(t *testing.T) {
	tc := taskcontext.Context{
		Pathspec: id.Pathspec{Flow: "MyFlow", Run: "1", Step: "start", Task: "1"},
		Retry:    2,
		Project:  "myproj",
		Tags:     []string{"user:bob"},
	}

	ctx := taskcontext.With(context.Background(), tc)
	got, ok := taskcontext.From(ctx)
	assert.True(t, ok)
	assert.Equal(t, tc, got)
	assert.Equal(t, "MyFlow", got.Flow())
	assert.Equal(t, "start", got.Step())
}

func TestFrom_AbsentReturnsFalse(t *testing.T) {
	_, ok := taskcontext.From(context.Background())
	assert.False(t, ok)
}

func TestMustFrom_PanicsWhenAbsent(t *testing.T) {
	assert.Panics(t, func() {
		taskcontext.MustFrom(context.Background())
	})
}

func TestContext_IsParallelWorker(t *testing.T) {
	solo := taskcontext.Context{ParallelCount: 1}
	assert.False(t, solo.IsParallelWorker())

	worker := taskcontext.Context{ParallelCount: 4}
	assert.True(t, worker.IsParallelWorker())
}
