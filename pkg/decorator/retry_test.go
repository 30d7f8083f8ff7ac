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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/decorator"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

func TestRetry_MaxAttempts(t *testing.T) {
	assert.Equal(t, 1, (&decorator.Retry{Times: 0}).MaxAttempts())
	assert.Equal(t, 4, (&decorator.Retry{Times: 3}).MaxAttempts())
	assert.Equal(t, 1, (&decorator.Retry{Times: -5}).MaxAttempts())
}

func TestRetry_TaskPreStep_NoWaitOnFirstAttempt(t *testing.T) {
	r := &decorator.Retry{Times: 2, MinutesBetweenRetries: 10}
	start := time.Now()
	require.NoError(t, r.TaskPreStep(context.Background(), taskcontext.Context{}, 0))
	assert.Less(t, time.Since(start), 50*time.Millisecond)
}

func TestRetry_TaskPreStep_HonoursContextCancellation(t *testing.T) {
	r := &decorator.Retry{Times: 2, MinutesBetweenRetries: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.TaskPreStep(ctx, taskcontext.Context{}, 1)
	assert.ErrorIs(t, err, context.Canceled)
}
