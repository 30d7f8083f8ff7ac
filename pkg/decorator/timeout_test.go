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
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

func TestTimeout_Budget(t *testing.T) {
	to := &decorator.Timeout{Seconds: 30, Minutes: 1, Hours: 1}
	assert.Equal(t, time.Hour+61*time.Second, to.Budget())
}

func TestTimeout_TaskDecorate_ZeroBudgetPassesThroughUnwrapped(t *testing.T) {
	to := &decorator.Timeout{}
	called := false
	body := to.TaskDecorate(context.Background(), taskcontext.Context{}, func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, body(context.Background()))
	assert.True(t, called)
}

func TestTimeout_TaskDecorate_AllowsBodyWithinBudget(t *testing.T) {
	to := &decorator.Timeout{Seconds: 5}
	body := to.TaskDecorate(context.Background(), taskcontext.Context{}, func(ctx context.Context) error {
		return nil
	})
	require.NoError(t, body(context.Background()))
}

func TestTimeout_TaskDecorate_ExceedingBudgetReturnsKindTimeout(t *testing.T) {
	to := &decorator.Timeout{Seconds: 1}
	body := to.TaskDecorate(context.Background(), taskcontext.Context{}, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	err := body(context.Background())
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindTimeout, flowerrors.KindOf(err))
}
