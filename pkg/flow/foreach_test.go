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

package flow_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/flow"
)

func TestInstance_ForeachStack_EmptyByDefault(t *testing.T) {
	inst := flow.New(nil, nil, nil)
	assert.Empty(t, inst.ForeachStack())

	_, err := inst.Input()
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindUserStep, flowerrors.KindOf(err))

	_, err = inst.Index()
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindUserStep, flowerrors.KindOf(err))
}

func TestInstance_PushPopFrame(t *testing.T) {
	inst := flow.New(nil, nil, nil)

	inst.PushFrame(flow.Frame{Step: "split", Var: "xs", Index: 0, Value: "a", NumSplits: 3})
	inst.PushFrame(flow.Frame{Step: "inner", Var: "ys", Index: 1, Value: "b", NumSplits: -1})

	stack := inst.ForeachStack()
	require.Len(t, stack, 2)
	assert.Equal(t, "xs", stack[0].Var)
	assert.Equal(t, "ys", stack[1].Var)

	v, err := inst.Input()
	require.NoError(t, err)
	assert.Equal(t, "b", v)

	idx, err := inst.Index()
	require.NoError(t, err)
	assert.Equal(t, 1, idx)

	inst.PopFrame()
	stack = inst.ForeachStack()
	require.Len(t, stack, 1)

	v, err = inst.Input()
	require.NoError(t, err)
	assert.Equal(t, "a", v)
}

func TestInstance_PopFrame_EmptyIsNoop(t *testing.T) {
	inst := flow.New(nil, nil, nil)
	inst.PopFrame()
	assert.Empty(t, inst.ForeachStack())
}

func TestInstance_ForeachStack_ReturnsCopy(t *testing.T) {
	inst := flow.New(nil, nil, nil)
	inst.PushFrame(flow.Frame{Step: "split", Var: "xs", Index: 0, Value: "a", NumSplits: -1})

	stack := inst.ForeachStack()
	stack[0].Value = "mutated"

	v, err := inst.Input()
	require.NoError(t, err)
	assert.Equal(t, "a", v, "mutating the returned slice must not affect the instance's own stack")
}
