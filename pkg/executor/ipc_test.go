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

package executor_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/executor"
)

func TestFrame_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, executor.WriteFrame(&buf, []byte("hello")))

	got, err := executor.ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), got)
}

func TestReadFrame_EOFOnEmptyReader(t *testing.T) {
	_, err := executor.ReadFrame(bytes.NewReader(nil))
	assert.ErrorIs(t, err, io.EOF)
}

func TestResult_RoundTrips(t *testing.T) {
	var buf bytes.Buffer
	res := executor.TaskResult{Success: true, TakenBranch: "right"}
	require.NoError(t, executor.WriteResult(&buf, res))

	got, err := executor.ReadResult(&buf)
	require.NoError(t, err)
	assert.Equal(t, res, got)
}

func TestResult_FailureWithException(t *testing.T) {
	var buf bytes.Buffer
	res := executor.TaskResult{
		Success:   false,
		Exception: &executor.ExceptionPayload{Kind: "timeout_exception", Message: "exceeded budget"},
	}
	require.NoError(t, executor.WriteResult(&buf, res))

	got, err := executor.ReadResult(&buf)
	require.NoError(t, err)
	require.NotNil(t, got.Exception)
	assert.Equal(t, "timeout_exception", got.Exception.Kind)
}
