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

// The tests in this file re-exec the compiled test binary itself as the
// "worker" subprocess, the same helper-process trick os/exec's own test
// suite uses: a designated environment variable tells TestMain to behave
// as a minion instead of running the real test suite, so RunAttempt gets a
// genuine child process without the module needing a separate built binary.
package executor_test

import (
	"context"
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/executor"
)

const helperEnvVar = "FLOWCORE_EXECUTOR_TEST_HELPER"

func TestMain(m *testing.M) {
	switch os.Getenv(helperEnvVar) {
	case "success":
		runHelperSuccess()
	case "failure":
		runHelperFailure()
	case "segfault":
		runHelperSegfault()
	default:
		os.Exit(m.Run())
	}
}

func runHelperSuccess() {
	w := executor.ResultWriter()
	if err := executor.WriteResult(w, executor.TaskResult{Success: true, TakenBranch: "left"}); err != nil {
		os.Exit(9)
	}
	w.Close()
	os.Exit(0)
}

func runHelperFailure() {
	w := executor.ResultWriter()
	_ = executor.WriteResult(w, executor.TaskResult{
		Success:   false,
		Exception: &executor.ExceptionPayload{Kind: "user_step_exception", Message: "boom"},
	})
	w.Close()
	os.Exit(1)
}

func runHelperSegfault() {
	_ = syscall.Kill(os.Getpid(), syscall.SIGSEGV)
	os.Exit(0) // unreachable if the signal is delivered
}

func helperSpec(t *testing.T, mode string) executor.Spec {
	t.Helper()
	self, err := os.Executable()
	require.NoError(t, err)
	return executor.Spec{
		WorkerPath: self,
		Env:        append(os.Environ(), helperEnvVar+"="+mode),
	}
}

func TestRunAttempt_Success(t *testing.T) {
	res, err := executor.RunAttempt(context.Background(), helperSpec(t, "success"))
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSuccess, res.Outcome)
	assert.Equal(t, 0, res.ExitCode)
	assert.True(t, res.Result.Success)
	assert.Equal(t, "left", res.Result.TakenBranch)
}

func TestRunAttempt_Failure(t *testing.T) {
	res, err := executor.RunAttempt(context.Background(), helperSpec(t, "failure"))
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeFailed, res.Outcome)
	assert.Equal(t, 1, res.ExitCode)
	require.NotNil(t, res.Exception)
	assert.Equal(t, "boom", res.Exception.Message)
}

func TestRunAttempt_KilledBySignal(t *testing.T) {
	res, err := executor.RunAttempt(context.Background(), helperSpec(t, "segfault"))
	require.NoError(t, err)
	assert.Equal(t, executor.OutcomeSignaled, res.Outcome)
	assert.Equal(t, syscall.SIGSEGV, res.Signal)
}
