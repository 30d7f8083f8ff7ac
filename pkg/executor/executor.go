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

package executor

import (
	"context"
	"io"
	"os"
	"os/exec"
	"syscall"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// Outcome classifies how a single attempt ended.
type Outcome int

const (
	// OutcomeSuccess: the child exited 0 and produced a valid TaskResult.
	OutcomeSuccess Outcome = iota
	// OutcomeFailed: the child exited 1 (a caught exception) or 2 (an
	// uncatchable base condition), or exited 0 but never wrote a result.
	OutcomeFailed
	// OutcomeSignaled: the child was killed by a signal (WIFSIGNALED).
	OutcomeSignaled
)

// AttemptResult is everything the scheduler needs to decide the next step
// after one task attempt: whether to retry, invoke task_exception hooks, or
// record success.
type AttemptResult struct {
	Outcome    Outcome
	Result     TaskResult // meaningful only when Outcome == OutcomeSuccess
	Exception  *ExceptionPayload
	ExitCode   int
	Signal     syscall.Signal // meaningful only when Outcome == OutcomeSignaled
	StdoutPath string
	StderrPath string
}

// Spec describes one attempt to launch: the worker binary and the
// arguments that identify which pathspec/attempt it should run. The
// scheduler supplies WorkerPath (normally the separate flowcore-worker
// binary found beside the orchestrator's own executable) and Args.
type Spec struct {
	WorkerPath string
	Args       []string
	Env        []string
	Dir        string
}

// RunAttempt launches the worker subprocess described by spec, redirects
// its stdout/stderr to temporary files, and reads the single TaskResult
// frame the child writes over a dedicated pipe passed as its first extra
// file descriptor (fd 3). It never forks: cmd/flowcore-worker is always a
// real subprocess, consistent with the reference's fork-and-collect
// contract translated to Go's exec.Command/os.Pipe idiom.
func RunAttempt(ctx context.Context, spec Spec) (AttemptResult, error) {
	outFile, err := os.CreateTemp("", "flowcore-out-*.log")
	if err != nil {
		return AttemptResult{}, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating stdout capture file")
	}
	defer outFile.Close()

	errFile, err := os.CreateTemp("", "flowcore-err-*.log")
	if err != nil {
		return AttemptResult{}, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating stderr capture file")
	}
	defer errFile.Close()

	resR, resW, err := os.Pipe()
	if err != nil {
		return AttemptResult{}, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating result pipe")
	}

	cmd := exec.CommandContext(ctx, spec.WorkerPath, spec.Args...)
	cmd.Stdout = outFile
	cmd.Stderr = errFile
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.ExtraFiles = []*os.File{resW}

	if err := cmd.Start(); err != nil {
		resR.Close()
		resW.Close()
		return AttemptResult{}, flowerrors.Wrapf(flowerrors.KindInternal, err, "starting worker process")
	}
	// The parent's copy of the write end must close so ReadFrame observes
	// EOF once the child's copy closes (on exit, or if it never writes).
	resW.Close()

	type readOutcome struct {
		res TaskResult
		err error
	}
	resCh := make(chan readOutcome, 1)
	go func() {
		res, err := ReadResult(resR)
		resCh <- readOutcome{res: res, err: err}
	}()

	waitErr := cmd.Wait()
	resR.Close()
	read := <-resCh

	out := AttemptResult{
		StdoutPath: outFile.Name(),
		StderrPath: errFile.Name(),
	}

	if state := cmd.ProcessState; state != nil {
		out.ExitCode = state.ExitCode()
		if status, ok := state.Sys().(syscall.WaitStatus); ok && status.Signaled() {
			out.Outcome = OutcomeSignaled
			out.Signal = status.Signal()
			return out, nil
		}
	}

	if read.err == nil && out.ExitCode == 0 {
		out.Outcome = OutcomeSuccess
		out.Result = read.res
		out.Exception = read.res.Exception
		return out, nil
	}

	out.Outcome = OutcomeFailed
	if read.err == nil {
		out.Exception = read.res.Exception
	}
	if waitErr != nil {
		if _, isExitErr := waitErr.(*exec.ExitError); !isExitErr {
			return out, flowerrors.Wrapf(flowerrors.KindInternal, waitErr, "waiting for worker process")
		}
	}
	return out, nil
}

// ResultWriter returns the pipe the worker child should write its single
// TaskResult frame to. It is always fd 3: cmd.ExtraFiles places resW first,
// and file descriptors 0/1/2 are already claimed by stdin/stdout/stderr.
func ResultWriter() io.WriteCloser {
	return os.NewFile(3, "flowcore-result")
}
