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

// Package runner is the programmatic entrypoint a Go program uses to launch
// a flow the same way a human would from a shell: Run/Resume fork the
// cmd/flowcore orchestrator binary as a subprocess and hand back a handle
// that polls the child's exit status and, once it has one, reads the
// result back out through pkg/client. Spin (spin.go) is the other half:
// re-executing a single step in-process, with no subprocess at all, for
// fast iteration on one step body.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tombee/flowcore/pkg/client"
	"github.com/tombee/flowcore/pkg/datastore"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/metadata"
)

// config collects what Run/Resume build into a cmd/flowcore invocation.
// Options mutate it the way the reference Runner's **kwargs become
// "--key value" pairs on the command line.
type config struct {
	env        map[string]string
	dir        string
	tags       []string
	runIDFile  string
	showOutput bool
}

// Option configures a single Run or Resume call.
type Option func(*config)

// WithEnv merges extra environment variables into the child's environment,
// overriding the parent's inherited values for matching keys.
func WithEnv(env map[string]string) Option {
	return func(c *config) {
		if c.env == nil {
			c.env = map[string]string{}
		}
		for k, v := range env {
			c.env[k] = v
		}
	}
}

// WithDir sets the child process's working directory.
func WithDir(dir string) Option {
	return func(c *config) { c.dir = dir }
}

// WithTags attaches user tags to the run being launched.
func WithTags(tags ...string) Option {
	return func(c *config) { c.tags = append(c.tags, tags...) }
}

// WithRunIDFile overrides where the child writes its allocated run id.
// Run/Resume create a temp file when this is not supplied.
func WithRunIDFile(path string) Option {
	return func(c *config) { c.runIDFile = path }
}

// ShowOutput mirrors the child's stdout/stderr to the parent's own, in
// addition to capturing it to the log files ExecutingRun.Stdout/Stderr
// read from.
func ShowOutput(v bool) Option {
	return func(c *config) { c.showOutput = v }
}

// Runner launches a named flow by invoking the cmd/flowcore binary as a
// subprocess, mirroring the reference Runner's "shell out to the flow file,
// poll the process, read results back through the client API" split
// between launching and observing a run.
type Runner struct {
	// BinaryPath is the cmd/flowcore executable to invoke. Typically the
	// caller's own os.Args[0] when the caller is itself a flowcore binary
	// built to also serve as its own orchestrator entrypoint.
	BinaryPath string
	// FlowName identifies which registered flow BinaryPath should run; it
	// is passed through as cmd/flowcore's --flow flag.
	FlowName string
	// DatastoreRoot and MetadataRoot locate the local backend the launched
	// run will write to, so ExecutingRun.Run/.Data can read it back in this
	// process via pkg/client. Remote backends are addressed by the
	// subprocess's own environment instead; DatastoreRoot/MetadataRoot may
	// be left empty in that case and callers must not use .Run/.Data.
	DatastoreRoot string
	MetadataRoot  string

	// OpenDatastore and OpenMetadata construct the client-side backends
	// used to observe a completed run. Supplied by the caller rather than
	// imported directly, since the concrete backend (localstore/localmeta
	// vs a remote one) is a wiring decision made at cmd/flowcore's startup,
	// not something pkg/runner should hardcode.
	OpenDatastore func(root string) (datastore.Datastore, error)
	OpenMetadata  func(root string) (metadata.Provider, error)
}

// Run launches "flow run" as a subprocess.
func (r *Runner) Run(ctx context.Context, opts ...Option) (*ExecutingRun, error) {
	return r.execute(ctx, "run", "", "", opts)
}

// Resume launches "flow resume", restarting from resumeStep in originRunID.
func (r *Runner) Resume(ctx context.Context, originRunID, resumeStep string, opts ...Option) (*ExecutingRun, error) {
	if originRunID == "" || resumeStep == "" {
		return nil, flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "resume requires an origin run id and a step name")
	}
	return r.execute(ctx, "resume", originRunID, resumeStep, opts)
}

func (r *Runner) execute(ctx context.Context, mode, originRunID, resumeStep string, opts []Option) (*ExecutingRun, error) {
	cfg := &config{showOutput: true}
	for _, opt := range opts {
		opt(cfg)
	}

	runIDFile := cfg.runIDFile
	if runIDFile == "" {
		f, err := os.CreateTemp("", "flowcore-runid-*")
		if err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating run id file")
		}
		f.Close()
		runIDFile = f.Name()
	}

	outFile, err := os.CreateTemp("", "flowcore-run-stdout-*.log")
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating stdout capture file")
	}
	errFile, err := os.CreateTemp("", "flowcore-run-stderr-*.log")
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating stderr capture file")
	}

	args := []string{mode}
	if mode == "resume" {
		args = append(args, resumeStep, "--origin-run-id", originRunID)
	}
	args = append(args, "--flow", r.FlowName, "--run-id-file", runIDFile)
	for _, t := range cfg.tags {
		args = append(args, "--tag", t)
	}

	cmd := exec.CommandContext(ctx, r.BinaryPath, args...)
	cmd.Dir = cfg.dir
	cmd.Env = os.Environ()
	for k, v := range cfg.env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if cfg.showOutput {
		cmd.Stdout = io.MultiWriter(outFile, os.Stdout)
		cmd.Stderr = io.MultiWriter(errFile, os.Stderr)
	} else {
		cmd.Stdout = outFile
		cmd.Stderr = errFile
	}

	if err := cmd.Start(); err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "starting %s subprocess", r.BinaryPath)
	}

	er := &ExecutingRun{
		cmd:           cmd,
		flowName:      r.FlowName,
		runIDFile:     runIDFile,
		stdoutPath:    outFile.Name(),
		stderrPath:    errFile.Name(),
		datastoreRoot: r.DatastoreRoot,
		metadataRoot:  r.MetadataRoot,
		openDatastore: r.OpenDatastore,
		openMetadata:  r.OpenMetadata,
		done:          make(chan struct{}),
	}
	go er.waitInBackground()
	return er, nil
}

// ExecutingRun is the handle returned by Runner.Run/Resume: the subprocess
// is already launched and running concurrently with the caller.
type ExecutingRun struct {
	cmd        *exec.Cmd
	flowName   string
	runIDFile  string
	stdoutPath string
	stderrPath string

	datastoreRoot string
	metadataRoot  string
	openDatastore func(root string) (datastore.Datastore, error)
	openMetadata  func(root string) (metadata.Provider, error)

	waitOnce sync.Once
	waitErr  error
	done     chan struct{}

	runIDOnce sync.Once
	runID     string

	clientOnce sync.Once
	cl         *client.Client
	clErr      error
}

func (e *ExecutingRun) waitInBackground() {
	e.waitOnce.Do(func() {
		e.waitErr = e.cmd.Wait()
		close(e.done)
	})
}

// Wait blocks until the subprocess exits, returning its error (nil on a
// clean exit, *exec.ExitError on a nonzero one).
func (e *ExecutingRun) Wait(ctx context.Context) error {
	select {
	case <-e.done:
		return e.waitErr
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Status reports "running" while the subprocess is still alive, then
// "successful" or "failed" based on its exit code, mirroring the
// reference ExecutingRun.status property.
func (e *ExecutingRun) Status() string {
	select {
	case <-e.done:
	default:
		return "running"
	}
	if e.cmd.ProcessState != nil && e.cmd.ProcessState.ExitCode() == 0 {
		return "successful"
	}
	return "failed"
}

// RunID returns the run id the subprocess allocated, reading it from the
// run-id file on first call and caching the result. It waits only while
// the file is missing (20 tries, 50ms apart); a file that exists but is
// still empty is read as it is, so an id read before the orchestrator has
// written it comes back empty and stays cached.
func (e *ExecutingRun) RunID() (string, error) {
	var err error
	e.runIDOnce.Do(func() {
		var raw []byte
		raw, err = readFileRetry(e.runIDFile, 20, 50*time.Millisecond)
		if err == nil {
			e.runID = strings.TrimSpace(string(raw))
		}
	})
	return e.runID, err
}

// Run returns the pkg/client view of the launched run, bypassing the
// ambient namespace the way the reference temporarily calls
// namespace(None) before looking up a run it just launched itself.
func (e *ExecutingRun) Run(ctx context.Context) (*client.Run, error) {
	runID, err := e.RunID()
	if err != nil {
		return nil, err
	}
	cl, err := e.client()
	if err != nil {
		return nil, err
	}
	prev := client.CurrentNamespace()
	client.SetNamespace(nil)
	defer client.SetNamespace(prev)
	return cl.Run(ctx, e.flowName+"/"+runID)
}

// Data is a shortcut for Run(ctx).Data(ctx).
func (e *ExecutingRun) Data(ctx context.Context) (map[string]any, error) {
	run, err := e.Run(ctx)
	if err != nil {
		return nil, err
	}
	return run.Data(ctx)
}

// Stdout returns the captured contents of the subprocess's standard output.
func (e *ExecutingRun) Stdout() (string, error) {
	b, err := os.ReadFile(e.stdoutPath)
	return string(b), err
}

// Stderr returns the captured contents of the subprocess's standard error.
func (e *ExecutingRun) Stderr() (string, error) {
	b, err := os.ReadFile(e.stderrPath)
	return string(b), err
}

func (e *ExecutingRun) client() (*client.Client, error) {
	e.clientOnce.Do(func() {
		if e.openDatastore == nil || e.openMetadata == nil {
			e.clErr = flowerrors.NewFlowError(flowerrors.KindConfigRequired, "runner: OpenDatastore/OpenMetadata not configured, cannot read back run results")
			return
		}
		ds, err := e.openDatastore(e.datastoreRoot)
		if err != nil {
			e.clErr = flowerrors.Wrapf(flowerrors.KindInternal, err, "opening datastore at %s", e.datastoreRoot)
			return
		}
		md, err := e.openMetadata(e.metadataRoot)
		if err != nil {
			e.clErr = flowerrors.Wrapf(flowerrors.KindInternal, err, "opening metadata at %s", e.metadataRoot)
			return
		}
		e.cl = client.New(ds, md)
	})
	return e.cl, e.clErr
}

func readFileRetry(path string, attempts int, delay time.Duration) ([]byte, error) {
	var lastErr error
	for i := 0; i < attempts; i++ {
		b, err := os.ReadFile(path)
		if err == nil {
			return b, nil
		}
		lastErr = err
		time.Sleep(delay)
	}
	return nil, flowerrors.Wrapf(flowerrors.KindNotFound, lastErr, "reading run id file %s", path)
}
