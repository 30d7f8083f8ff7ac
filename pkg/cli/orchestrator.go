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

// Package cli assembles cmd/flowcore's orchestrator command and
// cmd/flowcore-worker's single-attempt command around a caller-supplied
// AppSpec. Both binaries import this package and compile in their own
// flow; there is no runtime flow registry, the Go analogue of a Metaflow
// flow file being its own __main__ entrypoint.
package cli

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/tombee/flowcore/pkg/client"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/scheduler"
)

// globalFlags are the top-level options every subcommand reads, mirroring
// spec line 248's "--metadata, --datastore, --environment, --with, --quiet".
// --environment and --with are accepted for forward compatibility with
// flow-level decorators that read them, but this orchestrator does not yet
// act on either; --quiet suppresses the run start/finish progress lines.
type globalFlags struct {
	flowName      string
	datastoreName string
	datastoreRoot string
	metadataName  string
	metadataRoot  string
	environment   string
	with          []string
	quiet         bool
}

// NewOrchestratorCommand builds the cmd/flowcore root command around app:
// run, resume, dump, logs, tag, and show, each opening the backends named
// by the top-level flags and driving them through pkg/scheduler or
// pkg/client.
func NewOrchestratorCommand(app AppSpec, workerBinary string) *cobra.Command {
	g := &globalFlags{}

	root := &cobra.Command{
		Use:           app.Name,
		Short:         fmt.Sprintf("orchestrate runs of %s", app.Name),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if g.flowName != "" && g.flowName != app.Name {
				return flowerrors.NewFlowError(flowerrors.KindGraphInvariant,
					fmt.Sprintf("binary compiled for flow %q, invoked with --flow %q", app.Name, g.flowName))
			}
			return nil
		},
	}
	flags := root.PersistentFlags()
	flags.StringVar(&g.flowName, "flow", app.Name, "flow name, checked against the binary's compiled-in flow")
	flags.StringVar(&g.datastoreName, "datastore", "local", "datastore backend name")
	flags.StringVar(&g.datastoreRoot, "datastore-root", ".flowcore/data", "datastore root/path")
	flags.StringVar(&g.metadataName, "metadata", "local", "metadata backend name")
	flags.StringVar(&g.metadataRoot, "metadata-root", ".flowcore/metadata", "metadata root/path")
	flags.StringVar(&g.environment, "environment", "", "execution environment decorator name")
	flags.StringArrayVar(&g.with, "with", nil, "flow-level decorator to attach, name[:key=value,...]")
	flags.BoolVar(&g.quiet, "quiet", false, "suppress run start/finish progress output")

	root.AddCommand(
		newRunCommand(app, workerBinary, g),
		newResumeCommand(app, workerBinary, g),
		newDumpCommand(app, g),
		newLogsCommand(app, g),
		newTagCommand(app, g),
		newShowCommand(app),
	)
	return root
}

func openScheduler(app AppSpec, workerBinary string, g *globalFlags) (*scheduler.Scheduler, error) {
	ds, err := openDatastore(g.datastoreName, g.datastoreRoot)
	if err != nil {
		return nil, err
	}
	md, err := openMetadata(g.metadataName, g.metadataRoot)
	if err != nil {
		return nil, err
	}
	bf := backendFlags{
		flow:          app.Name,
		datastoreName: g.datastoreName,
		datastoreRoot: g.datastoreRoot,
		metadataName:  g.metadataName,
		metadataRoot:  g.metadataRoot,
	}
	ex := &subprocessExecutor{workerBinary: workerBinary, backend: bf}
	return scheduler.New(app.Name, app.Graph, ds, md, ex, app.Policy), nil
}

func openClient(app AppSpec, g *globalFlags) (*client.Client, error) {
	ds, err := openDatastore(g.datastoreName, g.datastoreRoot)
	if err != nil {
		return nil, err
	}
	md, err := openMetadata(g.metadataName, g.metadataRoot)
	if err != nil {
		return nil, err
	}
	return client.New(ds, md), nil
}

func progressf(g *globalFlags, format string, args ...any) {
	if g.quiet {
		return
	}
	fmt.Fprintf(os.Stderr, format+"\n", args...)
}

func newRunCommand(app AppSpec, workerBinary string, g *globalFlags) *cobra.Command {
	var (
		runIDFile string
		tags      []string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "start a new run from the flow's start step",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := openScheduler(app, workerBinary, g)
			if err != nil {
				return err
			}
			runID := uuid.New().String()
			if runIDFile != "" {
				if err := os.WriteFile(runIDFile, []byte(runID), 0o644); err != nil {
					return flowerrors.Wrapf(flowerrors.KindInternal, err, "writing run id file")
				}
			}
			progressf(g, "%s starting run %s", app.Name, runID)
			res, err := sched.Run(cmd.Context(), runID, tags)
			if err != nil {
				return err
			}
			progressf(g, "%s run %s done, success=%v", app.Name, runID, res.Success)
			if !res.Success {
				return flowerrors.NewFlowError(flowerrors.KindUserStep,
					fmt.Sprintf("run %s failed at step %s", runID, res.FailedStep))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runIDFile, "run-id-file", "", "write the allocated run id to this file")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "attach a user tag to the run (repeatable)")
	cmd.Flags().Int("max-workers", 16, "maximum number of concurrent task attempts")
	cmd.Flags().StringArray("config-value", nil, "inline flow Config value, name=json (repeatable)")
	cmd.Flags().StringArray("config", nil, "flow Config value loaded from a file, name=path (repeatable)")
	return cmd
}

func newResumeCommand(app AppSpec, workerBinary string, g *globalFlags) *cobra.Command {
	var (
		originRunID string
		runIDFile   string
		tags        []string
	)
	cmd := &cobra.Command{
		Use:   "resume [step]",
		Short: "resume a prior run from the named step",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if originRunID == "" {
				return flowerrors.NewFlowError(flowerrors.KindConfigRequired, "resume requires --origin-run-id")
			}
			sched, err := openScheduler(app, workerBinary, g)
			if err != nil {
				return err
			}
			newRunID := uuid.New().String()
			if runIDFile != "" {
				if err := os.WriteFile(runIDFile, []byte(newRunID), 0o644); err != nil {
					return flowerrors.Wrapf(flowerrors.KindInternal, err, "writing run id file")
				}
			}
			progressf(g, "%s resuming %s from %s as %s", app.Name, originRunID, args[0], newRunID)
			res, err := sched.Resume(cmd.Context(), newRunID, originRunID, args[0], tags)
			if err != nil {
				return err
			}
			progressf(g, "%s run %s done, success=%v", app.Name, newRunID, res.Success)
			if !res.Success {
				return flowerrors.NewFlowError(flowerrors.KindUserStep,
					fmt.Sprintf("resumed run %s failed at step %s", newRunID, res.FailedStep))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&originRunID, "origin-run-id", "", "run id to resume from")
	cmd.Flags().StringVar(&runIDFile, "run-id-file", "", "write the allocated run id to this file")
	cmd.Flags().StringArrayVar(&tags, "tag", nil, "attach a user tag to the resumed run (repeatable)")
	return cmd
}

func newDumpCommand(app AppSpec, g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "dump <pathspec>",
		Short: "print a task's artifacts, one name = value line each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := openClient(app, g)
			if err != nil {
				return err
			}
			task, err := cl.Task(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			data, err := task.Data(cmd.Context())
			if err != nil {
				return err
			}
			names := make([]string, 0, len(data))
			for name := range data {
				names = append(names, name)
			}
			for _, name := range names {
				fmt.Fprintf(cmd.OutOrStdout(), "%s = %v\n", name, data[name])
			}
			return nil
		},
	}
}

func newLogsCommand(app AppSpec, g *globalFlags) *cobra.Command {
	var stream string
	cmd := &cobra.Command{
		Use:   "logs <pathspec>",
		Short: "print a task's captured stdout/stderr",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cl, err := openClient(app, g)
			if err != nil {
				return err
			}
			task, err := cl.Task(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			var content string
			switch stream {
			case "stdout", "":
				content, err = task.Stdout(cmd.Context())
			case "stderr":
				content, err = task.Stderr(cmd.Context())
			default:
				return flowerrors.NewFlowError(flowerrors.KindConfigRequired, "--stream must be stdout or stderr")
			}
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), content)
			return nil
		},
	}
	cmd.Flags().StringVar(&stream, "stream", "stdout", "which captured stream to print")
	return cmd
}

func newTagCommand(app AppSpec, g *globalFlags) *cobra.Command {
	parent := &cobra.Command{
		Use:   "tag",
		Short: "list or edit a run's user tags",
	}
	parent.AddCommand(
		&cobra.Command{
			Use:   "list <run-pathspec>",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				cl, err := openClient(app, g)
				if err != nil {
					return err
				}
				run, err := cl.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				for _, t := range run.Tags() {
					fmt.Fprintln(cmd.OutOrStdout(), t)
				}
				return nil
			},
		},
		&cobra.Command{
			Use:   "add <run-pathspec> <tag>",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cl, err := openClient(app, g)
				if err != nil {
					return err
				}
				run, err := cl.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return run.AddTag(cmd.Context(), args[1])
			},
		},
		&cobra.Command{
			Use:   "remove <run-pathspec> <tag>",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				cl, err := openClient(app, g)
				if err != nil {
					return err
				}
				run, err := cl.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return run.RemoveTag(cmd.Context(), args[1])
			},
		},
		&cobra.Command{
			Use:   "replace <run-pathspec> <old-tag> <new-tag>",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				cl, err := openClient(app, g)
				if err != nil {
					return err
				}
				run, err := cl.Run(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return run.ReplaceTag(cmd.Context(), args[1], args[2])
			},
		},
	)
	return parent
}

func newShowCommand(app AppSpec) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "print the flow's steps and their declared transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			fmt.Fprintf(w, "%s\n", app.Name)
			for _, name := range app.Graph.Order {
				node := app.Graph.Node(name)
				fmt.Fprintf(w, "  %-20s %-10s -> %v\n", node.Name, node.Type, node.Out)
			}
			return nil
		},
	}
}

