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

package runner_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/datastore/localstore"
	"github.com/tombee/flowcore/pkg/flow"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/metadata/localmeta"
	"github.com/tombee/flowcore/pkg/runner"
)

func doubleStep(ctx context.Context, f *flow.Instance) error {
	v, ok := f.Get("n")
	if !ok {
		return nil
	}
	n := v.(float64)
	if err := f.Set("doubled", n*2); err != nil {
		return err
	}
	return f.Next("end")
}

func sumJoin(ctx context.Context, f *flow.Instance, inputs *flow.Inputs) error {
	total := 0.0
	for _, in := range inputs.All() {
		v, _ := in.Get("doubled")
		total += v.(float64)
	}
	if err := f.Set("total", total); err != nil {
		return err
	}
	return f.Next("end")
}

func buildSpinGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New("Spin").
		Step("start", nil, graph.Next("work")).
		Step("work", doubleStep, graph.Next("joiner")).
		Join("joiner", sumJoin, graph.Next("end")).
		Step("end", nil).
		Build()
	require.NoError(t, err)
	return g
}

func marshalArtifact(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func TestSpin_LinearStep(t *testing.T) {
	dir := t.TempDir()
	ds := localstore.New(dir)
	md := localmeta.New(dir)
	ctx := context.Background()

	require.NoError(t, md.NewRun(ctx, "Flow", "1", nil, nil))
	require.NoError(t, md.NewStep(ctx, "Flow", "1", "start"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "start", "1"))
	startPS := id.Pathspec{Flow: "Flow", Run: "1", Step: "start", Task: "1"}
	require.NoError(t, ds.SaveArtifacts(ctx, startPS, map[string][]byte{"n": marshalArtifact(t, 10)}))
	require.NoError(t, md.DoneTask(ctx, "Flow", "1", "start", "1"))

	require.NoError(t, md.NewStep(ctx, "Flow", "1", "work"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "work", "1"))
	parents, err := json.Marshal([]string{"Flow/1/start/1"})
	require.NoError(t, err)
	require.NoError(t, md.RegisterMetadata(ctx, "Flow", "1", "work", "1", []metadata.Entry{
		{Type: "parent-task-ids", Value: string(parents)},
	}))

	g := buildSpinGraph(t)

	res, err := runner.Spin(ctx, g, ds, md, nil, "Flow/1/work/1", runner.SpinOptions{})
	require.NoError(t, err)
	assert.True(t, res.Finished())
	assert.True(t, res.Successful())
	assert.Equal(t, float64(20), res.Data()["doubled"])
	require.Len(t, res.ParentPathspecs, 1)
	assert.Equal(t, "Flow/1/start/1", res.ParentPathspecs[0].String())
}

func TestSpin_ArtifactOverride(t *testing.T) {
	dir := t.TempDir()
	ds := localstore.New(dir)
	md := localmeta.New(dir)
	ctx := context.Background()

	require.NoError(t, md.NewRun(ctx, "Flow", "1", nil, nil))
	require.NoError(t, md.NewStep(ctx, "Flow", "1", "start"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "start", "1"))
	startPS := id.Pathspec{Flow: "Flow", Run: "1", Step: "start", Task: "1"}
	require.NoError(t, ds.SaveArtifacts(ctx, startPS, map[string][]byte{"n": marshalArtifact(t, 10)}))
	require.NoError(t, md.DoneTask(ctx, "Flow", "1", "start", "1"))

	require.NoError(t, md.NewStep(ctx, "Flow", "1", "work"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "work", "1"))
	parents, err := json.Marshal([]string{"Flow/1/start/1"})
	require.NoError(t, err)
	require.NoError(t, md.RegisterMetadata(ctx, "Flow", "1", "work", "1", []metadata.Entry{
		{Type: "parent-task-ids", Value: string(parents)},
	}))

	g := buildSpinGraph(t)

	res, err := runner.Spin(ctx, g, ds, md, nil, "Flow/1/work/1", runner.SpinOptions{
		Overrides: map[string]any{"n": float64(100)},
	})
	require.NoError(t, err)
	assert.Equal(t, float64(200), res.Data()["doubled"])
}

func TestSpin_JoinStep(t *testing.T) {
	dir := t.TempDir()
	ds := localstore.New(dir)
	md := localmeta.New(dir)
	ctx := context.Background()

	for _, taskID := range []string{"1", "2"} {
		require.NoError(t, md.NewStep(ctx, "Flow", "1", "work"))
		require.NoError(t, md.NewTask(ctx, "Flow", "1", "work", taskID))
	}
	require.NoError(t, md.NewRun(ctx, "Flow", "1", nil, nil))
	work1 := id.Pathspec{Flow: "Flow", Run: "1", Step: "work", Task: "1"}
	work2 := id.Pathspec{Flow: "Flow", Run: "1", Step: "work", Task: "2"}
	require.NoError(t, ds.SaveArtifacts(ctx, work1, map[string][]byte{"doubled": marshalArtifact(t, 20)}))
	require.NoError(t, ds.SaveArtifacts(ctx, work2, map[string][]byte{"doubled": marshalArtifact(t, 30)}))

	require.NoError(t, md.NewStep(ctx, "Flow", "1", "joiner"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "joiner", "1"))
	parents, err := json.Marshal([]string{"Flow/1/work/1", "Flow/1/work/2"})
	require.NoError(t, err)
	require.NoError(t, md.RegisterMetadata(ctx, "Flow", "1", "joiner", "1", []metadata.Entry{
		{Type: "parent-task-ids", Value: string(parents)},
	}))

	g := buildSpinGraph(t)

	res, err := runner.Spin(ctx, g, ds, md, nil, "Flow/1/joiner/1", runner.SpinOptions{})
	require.NoError(t, err)
	assert.Equal(t, float64(50), res.Data()["total"])
	require.Len(t, res.ParentPathspecs, 2)
}

func TestSpin_Persist(t *testing.T) {
	dir := t.TempDir()
	ds := localstore.New(dir)
	md := localmeta.New(dir)
	ctx := context.Background()

	require.NoError(t, md.NewRun(ctx, "Flow", "1", nil, nil))
	require.NoError(t, md.NewStep(ctx, "Flow", "1", "start"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "start", "1"))
	startPS := id.Pathspec{Flow: "Flow", Run: "1", Step: "start", Task: "1"}
	require.NoError(t, ds.SaveArtifacts(ctx, startPS, map[string][]byte{"n": marshalArtifact(t, 5)}))
	require.NoError(t, md.DoneTask(ctx, "Flow", "1", "start", "1"))

	require.NoError(t, md.NewStep(ctx, "Flow", "1", "work"))
	require.NoError(t, md.NewTask(ctx, "Flow", "1", "work", "1"))
	parents, err := json.Marshal([]string{"Flow/1/start/1"})
	require.NoError(t, err)
	require.NoError(t, md.RegisterMetadata(ctx, "Flow", "1", "work", "1", []metadata.Entry{
		{Type: "parent-task-ids", Value: string(parents)},
	}))

	g := buildSpinGraph(t)

	res, err := runner.Spin(ctx, g, ds, md, nil, "Flow/1/work/1", runner.SpinOptions{Persist: true})
	require.NoError(t, err)
	assert.True(t, res.Persisted)
	assert.Equal(t, "Flow/1-spin/work/1", res.Pathspec.String())

	done, err := md.IsTaskDone(ctx, "Flow", "1-spin", "work", "1")
	require.NoError(t, err)
	assert.True(t, done)

	stored, err := ds.LoadArtifacts(ctx, res.Pathspec)
	require.NoError(t, err)
	var doubled float64
	require.NoError(t, json.Unmarshal(stored["doubled"], &doubled))
	assert.Equal(t, float64(10), doubled)
}
