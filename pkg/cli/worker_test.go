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

package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/datastore/localstore"
	"github.com/tombee/flowcore/pkg/flow"
	"github.com/tombee/flowcore/pkg/graph"
	"github.com/tombee/flowcore/pkg/id"
	"github.com/tombee/flowcore/pkg/metadata/localmeta"
	"github.com/tombee/flowcore/pkg/scheduler"
)

func init() {
	RegisterDefaultBackends()
}

func doublingStart(ctx context.Context, f *flow.Instance) error {
	if err := f.Set("xs", []any{1.0, 2.0, 3.0}); err != nil {
		return err
	}
	return f.NextForeach("worker", "xs")
}

func doublingWorker(ctx context.Context, f *flow.Instance) error {
	v, err := f.Input()
	if err != nil {
		return err
	}
	if err := f.Set("y", v.(float64)*2); err != nil {
		return err
	}
	return f.Next("joiner")
}

func doublingJoin(ctx context.Context, f *flow.Instance, inputs *flow.Inputs) error {
	total := 0.0
	for _, in := range inputs.All() {
		v, _ := in.Get("y")
		total += v.(float64)
	}
	if err := f.Set("total", total); err != nil {
		return err
	}
	return f.Next("end")
}

func buildTestGraph(t *testing.T) *graph.Graph {
	t.Helper()
	g, err := graph.New("WorkerTest").
		Step("start", doublingStart, graph.Foreach("xs", "worker")).
		Step("worker", doublingWorker, graph.Next("joiner")).
		Join("joiner", doublingJoin, graph.Next("end")).
		Step("end", func(ctx context.Context, f *flow.Instance) error { return nil }).
		Build()
	require.NoError(t, err)
	return g
}

func testBackend(t *testing.T) backendFlags {
	t.Helper()
	dir := t.TempDir()
	localstore.New(dir)
	localmeta.New(dir)
	return backendFlags{
		flow:          "WorkerTest",
		datastoreName: "local",
		datastoreRoot: dir,
		metadataName:  "local",
		metadataRoot:  dir,
	}
}

func TestRunAttempt_LinearStep(t *testing.T) {
	g := buildTestGraph(t)
	app := AppSpec{Name: "WorkerTest", Graph: g}
	bf := testBackend(t)

	ps, err := id.Parse("WorkerTest/run1/start/1")
	require.NoError(t, err)

	res, err := runAttempt(context.Background(), app, attemptRequest{
		backend:  bf,
		pathspec: ps,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 3, res.NumSplits)
}

func TestRunAttempt_ForeachChild(t *testing.T) {
	g := buildTestGraph(t)
	app := AppSpec{Name: "WorkerTest", Graph: g}
	bf := testBackend(t)
	ds, err := openDatastore(bf.datastoreName, bf.datastoreRoot)
	require.NoError(t, err)

	parentPS, err := id.Parse("WorkerTest/run1/start/1")
	require.NoError(t, err)
	require.NoError(t, ds.SaveArtifacts(context.Background(), parentPS, map[string][]byte{
		"xs": mustMarshal(t, []any{1.0, 2.0, 3.0}),
	}))

	childPS, err := id.Parse("WorkerTest/run1/worker/1")
	require.NoError(t, err)

	res, err := runAttempt(context.Background(), app, attemptRequest{
		backend:  bf,
		pathspec: childPS,
		parents:  []id.Pathspec{parentPS},
		foreachPush: &scheduler.ForeachPush{
			Step: "worker", Var: "xs", Index: 1, NumSplits: 3,
		},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	raw, ok, err := ds.LoadArtifact(context.Background(), childPS, "y")
	require.NoError(t, err)
	require.True(t, ok)
	var y float64
	require.NoError(t, json.Unmarshal(raw, &y))
	assert.Equal(t, 4.0, y)
}

func TestRunAttempt_Join(t *testing.T) {
	g := buildTestGraph(t)
	app := AppSpec{Name: "WorkerTest", Graph: g}
	bf := testBackend(t)
	ds, err := openDatastore(bf.datastoreName, bf.datastoreRoot)
	require.NoError(t, err)

	var parents []id.Pathspec
	for i, y := range []float64{2, 4, 6} {
		ps, err := id.Parse(sprintfPathspec("worker", i+1))
		require.NoError(t, err)
		require.NoError(t, ds.SaveArtifacts(context.Background(), ps, map[string][]byte{
			"y": mustMarshal(t, y),
		}))
		parents = append(parents, ps)
	}

	joinPS, err := id.Parse("WorkerTest/run1/joiner/1")
	require.NoError(t, err)

	res, err := runAttempt(context.Background(), app, attemptRequest{
		backend:  bf,
		pathspec: joinPS,
		isJoin:   true,
		parents:  parents,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	raw, ok, err := ds.LoadArtifact(context.Background(), joinPS, "total")
	require.NoError(t, err)
	require.True(t, ok)
	var total float64
	require.NoError(t, json.Unmarshal(raw, &total))
	assert.Equal(t, 12.0, total)
}

func TestRunAttempt_UnknownStepIsPreflight(t *testing.T) {
	g := buildTestGraph(t)
	app := AppSpec{Name: "WorkerTest", Graph: g}
	bf := testBackend(t)

	ps, err := id.Parse("WorkerTest/run1/nope/1")
	require.NoError(t, err)

	_, err = runAttempt(context.Background(), app, attemptRequest{backend: bf, pathspec: ps})
	require.Error(t, err)
	assert.True(t, IsPreflight(err))
}

func TestRunAttempt_BodyErrorIsCaughtNotPreflight(t *testing.T) {
	g, err := graph.New("Failing").
		Step("start", func(ctx context.Context, f *flow.Instance) error {
			return assertError{}
		}, graph.Next("end")).
		Step("end", func(ctx context.Context, f *flow.Instance) error { return nil }).
		Build()
	require.NoError(t, err)
	app := AppSpec{Name: "Failing", Graph: g}
	bf := testBackend(t)

	ps, err := id.Parse("Failing/run1/start/1")
	require.NoError(t, err)

	res, err := runAttempt(context.Background(), app, attemptRequest{backend: bf, pathspec: ps})
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotNil(t, res.Exception)
}

type assertError struct{}

func (assertError) Error() string { return "boom" }

func mustMarshal(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func sprintfPathspec(step string, task int) string {
	return fmt.Sprintf("WorkerTest/run1/%s/%d", step, task)
}
