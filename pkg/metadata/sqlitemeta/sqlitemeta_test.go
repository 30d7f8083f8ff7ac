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

package sqlitemeta_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/metadata/sqlitemeta"
)

func newTestStore(t *testing.T) *sqlitemeta.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "metadata.db")
	store, err := sqlitemeta.New(sqlitemeta.Config{Path: path})
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_NewRunIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.NewRun(ctx, "MyFlow", "1", []string{"a"}, []string{"user:bob"}))
	require.NoError(t, store.NewRun(ctx, "MyFlow", "1", []string{"b"}, []string{"user:alice"}))

	meta, ok, err := store.GetRunMeta(ctx, "MyFlow", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, meta.Tags)
	assert.Equal(t, "running", meta.Status)
}

func TestStore_GetRunMeta_Absent(t *testing.T) {
	store := newTestStore(t)
	_, ok, err := store.GetRunMeta(context.Background(), "MyFlow", "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DoneRun(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.NewRun(ctx, "MyFlow", "1", nil, nil))
	done, err := store.IsRunDone(ctx, "MyFlow", "1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.DoneRun(ctx, "MyFlow", "1"))
	done, err = store.IsRunDone(ctx, "MyFlow", "1")
	require.NoError(t, err)
	assert.True(t, done)

	meta, ok, err := store.GetRunMeta(ctx, "MyFlow", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "completed", meta.Status)
	require.NotNil(t, meta.FinishedAt)
}

func TestStore_TaskLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.NewTask(ctx, "MyFlow", "1", "start", "1"))
	done, err := store.IsTaskDone(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, store.DoneTask(ctx, "MyFlow", "1", "start", "1"))
	done, err = store.IsTaskDone(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStore_DoneTask_WithoutPriorNewTaskStillWorks(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.DoneTask(ctx, "MyFlow", "1", "start", "1"))
	done, err := store.IsTaskDone(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestStore_RegisterMetadata_AppendsAcrossCalls(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.RegisterMetadata(ctx, "MyFlow", "1", "start", "1", []metadata.Entry{
		{Type: "accelerator", Value: "gpu"},
	}))
	require.NoError(t, store.RegisterMetadata(ctx, "MyFlow", "1", "start", "1", []metadata.Entry{
		{Type: "runtime", Value: "3.2s"},
	}))

	entries, err := store.GetTaskMetadata(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.Equal(t, []metadata.Entry{
		{Type: "accelerator", Value: "gpu"},
		{Type: "runtime", Value: "3.2s"},
	}, entries)
}

func TestStore_GetStepNamesAndTaskIDs(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.NewStep(ctx, "MyFlow", "1", "start"))
	require.NoError(t, store.NewStep(ctx, "MyFlow", "1", "end"))
	require.NoError(t, store.NewTask(ctx, "MyFlow", "1", "start", "1"))
	require.NoError(t, store.NewTask(ctx, "MyFlow", "1", "start", "2"))

	steps, err := store.GetStepNames(ctx, "MyFlow", "1")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"start", "end"}, steps)

	tasks, err := store.GetTaskIDs(ctx, "MyFlow", "1", "start")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"1", "2"}, tasks)
}

func TestStore_GetRunIDs_ReverseChronological(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.NewRun(ctx, "MyFlow", "1", nil, nil))
	require.NoError(t, store.NewRun(ctx, "MyFlow", "2", nil, nil))
	require.NoError(t, store.NewRun(ctx, "MyFlow", "3", nil, nil))

	ids, err := store.GetRunIDs(ctx, "MyFlow")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, ids, "insertion order is preserved as a tiebreaker within the same second")
}

func TestStore_UpdateRunTags_ReplacesUserTagsOnly(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.NewRun(ctx, "MyFlow", "1", []string{"old"}, []string{"user:bob"}))
	require.NoError(t, store.UpdateRunTags(ctx, "MyFlow", "1", []string{"new", "tags"}))

	meta, ok, err := store.GetRunMeta(ctx, "MyFlow", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"new", "tags"}, meta.Tags)
	assert.Equal(t, []string{"user:bob"}, meta.SysTags)
}

func TestStore_UpdateRunTags_MissingRunFails(t *testing.T) {
	store := newTestStore(t)
	err := store.UpdateRunTags(context.Background(), "MyFlow", "nonexistent", []string{"x"})
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindNotFound, flowerrors.KindOf(err))
}
