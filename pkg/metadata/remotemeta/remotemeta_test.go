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

package remotemeta_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/metadata"
	"github.com/tombee/flowcore/pkg/metadata/remotemeta"
)

// fakeMetadataService is a minimal in-memory implementation of the REST
// surface remotemeta.Provider talks to. Good enough to exercise request
// shaping and status-code handling without a real metadata service.
type fakeMetadataService struct {
	mu sync.Mutex

	runs  map[string]*runRecord
	steps map[string]map[string]bool
	tasks map[string]map[string]*taskRecord
	meta  map[string][]metadata.Entry
}

type runRecord struct {
	Tags       []string   `json:"tags"`
	SysTags    []string   `json:"sys_tags"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type taskRecord struct {
	Done bool
}

func newFakeMetadataService() *fakeMetadataService {
	return &fakeMetadataService{
		runs:  map[string]*runRecord{},
		steps: map[string]map[string]bool{},
		tasks: map[string]map[string]*taskRecord{},
		meta:  map[string][]metadata.Entry{},
	}
}

func runKey(flow, run string) string             { return flow + "/" + run }
func stepKey(flow, run, step string) string       { return flow + "/" + run + "/" + step }
func taskKey(flow, run, step, task string) string { return flow + "/" + run + "/" + step + "/" + task }

func (f *fakeMetadataService) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
		// parts[0] == "flows", parts[1] == flow
		if len(parts) < 2 || parts[0] != "flows" {
			http.NotFound(w, r)
			return
		}
		flow := parts[1]

		switch {
		case len(parts) == 3 && parts[2] == "runs" && r.Method == http.MethodPost:
			var body struct {
				RunID   string   `json:"run_id"`
				Tags    []string `json:"tags"`
				SysTags []string `json:"sys_tags"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			key := runKey(flow, body.RunID)
			if _, exists := f.runs[key]; !exists {
				f.runs[key] = &runRecord{Tags: body.Tags, SysTags: body.SysTags, Status: "running", CreatedAt: time.Now()}
			}
			w.WriteHeader(http.StatusOK)

		case len(parts) == 3 && parts[2] == "runs" && r.Method == http.MethodGet:
			type withID struct {
				ID string
				runRecord
			}
			var list []withID
			prefix := flow + "/"
			for k, v := range f.runs {
				if strings.HasPrefix(k, prefix) {
					list = append(list, withID{ID: strings.TrimPrefix(k, prefix), runRecord: *v})
				}
			}
			sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.After(list[j].CreatedAt) })
			ids := make([]string, len(list))
			for i, item := range list {
				ids[i] = item.ID
			}
			json.NewEncoder(w).Encode(map[string]any{"run_ids": ids})

		case len(parts) == 4 && r.Method == http.MethodGet:
			key := runKey(flow, parts[3])
			rec, ok := f.runs[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(rec)

		case len(parts) == 5 && parts[4] == "done" && r.Method == http.MethodPost:
			key := runKey(flow, parts[3])
			rec, ok := f.runs[key]
			if !ok {
				rec = &runRecord{CreatedAt: time.Now()}
				f.runs[key] = rec
			}
			now := time.Now()
			rec.Status = "completed"
			rec.FinishedAt = &now
			w.WriteHeader(http.StatusOK)

		case len(parts) == 5 && parts[4] == "done" && r.Method == http.MethodGet:
			key := runKey(flow, parts[3])
			rec, ok := f.runs[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]bool{"done": rec.Status == "completed"})

		case len(parts) == 5 && parts[4] == "tags" && r.Method == http.MethodPatch:
			key := runKey(flow, parts[3])
			rec, ok := f.runs[key]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			var body struct {
				Tags []string `json:"tags"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			rec.Tags = body.Tags
			w.WriteHeader(http.StatusOK)

		case len(parts) == 5 && parts[4] == "steps" && r.Method == http.MethodPost:
			var body struct {
				Name string `json:"name"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			key := runKey(flow, parts[3])
			if f.steps[key] == nil {
				f.steps[key] = map[string]bool{}
			}
			f.steps[key][body.Name] = true
			w.WriteHeader(http.StatusOK)

		case len(parts) == 5 && parts[4] == "steps" && r.Method == http.MethodGet:
			key := runKey(flow, parts[3])
			var names []string
			for name := range f.steps[key] {
				names = append(names, name)
			}
			json.NewEncoder(w).Encode(map[string]any{"names": names})

		case len(parts) == 7 && parts[6] == "tasks" && r.Method == http.MethodPost:
			var body struct {
				ID string `json:"id"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			key := stepKey(flow, parts[3], parts[5])
			if f.tasks[key] == nil {
				f.tasks[key] = map[string]*taskRecord{}
			}
			f.tasks[key][body.ID] = &taskRecord{}
			w.WriteHeader(http.StatusOK)

		case len(parts) == 7 && parts[6] == "tasks" && r.Method == http.MethodGet:
			key := stepKey(flow, parts[3], parts[5])
			var ids []string
			for id := range f.tasks[key] {
				ids = append(ids, id)
			}
			json.NewEncoder(w).Encode(map[string]any{"ids": ids})

		case len(parts) == 8 && parts[7] == "done" && r.Method == http.MethodPost:
			key := stepKey(flow, parts[3], parts[5])
			if f.tasks[key] == nil {
				f.tasks[key] = map[string]*taskRecord{}
			}
			f.tasks[key][parts[6]] = &taskRecord{Done: true}
			w.WriteHeader(http.StatusOK)

		case len(parts) == 8 && parts[7] == "done" && r.Method == http.MethodGet:
			key := stepKey(flow, parts[3], parts[5])
			rec, ok := f.tasks[key][parts[6]]
			if !ok {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			json.NewEncoder(w).Encode(map[string]bool{"done": rec.Done})

		case len(parts) == 8 && parts[7] == "metadata" && r.Method == http.MethodPost:
			var body struct {
				Entries []metadata.Entry `json:"entries"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			key := taskKey(flow, parts[3], parts[5], parts[6])
			f.meta[key] = append(f.meta[key], body.Entries...)
			w.WriteHeader(http.StatusOK)

		case len(parts) == 8 && parts[7] == "metadata" && r.Method == http.MethodGet:
			key := taskKey(flow, parts[3], parts[5], parts[6])
			json.NewEncoder(w).Encode(map[string]any{"entries": f.meta[key]})

		default:
			http.NotFound(w, r)
		}
	}
}

func newTestProvider(t *testing.T, fake *fakeMetadataService) *remotemeta.Provider {
	t.Helper()
	server := httptest.NewServer(fake.handler())
	t.Cleanup(server.Close)

	provider, err := remotemeta.New(remotemeta.Config{BaseURL: server.URL})
	require.NoError(t, err)
	return provider
}

func TestProvider_RunLifecycle(t *testing.T) {
	fake := newFakeMetadataService()
	provider := newTestProvider(t, fake)
	ctx := context.Background()

	require.NoError(t, provider.NewRun(ctx, "MyFlow", "1", []string{"a"}, []string{"user:bob"}))

	meta, ok, err := provider.GetRunMeta(ctx, "MyFlow", "1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"a"}, meta.Tags)
	assert.Equal(t, "running", meta.Status)

	done, err := provider.IsRunDone(ctx, "MyFlow", "1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, provider.DoneRun(ctx, "MyFlow", "1"))
	done, err = provider.IsRunDone(ctx, "MyFlow", "1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestProvider_GetRunMeta_Absent(t *testing.T) {
	fake := newFakeMetadataService()
	provider := newTestProvider(t, fake)

	_, ok, err := provider.GetRunMeta(context.Background(), "MyFlow", "nonexistent")
	require.NoError(t, err)
	assert.False(t, ok, "a 404 from the service must surface as ok=false, not an error")
}

func TestProvider_StepAndTaskLifecycle(t *testing.T) {
	fake := newFakeMetadataService()
	provider := newTestProvider(t, fake)
	ctx := context.Background()

	require.NoError(t, provider.NewStep(ctx, "MyFlow", "1", "start"))
	require.NoError(t, provider.NewTask(ctx, "MyFlow", "1", "start", "1"))

	steps, err := provider.GetStepNames(ctx, "MyFlow", "1")
	require.NoError(t, err)
	assert.Equal(t, []string{"start"}, steps)

	tasks, err := provider.GetTaskIDs(ctx, "MyFlow", "1", "start")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, tasks)

	done, err := provider.IsTaskDone(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.False(t, done)

	require.NoError(t, provider.DoneTask(ctx, "MyFlow", "1", "start", "1"))
	done, err = provider.IsTaskDone(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.True(t, done)
}

func TestProvider_RegisterMetadataAndGetTaskMetadata(t *testing.T) {
	fake := newFakeMetadataService()
	provider := newTestProvider(t, fake)
	ctx := context.Background()

	require.NoError(t, provider.RegisterMetadata(ctx, "MyFlow", "1", "start", "1", []metadata.Entry{
		{Type: "accelerator", Value: "gpu"},
	}))
	require.NoError(t, provider.RegisterMetadata(ctx, "MyFlow", "1", "start", "1", []metadata.Entry{
		{Type: "runtime", Value: "3.2s"},
	}))

	entries, err := provider.GetTaskMetadata(ctx, "MyFlow", "1", "start", "1")
	require.NoError(t, err)
	assert.Equal(t, []metadata.Entry{
		{Type: "accelerator", Value: "gpu"},
		{Type: "runtime", Value: "3.2s"},
	}, entries)
}

func TestProvider_UpdateRunTags_MissingRunFails(t *testing.T) {
	fake := newFakeMetadataService()
	provider := newTestProvider(t, fake)

	err := provider.UpdateRunTags(context.Background(), "MyFlow", "nonexistent", []string{"x"})
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindNotFound, flowerrors.KindOf(err))
}

func TestProvider_GetRunIDs_ReverseChronological(t *testing.T) {
	fake := newFakeMetadataService()
	provider := newTestProvider(t, fake)
	ctx := context.Background()

	require.NoError(t, provider.NewRun(ctx, "MyFlow", "1", nil, nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, provider.NewRun(ctx, "MyFlow", "2", nil, nil))
	time.Sleep(2 * time.Millisecond)
	require.NoError(t, provider.NewRun(ctx, "MyFlow", "3", nil, nil))

	ids, err := provider.GetRunIDs(ctx, "MyFlow")
	require.NoError(t, err)
	assert.Equal(t, []string{"3", "2", "1"}, ids)
}

func TestNew_RequiresBaseURL(t *testing.T) {
	_, err := remotemeta.New(remotemeta.Config{})
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindConfigRequired, flowerrors.KindOf(err))
}

func TestProvider_AccessDenied(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	t.Cleanup(server.Close)

	provider, err := remotemeta.New(remotemeta.Config{BaseURL: server.URL})
	require.NoError(t, err)

	err = provider.NewRun(context.Background(), "MyFlow", "1", nil, nil)
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindAccessDenied, flowerrors.KindOf(err))
}
