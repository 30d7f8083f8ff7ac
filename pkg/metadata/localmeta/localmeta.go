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

// Package localmeta implements pkg/metadata.Provider on the local
// filesystem: the layout mirrors localstore's datastore path, with a
// sibling _meta/ directory at each level holding JSON —
// run_info.json/step_info.json/task_info.json/metadata.json.
package localmeta

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"time"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/metadata"
)

var _ metadata.Provider = (*Store)(nil)

const (
	dirPerm  = 0o755
	filePerm = 0o644
)

// DefaultRoot matches localstore.DefaultRoot — the two providers commonly
// share a sysroot.
const DefaultRoot = ".metaflow"

// Store is the local-filesystem metadata backend.
type Store struct {
	root string
}

// New constructs a Store rooted at root. An empty root falls back to
// DefaultRoot.
func New(root string) *Store {
	if root == "" {
		root = DefaultRoot
	}
	return &Store{root: root}
}

type runInfo struct {
	Tags       []string   `json:"tags"`
	SysTags    []string   `json:"sys_tags"`
	Status     string     `json:"status"`
	CreatedAt  time.Time  `json:"created_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

type stepInfo struct {
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

type taskInfo struct {
	ID         string     `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	Done       bool       `json:"done"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Store) runDir(flow, run string) string       { return filepath.Join(s.root, flow, run) }
func (s *Store) stepDir(flow, run, step string) string { return filepath.Join(s.runDir(flow, run), step) }
func (s *Store) taskDir(flow, run, step, task string) string {
	return filepath.Join(s.stepDir(flow, run, step), task)
}

func metaDir(levelDir string) string       { return filepath.Join(levelDir, "_meta") }
func metaFile(levelDir, name string) string { return filepath.Join(metaDir(levelDir), name) }

func writeJSON(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return flowerrors.Wrap(err, "localmeta: create meta dir")
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return flowerrors.Wrap(err, "localmeta: marshal")
	}
	if err := os.WriteFile(path, data, filePerm); err != nil {
		return flowerrors.Wrap(err, "localmeta: write")
	}
	return nil
}

// readJSON reports ok=false (no error) if the file does not exist.
func readJSON(path string, v any) (bool, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, flowerrors.Wrap(err, "localmeta: read")
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, flowerrors.Wrap(err, "localmeta: unmarshal")
	}
	return true, nil
}

// NewRun writes run_info.json if it does not already exist; calling it
// again on an existing run is a no-op, matching the idempotent-creation
// contract.
func (s *Store) NewRun(ctx context.Context, flow, run string, userTags, sysTags []string) error {
	path := metaFile(s.runDir(flow, run), "run_info.json")
	var existing runInfo
	ok, err := readJSON(path, &existing)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return writeJSON(path, runInfo{
		Tags:      userTags,
		SysTags:   sysTags,
		Status:    "running",
		CreatedAt: time.Now(),
	})
}

func (s *Store) NewStep(ctx context.Context, flow, run, step string) error {
	path := metaFile(s.stepDir(flow, run, step), "step_info.json")
	var existing stepInfo
	ok, err := readJSON(path, &existing)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return writeJSON(path, stepInfo{Name: step, CreatedAt: time.Now()})
}

func (s *Store) NewTask(ctx context.Context, flow, run, step, task string) error {
	path := metaFile(s.taskDir(flow, run, step, task), "task_info.json")
	var existing taskInfo
	ok, err := readJSON(path, &existing)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return writeJSON(path, taskInfo{ID: task, CreatedAt: time.Now()})
}

// RegisterMetadata appends entries to metadata.json. Read-modify-write:
// fine for the single-writer-per-task lifecycle this provider targets.
func (s *Store) RegisterMetadata(ctx context.Context, flow, run, step, task string, entries []metadata.Entry) error {
	path := metaFile(s.taskDir(flow, run, step, task), "metadata.json")
	var existing []metadata.Entry
	if _, err := readJSON(path, &existing); err != nil {
		return err
	}
	existing = append(existing, entries...)
	return writeJSON(path, existing)
}

func (s *Store) DoneTask(ctx context.Context, flow, run, step, task string) error {
	path := metaFile(s.taskDir(flow, run, step, task), "task_info.json")
	var info taskInfo
	ok, err := readJSON(path, &info)
	if err != nil {
		return err
	}
	if !ok {
		info = taskInfo{ID: task, CreatedAt: time.Now()}
	}
	now := time.Now()
	info.Done = true
	info.FinishedAt = &now
	return writeJSON(path, info)
}

func (s *Store) DoneRun(ctx context.Context, flow, run string) error {
	path := metaFile(s.runDir(flow, run), "run_info.json")
	var info runInfo
	ok, err := readJSON(path, &info)
	if err != nil {
		return err
	}
	if !ok {
		info = runInfo{Status: "running", CreatedAt: time.Now()}
	}
	now := time.Now()
	info.Status = "completed"
	info.FinishedAt = &now
	return writeJSON(path, info)
}

func (s *Store) IsTaskDone(ctx context.Context, flow, run, step, task string) (bool, error) {
	path := metaFile(s.taskDir(flow, run, step, task), "task_info.json")
	var info taskInfo
	ok, err := readJSON(path, &info)
	if err != nil || !ok {
		return false, err
	}
	return info.Done, nil
}

func (s *Store) IsRunDone(ctx context.Context, flow, run string) (bool, error) {
	path := metaFile(s.runDir(flow, run), "run_info.json")
	var info runInfo
	ok, err := readJSON(path, &info)
	if err != nil || !ok {
		return false, err
	}
	return info.Status == "completed", nil
}

// GetRunIDs lists subdirectories of <root>/<flow>, sorted by each run's
// created_at descending (reverse chronological).
func (s *Store) GetRunIDs(ctx context.Context, flow string) ([]string, error) {
	dir := filepath.Join(s.root, flow)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerrors.Wrap(err, "localmeta: list flow dir")
	}

	type runWithTime struct {
		id        string
		createdAt time.Time
	}
	var runs []runWithTime
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		var info runInfo
		ok, err := readJSON(metaFile(filepath.Join(dir, entry.Name()), "run_info.json"), &info)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		runs = append(runs, runWithTime{id: entry.Name(), createdAt: info.CreatedAt})
	}
	sort.Slice(runs, func(i, j int) bool { return runs[i].createdAt.After(runs[j].createdAt) })

	ids := make([]string, len(runs))
	for i, r := range runs {
		ids[i] = r.id
	}
	return ids, nil
}

func listSubdirsExcludingMeta(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerrors.Wrap(err, "localmeta: list dir")
	}
	var names []string
	for _, entry := range entries {
		if !entry.IsDir() || entry.Name() == "_meta" {
			continue
		}
		names = append(names, entry.Name())
	}
	return names, nil
}

func (s *Store) GetStepNames(ctx context.Context, flow, run string) ([]string, error) {
	return listSubdirsExcludingMeta(s.runDir(flow, run))
}

func (s *Store) GetTaskIDs(ctx context.Context, flow, run, step string) ([]string, error) {
	return listSubdirsExcludingMeta(s.stepDir(flow, run, step))
}

func (s *Store) GetTaskMetadata(ctx context.Context, flow, run, step, task string) ([]metadata.Entry, error) {
	var entries []metadata.Entry
	_, err := readJSON(metaFile(s.taskDir(flow, run, step, task), "metadata.json"), &entries)
	if err != nil {
		return nil, err
	}
	return entries, nil
}

func (s *Store) GetRunMeta(ctx context.Context, flow, run string) (*metadata.RunMeta, bool, error) {
	var info runInfo
	ok, err := readJSON(metaFile(s.runDir(flow, run), "run_info.json"), &info)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &metadata.RunMeta{
		Tags:       info.Tags,
		SysTags:    info.SysTags,
		Status:     info.Status,
		CreatedAt:  info.CreatedAt,
		FinishedAt: info.FinishedAt,
	}, true, nil
}

func (s *Store) UpdateRunTags(ctx context.Context, flow, run string, tags []string) error {
	path := metaFile(s.runDir(flow, run), "run_info.json")
	var info runInfo
	ok, err := readJSON(path, &info)
	if err != nil {
		return err
	}
	if !ok {
		return flowerrors.NewFlowError(flowerrors.KindNotFound, "localmeta: run not found")
	}
	info.Tags = tags
	return writeJSON(path, info)
}
