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

// Package localstore implements pkg/datastore.Datastore on the local
// filesystem, the layout spelled out as an external interface: artifacts
// at <root>/<flow>/<run>/<step>/<task>/artifacts/<name>.blob, logs at
// <root>/<flow>/<run>/<step>/<task>/logs/<stream>.txt.
package localstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tombee/flowcore/pkg/datastore"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/id"
)

var _ datastore.Datastore = (*Store)(nil)

const (
	artifactExt = ".blob"
	dirPerm     = 0o755
	filePerm    = 0o644
)

// DefaultRoot is used when no root is configured and
// METAFLOW_DATASTORE_SYSROOT_LOCAL is unset.
const DefaultRoot = ".metaflow"

// Store is the local-filesystem datastore backend.
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

func taskDir(root string, ps id.Pathspec) string {
	return filepath.Join(root, ps.Flow, ps.Run, ps.Step, ps.Task)
}

func artifactDir(root string, ps id.Pathspec) string {
	return filepath.Join(taskDir(root, ps), "artifacts")
}

func artifactPath(root string, ps id.Pathspec, name string) string {
	return filepath.Join(artifactDir(root, ps), name+artifactExt)
}

func logPath(root string, ps id.Pathspec, stream string) string {
	return filepath.Join(taskDir(root, ps), "logs", stream+".txt")
}

// SaveArtifacts writes every artifact as its own file, creating the
// artifacts directory if needed. Not itself atomic across the whole group
// (a crash mid-write can leave a partial set); callers are expected to call
// ClearTaskArtifacts before the first write of a new attempt, per the
// retry-overwrite-from-scratch lifecycle.
func (s *Store) SaveArtifacts(ctx context.Context, ps id.Pathspec, artifacts map[string][]byte) error {
	dir := artifactDir(s.root, ps)
	if err := os.MkdirAll(dir, dirPerm); err != nil {
		return flowerrors.Wrap(err, "localstore: create artifact dir")
	}
	for name, value := range artifacts {
		path := artifactPath(s.root, ps, name)
		if err := os.WriteFile(path, value, filePerm); err != nil {
			return flowerrors.Wrap(err, fmt.Sprintf("localstore: write artifact %q", name))
		}
	}
	return nil
}

// LoadArtifact returns the named artifact's bytes, or ok=false if its file
// does not exist.
func (s *Store) LoadArtifact(ctx context.Context, ps id.Pathspec, name string) ([]byte, bool, error) {
	data, err := os.ReadFile(artifactPath(s.root, ps, name))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flowerrors.Wrap(err, fmt.Sprintf("localstore: read artifact %q", name))
	}
	return data, true, nil
}

// LoadArtifacts returns every artifact stored for the task.
func (s *Store) LoadArtifacts(ctx context.Context, ps id.Pathspec) (map[string][]byte, error) {
	dir := artifactDir(s.root, ps)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return map[string][]byte{}, nil
	}
	if err != nil {
		return nil, flowerrors.Wrap(err, "localstore: list artifact dir")
	}

	result := make(map[string][]byte, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), artifactExt) {
			continue
		}
		name := strings.TrimSuffix(entry.Name(), artifactExt)
		data, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, flowerrors.Wrap(err, fmt.Sprintf("localstore: read artifact %q", name))
		}
		result[name] = data
	}
	return result, nil
}

// HasArtifact reports whether the named artifact's file exists.
func (s *Store) HasArtifact(ctx context.Context, ps id.Pathspec, name string) (bool, error) {
	_, err := os.Stat(artifactPath(s.root, ps, name))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, flowerrors.Wrap(err, fmt.Sprintf("localstore: stat artifact %q", name))
	}
	return true, nil
}

// ArtifactNames lists every artifact name stored for the task.
func (s *Store) ArtifactNames(ctx context.Context, ps id.Pathspec) ([]string, error) {
	dir := artifactDir(s.root, ps)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, flowerrors.Wrap(err, "localstore: list artifact dir")
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), artifactExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(entry.Name(), artifactExt))
	}
	return names, nil
}

// ClearTaskArtifacts idempotently removes every *.blob file for the task,
// called before each retry attempt writes.
func (s *Store) ClearTaskArtifacts(ctx context.Context, ps id.Pathspec) error {
	dir := artifactDir(s.root, ps)
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return flowerrors.Wrap(err, "localstore: list artifact dir")
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), artifactExt) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, entry.Name())); err != nil && !os.IsNotExist(err) {
			return flowerrors.Wrap(err, fmt.Sprintf("localstore: remove artifact %q", entry.Name()))
		}
	}
	return nil
}

// SaveLog writes a captured output stream's full content.
func (s *Store) SaveLog(ctx context.Context, ps id.Pathspec, stream datastore.Stream, content string) error {
	path := logPath(s.root, ps, string(stream))
	if err := os.MkdirAll(filepath.Dir(path), dirPerm); err != nil {
		return flowerrors.Wrap(err, "localstore: create logs dir")
	}
	if err := os.WriteFile(path, []byte(content), filePerm); err != nil {
		return flowerrors.Wrap(err, fmt.Sprintf("localstore: write log %q", stream))
	}
	return nil
}

// LoadLog returns a captured output stream's content, or "" if absent.
func (s *Store) LoadLog(ctx context.Context, ps id.Pathspec, stream datastore.Stream) (string, error) {
	data, err := os.ReadFile(logPath(s.root, ps, string(stream)))
	if os.IsNotExist(err) {
		return "", nil
	}
	if err != nil {
		return "", flowerrors.Wrap(err, fmt.Sprintf("localstore: read log %q", stream))
	}
	return string(data), nil
}
