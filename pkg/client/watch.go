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

package client

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// Event reports a change observed under a run's local metadata tree: a new
// step or task directory appearing, or one of its _meta/*.json files being
// rewritten (a task/run/step transitioning state).
type Event struct {
	Path string
	Op   string
}

// RunWatcher tails a run's local metadata directory so a caller (e.g. a
// dashboard) can observe step/task progress without polling. It only
// supports the local metadata layout — a remote metadata service has no
// filesystem to watch and is expected to offer its own streaming API.
type RunWatcher struct {
	fsw    *fsnotify.Watcher
	events chan Event
	stopCh chan struct{}
	doneCh chan struct{}
	logger *slog.Logger
}

// WatchRun starts tailing root/flow/run (the local metadata layout's run
// directory) for filesystem changes, recursively watching every
// subdirectory that exists at call time and any created afterward.
func WatchRun(ctx context.Context, root, flow, run string) (*RunWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindInternal, err, "creating run watcher")
	}

	runDir := filepath.Join(root, flow, run)
	if err := addRecursive(fsw, runDir); err != nil {
		fsw.Close()
		return nil, flowerrors.Wrapf(flowerrors.KindNotFound, err, "watching run directory %s", runDir)
	}

	w := &RunWatcher{
		fsw:    fsw,
		events: make(chan Event, 100),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		logger: slog.Default().With(slog.String("component", "client.watch"), slog.String("run", flow+"/"+run)),
	}
	go w.loop(ctx)
	return w, nil
}

func addRecursive(fsw *fsnotify.Watcher, dir string) error {
	return filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

func (w *RunWatcher) loop(ctx context.Context) {
	defer close(w.doneCh)
	defer close(w.events)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					_ = addRecursive(w.fsw, ev.Name)
				}
			}
			select {
			case w.events <- Event{Path: ev.Name, Op: ev.Op.String()}:
			default:
				w.logger.Warn("event channel full, dropping event", "path", ev.Name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("run watcher error", "error", err)
		}
	}
}

// Events returns the channel of observed filesystem events. It is closed
// once Stop is called or the watching context is cancelled.
func (w *RunWatcher) Events() <-chan Event { return w.events }

// Stop releases the underlying fsnotify watcher and waits for the event
// loop to exit.
func (w *RunWatcher) Stop() error {
	close(w.stopCh)
	<-w.doneCh
	return w.fsw.Close()
}
