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

// Package sqlitemeta implements pkg/metadata.Provider on an embedded SQLite
// database: runs/steps/tasks lifecycle rows plus an append-only
// metadata_entries table, a real alternative to localmeta's JSON files
// without bringing in a network dependency.
package sqlitemeta

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/metadata"
)

var _ metadata.Provider = (*Store)(nil)

// Config contains SQLite connection configuration.
type Config struct {
	// Path is the database file path (or ":memory:" for an ephemeral store).
	Path string

	// WAL enables Write-Ahead Logging mode for concurrent reads.
	WAL bool
}

// Store is a SQLite-backed metadata provider.
type Store struct {
	db *sql.DB
}

// New opens (creating if needed) the database at cfg.Path and runs
// migrations.
func New(cfg Config) (*Store, error) {
	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, flowerrors.Wrap(err, "sqlitemeta: open database")
	}

	// SQLite serializes writes; one connection avoids SQLITE_BUSY thrash
	// under the scheduler's concurrent task writers.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, flowerrors.Wrap(err, "sqlitemeta: connect")
	}

	s := &Store{db: db}
	if err := s.configurePragmas(ctx, cfg.WAL); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) configurePragmas(ctx context.Context, enableWAL bool) error {
	pragmas := []string{
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
		"PRAGMA auto_vacuum=INCREMENTAL",
		"PRAGMA synchronous=NORMAL",
	}
	if enableWAL {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL")
	}
	for _, pragma := range pragmas {
		if _, err := s.db.ExecContext(ctx, pragma); err != nil {
			return flowerrors.Wrap(err, fmt.Sprintf("sqlitemeta: execute %s", pragma))
		}
	}
	return nil
}

func (s *Store) migrate(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			flow TEXT NOT NULL,
			run_id TEXT NOT NULL,
			tags TEXT,
			sys_tags TEXT,
			status TEXT NOT NULL,
			created_at TEXT NOT NULL,
			finished_at TEXT,
			PRIMARY KEY (flow, run_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_flow_created_at ON runs(flow, created_at)`,
		`CREATE TABLE IF NOT EXISTS steps (
			flow TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (flow, run_id, step_name),
			FOREIGN KEY (flow, run_id) REFERENCES runs(flow, run_id) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			flow TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			task_id TEXT NOT NULL,
			created_at TEXT NOT NULL,
			done INTEGER NOT NULL DEFAULT 0,
			finished_at TEXT,
			PRIMARY KEY (flow, run_id, step_name, task_id),
			FOREIGN KEY (flow, run_id, step_name) REFERENCES steps(flow, run_id, step_name) ON DELETE CASCADE
		)`,
		`CREATE TABLE IF NOT EXISTS metadata_entries (
			flow TEXT NOT NULL,
			run_id TEXT NOT NULL,
			step_name TEXT NOT NULL,
			task_id TEXT NOT NULL,
			type TEXT NOT NULL,
			value TEXT NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_metadata_entries_task ON metadata_entries(flow, run_id, step_name, task_id, created_at)`,
	}
	for _, migration := range migrations {
		if _, err := s.db.ExecContext(ctx, migration); err != nil {
			return flowerrors.Wrap(err, "sqlitemeta: migration failed")
		}
	}
	return nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func marshalTags(tags []string) (string, error) {
	data, err := json.Marshal(tags)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTags(raw sql.NullString) ([]string, error) {
	if !raw.Valid || raw.String == "" {
		return nil, nil
	}
	var tags []string
	if err := json.Unmarshal([]byte(raw.String), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// NewRun inserts a run row if absent; an existing row is left untouched.
func (s *Store) NewRun(ctx context.Context, flow, run string, userTags, sysTags []string) error {
	tagsJSON, err := marshalTags(userTags)
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: marshal tags")
	}
	sysTagsJSON, err := marshalTags(sysTags)
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: marshal sys_tags")
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO runs (flow, run_id, tags, sys_tags, status, created_at)
		VALUES (?, ?, ?, ?, 'running', ?)
		ON CONFLICT (flow, run_id) DO NOTHING
	`, flow, run, tagsJSON, sysTagsJSON, time.Now().Format(time.RFC3339))
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: insert run")
	}
	return nil
}

func (s *Store) NewStep(ctx context.Context, flow, run, step string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO steps (flow, run_id, step_name, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (flow, run_id, step_name) DO NOTHING
	`, flow, run, step, time.Now().Format(time.RFC3339))
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: insert step")
	}
	return nil
}

func (s *Store) NewTask(ctx context.Context, flow, run, step, task string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (flow, run_id, step_name, task_id, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (flow, run_id, step_name, task_id) DO NOTHING
	`, flow, run, step, task, time.Now().Format(time.RFC3339))
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: insert task")
	}
	return nil
}

func (s *Store) RegisterMetadata(ctx context.Context, flow, run, step, task string, entries []metadata.Entry) error {
	now := time.Now().Format(time.RFC3339)
	for _, entry := range entries {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO metadata_entries (flow, run_id, step_name, task_id, type, value, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?)
		`, flow, run, step, task, entry.Type, entry.Value, now)
		if err != nil {
			return flowerrors.Wrap(err, "sqlitemeta: insert metadata entry")
		}
	}
	return nil
}

func (s *Store) DoneTask(ctx context.Context, flow, run, step, task string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tasks (flow, run_id, step_name, task_id, created_at, done, finished_at)
		VALUES (?, ?, ?, ?, ?, 1, ?)
		ON CONFLICT (flow, run_id, step_name, task_id) DO UPDATE SET
			done = 1,
			finished_at = excluded.finished_at
	`, flow, run, step, task, now, now)
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: mark task done")
	}
	return nil
}

func (s *Store) DoneRun(ctx context.Context, flow, run string) error {
	now := time.Now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs (flow, run_id, status, created_at, finished_at)
		VALUES (?, ?, 'completed', ?, ?)
		ON CONFLICT (flow, run_id) DO UPDATE SET
			status = 'completed',
			finished_at = excluded.finished_at
	`, flow, run, now, now)
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: mark run done")
	}
	return nil
}

func (s *Store) IsTaskDone(ctx context.Context, flow, run, step, task string) (bool, error) {
	var done int
	err := s.db.QueryRowContext(ctx, `
		SELECT done FROM tasks WHERE flow = ? AND run_id = ? AND step_name = ? AND task_id = ?
	`, flow, run, step, task).Scan(&done)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, flowerrors.Wrap(err, "sqlitemeta: query task done")
	}
	return done == 1, nil
}

func (s *Store) IsRunDone(ctx context.Context, flow, run string) (bool, error) {
	var status string
	err := s.db.QueryRowContext(ctx, `
		SELECT status FROM runs WHERE flow = ? AND run_id = ?
	`, flow, run).Scan(&status)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, flowerrors.Wrap(err, "sqlitemeta: query run status")
	}
	return status == "completed", nil
}

func (s *Store) GetRunIDs(ctx context.Context, flow string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id FROM runs WHERE flow = ? ORDER BY created_at DESC, rowid DESC
	`, flow)
	if err != nil {
		return nil, flowerrors.Wrap(err, "sqlitemeta: list run ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, flowerrors.Wrap(err, "sqlitemeta: scan run id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetStepNames(ctx context.Context, flow, run string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT step_name FROM steps WHERE flow = ? AND run_id = ? ORDER BY created_at ASC
	`, flow, run)
	if err != nil {
		return nil, flowerrors.Wrap(err, "sqlitemeta: list step names")
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, flowerrors.Wrap(err, "sqlitemeta: scan step name")
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *Store) GetTaskIDs(ctx context.Context, flow, run, step string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT task_id FROM tasks WHERE flow = ? AND run_id = ? AND step_name = ? ORDER BY created_at ASC
	`, flow, run, step)
	if err != nil {
		return nil, flowerrors.Wrap(err, "sqlitemeta: list task ids")
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, flowerrors.Wrap(err, "sqlitemeta: scan task id")
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *Store) GetTaskMetadata(ctx context.Context, flow, run, step, task string) ([]metadata.Entry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT type, value FROM metadata_entries
		WHERE flow = ? AND run_id = ? AND step_name = ? AND task_id = ?
		ORDER BY created_at ASC
	`, flow, run, step, task)
	if err != nil {
		return nil, flowerrors.Wrap(err, "sqlitemeta: list task metadata")
	}
	defer rows.Close()

	var entries []metadata.Entry
	for rows.Next() {
		var entry metadata.Entry
		if err := rows.Scan(&entry.Type, &entry.Value); err != nil {
			return nil, flowerrors.Wrap(err, "sqlitemeta: scan metadata entry")
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetRunMeta(ctx context.Context, flow, run string) (*metadata.RunMeta, bool, error) {
	var tagsRaw, sysTagsRaw, finishedAtRaw sql.NullString
	var status, createdAtRaw string

	err := s.db.QueryRowContext(ctx, `
		SELECT tags, sys_tags, status, created_at, finished_at
		FROM runs WHERE flow = ? AND run_id = ?
	`, flow, run).Scan(&tagsRaw, &sysTagsRaw, &status, &createdAtRaw, &finishedAtRaw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, flowerrors.Wrap(err, "sqlitemeta: query run meta")
	}

	tags, err := unmarshalTags(tagsRaw)
	if err != nil {
		return nil, false, flowerrors.Wrap(err, "sqlitemeta: unmarshal tags")
	}
	sysTags, err := unmarshalTags(sysTagsRaw)
	if err != nil {
		return nil, false, flowerrors.Wrap(err, "sqlitemeta: unmarshal sys_tags")
	}

	createdAt, err := time.Parse(time.RFC3339, createdAtRaw)
	if err != nil {
		return nil, false, flowerrors.Wrap(err, "sqlitemeta: parse created_at")
	}

	meta := &metadata.RunMeta{Tags: tags, SysTags: sysTags, Status: status, CreatedAt: createdAt}
	if finishedAtRaw.Valid {
		t, err := time.Parse(time.RFC3339, finishedAtRaw.String)
		if err != nil {
			return nil, false, flowerrors.Wrap(err, "sqlitemeta: parse finished_at")
		}
		meta.FinishedAt = &t
	}
	return meta, true, nil
}

func (s *Store) UpdateRunTags(ctx context.Context, flow, run string, tags []string) error {
	tagsJSON, err := marshalTags(tags)
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: marshal tags")
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE runs SET tags = ? WHERE flow = ? AND run_id = ?
	`, tagsJSON, flow, run)
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: update tags")
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return flowerrors.Wrap(err, "sqlitemeta: check rows affected")
	}
	if rowsAffected == 0 {
		return flowerrors.NewFlowError(flowerrors.KindNotFound, "sqlitemeta: run not found")
	}
	return nil
}
