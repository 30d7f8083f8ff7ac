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

// Package config loads the orchestrator's own runtime configuration: which
// datastore and metadata backend to use, their roots or service URLs, and
// logging. This is distinct from the flow-level Config descriptor resolved
// per run by pkg/flowconfig.
package config

import (
	"errors"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/tombee/flowcore/internal/log"
)

// ErrInvalidConfig is returned by Load when the YAML document fails validation.
var ErrInvalidConfig = errors.New("invalid orchestrator configuration")

// Config is the top-level orchestrator configuration.
type Config struct {
	Log       LogConfig       `yaml:"log"`
	Datastore DatastoreConfig `yaml:"datastore"`
	Metadata  MetadataConfig  `yaml:"metadata"`
	Scheduler SchedulerConfig `yaml:"scheduler"`
}

// LogConfig controls the orchestrator's structured logger.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// DatastoreConfig selects and configures the artifact datastore provider.
type DatastoreConfig struct {
	// Provider names a registered pkg/datastore provider ("local" or "remote").
	Provider string `yaml:"provider"`
	// SysrootLocal is the root directory for the local provider.
	SysrootLocal string `yaml:"sysroot_local"`
	// SysrootS3 is the root URL for the remote provider.
	SysrootS3 string `yaml:"sysroot_s3"`
	// EndpointURL overrides the remote provider's endpoint, for S3-compatible stores.
	EndpointURL string `yaml:"endpoint_url"`
}

// MetadataConfig selects and configures the metadata provider.
type MetadataConfig struct {
	// Provider names a registered pkg/metadata provider ("local", "sqlite", or "service").
	Provider string `yaml:"provider"`
	// ServiceURL is the base URL of a remote metadata service.
	ServiceURL string `yaml:"service_url"`
	// SQLitePath is the database file used by the sqlite provider.
	SQLitePath string `yaml:"sqlite_path"`
}

// SchedulerConfig controls pkg/scheduler's concurrency and default namespace.
type SchedulerConfig struct {
	// MaxWorkers bounds the number of task attempts running concurrently.
	MaxWorkers int `yaml:"max_workers"`
	// User sets the default namespace owner when METAFLOW_USER is unset.
	User string `yaml:"user"`
	// Production marks runs as production runs (affects the default namespace).
	Production bool `yaml:"production"`
	// Branch names a non-default production branch.
	Branch string `yaml:"branch"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Datastore: DatastoreConfig{
			Provider:     "local",
			SysrootLocal: ".metaflow",
		},
		Metadata: MetadataConfig{
			Provider: "local",
		},
		Scheduler: SchedulerConfig{
			MaxWorkers: 4,
		},
	}
}

// Load reads and parses a YAML configuration file at path, validating it
// before returning. Environment variables are not applied; FromEnv reads
// them separately, and merging the two is left to the caller.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Join(ErrInvalidConfig, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks Config invariants and returns ErrInvalidConfig wrapped
// with a description of the first violation found.
func (c *Config) Validate() error {
	switch c.Datastore.Provider {
	case "local", "remote", "":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("datastore.provider must be local or remote"))
	}

	switch c.Metadata.Provider {
	case "local", "sqlite", "service", "":
	default:
		return errors.Join(ErrInvalidConfig, errors.New("metadata.provider must be local, sqlite, or service"))
	}

	if c.Scheduler.MaxWorkers < 0 {
		return errors.Join(ErrInvalidConfig, errors.New("scheduler.max_workers must be non-negative"))
	}

	return nil
}

// FromEnv builds a Config from the METAFLOW_* environment variables,
// layered over DefaultConfig the same way internal/log.FromEnv layers
// CONDUCTOR_LOG_LEVEL over LOG_LEVEL: an env value present always wins.
//
// Recognised variables:
//   - METAFLOW_USER, USER: scheduler.user (METAFLOW_USER takes precedence)
//   - METAFLOW_DEFAULT_DATASTORE: datastore.provider
//   - METAFLOW_DEFAULT_METADATA: metadata.provider
//   - METAFLOW_DATASTORE_SYSROOT_LOCAL: datastore.sysroot_local
//   - METAFLOW_DATASTORE_SYSROOT_S3: datastore.sysroot_s3
//   - METAFLOW_SERVICE_URL: metadata.service_url
//   - METAFLOW_S3_ENDPOINT_URL: datastore.endpoint_url
//   - METAFLOW_PRODUCTION: scheduler.production ("true" or "1")
//   - METAFLOW_BRANCH: scheduler.branch
func FromEnv() *Config {
	cfg := DefaultConfig()

	cfg.Scheduler.User = firstNonEmpty(os.Getenv("METAFLOW_USER"), os.Getenv("USER"))

	if v := os.Getenv("METAFLOW_DEFAULT_DATASTORE"); v != "" {
		cfg.Datastore.Provider = v
	}
	if v := os.Getenv("METAFLOW_DEFAULT_METADATA"); v != "" {
		cfg.Metadata.Provider = v
	}
	if v := os.Getenv("METAFLOW_DATASTORE_SYSROOT_LOCAL"); v != "" {
		cfg.Datastore.SysrootLocal = v
	}
	if v := os.Getenv("METAFLOW_DATASTORE_SYSROOT_S3"); v != "" {
		cfg.Datastore.SysrootS3 = v
	}
	if v := os.Getenv("METAFLOW_SERVICE_URL"); v != "" {
		cfg.Metadata.ServiceURL = v
	}
	if v := os.Getenv("METAFLOW_S3_ENDPOINT_URL"); v != "" {
		cfg.Datastore.EndpointURL = v
	}
	if v := os.Getenv("METAFLOW_PRODUCTION"); v == "true" || v == "1" {
		cfg.Scheduler.Production = true
	}
	if v := os.Getenv("METAFLOW_BRANCH"); v != "" {
		cfg.Scheduler.Branch = v
	}

	logCfg := log.FromEnv()
	cfg.Log.Level = logCfg.Level
	cfg.Log.Format = string(logCfg.Format)

	return cfg
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
