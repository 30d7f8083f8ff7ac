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

// Package remotestore implements pkg/datastore.Datastore against a generic
// HTTP object-storage endpoint — the same key layout as localstore, addressed
// as URL paths under a configured base URL rather than local filesystem
// paths. It is not an S3 client: object bytes move over the shared retrying
// pkg/httpclient transport, and the AWS SDK is used only to resolve the
// caller's identity for audit-logging, the way a signed request's principal
// is recorded without the request itself going through an AWS API.
package remotestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"golang.org/x/time/rate"

	"github.com/tombee/flowcore/pkg/datastore"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/httpclient"
	"github.com/tombee/flowcore/pkg/id"
)

const artifactExt = ".blob"

// Config configures a remote object-storage backend.
type Config struct {
	// BaseURL is the object-storage endpoint root, e.g.
	// "https://objects.example.com/flowcore" or the value of
	// METAFLOW_S3_ENDPOINT_URL joined with a bucket/prefix. Required.
	BaseURL string

	// Region is passed to the AWS SDK's default config loader for identity
	// resolution only; it has no bearing on where objects are stored.
	Region string

	// RequestsPerSecond caps outbound request volume; 0 disables limiting.
	RequestsPerSecond float64

	// HTTPConfig overrides the retrying HTTP client's configuration.
	// Zero value uses httpclient.DefaultConfig with AllowNonIdempotentRetry
	// set, since artifact/log writes are PUTs.
	HTTPConfig *httpclient.Config

	// ResolveIdentity controls whether New calls sts.GetCallerIdentity to
	// populate CallerIdentity for audit logging. Defaults to true; set
	// false in tests that have no AWS credentials available.
	ResolveIdentity *bool
}

// Store is the HTTP object-storage datastore backend.
type Store struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter

	// CallerIdentity is the ARN resolved via STS at construction time, used
	// for audit logging ("who persisted this artifact batch"). Empty if
	// identity resolution was disabled or failed non-fatally.
	CallerIdentity string
}

var _ datastore.Datastore = (*Store)(nil)

// New constructs a Store talking to cfg.BaseURL.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.BaseURL == "" {
		return nil, flowerrors.NewFlowError(flowerrors.KindConfigRequired, "remotestore: BaseURL is required")
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = "flowcore-remotestore/1.0"
	if cfg.HTTPConfig != nil {
		httpCfg = *cfg.HTTPConfig
	}
	httpCfg.AllowNonIdempotentRetry = true
	client, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, flowerrors.Wrap(err, "remotestore: build http client")
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	store := &Store{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: limiter,
	}

	resolveIdentity := cfg.ResolveIdentity == nil || *cfg.ResolveIdentity
	if resolveIdentity {
		identity, err := resolveCallerIdentity(ctx, cfg.Region)
		if err != nil {
			return nil, flowerrors.Wrapf(flowerrors.KindAccessDenied, err, "remotestore: resolve caller identity")
		}
		store.CallerIdentity = identity
	}

	return store, nil
}

// resolveCallerIdentity calls STS GetCallerIdentity purely to record who is
// about to persist artifacts; it is never used as the object-storage client.
func resolveCallerIdentity(ctx context.Context, region string) (string, error) {
	loadCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	awsCfg, err := config.LoadDefaultConfig(loadCtx, config.WithRegion(region))
	if err != nil {
		return "", err
	}

	identityCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	out, err := sts.NewFromConfig(awsCfg).GetCallerIdentity(identityCtx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", err
	}
	if out.Arn == nil {
		return "", nil
	}
	return *out.Arn, nil
}

func artifactPrefix(ps id.Pathspec) string {
	return fmt.Sprintf("%s/%s/%s/%s/artifacts", ps.Flow, ps.Run, ps.Step, ps.Task)
}

func artifactKey(ps id.Pathspec, name string) string {
	return artifactPrefix(ps) + "/" + name + artifactExt
}

func logKey(ps id.Pathspec, stream datastore.Stream) string {
	return fmt.Sprintf("%s/%s/%s/%s/logs/%s.txt", ps.Flow, ps.Run, ps.Step, ps.Task, stream)
}

func (s *Store) objectURL(key string) string {
	return s.baseURL + "/" + key
}

func (s *Store) wait(ctx context.Context) error {
	if s.limiter == nil {
		return nil
	}
	return s.limiter.Wait(ctx)
}

func (s *Store) put(ctx context.Context, key string, body []byte) error {
	if err := s.wait(ctx); err != nil {
		return flowerrors.Wrap(err, "remotestore: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), bytes.NewReader(body))
	if err != nil {
		return flowerrors.Wrap(err, "remotestore: build PUT request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "remotestore: PUT %s", key)
	}
	defer resp.Body.Close()
	return classifyStatus(resp.StatusCode, key)
}

// get returns the object's bytes, ok=false if the key does not exist.
func (s *Store) get(ctx context.Context, key string) ([]byte, bool, error) {
	if err := s.wait(ctx); err != nil {
		return nil, false, flowerrors.Wrap(err, "remotestore: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
	if err != nil {
		return nil, false, flowerrors.Wrap(err, "remotestore: build GET request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, false, flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "remotestore: GET %s", key)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, false, nil
	}
	if err := classifyStatus(resp.StatusCode, key); err != nil {
		return nil, false, err
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, flowerrors.Wrap(err, fmt.Sprintf("remotestore: read body for %s", key))
	}
	return data, true, nil
}

func (s *Store) head(ctx context.Context, key string) (bool, error) {
	if err := s.wait(ctx); err != nil {
		return false, flowerrors.Wrap(err, "remotestore: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, s.objectURL(key), nil)
	if err != nil {
		return false, flowerrors.Wrap(err, "remotestore: build HEAD request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false, flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "remotestore: HEAD %s", key)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return false, nil
	}
	if err := classifyStatus(resp.StatusCode, key); err != nil {
		return false, err
	}
	return true, nil
}

func (s *Store) delete(ctx context.Context, key string) error {
	if err := s.wait(ctx); err != nil {
		return flowerrors.Wrap(err, "remotestore: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.objectURL(key), nil)
	if err != nil {
		return flowerrors.Wrap(err, "remotestore: build DELETE request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "remotestore: DELETE %s", key)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return classifyStatus(resp.StatusCode, key)
}

// listKeys asks the object-storage endpoint for every key under prefix, via
// the generic `?prefix=` listing contract: GET {baseURL}/?prefix=<prefix>
// returns {"keys": [...]}.
func (s *Store) listKeys(ctx context.Context, prefix string) ([]string, error) {
	if err := s.wait(ctx); err != nil {
		return nil, flowerrors.Wrap(err, "remotestore: rate limit wait")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/?prefix="+prefix, nil)
	if err != nil {
		return nil, flowerrors.Wrap(err, "remotestore: build LIST request")
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "remotestore: LIST %s", prefix)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if err := classifyStatus(resp.StatusCode, prefix); err != nil {
		return nil, err
	}

	var listing struct {
		Keys []string `json:"keys"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, flowerrors.Wrap(err, fmt.Sprintf("remotestore: decode listing for %s", prefix))
	}
	return listing.Keys, nil
}

// classifyStatus maps a non-2xx response into the documented failure kinds:
// access-denied fails fast, everything else transient-backend (the retrying
// transport has already exhausted its own attempts by the time this runs).
func classifyStatus(status int, key string) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return flowerrors.NewFlowError(flowerrors.KindAccessDenied, fmt.Sprintf("remotestore: access denied for %s", key))
	default:
		return flowerrors.NewFlowError(flowerrors.KindTransientBackend, fmt.Sprintf("remotestore: request for %s failed with status %d", key, status))
	}
}

// SaveArtifacts PUTs every artifact as its own object.
func (s *Store) SaveArtifacts(ctx context.Context, ps id.Pathspec, artifacts map[string][]byte) error {
	for name, value := range artifacts {
		if err := s.put(ctx, artifactKey(ps, name), value); err != nil {
			return err
		}
	}
	return nil
}

// LoadArtifact GETs the named artifact.
func (s *Store) LoadArtifact(ctx context.Context, ps id.Pathspec, name string) ([]byte, bool, error) {
	return s.get(ctx, artifactKey(ps, name))
}

// LoadArtifacts lists and fetches every artifact stored for the task.
func (s *Store) LoadArtifacts(ctx context.Context, ps id.Pathspec) (map[string][]byte, error) {
	keys, err := s.listKeys(ctx, artifactPrefix(ps)+"/")
	if err != nil {
		return nil, err
	}
	result := make(map[string][]byte, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, artifactExt) {
			continue
		}
		name := strings.TrimSuffix(key[strings.LastIndex(key, "/")+1:], artifactExt)
		data, ok, err := s.get(ctx, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result[name] = data
		}
	}
	return result, nil
}

// HasArtifact HEADs the named artifact.
func (s *Store) HasArtifact(ctx context.Context, ps id.Pathspec, name string) (bool, error) {
	return s.head(ctx, artifactKey(ps, name))
}

// ArtifactNames lists every artifact name stored for the task.
func (s *Store) ArtifactNames(ctx context.Context, ps id.Pathspec) ([]string, error) {
	keys, err := s.listKeys(ctx, artifactPrefix(ps)+"/")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(keys))
	for _, key := range keys {
		if !strings.HasSuffix(key, artifactExt) {
			continue
		}
		names = append(names, strings.TrimSuffix(key[strings.LastIndex(key, "/")+1:], artifactExt))
	}
	return names, nil
}

// ClearTaskArtifacts deletes every object under the task's artifact prefix.
func (s *Store) ClearTaskArtifacts(ctx context.Context, ps id.Pathspec) error {
	keys, err := s.listKeys(ctx, artifactPrefix(ps)+"/")
	if err != nil {
		return err
	}
	for _, key := range keys {
		if !strings.HasSuffix(key, artifactExt) {
			continue
		}
		if err := s.delete(ctx, key); err != nil {
			return err
		}
	}
	return nil
}

// SaveLog PUTs a captured output stream's full content.
func (s *Store) SaveLog(ctx context.Context, ps id.Pathspec, stream datastore.Stream, content string) error {
	return s.put(ctx, logKey(ps, stream), []byte(content))
}

// LoadLog GETs a captured output stream's content, "" if absent.
func (s *Store) LoadLog(ctx context.Context, ps id.Pathspec, stream datastore.Stream) (string, error) {
	data, ok, err := s.get(ctx, logKey(ps, stream))
	if err != nil {
		return "", err
	}
	if !ok {
		return "", nil
	}
	return string(data), nil
}
