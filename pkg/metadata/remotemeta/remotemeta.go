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

// Package remotemeta implements pkg/metadata.Provider against a REST
// surface mirroring the provider interface one to one
// (POST /flows/{f}/runs, POST /flows/{f}/runs/{r}/steps, etc.), reusing the
// shared retrying pkg/httpclient transport. A 404 response maps to "not
// found"; a non-2xx response with a recognized transient code is retried by
// the transport before this package ever observes it.
package remotemeta

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/httpclient"
	"github.com/tombee/flowcore/pkg/metadata"
)

// Config configures a remote metadata provider.
type Config struct {
	// BaseURL is the metadata service root, e.g. "https://metadata.example.com".
	// Required. Grounded on METAFLOW_SERVICE_URL.
	BaseURL string

	// RequestsPerSecond caps outbound request volume; 0 disables limiting.
	RequestsPerSecond float64

	// HTTPConfig overrides the retrying HTTP client's configuration.
	HTTPConfig *httpclient.Config
}

// Provider is the HTTP-backed metadata provider.
type Provider struct {
	baseURL string
	client  *http.Client
	limiter *rate.Limiter
}

var _ metadata.Provider = (*Provider)(nil)

// New constructs a Provider talking to cfg.BaseURL.
func New(cfg Config) (*Provider, error) {
	if cfg.BaseURL == "" {
		return nil, flowerrors.NewFlowError(flowerrors.KindConfigRequired, "remotemeta: BaseURL is required")
	}

	httpCfg := httpclient.DefaultConfig()
	httpCfg.UserAgent = "flowcore-remotemeta/1.0"
	if cfg.HTTPConfig != nil {
		httpCfg = *cfg.HTTPConfig
	}
	httpCfg.AllowNonIdempotentRetry = true
	client, err := httpclient.New(httpCfg)
	if err != nil {
		return nil, flowerrors.Wrap(err, "remotemeta: build http client")
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &Provider{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		client:  client,
		limiter: limiter,
	}, nil
}

func (p *Provider) wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	return p.limiter.Wait(ctx)
}

func pathEscape(s string) string { return url.PathEscape(s) }

// do issues method against path with an optional JSON body, decoding a JSON
// response into out (if non-nil). A 404 is returned as (404, nil) rather
// than an error, so callers decide what "not found" means for them.
func (p *Provider) do(ctx context.Context, method, path string, body, out any) (statusCode int, err error) {
	if err := p.wait(ctx); err != nil {
		return 0, flowerrors.Wrap(err, "remotemeta: rate limit wait")
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, flowerrors.Wrap(err, "remotemeta: marshal request body")
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return 0, flowerrors.Wrap(err, "remotemeta: build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "remotemeta: %s %s", method, path)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return resp.StatusCode, nil
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return resp.StatusCode, flowerrors.NewFlowError(flowerrors.KindAccessDenied, fmt.Sprintf("remotemeta: access denied for %s %s", method, path))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, flowerrors.NewFlowError(flowerrors.KindTransientBackend, fmt.Sprintf("remotemeta: %s %s failed with status %d", method, path, resp.StatusCode))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, flowerrors.Wrap(err, fmt.Sprintf("remotemeta: decode response for %s %s", method, path))
		}
	}
	return resp.StatusCode, nil
}

func (p *Provider) NewRun(ctx context.Context, flow, run string, userTags, sysTags []string) error {
	path := fmt.Sprintf("/flows/%s/runs", pathEscape(flow))
	_, err := p.do(ctx, http.MethodPost, path, map[string]any{
		"run_id":   run,
		"tags":     userTags,
		"sys_tags": sysTags,
	}, nil)
	return err
}

func (p *Provider) NewStep(ctx context.Context, flow, run, step string) error {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps", pathEscape(flow), pathEscape(run))
	_, err := p.do(ctx, http.MethodPost, path, map[string]any{"name": step}, nil)
	return err
}

func (p *Provider) NewTask(ctx context.Context, flow, run, step, task string) error {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps/%s/tasks", pathEscape(flow), pathEscape(run), pathEscape(step))
	_, err := p.do(ctx, http.MethodPost, path, map[string]any{"id": task}, nil)
	return err
}

func (p *Provider) RegisterMetadata(ctx context.Context, flow, run, step, task string, entries []metadata.Entry) error {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps/%s/tasks/%s/metadata",
		pathEscape(flow), pathEscape(run), pathEscape(step), pathEscape(task))
	_, err := p.do(ctx, http.MethodPost, path, map[string]any{"entries": entries}, nil)
	return err
}

func (p *Provider) DoneTask(ctx context.Context, flow, run, step, task string) error {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps/%s/tasks/%s/done",
		pathEscape(flow), pathEscape(run), pathEscape(step), pathEscape(task))
	_, err := p.do(ctx, http.MethodPost, path, nil, nil)
	return err
}

func (p *Provider) DoneRun(ctx context.Context, flow, run string) error {
	path := fmt.Sprintf("/flows/%s/runs/%s/done", pathEscape(flow), pathEscape(run))
	_, err := p.do(ctx, http.MethodPost, path, nil, nil)
	return err
}

func (p *Provider) IsTaskDone(ctx context.Context, flow, run, step, task string) (bool, error) {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps/%s/tasks/%s/done",
		pathEscape(flow), pathEscape(run), pathEscape(step), pathEscape(task))
	var out struct {
		Done bool `json:"done"`
	}
	status, err := p.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	return out.Done, nil
}

func (p *Provider) IsRunDone(ctx context.Context, flow, run string) (bool, error) {
	path := fmt.Sprintf("/flows/%s/runs/%s/done", pathEscape(flow), pathEscape(run))
	var out struct {
		Done bool `json:"done"`
	}
	status, err := p.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return false, err
	}
	if status == http.StatusNotFound {
		return false, nil
	}
	return out.Done, nil
}

func (p *Provider) GetRunIDs(ctx context.Context, flow string) ([]string, error) {
	path := fmt.Sprintf("/flows/%s/runs", pathEscape(flow))
	var out struct {
		RunIDs []string `json:"run_ids"`
	}
	if _, err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.RunIDs, nil
}

func (p *Provider) GetStepNames(ctx context.Context, flow, run string) ([]string, error) {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps", pathEscape(flow), pathEscape(run))
	var out struct {
		Names []string `json:"names"`
	}
	if _, err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Names, nil
}

func (p *Provider) GetTaskIDs(ctx context.Context, flow, run, step string) ([]string, error) {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps/%s/tasks", pathEscape(flow), pathEscape(run), pathEscape(step))
	var out struct {
		IDs []string `json:"ids"`
	}
	if _, err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.IDs, nil
}

func (p *Provider) GetTaskMetadata(ctx context.Context, flow, run, step, task string) ([]metadata.Entry, error) {
	path := fmt.Sprintf("/flows/%s/runs/%s/steps/%s/tasks/%s/metadata",
		pathEscape(flow), pathEscape(run), pathEscape(step), pathEscape(task))
	var out struct {
		Entries []metadata.Entry `json:"entries"`
	}
	if _, err := p.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return out.Entries, nil
}

func (p *Provider) GetRunMeta(ctx context.Context, flow, run string) (*metadata.RunMeta, bool, error) {
	path := fmt.Sprintf("/flows/%s/runs/%s", pathEscape(flow), pathEscape(run))
	var out struct {
		Tags       []string   `json:"tags"`
		SysTags    []string   `json:"sys_tags"`
		Status     string     `json:"status"`
		CreatedAt  time.Time  `json:"created_at"`
		FinishedAt *time.Time `json:"finished_at,omitempty"`
	}
	status, err := p.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return nil, false, err
	}
	if status == http.StatusNotFound {
		return nil, false, nil
	}
	return &metadata.RunMeta{
		Tags:       out.Tags,
		SysTags:    out.SysTags,
		Status:     out.Status,
		CreatedAt:  out.CreatedAt,
		FinishedAt: out.FinishedAt,
	}, true, nil
}

func (p *Provider) UpdateRunTags(ctx context.Context, flow, run string, tags []string) error {
	path := fmt.Sprintf("/flows/%s/runs/%s/tags", pathEscape(flow), pathEscape(run))
	status, err := p.do(ctx, http.MethodPatch, path, map[string]any{"tags": tags}, nil)
	if err != nil {
		return err
	}
	if status == http.StatusNotFound {
		return flowerrors.NewFlowError(flowerrors.KindNotFound, "remotemeta: run not found")
	}
	return nil
}
