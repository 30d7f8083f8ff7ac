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

package scheduler

import (
	"context"
	"encoding/json"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/id"
)

// applyExports merges a suppressed exception handler's exports (e.g.
// @catch's wrapped-exception variable) into whatever artifacts the task
// already persisted. Every artifact value round-trips through JSON, the
// same opaque-blob convention pkg/datastore's byte-oriented contract
// assumes worker-side artifact encoding uses.
func (s *Scheduler) applyExports(ctx context.Context, ps id.Pathspec, exports map[string]any) error {
	existing, err := s.Datastore.LoadArtifacts(ctx, ps)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "loading existing artifacts for %s before applying exports", ps)
	}
	if existing == nil {
		existing = make(map[string][]byte)
	}
	for name, v := range exports {
		blob, err := json.Marshal(v)
		if err != nil {
			return flowerrors.Wrapf(flowerrors.KindInternal, err, "encoding exported artifact %q for %s", name, ps)
		}
		existing[name] = blob
	}
	if err := s.Datastore.SaveArtifacts(ctx, ps, existing); err != nil {
		return flowerrors.Wrapf(flowerrors.KindInternal, err, "saving exported artifacts for %s", ps)
	}
	return nil
}
