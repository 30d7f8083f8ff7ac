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
	"unicode/utf8"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

const maxTagBytes = 512

// ValidateTag reports whether tag is a legal user tag: non-empty, at most
// 512 bytes, and valid UTF-8.
func ValidateTag(tag string) error {
	if tag == "" {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag must not be empty")
	}
	if len(tag) > maxTagBytes {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag must not exceed 512 bytes")
	}
	if !utf8.ValidString(tag) {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag must be valid UTF-8")
	}
	return nil
}

func systemTagSet(sysTags []string) map[string]bool {
	set := make(map[string]bool, len(sysTags))
	for _, t := range sysTags {
		set[t] = true
	}
	return set
}

// AddTag adds tag to the run's user tags. Adding a tag equal to one of the
// run's system tags is a silent no-op, matching the reference client's
// handling of user/system tag collisions.
func (r *Run) AddTag(ctx context.Context, tag string) error {
	return r.AddTags(ctx, []string{tag})
}

// AddTags adds every tag in tags to the run's user tags, silently skipping
// any that collide with a system tag.
func (r *Run) AddTags(ctx context.Context, tags []string) error {
	for _, t := range tags {
		if err := ValidateTag(t); err != nil {
			return err
		}
	}
	meta, ok, err := r.client.Metadata.GetRunMeta(ctx, r.Flow, r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return flowerrors.NewFlowError(flowerrors.KindNotFound, "run "+r.Pathspec().String()+" not found")
	}
	sysTags := systemTagSet(meta.SysTags)
	existing := make(map[string]bool, len(meta.Tags))
	for _, t := range meta.Tags {
		existing[t] = true
	}
	for _, t := range tags {
		if !sysTags[t] {
			existing[t] = true
		}
	}
	return r.client.Metadata.UpdateRunTags(ctx, r.Flow, r.ID, mapKeys(existing))
}

// RemoveTag removes tag from the run's user tags. Removing a tag that is
// also one of the run's system tags is rejected with KindInvalidTag.
func (r *Run) RemoveTag(ctx context.Context, tag string) error {
	return r.RemoveTags(ctx, []string{tag})
}

// RemoveTags removes every tag in tags from the run's user tags.
func (r *Run) RemoveTags(ctx context.Context, tags []string) error {
	meta, ok, err := r.client.Metadata.GetRunMeta(ctx, r.Flow, r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return flowerrors.NewFlowError(flowerrors.KindNotFound, "run "+r.Pathspec().String()+" not found")
	}
	sysTags := systemTagSet(meta.SysTags)
	for _, t := range tags {
		if sysTags[t] {
			return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "cannot remove system tag "+t)
		}
	}
	remove := systemTagSet(tags)
	existing := make(map[string]bool, len(meta.Tags))
	for _, t := range meta.Tags {
		if !remove[t] {
			existing[t] = true
		}
	}
	return r.client.Metadata.UpdateRunTags(ctx, r.Flow, r.ID, mapKeys(existing))
}

// ReplaceTag removes oldTag and adds newTag in one update.
func (r *Run) ReplaceTag(ctx context.Context, oldTag, newTag string) error {
	return r.ReplaceTags(ctx, []string{oldTag}, []string{newTag})
}

// ReplaceTags removes every tag in toRemove and adds every tag in toAdd in
// one update. Removing a system tag is rejected; adding one is a no-op for
// that tag, exactly as AddTags/RemoveTags behave individually.
func (r *Run) ReplaceTags(ctx context.Context, toRemove, toAdd []string) error {
	if len(toRemove) == 0 && len(toAdd) == 0 {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "must provide tags to remove or add")
	}
	for _, t := range toAdd {
		if err := ValidateTag(t); err != nil {
			return err
		}
	}
	meta, ok, err := r.client.Metadata.GetRunMeta(ctx, r.Flow, r.ID)
	if err != nil {
		return err
	}
	if !ok {
		return flowerrors.NewFlowError(flowerrors.KindNotFound, "run "+r.Pathspec().String()+" not found")
	}
	sysTags := systemTagSet(meta.SysTags)
	for _, t := range toRemove {
		if sysTags[t] {
			return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "cannot remove system tag "+t)
		}
	}
	remove := systemTagSet(toRemove)
	existing := make(map[string]bool, len(meta.Tags))
	for _, t := range meta.Tags {
		if !remove[t] {
			existing[t] = true
		}
	}
	for _, t := range toAdd {
		if !sysTags[t] {
			existing[t] = true
		}
	}
	return r.client.Metadata.UpdateRunTags(ctx, r.Flow, r.ID, mapKeys(existing))
}

func mapKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	return keys
}
