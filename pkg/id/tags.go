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

package id

import (
	"fmt"
	"unicode/utf8"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

// MaxTagBytes is the maximum UTF-8 byte length of a tag.
const MaxTagBytes = 512

// ValidateTag checks that tag is non-empty UTF-8 no longer than MaxTagBytes.
func ValidateTag(tag string) error {
	if tag == "" {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag must not be empty")
	}
	if !utf8.ValidString(tag) {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag must be valid UTF-8")
	}
	if len(tag) > MaxTagBytes {
		return flowerrors.NewFlowError(flowerrors.KindInvalidTag,
			fmt.Sprintf("tag exceeds %d bytes", MaxTagBytes))
	}
	return nil
}

// UserTag, RuntimeTag prefixes used to build system tags.
const (
	UserTagPrefix    = "user:"
	RuntimeTagPrefix = "runtime:"
)

// SystemTags returns the immutable system tags the scheduler attaches to
// every run: user:<name>, runtime:<value>, and any project markers.
func SystemTags(user, runtime string, projectTags ...string) []string {
	tags := []string{UserTagPrefix + user, RuntimeTagPrefix + runtime}
	tags = append(tags, projectTags...)
	return tags
}

// IsSystemTag reports whether tag matches one of the system tags already
// attached to a run. Used to enforce "no user tag may collide with a
// system tag" and "removing a system tag is an error".
func IsSystemTag(tag string, systemTags []string) bool {
	for _, st := range systemTags {
		if tag == st {
			return true
		}
	}
	return false
}
