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

package errors_test

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
)

func TestFlowError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *flowerrors.FlowError
		want []string
	}{
		{
			name: "message only",
			err:  flowerrors.NewFlowError(flowerrors.KindNotFound, "run 123 not found"),
			want: []string{"not_found", "run 123 not found"},
		},
		{
			name: "with cause",
			err:  flowerrors.Wrapf(flowerrors.KindTransientBackend, errors.New("dial tcp: timeout"), "saving artifacts"),
			want: []string{"transient_backend", "saving artifacts", "dial tcp: timeout"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.err.Error()
			for _, want := range tt.want {
				if !strings.Contains(got, want) {
					t.Errorf("FlowError.Error() = %q, want to contain %q", got, want)
				}
			}
		})
	}
}

func TestFlowError_Unwrap(t *testing.T) {
	cause := errors.New("network error")
	err := flowerrors.Wrapf(flowerrors.KindAccessDenied, cause, "listing run ids")

	if got := err.Unwrap(); got != cause {
		t.Errorf("FlowError.Unwrap() = %v, want %v", got, cause)
	}
}

func TestKindOf(t *testing.T) {
	t.Run("direct FlowError", func(t *testing.T) {
		err := flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag too long")
		if got := flowerrors.KindOf(err); got != flowerrors.KindInvalidTag {
			t.Errorf("KindOf() = %v, want %v", got, flowerrors.KindInvalidTag)
		}
	})

	t.Run("wrapped FlowError", func(t *testing.T) {
		original := flowerrors.NewFlowError(flowerrors.KindNamespaceMismatch, "run not in namespace")
		wrapped := fmt.Errorf("client lookup: %w", original)
		if got := flowerrors.KindOf(wrapped); got != flowerrors.KindNamespaceMismatch {
			t.Errorf("KindOf() = %v, want %v", got, flowerrors.KindNamespaceMismatch)
		}
	})

	t.Run("non-FlowError defaults to internal", func(t *testing.T) {
		if got := flowerrors.KindOf(errors.New("boom")); got != flowerrors.KindInternal {
			t.Errorf("KindOf() = %v, want %v", got, flowerrors.KindInternal)
		}
	})
}

func TestIsKind(t *testing.T) {
	err := flowerrors.NewFlowError(flowerrors.KindTimeout, "step exceeded budget")
	if !flowerrors.IsKind(err, flowerrors.KindTimeout) {
		t.Error("IsKind should match KindTimeout")
	}
	if flowerrors.IsKind(err, flowerrors.KindInvalidTag) {
		t.Error("IsKind should not match KindInvalidTag")
	}
}

func TestUnhandledMergeArtifacts(t *testing.T) {
	err := flowerrors.NewFlowError(flowerrors.KindUnhandledMerge, "conflicting artifacts").
		WithUnhandled([]string{"x", "y"})

	if len(err.Unhandled) != 2 || err.Unhandled[0] != "x" || err.Unhandled[1] != "y" {
		t.Errorf("Unhandled = %v, want [x y]", err.Unhandled)
	}
}

func TestFlowError_IsRetryable(t *testing.T) {
	transient := flowerrors.NewFlowError(flowerrors.KindTransientBackend, "slow down")
	if !transient.IsRetryable() {
		t.Error("transient backend errors should be retryable")
	}

	notFound := flowerrors.NewFlowError(flowerrors.KindNotFound, "missing")
	if notFound.IsRetryable() {
		t.Error("not-found errors should not be retryable")
	}
}

func TestFlowError_UserVisible(t *testing.T) {
	internal := flowerrors.NewFlowError(flowerrors.KindInternal, "unexpected")
	if internal.IsUserVisible() {
		t.Error("internal errors should not be user visible")
	}

	invalidTag := flowerrors.NewFlowError(flowerrors.KindInvalidTag, "tag too long")
	if !invalidTag.IsUserVisible() {
		t.Error("invalid tag errors should be user visible")
	}
	if invalidTag.Suggestion() == "" {
		t.Error("invalid tag errors should carry a suggestion")
	}
}

func TestErrorsIsWithFlowError(t *testing.T) {
	original := flowerrors.NewFlowError(flowerrors.KindGraphInvariant, "missing end step")
	wrapped := fmt.Errorf("building graph: %w", original)

	if !errors.Is(wrapped, original) {
		t.Error("errors.Is should find the original FlowError in the chain")
	}
}
