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

package errors

import "fmt"

// Kind is a closed taxonomy of error categories produced by the flow engine.
// It replaces an open exception hierarchy with a single tagged variant:
// every failure the engine can produce fits one of these kinds, and callers
// branch on Kind rather than on concrete Go types.
type Kind string

const (
	// KindConfigRequired means a required Config descriptor resolved to no value.
	KindConfigRequired Kind = "config_required"
	// KindParameterCoercion means a Parameter value could not be coerced to its declared type.
	KindParameterCoercion Kind = "parameter_coercion_failed"
	// KindGraphInvariant means the graph analyser found a missing start/end,
	// an unreachable join, or an ambiguous transition.
	KindGraphInvariant Kind = "graph_invariant_violated"
	// KindNotFound means a datastore or metadata lookup found nothing at the given pathspec.
	KindNotFound Kind = "not_found"
	// KindAccessDenied means a datastore or metadata backend rejected the caller's credentials.
	KindAccessDenied Kind = "access_denied"
	// KindTransientBackend means a datastore or metadata backend failed in a way that
	// is expected to succeed on retry; the provider itself retries internally, so this
	// kind only surfaces once the retry budget is exhausted.
	KindTransientBackend Kind = "transient_backend"
	// KindUserStep wraps any error raised by user step code.
	KindUserStep Kind = "user_step_exception"
	// KindTimeout means @timeout aborted a step attempt.
	KindTimeout Kind = "timeout_exception"
	// KindFailureHandledByCatch is synthesized when a child process was killed by
	// signal on its last attempt (before any @catch is consulted), and @catch
	// wraps every failure it absorbs in this kind.
	KindFailureHandledByCatch Kind = "failure_handled_by_catch"
	// KindUnhandledMerge means merge_artifacts found conflicting values it could not resolve.
	KindUnhandledMerge Kind = "unhandled_in_merge_artifacts"
	// KindMissingMerge means merge_artifacts' include list named an artifact present nowhere.
	KindMissingMerge Kind = "missing_in_merge_artifacts"
	// KindNamespaceMismatch means a client lookup found an entity outside the active namespace.
	KindNamespaceMismatch Kind = "namespace_mismatch"
	// KindInvalidTag means a tag failed validation, or an attempt was made to remove a system tag.
	KindInvalidTag Kind = "invalid_tag"
	// KindInternal covers anything that does not correspond to a documented failure mode.
	KindInternal Kind = "internal_error"
)

// FlowError is the concrete error type carrying a Kind, a free-form message,
// and an optional wrapped cause. It is the single error type the engine
// raises; callers distinguish failure modes by inspecting Kind via KindOf.
type FlowError struct {
	Kind    Kind
	Message string
	Cause   error

	// Unhandled carries the conflicting/missing artifact names for
	// KindUnhandledMerge, matching UnhandledInMergeArtifactsException.
	Unhandled []string
}

// Error implements the error interface.
func (e *FlowError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *FlowError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *FlowError) ErrorType() string {
	return string(e.Kind)
}

// IsRetryable implements ErrorClassifier. Only transient backend failures are
// retryable by the caller; the provider itself has already exhausted its own
// internal retry budget by the time a FlowError of this kind is observed.
func (e *FlowError) IsRetryable() bool {
	return e.Kind == KindTransientBackend
}

// IsUserVisible implements UserVisibleError. Internal errors and raw backend
// faults are not shown verbatim to end users; everything else describes a
// condition the user caused or can act on.
func (e *FlowError) IsUserVisible() bool {
	switch e.Kind {
	case KindInternal, KindTransientBackend:
		return false
	default:
		return true
	}
}

// UserMessage implements UserVisibleError.
func (e *FlowError) UserMessage() string {
	return e.Error()
}

// Suggestion implements UserVisibleError.
func (e *FlowError) Suggestion() string {
	switch e.Kind {
	case KindConfigRequired:
		return "supply a value via --config-value, --config, or an environment override"
	case KindNamespaceMismatch:
		return "call SetNamespace(nil) to see all runs, or pass the run's owning namespace"
	case KindInvalidTag:
		return "tags must be non-empty UTF-8 strings of at most 512 bytes and may not remove a system tag"
	default:
		return ""
	}
}

// NewFlowError constructs a FlowError with no wrapped cause.
func NewFlowError(kind Kind, message string) *FlowError {
	return &FlowError{Kind: kind, Message: message}
}

// Wrapf constructs a FlowError of the given kind wrapping err, with a
// formatted message.
func Wrapf(kind Kind, err error, format string, args ...interface{}) *FlowError {
	return &FlowError{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: err}
}

// WithUnhandled attaches the list of conflicting/missing artifact names to a
// KindUnhandledMerge or KindMissingMerge error and returns it for chaining.
func (e *FlowError) WithUnhandled(names []string) *FlowError {
	e.Unhandled = names
	return e
}

// KindOf extracts the Kind of err if it is (or wraps) a *FlowError, and
// KindInternal otherwise.
func KindOf(err error) Kind {
	var fe *FlowError
	if As(err, &fe) {
		return fe.Kind
	}
	return KindInternal
}

// IsKind reports whether err is a *FlowError of the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
