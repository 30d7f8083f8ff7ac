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

// Package decorator implements the step-level/flow-level lifecycle hook
// pipeline. A decorator is any value; the hooks it contributes are
// discovered by type assertion against a set of small, single-method
// capability interfaces (StepInitializer, PreStepper, Decorater,
// PostStepper, ExceptionHandler) rather than one large interface every
// decorator would otherwise have to implement in full — the same
// interface-segregation instinct the reference backend registry uses for
// its optional RunLister/CheckpointStore/StepResultStore capabilities.
package decorator

import (
	"context"

	"github.com/tombee/flowcore/pkg/taskcontext"
)

// StepBody is the user step function the pipeline wraps. It receives the
// bound task context and returns an error on failure.
type StepBody func(ctx context.Context) error

// StepInitializer runs once per step before any task runs.
type StepInitializer interface {
	StepInit(ctx context.Context, tc taskcontext.Context) error
}

// PreStepper runs before each individual attempt.
type PreStepper interface {
	TaskPreStep(ctx context.Context, tc taskcontext.Context, attempt int) error
}

// Decorater wraps the step body, e.g. to enforce a timeout. Decorators
// without special wrapping needs don't implement this.
type Decorater interface {
	TaskDecorate(ctx context.Context, tc taskcontext.Context, body StepBody) StepBody
}

// PostStepper runs in reverse registration order after a successful
// attempt.
type PostStepper interface {
	TaskPostStep(ctx context.Context, tc taskcontext.Context) error
}

// ExceptionHandler runs in reverse registration order on a failing attempt.
// Suppressed=true stops propagation to earlier-registered handlers and
// converts the failure into a success for the caller. exports are artifact
// values the handler wants recorded on the flow instance when it suppresses
// (e.g. @catch's wrapped exception under its declared var name); the
// decorator package stays unaware of flow.Instance itself, leaving the
// executor to apply exports via its own Instance.Set.
type ExceptionHandler interface {
	TaskException(ctx context.Context, tc taskcontext.Context, failure error) (suppressed bool, exports map[string]any, err error)
}

// Pipeline holds an ordered set of decorators attached to one step (plus any
// flow-level decorators that opt into per-task hooks).
type Pipeline struct {
	decorators []any
}

// New builds a Pipeline from decorators in registration order.
func New(decorators ...any) *Pipeline {
	return &Pipeline{decorators: decorators}
}

// RunStepInit invokes StepInit on every decorator that implements it, in
// registration order.
func (p *Pipeline) RunStepInit(ctx context.Context, tc taskcontext.Context) error {
	for _, d := range p.decorators {
		if h, ok := d.(StepInitializer); ok {
			if err := h.StepInit(ctx, tc); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunTaskPreStep invokes TaskPreStep on every decorator that implements it,
// in registration order.
func (p *Pipeline) RunTaskPreStep(ctx context.Context, tc taskcontext.Context, attempt int) error {
	for _, d := range p.decorators {
		if h, ok := d.(PreStepper); ok {
			if err := h.TaskPreStep(ctx, tc, attempt); err != nil {
				return err
			}
		}
	}
	return nil
}

// WrapBody applies every Decorater's TaskDecorate in reverse registration
// order, each wrapping the previous result, so the first-registered
// decorator ends up composed last and is outermost: it is the first code to
// run and the last to return.
func (p *Pipeline) WrapBody(ctx context.Context, tc taskcontext.Context, body StepBody) StepBody {
	wrapped := body
	for i := len(p.decorators) - 1; i >= 0; i-- {
		if h, ok := p.decorators[i].(Decorater); ok {
			wrapped = h.TaskDecorate(ctx, tc, wrapped)
		}
	}
	return wrapped
}

// RunTaskPostStep invokes TaskPostStep in reverse registration order, after
// a successful attempt.
func (p *Pipeline) RunTaskPostStep(ctx context.Context, tc taskcontext.Context) error {
	for i := len(p.decorators) - 1; i >= 0; i-- {
		if h, ok := p.decorators[i].(PostStepper); ok {
			if err := h.TaskPostStep(ctx, tc); err != nil {
				return err
			}
		}
	}
	return nil
}

// RunTaskException invokes TaskException in reverse registration order on a
// failing attempt. The first handler that reports suppressed=true stops the
// walk and the failure is considered handled; its exports are returned for
// the caller to apply to the flow instance.
func (p *Pipeline) RunTaskException(ctx context.Context, tc taskcontext.Context, failure error) (suppressed bool, exports map[string]any, err error) {
	for i := len(p.decorators) - 1; i >= 0; i-- {
		h, ok := p.decorators[i].(ExceptionHandler)
		if !ok {
			continue
		}
		handled, hexports, herr := h.TaskException(ctx, tc, failure)
		if herr != nil {
			return false, nil, herr
		}
		if handled {
			return true, hexports, nil
		}
	}
	return false, nil, nil
}
