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

package decorator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

// CardMeta is the JSON sidecar recorded alongside a rendered card, naming
// the card's declared type, its id (for @card(id=...) disambiguation when a
// step carries more than one card), and a content hash so a client can tell
// whether a card changed across runs without fetching the HTML body.
type CardMeta struct {
	Type string `json:"type"`
	ID   string `json:"id"`
	Hash string `json:"hash"`
}

// CardRenderer produces the HTML body for one card. Concrete renderers
// (e.g. a default artifact-listing card, or a user-supplied one) live
// outside this package; Card only knows how to invoke one and persist the
// result.
type CardRenderer interface {
	Render(ctx context.Context, tc taskcontext.Context) ([]byte, error)
}

// CardStore persists a rendered card at its storage location,
// <datastore>/<pathspec>/cards/<index>.html plus a <index>.json sidecar.
// Implemented by the concrete datastore-backed writer the scheduler wires
// in; Card itself stays storage-agnostic so it can be unit tested against a
// fake.
type CardStore interface {
	SaveCard(ctx context.Context, tc taskcontext.Context, index int, html []byte, meta CardMeta) error
}

// Card is the @card decorator. It renders after a successful attempt
// (PostStepper), never as part of the attempt itself, so a failing card
// render never fails the step it describes — it only blocks the next
// decorator's post-step hook in this registration chain, consistent with
// the pipeline's reverse-order PostStepper contract.
type Card struct {
	Type     string
	ID       string
	Renderer CardRenderer
	Store    CardStore
	// Index is this card's position among possibly several cards attached
	// to the same step; it is part of the storage path.
	Index int
}

var _ PostStepper = (*Card)(nil)

// TaskPostStep renders and persists the card. A nil Renderer or Store is a
// wiring bug, not a runtime condition, but is still reported as KindInternal
// rather than panicking, since it surfaces from inside a running task.
func (c *Card) TaskPostStep(ctx context.Context, tc taskcontext.Context) error {
	if c.Renderer == nil || c.Store == nil {
		return flowerrors.NewFlowError(flowerrors.KindInternal, "@card: no renderer or store configured")
	}
	html, err := c.Renderer.Render(ctx, tc)
	if err != nil {
		return flowerrors.Wrapf(flowerrors.KindUserStep, err, "@card: rendering %s", c.Type)
	}
	sum := sha256.Sum256(html)
	meta := CardMeta{Type: c.Type, ID: c.ID, Hash: hex.EncodeToString(sum[:])}
	if err := c.Store.SaveCard(ctx, tc, c.Index, html, meta); err != nil {
		return flowerrors.Wrapf(flowerrors.KindTransientBackend, err, "@card: saving %s", c.Type)
	}
	return nil
}

// MarshalMeta is a convenience for CardStore implementations writing the
// <index>.json sidecar.
func (m CardMeta) MarshalMeta() ([]byte, error) {
	return json.Marshal(m)
}
