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

package decorator_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/flowcore/pkg/decorator"
	flowerrors "github.com/tombee/flowcore/pkg/errors"
	"github.com/tombee/flowcore/pkg/taskcontext"
)

type fakeRenderer struct {
	html []byte
	err  error
}

func (f fakeRenderer) Render(ctx context.Context, tc taskcontext.Context) ([]byte, error) {
	return f.html, f.err
}

type fakeCardStore struct {
	saved    bool
	gotHTML  []byte
	gotMeta  decorator.CardMeta
	saveErr  error
}

func (f *fakeCardStore) SaveCard(ctx context.Context, tc taskcontext.Context, index int, html []byte, meta decorator.CardMeta) error {
	if f.saveErr != nil {
		return f.saveErr
	}
	f.saved = true
	f.gotHTML = html
	f.gotMeta = meta
	return nil
}

func TestCard_TaskPostStep_RendersAndSaves(t *testing.T) {
	store := &fakeCardStore{}
	c := &decorator.Card{
		Type:     "default",
		ID:       "main",
		Renderer: fakeRenderer{html: []byte("<html>report</html>")},
		Store:    store,
		Index:    0,
	}

	require.NoError(t, c.TaskPostStep(context.Background(), taskcontext.Context{}))
	assert.True(t, store.saved)
	assert.Equal(t, []byte("<html>report</html>"), store.gotHTML)
	assert.Equal(t, "default", store.gotMeta.Type)
	assert.Equal(t, "main", store.gotMeta.ID)
	assert.NotEmpty(t, store.gotMeta.Hash)
}

func TestCard_TaskPostStep_RenderFailureIsUserStepKind(t *testing.T) {
	c := &decorator.Card{
		Renderer: fakeRenderer{err: errors.New("boom")},
		Store:    &fakeCardStore{},
	}
	err := c.TaskPostStep(context.Background(), taskcontext.Context{})
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindUserStep, flowerrors.KindOf(err))
}

func TestCard_TaskPostStep_MissingWiringIsInternalKind(t *testing.T) {
	c := &decorator.Card{}
	err := c.TaskPostStep(context.Background(), taskcontext.Context{})
	require.Error(t, err)
	assert.Equal(t, flowerrors.KindInternal, flowerrors.KindOf(err))
}
