/*
 *	Copyright 2025 The vqvae-and-dlq Authors
 *
 *	Licensed under the Apache License, Version 2.0 (the "License");
 *	you may not use this file except in compliance with the License.
 *	You may obtain a copy of the License at
 *
 *	http://www.apache.org/licenses/LICENSE-2.0
 *
 *	Unless required by applicable law or agreed to in writing, software
 *	distributed under the License is distributed on an "AS IS" BASIS,
 *	WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *	See the License for the specific language governing permissions and
 *	limitations under the License.
 */

package quantizer

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLinearLevels(t *testing.T) {
	assert.Equal(t, [][]float32{{-1, -0.5, 0, 0.5, 1}, {-1, -0.5, 0, 0.5, 1}}, LinearLevels(2, 5))
	assert.Equal(t, [][]float32{{0}, {0}, {0}}, LinearLevels(3, 1))
}

func TestCodebookLevels(t *testing.T) {
	ctx := context.New()
	cb := NewCodebook(ctx.In(BuildScope), 3, 5)
	assert.Equal(t, 3, cb.LatentDim)
	assert.Equal(t, 5, cb.LevelsPerDim)

	levels, err := cb.Levels(1)
	require.NoError(t, err)
	assert.Equal(t, []float32{-1, -0.5, 0, 0.5, 1}, levels)

	_, err = cb.Levels(3)
	require.Error(t, err)
	_, err = cb.Levels(-1)
	require.Error(t, err)

	// A second codebook in the same scope reuses the variable.
	again := NewCodebook(ctx.In(BuildScope), 3, 5)
	assert.Same(t, cb.Variable(), again.Variable())

	// ... but it must have the same dimensions.
	require.Panics(t, func() { NewCodebook(ctx.In(BuildScope), 3, 4) })
}

func TestLookupCodebook(t *testing.T) {
	ctx := context.New()
	_, err := LookupCodebook(ctx.In(BuildScope), 3, 5)
	require.Error(t, err)
	numVariables := 0
	ctx.EnumerateVariables(func(*context.Variable) { numVariables++ })
	assert.Zero(t, numVariables, "lookup must not create the codebook")

	cb := NewCodebook(ctx.In(BuildScope), 3, 5)
	found, err := LookupCodebook(ctx.In(BuildScope), 3, 5)
	require.NoError(t, err)
	assert.Same(t, cb.Variable(), found.Variable())

	_, err = LookupCodebook(ctx.In(BuildScope), 3, 4)
	require.Error(t, err)
	_, err = LookupCodebook(ctx.In("other_scope"), 3, 5)
	require.Error(t, err)
}

func TestCodebookInvalid(t *testing.T) {
	ctx := context.New().Checked(false)
	require.Panics(t, func() { NewCodebook(ctx, 0, 4) })
	require.Panics(t, func() { NewCodebook(ctx, 4, 0) })

	ctx.SetParam(ParamCodebookInit, "gaussian")
	require.Panics(t, func() { NewCodebook(ctx, 4, 4) })
}

func TestCodebookDimLevelsGraph(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		cb := NewCodebook(ctx.In(BuildScope), 2, 3)
		return cb.DimLevelsGraph(g, 1)
	})
	got := exec.Call()
	require.Len(t, got, 1)
	assert.Equal(t, []float32{-1, 0, 1}, got[0].Value())
}

func TestCodebookUniformInit(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	ctx := context.New()
	ctx.SetParam(ParamCodebookInit, "uniform")
	ctx.SetParam(initializers.ParamInitialSeed, int64(42))
	var cb *Codebook
	exec := context.NewExec(backend, ctx, func(ctx *context.Context, g *Graph) *Node {
		cb = NewCodebook(ctx.In(BuildScope), 4, 6)
		return cb.LevelsGraph(g)
	})
	exec.Call()

	all, err := cb.All()
	require.NoError(t, err)
	require.Len(t, all, 4)
	for _, row := range all {
		require.Len(t, row, 6)
		for _, v := range row {
			assert.GreaterOrEqual(t, v, float32(-1))
			assert.Less(t, v, float32(1))
		}
	}
}
