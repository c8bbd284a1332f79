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

package vae

import (
	"testing"

	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/graph/graphtest"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncoderOutputSize(t *testing.T) {
	assert.Equal(t, 2, testArch().EncoderOutputSize())
	assert.Equal(t, 8, DefaultArchitecture(32, VAEConvLayers).EncoderOutputSize())
	// 32 -> 32 -> 16 -> 8 -> 3 -> 1 -> 1 -> 1
	assert.Equal(t, 1, DefaultArchitecture(32, DLQVAEConvLayers).EncoderOutputSize())
	// 224 -> 224 -> 112 -> 56 -> 19 -> 7 -> 4 -> 2
	assert.Equal(t, 2, DefaultArchitecture(224, DLQVAEConvLayers).EncoderOutputSize())
}

func TestArchitectureValidate(t *testing.T) {
	require.NoError(t, testArch().Validate())

	arch := testArch()
	arch.ImageSize = 0
	require.Error(t, arch.Validate())

	arch = testArch()
	arch.ConvLayers = []ConvLayer{{Channels: 4, KernelSize: 3, Stride: 0}}
	require.Error(t, arch.Validate())

	arch = testArch()
	arch.HiddenDim = 0
	require.Error(t, arch.Validate())

	_, err := NewVAE(0, testArch())
	require.Error(t, err)
}

func TestKLDivergence(t *testing.T) {
	graphtest.RunTestGraphFn(t, "KLDivergence", func(g *Graph) (inputs, outputs []*Node) {
		mu := Const(g, [][]float32{{0, 0}, {1, 2}})
		logVar := Const(g, [][]float32{{0, 0}, {0, 0}})
		inputs = []*Node{mu, logVar}
		outputs = []*Node{KLDivergence(mu, logVar)}
		return
	}, []any{
		// Sample 0 matches the prior, sample 1 has KL 0.5*(1+4).
		float32(2.5 / 2),
	}, 1e-5)
}

func TestVAEForward(t *testing.T) {
	model, err := NewVAE(4, testArch())
	require.NoError(t, err)

	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	exec := context.NewExec(backend, ctx.In(BuildScope), func(ctx *context.Context, images *Node) []*Node {
		reconstruction, mu, logVar := model.Forward(ctx, images)
		return []*Node{reconstruction, mu, logVar, KLDivergence(mu, logVar)}
	})
	outputs := exec.Call(testImages(3))
	require.Len(t, outputs, 4)
	assert.Equal(t, []int{3, 8, 8, 3}, outputs[0].Shape().Dimensions)
	assert.Equal(t, []int{3, 4}, outputs[1].Shape().Dimensions)
	assert.Equal(t, []int{3, 4}, outputs[2].Shape().Dimensions)
	assert.GreaterOrEqual(t, outputs[3].Value().(float32), float32(0))

	sampleExec := context.NewExec(backend, ctx.In(BuildScope), func(ctx *context.Context, g *Graph) *Node {
		return model.SampleRandom(ctx, g, 5)
	})
	samples := sampleExec.Call()
	assert.Equal(t, []int{5, 8, 8, 3}, samples[0].Shape().Dimensions)
}

func TestFactorVAESampleTraversal(t *testing.T) {
	model, err := NewFactorVAE(3, testArch())
	require.NoError(t, err)
	assert.Len(t, model.TraverseValues, 9)

	backend := graphtest.BuildTestBackend()
	ctx := context.New().Checked(false)
	var numValues int
	exec := context.NewExec(backend, ctx.In(BuildScope), func(ctx *context.Context, image *Node) *Node {
		var images *Node
		images, numValues = model.SampleTraversal(ctx, image)
		return images
	})
	outputs := exec.Call(testImages(1))
	assert.Equal(t, 9, numValues)
	assert.Equal(t, []int{27, 8, 8, 3}, outputs[0].Shape().Dimensions)
}

func TestPreprocessImage(t *testing.T) {
	backend := graphtest.BuildTestBackend()
	exec := NewExec(backend, func(image *Node) *Node {
		return PreprocessImage(image, 4, 3, ChannelAxisConfig)
	})

	// uint8 RGBA 2x2 image: scaled to [0, 1], alpha removed and resized.
	rgba := [][][][]uint8{{
		{{255, 0, 0, 255}, {255, 0, 0, 255}},
		{{255, 0, 0, 255}, {255, 0, 0, 255}},
	}}
	outputs := exec.Call(rgba)
	require.Len(t, outputs, 1)
	assert.Equal(t, []int{1, 4, 4, 3}, outputs[0].Shape().Dimensions)
	values := outputs[0].Value().([][][][]float32)
	assert.InDelta(t, 1.0, values[0][1][2][0], 1e-5)
	assert.InDelta(t, 0.0, values[0][3][3][1], 1e-5)

	g := NewGraph(backend, "invalid")
	require.Panics(t, func() { PreprocessImage(Zeros(g, testShape(4, 4, 3)), 4, 3, ChannelAxisConfig) })
	require.Panics(t, func() { PreprocessImage(Zeros(g, testShape(1, 4, 4, 1)), 4, 3, ChannelAxisConfig) })
}
