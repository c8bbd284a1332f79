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
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/layers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/willtop/vqvae-and-dlq/models/quantizer"
	"k8s.io/klog/v2"
)

// DLQConfig holds the dimensions of a DLQVAE.
type DLQConfig struct {
	// LatentDimEncoder is the width of the encoder output and of the decoder input.
	LatentDimEncoder int

	// LatentDimQuant is the number of quantized latent dimensions. If it differs from LatentDimEncoder,
	// dense layers bridge the encoder to the quantizer and the quantizer to the decoder.
	LatentDimQuant int

	// LevelsPerDim is the number of codebook levels of each quantized dimension.
	LevelsPerDim int

	Arch Architecture
}

// DLQVAE is an autoencoder whose continuous latent vector is discretized, dimension by dimension,
// against a learned codebook (see quantizer.Quantizer) before decoding.
type DLQVAE struct {
	DLQConfig
}

// NewDLQVAE validates the configuration and returns the model.
func NewDLQVAE(config DLQConfig) (*DLQVAE, error) {
	if config.LatentDimEncoder < 1 || config.LatentDimQuant < 1 {
		return nil, errors.Errorf("dlqvae: invalid latent dimensions (encoder=%d, quantized=%d)",
			config.LatentDimEncoder, config.LatentDimQuant)
	}
	if config.LevelsPerDim < 1 {
		return nil, errors.Errorf("dlqvae: invalid number of levels per dimension %d", config.LevelsPerDim)
	}
	if err := config.Arch.Validate(); err != nil {
		return nil, errors.WithMessage(err, "dlqvae")
	}
	outputSize := config.Arch.EncoderOutputSize()
	klog.V(1).Infof("Constructed DLQVAE, with output size after encoder convolution layers: %dx%dx%d",
		config.Arch.ConvLayers[len(config.Arch.ConvLayers)-1].Channels, outputSize, outputSize)
	return &DLQVAE{DLQConfig: config}, nil
}

// hasBridge reports whether dense layers map between the encoder width and the quantized dimensions.
func (m *DLQVAE) hasBridge() bool {
	return m.LatentDimEncoder != m.LatentDimQuant
}

// Quantizer returns the model's quantizer, whose codebook lives in ctx.In(quantizer.BuildScope).
func (m *DLQVAE) Quantizer(ctx *context.Context) *quantizer.Quantizer {
	return quantizer.New(ctx.In(quantizer.BuildScope), m.LatentDimQuant, m.LevelsPerDim)
}

// Encode images to continuous latent vectors shaped [batchSize, LatentDimQuant].
func (m *DLQVAE) Encode(ctx *context.Context, images *Node) *Node {
	ctx = ctx.In(EncoderScope)
	embeddings := m.Arch.Embeddings(ctx, images)
	z := layers.Dense(ctx.In("fc_mu"), embeddings, true, m.LatentDimEncoder)
	if m.hasBridge() {
		z = layers.Dense(ctx.In("fc_encoder_to_quant"), z, true, m.LatentDimQuant)
	}
	return z
}

// Decode (quantized) latent vectors shaped [batchSize, LatentDimQuant] to images.
func (m *DLQVAE) Decode(ctx *context.Context, z *Node) *Node {
	if z.Rank() != 2 || z.Shape().Dimensions[1] != m.LatentDimQuant {
		exceptions.Panicf("dlqvae: latent batch must be shaped [batchSize, %d], got %s", m.LatentDimQuant, z.Shape())
	}
	ctx = ctx.In(DecoderScope)
	if m.hasBridge() {
		z = layers.Dense(ctx.In("fc_quant_to_decoder"), z, true, m.LatentDimEncoder)
	}
	return m.Arch.Decode(ctx, z)
}

// Forward encodes, quantizes and decodes the images.
//
// It returns the reconstruction, the indices of the selected codebook levels (shaped [batchSize, LatentDimQuant])
// and the codebook and commitment losses. Weighting the losses is left to the caller.
func (m *DLQVAE) Forward(ctx *context.Context, images *Node) (reconstruction, indices, codebookLoss, commitmentLoss *Node) {
	z := m.Encode(ctx, images)
	quantized := m.Quantizer(ctx).Quantize(z)
	reconstruction = m.Decode(ctx, quantized.Quantized)
	return reconstruction, quantized.Indices, quantized.CodebookLoss, quantized.CommitmentLoss
}

// SampleRandom decodes numSamples latent vectors whose levels are drawn uniformly and independently for
// each dimension. It returns the decoded images and the drawn indices, shaped [numSamples, LatentDimQuant].
//
// The graph is set to inference mode.
func (m *DLQVAE) SampleRandom(ctx *context.Context, g *Graph, numSamples int) (images, indices *Node) {
	if numSamples < 1 {
		exceptions.Panicf("dlqvae: invalid number of samples %d", numSamples)
	}
	ctx.SetTraining(g, false)
	levels := m.Quantizer(ctx).Codebook().LevelsGraph(g)

	uniform := ctx.RandomUniform(g, shapes.Make(dtypes.Float32, numSamples, m.LatentDimQuant))
	indices = ConvertDType(Floor(MulScalar(uniform, float64(m.LevelsPerDim))), quantizer.IndicesDType)
	indices = Min(indices, Scalar(g, quantizer.IndicesDType, m.LevelsPerDim-1))

	z := ReduceSum(Mul(OneHot(indices, m.LevelsPerDim, levels.DType()), ExpandDims(levels, 0)), -1)
	z.AssertDims(numSamples, m.LatentDimQuant)
	return m.Decode(ctx, z), indices
}

// TraversalLatents encodes and quantizes one image (shaped [height, width, channels] or
// [1, height, width, channels]) to its base code, shaped [LatentDimQuant], and returns it with the
// traversal variants: for each dimension and each of its codebook levels, the base code with that
// dimension replaced by the level. Variants are shaped [LatentDimQuant*LevelsPerDim, LatentDimQuant],
// in dimension-major then level order. The graph is set to inference mode.
func (m *DLQVAE) TraversalLatents(ctx *context.Context, image *Node) (variants, base *Node) {
	g := image.Graph()
	ctx.SetTraining(g, false)
	image = asSingleImageBatch(image)
	q := m.Quantizer(ctx)
	base = q.Quantize(m.Encode(ctx, image)).Quantized
	base = Reshape(base, m.LatentDimQuant)

	variants = TraversalBatch(base, q.Codebook().LevelsGraph(g))
	variants.AssertDims(m.LatentDimQuant*m.LevelsPerDim, m.LatentDimQuant)
	return variants, base
}

// SampleTraversal decodes the variants of TraversalLatents.
//
// It returns the LatentDimQuant*LevelsPerDim decoded variants, in dimension-major then level order, and
// LevelsPerDim. The graph is set to inference mode.
func (m *DLQVAE) SampleTraversal(ctx *context.Context, image *Node) (*Node, int) {
	variants, _ := m.TraversalLatents(ctx, image)
	return m.Decode(ctx, variants), m.LevelsPerDim
}

// InspectCodebook returns the current levels of each quantized dimension, and logs them.
// It is read-only: the codebook must already exist in ctx, built by the model or loaded from a checkpoint.
func (m *DLQVAE) InspectCodebook(ctx *context.Context) ([][]float32, error) {
	codebook, err := quantizer.LookupCodebook(ctx.In(quantizer.BuildScope), m.LatentDimQuant, m.LevelsPerDim)
	if err != nil {
		return nil, errors.WithMessage(err, "dlqvae: inspecting codebook")
	}
	levels, err := codebook.All()
	if err != nil {
		return nil, errors.WithMessage(err, "dlqvae: inspecting codebook")
	}
	for ii, dimLevels := range levels {
		klog.Infof("codebook dimension %d: %v", ii, dimLevels)
	}
	return levels, nil
}
