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

/*
Package vae provides variational autoencoders built on GoMLX: a Gaussian VAE, FactorVAE (a VAE with
latent traversal sampling) and DLQVAE, whose latent code goes through a learned per-dimension
quantization codebook (see package quantizer).

Models are plain configuration structs: their weights live in the context.Context given to each
method, under the "encoder", "decoder" and quantizer scopes.

Reference:
  - Auto-Encoding Variational Bayes, https://arxiv.org/abs/1312.6114
  - Disentangling by Factorising, https://arxiv.org/abs/1802.05983
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
	"k8s.io/klog/v2"
)

const (
	// BuildScope is the default scope for the models.
	BuildScope = "vae"

	// EncoderScope and DecoderScope hold the weights of the encoder and decoder networks.
	EncoderScope = "encoder"
	DecoderScope = "decoder"
)

// VAE is a Gaussian variational autoencoder.
type VAE struct {
	LatentDim int
	Arch      Architecture
}

// NewVAE returns a VAE with the given latent dimension and architecture.
func NewVAE(latentDim int, arch Architecture) (*VAE, error) {
	if latentDim < 1 {
		return nil, errors.Errorf("vae: invalid latent dimension %d", latentDim)
	}
	if err := arch.Validate(); err != nil {
		return nil, errors.WithMessage(err, "vae")
	}
	outputSize := arch.EncoderOutputSize()
	klog.V(1).Infof("Constructed VAE, with output size after encoder convolution layers: %dx%dx%d",
		arch.ConvLayers[len(arch.ConvLayers)-1].Channels, outputSize, outputSize)
	return &VAE{LatentDim: latentDim, Arch: arch}, nil
}

// Encode images to the mean and log-variance of the latent distribution, both shaped [batchSize, LatentDim].
func (m *VAE) Encode(ctx *context.Context, images *Node) (mu, logVar *Node) {
	ctx = ctx.In(EncoderScope)
	embeddings := m.Arch.Embeddings(ctx, images)
	mu = layers.Dense(ctx.In("fc_mu"), embeddings, true, m.LatentDim)
	logVar = layers.Dense(ctx.In("fc_var"), embeddings, true, m.LatentDim)
	return
}

// Reparameterize draws z = mu + exp(logVar/2) * noise, with noise ~ N(0, I) drawn fresh on every execution.
func (m *VAE) Reparameterize(ctx *context.Context, mu, logVar *Node) *Node {
	std := Exp(MulScalar(logVar, 0.5))
	noise := ctx.RandomNormal(mu.Graph(), std.Shape())
	return Add(Mul(noise, std), mu)
}

// Decode latent vectors shaped [batchSize, LatentDim] to images.
func (m *VAE) Decode(ctx *context.Context, z *Node) *Node {
	z.AssertDims(z.Shape().Dimensions[0], m.LatentDim)
	return m.Arch.Decode(ctx.In(DecoderScope), z)
}

// Forward encodes, samples the latent and decodes: it returns the reconstruction and the parameters
// of the latent distribution.
func (m *VAE) Forward(ctx *context.Context, images *Node) (reconstruction, mu, logVar *Node) {
	mu, logVar = m.Encode(ctx, images)
	z := m.Reparameterize(ctx, mu, logVar)
	reconstruction = m.Decode(ctx, z)
	return
}

// SampleRandom decodes numSamples latent vectors drawn from N(0, I).
// The graph is set to inference mode.
func (m *VAE) SampleRandom(ctx *context.Context, g *Graph, numSamples int) *Node {
	if numSamples < 1 {
		exceptions.Panicf("vae: invalid number of samples %d", numSamples)
	}
	ctx.SetTraining(g, false)
	z := ctx.RandomNormal(g, shapes.Make(dtypes.Float32, numSamples, m.LatentDim))
	return m.Decode(ctx, z)
}

// KLDivergence between N(mu, exp(logVar)) and N(0, I): summed over the latent dimensions and averaged
// over the batch.
func KLDivergence(mu, logVar *Node) *Node {
	// -0.5 * sum(1 + logVar - mu^2 - exp(logVar))
	terms := Sub(Sub(OnePlus(logVar), Square(mu)), Exp(logVar))
	perSample := MulScalar(ReduceSum(terms, -1), -0.5)
	return ReduceAllMean(perSample)
}

// DefaultTraverseValues are the latent values FactorVAE traverses: -2 to 2, in steps of 0.5.
var DefaultTraverseValues = []float32{-2, -1.5, -1, -0.5, 0, 0.5, 1, 1.5, 2}

// FactorVAE is a VAE that can also sample latent traversals.
type FactorVAE struct {
	*VAE

	// TraverseValues are the values each latent dimension takes in SampleTraversal.
	TraverseValues []float32
}

// NewFactorVAE returns a FactorVAE with DefaultTraverseValues.
func NewFactorVAE(latentDim int, arch Architecture) (*FactorVAE, error) {
	base, err := NewVAE(latentDim, arch)
	if err != nil {
		return nil, errors.WithMessage(err, "factor")
	}
	klog.V(1).Info("Constructed FactorVAE based on VAE")
	return &FactorVAE{VAE: base, TraverseValues: DefaultTraverseValues}, nil
}

// SampleTraversal encodes one image (shaped [height, width, channels] or [1, height, width, channels])
// to its latent mean, and for each latent dimension and each of the TraverseValues, decodes a variant of it
// with that dimension replaced by the value.
//
// It returns the decoded variants, in dimension-major order, and the number of values traversed per dimension.
// The graph is set to inference mode.
func (m *FactorVAE) SampleTraversal(ctx *context.Context, image *Node) (*Node, int) {
	g := image.Graph()
	ctx.SetTraining(g, false)
	image = asSingleImageBatch(image)
	mu, _ := m.Encode(ctx, image)
	base := Reshape(mu, m.LatentDim)

	numValues := len(m.TraverseValues)
	values := Const(g, m.TraverseValues)
	values = ConvertDType(values, base.DType())
	values = BroadcastToDims(ExpandDims(values, 0), m.LatentDim, numValues)
	variants := TraversalBatch(base, values)
	return m.Decode(ctx, variants), numValues
}
