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
Package quantizer implements the discrete latent quantization bottleneck of DLQVAE.

Each latent dimension owns its own learnable codebook of scalar levels (see Codebook). A continuous
latent vector is discretized coordinate-wise: every value is replaced by the nearest level of its own
dimension. Dimensions are never mixed, it is not a joint nearest-neighbor search in latent space.

The nearest-neighbor selection has zero gradient almost everywhere, so the quantized value is passed
downstream with a straight-through estimator: the forward value is the selected level, while the
gradient with respect to the continuous input is the identity.

Two auxiliary losses are returned, as in VQ-VAE:
  - codebook loss: moves the selected levels toward the encoder outputs (the encoder output is constant).
  - commitment loss: moves the encoder outputs toward the selected levels (the levels are constant).
*/
package quantizer

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"k8s.io/klog/v2"
)

const (
	// BuildScope is the default scope where the quantizer creates its codebook.
	BuildScope = "vector_quantizer"

	// IndicesDType is the dtype of the selected level indices.
	IndicesDType = dtypes.Int32
)

// Output of a quantization step.
type Output struct {
	// Quantized holds the selected levels, shaped [batchSize, latentDim]. Its gradient with respect to
	// the continuous input is the identity (straight-through).
	Quantized *Node

	// Indices of the selected level for each sample and dimension, shaped [batchSize, latentDim], with
	// values in [0, levelsPerDim).
	Indices *Node

	// CodebookLoss is the scalar mean squared error between the selected levels and the continuous input,
	// with gradient flowing only into the codebook levels.
	CodebookLoss *Node

	// CommitmentLoss is the scalar mean squared error between the selected levels and the continuous input,
	// with gradient flowing only into the continuous input.
	CommitmentLoss *Node
}

// Quantizer owns a Codebook and discretizes continuous latent vectors against it.
type Quantizer struct {
	codebook *Codebook
}

// New creates a Quantizer with a codebook of levelsPerDim levels for each of the latentDim dimensions.
// The codebook is created in ctx's current scope, typically ctx.In(BuildScope).
func New(ctx *context.Context, latentDim, levelsPerDim int) *Quantizer {
	return &Quantizer{codebook: NewCodebook(ctx, latentDim, levelsPerDim)}
}

// Codebook owned by the quantizer.
func (q *Quantizer) Codebook() *Codebook {
	return q.codebook
}

// Quantize the continuous latent z, shaped [batchSize, latentDim], against the quantizer's codebook.
func (q *Quantizer) Quantize(z *Node) *Output {
	if klog.V(2).Enabled() {
		klog.Infof("quantizer (%s): %d dimensions x %d levels, input shape %s",
			q.codebook.variable.ScopeAndName(), q.codebook.LatentDim, q.codebook.LevelsPerDim, z.Shape())
	}
	return Quantize(z, q.codebook.LevelsGraph(z.Graph()))
}

// Quantize discretizes each dimension of z, shaped [batchSize, latentDim], to the nearest of the levels
// of that same dimension, given by levels shaped [latentDim, levelsPerDim].
//
// Distances are squared differences, and ties are resolved to the lowest index, so the result is
// deterministic for a given input and codebook. Inputs are expected to be finite: a NaN value is
// assigned the last level of its dimension.
func Quantize(z, levels *Node) *Output {
	g := z.Graph()
	if z.Rank() != 2 {
		exceptions.Panicf("quantizer: input must be shaped [batchSize, latentDim], got %s", z.Shape())
	}
	if levels.Rank() != 2 {
		exceptions.Panicf("quantizer: levels must be shaped [latentDim, levelsPerDim], got %s", levels.Shape())
	}
	batchSize := z.Shape().Dimensions[0]
	latentDim := levels.Shape().Dimensions[0]
	levelsPerDim := levels.Shape().Dimensions[1]
	if z.Shape().Dimensions[1] != latentDim {
		exceptions.Panicf("quantizer: input latent dimension %d doesn't match the codebook's %d (input shape %s)",
			z.Shape().Dimensions[1], latentDim, z.Shape())
	}
	if z.DType() != levels.DType() {
		levels = ConvertDType(levels, z.DType())
	}

	// Squared distance from every value to every level of its own dimension.
	expandedZ := ExpandDims(z, -1)          // [batchSize, latentDim, 1]
	expandedLevels := ExpandDims(levels, 0) // [1, latentDim, levelsPerDim]
	distances := Square(Sub(expandedZ, expandedLevels))
	distances.AssertDims(batchSize, latentDim, levelsPerDim)

	// Lowest index among those at minimal distance.
	minDistances := ExpandDims(ReduceMin(distances, -1), -1)
	isNearest := Equal(distances, minDistances)
	candidates := Iota(g, shapes.Make(IndicesDType, batchSize, latentDim, levelsPerDim), -1)
	notCandidate := BroadcastToShape(Scalar(g, IndicesDType, levelsPerDim), candidates.Shape())
	indices := ReduceMin(Where(isNearest, candidates, notCandidate), -1)
	// A NaN input matches no level: it is assigned the last one.
	indices = Min(indices, Scalar(g, IndicesDType, levelsPerDim-1))
	indices = StopGradient(indices) // No gradient with respect to the picks.
	indices.AssertDims(batchSize, latentDim)

	// Picking the level with a one-hot contraction keeps it differentiable with respect to the levels.
	picks := OneHot(indices, levelsPerDim, z.DType())
	quantized := ReduceSum(Mul(picks, expandedLevels), -1)
	quantized.AssertDims(batchSize, latentDim)

	output := &Output{Indices: indices}
	output.CodebookLoss = ReduceAllMean(Square(Sub(quantized, StopGradient(z))))
	output.CommitmentLoss = ReduceAllMean(Square(Sub(StopGradient(quantized), z)))

	// Straight-through: forward value is the level, gradient w.r.t. z is the identity.
	output.Quantized = Add(z, StopGradient(Sub(quantized, z)))
	return output
}
