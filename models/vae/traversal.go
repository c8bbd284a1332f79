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
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
)

// TraversalBatch builds the latent traversal of base, shaped [latentDim]: for each dimension d and
// each of the numValues entries of values[d] (values is shaped [latentDim, numValues]), a copy of base with
// dimension d replaced by that value.
//
// The result is shaped [latentDim*numValues, latentDim], with row d*numValues+i holding the variant for
// (dimension d, value i): dimension-major, then value order. Each row differs from base on at most
// one coordinate.
func TraversalBatch(base, values *Node) *Node {
	g := base.Graph()
	if base.Rank() != 1 {
		exceptions.Panicf("vae.TraversalBatch: base must be shaped [latentDim], got %s", base.Shape())
	}
	latentDim := base.Shape().Dimensions[0]
	if values.Rank() != 2 || values.Shape().Dimensions[0] != latentDim {
		exceptions.Panicf("vae.TraversalBatch: values must be shaped [%d, numValues], got %s", latentDim, values.Shape())
	}
	numValues := values.Shape().Dimensions[1]
	dtype := base.DType()

	// mask[d, i, j] = 1 if j == d.
	iotaShape := shapes.Make(dtypes.Int32, latentDim, latentDim)
	eyeShape := shapes.Make(dtype, latentDim, latentDim)
	eye := Where(Equal(Iota(g, iotaShape, 0), Iota(g, iotaShape, 1)), Ones(g, eyeShape), Zeros(g, eyeShape))
	mask := BroadcastToDims(ExpandDims(eye, 1), latentDim, numValues, latentDim)

	expandedBase := Reshape(base, 1, 1, latentDim)
	expandedValues := ExpandDims(ConvertDType(values, dtype), -1) // [latentDim, numValues, 1]
	variants := Add(Mul(OneMinus(mask), expandedBase), Mul(mask, expandedValues))
	variants = Reshape(variants, latentDim*numValues, latentDim)

	// Fail before decoding anything with the wrong shape.
	variants.AssertDims(latentDim*numValues, latentDim)
	return variants
}

// asSingleImageBatch accepts one image shaped [height, width, channels] or [1, height, width, channels]
// and returns it with the batch axis.
func asSingleImageBatch(image *Node) *Node {
	switch {
	case image.Rank() == 3:
		return ExpandDims(image, 0)
	case image.Rank() == 4 && image.Shape().Dimensions[0] == 1:
		return image
	}
	exceptions.Panicf("vae: expected a single image shaped [height, width, channels], got %s", image.Shape())
	return nil
}
