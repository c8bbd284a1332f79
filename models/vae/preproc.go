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
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/gomlx/gopjrt/dtypes"
)

// PreprocessImage makes the image usable by the encoder.
//
// It performs 3 tasks:
//   - It scales the image values from 0.0 to 1.0 for int dtypes.
//     For float dtypes, it assumes the values are already normalized by the dataset.
//   - It removes the alpha channel, in case it is provided and the model expects 3 channels.
//   - It resizes the image to imageSize x imageSize, if it has a different spatial size.
//
// Input image must have a batch dimension (rank=4). The number of channels after removing the
// alpha channel must match numChannels.
func PreprocessImage(image *Node, imageSize, numChannels int, channelsConfig images.ChannelsAxisConfig) *Node {
	if image.Rank() != 4 {
		exceptions.Panicf("vae.PreprocessImage requires image to be rank-4, got rank-%d instead", image.Rank())
	}

	if image.DType().IsInt() {
		image = ConvertDType(image, dtypes.Float32)
		image = MulScalar(image, 1.0/255.0)
	}

	// Remove alpha-channel, if given.
	channelsAxis := images.GetChannelsAxis(image, channelsConfig)
	if numChannels == 3 && image.Shape().Dimensions[channelsAxis] == 4 {
		axesRanges := make([]SliceAxisSpec, image.Rank())
		for ii := range axesRanges {
			if ii == channelsAxis {
				axesRanges[ii] = AxisRange(0, 3)
			} else {
				axesRanges[ii] = AxisRange()
			}
		}
		image = Slice(image, axesRanges...)
	}
	if image.Shape().Dimensions[channelsAxis] != numChannels {
		exceptions.Panicf("vae.PreprocessImage: image has %d channels, model expects %d (image shape %s)",
			image.Shape().Dimensions[channelsAxis], numChannels, image.Shape())
	}

	newDims := image.Shape().Clone().Dimensions
	needsResize := false
	for _, axis := range images.GetSpatialAxes(image, channelsConfig) {
		if newDims[axis] != imageSize {
			newDims[axis] = imageSize
			needsResize = true
		}
	}
	if needsResize {
		image = Interpolate(image, newDims...).Bilinear().Done()
	}
	return image
}
