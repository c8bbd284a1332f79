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
	"github.com/gomlx/gomlx/ml/layers/activations"
	"github.com/gomlx/gomlx/types/tensors/images"
	"github.com/pkg/errors"
)

// ChannelAxisConfig used by the encoder and decoder: images are shaped [batch, height, width, channels].
const ChannelAxisConfig = images.ChannelsLast

// ConvLayer describes one convolution of the encoder. The decoder mirrors it.
//
// Convolutions pad to the same size, so the output spatial size is ceil(inputSize/Stride).
type ConvLayer struct {
	Channels, KernelSize, Stride int
}

// Architecture of the encoder and decoder networks shared by the VAE models.
type Architecture struct {
	// ImageSize is the height and width of the (square) images.
	ImageSize int

	// ImageChannels is the number of channels of the images, usually 3.
	ImageChannels int

	// ConvLayers of the encoder, in order.
	ConvLayers []ConvLayer

	// HiddenDim is the size of the dense layer between the convolutions and the latent vector.
	HiddenDim int
}

var (
	// VAEConvLayers is the default convolution stack of VAE and FactorVAE.
	VAEConvLayers = []ConvLayer{
		{Channels: 32, KernelSize: 2, Stride: 1},
		{Channels: 64, KernelSize: 3, Stride: 1},
		{Channels: 128, KernelSize: 3, Stride: 1},
		{Channels: 256, KernelSize: 4, Stride: 1},
		{Channels: 128, KernelSize: 4, Stride: 2},
		{Channels: 64, KernelSize: 4, Stride: 2},
	}

	// DLQVAEConvLayers is the default convolution stack of DLQVAE.
	DLQVAEConvLayers = []ConvLayer{
		{Channels: 64, KernelSize: 3, Stride: 1},
		{Channels: 128, KernelSize: 3, Stride: 2},
		{Channels: 256, KernelSize: 5, Stride: 2},
		{Channels: 256, KernelSize: 5, Stride: 3},
		{Channels: 128, KernelSize: 5, Stride: 3},
		{Channels: 64, KernelSize: 3, Stride: 2},
		{Channels: 64, KernelSize: 3, Stride: 2},
	}

	// DefaultHiddenDim is the size of the dense layer around the latent vector.
	DefaultHiddenDim = 256
)

// DefaultArchitecture returns the architecture with the given conv layers for RGB images of the given size.
func DefaultArchitecture(imageSize int, convLayers []ConvLayer) Architecture {
	return Architecture{
		ImageSize:     imageSize,
		ImageChannels: 3,
		ConvLayers:    convLayers,
		HiddenDim:     DefaultHiddenDim,
	}
}

// Validate the architecture.
func (a Architecture) Validate() error {
	if a.ImageSize < 1 || a.ImageChannels < 1 {
		return errors.Errorf("invalid image shape %dx%dx%d", a.ImageSize, a.ImageSize, a.ImageChannels)
	}
	if len(a.ConvLayers) == 0 {
		return errors.New("architecture requires at least one convolution layer")
	}
	for ii, layer := range a.ConvLayers {
		if layer.Channels < 1 || layer.KernelSize < 1 || layer.Stride < 1 {
			return errors.Errorf("invalid convolution layer #%d: %+v", ii, layer)
		}
	}
	if a.HiddenDim < 1 {
		return errors.Errorf("invalid hidden dimension %d", a.HiddenDim)
	}
	return nil
}

// convOutputSize of a convolution padded to the same size.
func convOutputSize(inputSize, stride int) int {
	return (inputSize + stride - 1) / stride
}

// EncoderOutputSize returns the spatial size (height and width) of the output of the convolution layers.
func (a Architecture) EncoderOutputSize() int {
	size := a.ImageSize
	for _, layer := range a.ConvLayers {
		size = convOutputSize(size, layer.Stride)
	}
	return size
}

// Embeddings runs the images through the convolutions and the hidden dense layer.
// It returns the embeddings shaped [batchSize, HiddenDim].
func (a Architecture) Embeddings(ctx *context.Context, images *Node) *Node {
	batchSize := images.Shape().Dimensions[0]
	images = PreprocessImage(images, a.ImageSize, a.ImageChannels, ChannelAxisConfig)

	size := a.ImageSize
	for ii, layer := range a.ConvLayers {
		// Conv2D(filters, kernel_size, strides, padding='same', activation='relu')
		images = layers.Convolution(ctx.Inf("%03d_conv", ii), images).
			Filters(layer.Channels).KernelSize(layer.KernelSize).Strides(layer.Stride).PadSame().Done()
		images = activations.Relu(images)
		size = convOutputSize(size, layer.Stride)
		images.AssertDims(batchSize, size, size, layer.Channels)
	}

	// Flatten
	embeddings := Reshape(images, batchSize, -1)
	embeddings = layers.Dense(ctx.In("fc_hidden"), embeddings, true, a.HiddenDim)
	embeddings = activations.Relu(embeddings)
	return embeddings
}

// Decode maps latent vectors shaped [batchSize, latentDim] back to images shaped
// [batchSize, ImageSize, ImageSize, ImageChannels].
//
// The convolution layers are mirrored: strided convolutions become a nearest-neighbor upsampling
// followed by a convolution.
func (a Architecture) Decode(ctx *context.Context, z *Node) *Node {
	if z.Rank() != 2 {
		exceptions.Panicf("vae: decoder input must be shaped [batchSize, latentDim], got %s", z.Shape())
	}
	batchSize := z.Shape().Dimensions[0]
	numLayers := len(a.ConvLayers)
	size := a.EncoderOutputSize()
	channels := a.ConvLayers[numLayers-1].Channels

	x := layers.Dense(ctx.In("fc_hidden"), z, true, a.HiddenDim)
	x = activations.Relu(x)
	x = layers.Dense(ctx.In("fc_features"), x, true, size*size*channels)
	x = activations.Relu(x)
	x = Reshape(x, batchSize, size, size, channels)

	for ii := numLayers - 1; ii >= 0; ii-- {
		layer := a.ConvLayers[ii]
		if layer.Stride > 1 {
			size *= layer.Stride
			x = Interpolate(x, batchSize, size, size, channels).Nearest().Done()
		}
		if ii > 0 {
			channels = a.ConvLayers[ii-1].Channels
		}
		x = layers.Convolution(ctx.Inf("%03d_deconv", numLayers-1-ii), x).
			Filters(channels).KernelSize(layer.KernelSize).PadSame().Done()
		x = activations.Relu(x)
		x.AssertDims(batchSize, size, size, channels)
	}

	// Upsampling may overshoot the image size when it is not a multiple of the strides.
	if size != a.ImageSize {
		x = Interpolate(x, batchSize, a.ImageSize, a.ImageSize, channels).Bilinear().Done()
	}
	x = layers.Convolution(ctx.In("output"), x).Filters(a.ImageChannels).KernelSize(3).PadSame().Done()
	x.AssertDims(batchSize, a.ImageSize, a.ImageSize, a.ImageChannels)
	return x
}
