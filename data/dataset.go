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

// Package data loads the image datasets used to train the autoencoders (CIFAR-10 and CelebA), and
// serves them in batches as train.Dataset.
package data

import (
	"context"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Dataset names accepted by LoadDataAndLoaders.
const (
	CIFAR10 = "CIFAR10"
	CELEBA  = "CELEBA"
)

// ErrInvalidDataset is returned for dataset names other than CIFAR10 and CELEBA.
var ErrInvalidDataset = errors.New("invalid dataset: only CIFAR10 and CELEBA datasets are supported")

// ImageSet is a random-access collection of images with their labels.
type ImageSet interface {
	// Name of the set, e.g. "CIFAR10-train".
	Name() string

	// Len is the number of images.
	Len() int

	// Dims of each image.
	Dims() (height, width, channels int)

	// Image writes image i to dst, shaped [height, width, channels] with values in [0, 1].
	// dst must have height*width*channels elements.
	Image(i int, dst []float32) error

	// Label of image i: the class for CIFAR-10, the identity for CelebA.
	Label(i int) int32
}

// Options to load a dataset.
type Options struct {
	// Dir where the datasets are stored (and downloaded to).
	Dir string

	// BatchSize of both loaders.
	BatchSize int

	// Shuffle the loaders at every epoch. Seed makes the order reproducible.
	Shuffle bool
	Seed    uint64

	// Download CIFAR-10 if it is missing from Dir.
	Download bool

	// VarianceSamples is the number of CelebA training images used to estimate the pixel variance.
	// Defaults to DefaultVarianceSamples.
	VarianceSamples int

	// NumWorkers decoding images in parallel. Defaults to the number of CPUs.
	NumWorkers int
}

// DefaultVarianceSamples is the number of CelebA images sampled for the pixel variance estimate.
const DefaultVarianceSamples = 10000

// Splits returned by LoadDataAndLoaders.
type Splits struct {
	Train, Validation             ImageSet
	TrainLoader, ValidationLoader *Loader

	// PixelVariance of the training images, with values in [0, 1]. It is used to normalize the
	// reconstruction loss.
	PixelVariance float64
}

// LoadDataAndLoaders loads the training and validation sets of the named dataset, their loaders, and
// the pixel variance of the training set.
func LoadDataAndLoaders(ctx context.Context, name string, opts Options) (*Splits, error) {
	if opts.BatchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d", opts.BatchSize)
	}
	splits := &Splits{}
	var normalization *Normalization
	var err error
	switch name {
	case CIFAR10:
		if opts.Download {
			if err = DownloadCIFAR10(ctx, opts.Dir); err != nil {
				return nil, err
			}
		}
		var train, validation *CIFAR
		if train, validation, err = LoadCIFAR10(opts.Dir); err != nil {
			return nil, err
		}
		splits.Train, splits.Validation = train, validation
		splits.PixelVariance = train.PixelVariance()
		normalization = &Normalization{Mean: 0.5, Std: 0.5}

	case CELEBA:
		var train, validation *CelebA
		if train, validation, err = LoadCelebA(opts.Dir); err != nil {
			return nil, err
		}
		splits.Train, splits.Validation = train, validation
		numSamples := opts.VarianceSamples
		if numSamples <= 0 {
			numSamples = DefaultVarianceSamples
		}
		if splits.PixelVariance, err = EstimatePixelVariance(ctx, train, numSamples, opts.NumWorkers); err != nil {
			return nil, err
		}
		klog.Infof("Estimated CELEBA image pixel variance: %g", splits.PixelVariance)

	default:
		return nil, errors.Wrapf(ErrInvalidDataset, "dataset %q", name)
	}

	loaderOpts := LoaderOptions{
		BatchSize:     opts.BatchSize,
		Shuffle:       opts.Shuffle,
		Seed:          opts.Seed,
		Normalization: normalization,
		NumWorkers:    opts.NumWorkers,
	}
	if splits.TrainLoader, err = NewLoader(splits.Train, loaderOpts); err != nil {
		return nil, err
	}
	loaderOpts.Seed++
	if splits.ValidationLoader, err = NewLoader(splits.Validation, loaderOpts); err != nil {
		return nil, err
	}
	return splits, nil
}
