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

package data

import (
	"context"
	"io"
	"math/rand/v2"
	"runtime"
	"sync"

	"github.com/gomlx/gomlx/ml/train"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"
)

// Normalization applied to the pixel values by a Loader: (x - Mean) / Std.
type Normalization struct {
	Mean, Std float32
}

// LoaderOptions configure a Loader.
type LoaderOptions struct {
	BatchSize int

	// Shuffle the order of the images at every epoch, using Seed.
	Shuffle bool
	Seed    uint64

	// Normalization of the pixel values, if not nil.
	Normalization *Normalization

	// NumWorkers reading images in parallel. Defaults to the number of CPUs.
	NumWorkers int
}

// Loader serves an ImageSet in batches. It implements train.Dataset.
//
// Each batch yields the images, shaped [batchSize, height, width, channels], as the only input, and
// the same images as the label: they are the target of the autoencoder. The last batch of an
// epoch may be smaller than BatchSize.
type Loader struct {
	set  ImageSet
	opts LoaderOptions

	mu    sync.Mutex
	rng   *rand.Rand
	order []int
	next  int
}

var _ train.Dataset = (*Loader)(nil)

// NewLoader creates a Loader over set.
func NewLoader(set ImageSet, opts LoaderOptions) (*Loader, error) {
	if opts.BatchSize < 1 {
		return nil, errors.Errorf("invalid batch size %d", opts.BatchSize)
	}
	if set.Len() == 0 {
		return nil, errors.Errorf("dataset %q is empty", set.Name())
	}
	if opts.Normalization != nil && opts.Normalization.Std == 0 {
		return nil, errors.New("normalization with zero standard deviation")
	}
	if opts.NumWorkers <= 0 {
		opts.NumWorkers = runtime.NumCPU()
	}
	l := &Loader{
		set:   set,
		opts:  opts,
		rng:   rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15)),
		order: make([]int, set.Len()),
	}
	l.Reset()
	return l, nil
}

// Name implements train.Dataset.
func (l *Loader) Name() string {
	return l.set.Name()
}

// Reset implements train.Dataset: it restarts the epoch, reshuffling if configured.
func (l *Loader) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for ii := range l.order {
		l.order[ii] = ii
	}
	if l.opts.Shuffle {
		l.rng.Shuffle(len(l.order), func(i, j int) { l.order[i], l.order[j] = l.order[j], l.order[i] })
	}
	l.next = 0
}

// Yield implements train.Dataset. It returns io.EOF at the end of the epoch.
func (l *Loader) Yield() (spec any, inputs []*tensors.Tensor, labels []*tensors.Tensor, err error) {
	l.mu.Lock()
	if l.next >= len(l.order) {
		l.mu.Unlock()
		return nil, nil, nil, io.EOF
	}
	end := min(l.next+l.opts.BatchSize, len(l.order))
	indices := append([]int(nil), l.order[l.next:end]...)
	l.next = end
	l.mu.Unlock()

	batch, err := l.readBatch(indices)
	if err != nil {
		return nil, nil, nil, err
	}
	return l, []*tensors.Tensor{batch}, []*tensors.Tensor{batch}, nil
}

// readBatch reads the images at indices into one tensor.
func (l *Loader) readBatch(indices []int) (*tensors.Tensor, error) {
	height, width, channels := l.set.Dims()
	imageLen := height * width * channels
	flat := make([]float32, len(indices)*imageLen)

	var g errgroup.Group
	g.SetLimit(l.opts.NumWorkers)
	for ii, idx := range indices {
		g.Go(func() error {
			dst := flat[ii*imageLen : (ii+1)*imageLen]
			if err := l.set.Image(idx, dst); err != nil {
				return err
			}
			if norm := l.opts.Normalization; norm != nil {
				for jj, v := range dst {
					dst[jj] = (v - norm.Mean) / norm.Std
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, errors.WithMessagef(err, "reading batch from %q", l.set.Name())
	}
	return tensors.FromFlatDataAndDimensions(flat, len(indices), height, width, channels), nil
}

// EstimatePixelVariance returns the variance of the pixel values (in [0, 1]) of the first numImages
// images of set.
//
// The variance is combined from per-image statistics, so memory use doesn't grow with numImages.
func EstimatePixelVariance(ctx context.Context, set ImageSet, numImages, numWorkers int) (float64, error) {
	numImages = min(numImages, set.Len())
	if numImages < 1 {
		return 0, errors.Errorf("dataset %q has no images to estimate the pixel variance", set.Name())
	}
	if numWorkers <= 0 {
		numWorkers = runtime.NumCPU()
	}
	height, width, channels := set.Dims()
	imageLen := height * width * channels
	means := make([]float64, numImages)
	variances := make([]float64, numImages)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)
	for ii := range numImages {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img := make([]float32, imageLen)
			if err := set.Image(ii, img); err != nil {
				return err
			}
			values := make([]float64, imageLen)
			for jj, v := range img {
				values[jj] = float64(v)
			}
			means[ii], variances[ii] = stat.PopMeanVariance(values, nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, errors.WithMessagef(err, "estimating pixel variance of %q", set.Name())
	}
	// All images have the same number of pixels: the total variance is the mean of the
	// per-image variances plus the variance of the per-image means.
	return stat.Mean(variances, nil) + stat.PopVariance(means, nil), nil
}
