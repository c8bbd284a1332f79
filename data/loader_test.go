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
	"sort"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/stat"
)

// fakeSet has 2x2 single-channel images: image i holds the values i/10, i/10 + 0.01, ...
type fakeSet struct {
	n       int
	failing int
}

func (f *fakeSet) Name() string                 { return "fake" }
func (f *fakeSet) Len() int                     { return f.n }
func (f *fakeSet) Dims() (height, width, ch int) { return 2, 2, 1 }
func (f *fakeSet) Label(i int) int32            { return int32(i) }

func (f *fakeSet) Image(i int, dst []float32) error {
	if i == f.failing {
		return errors.New("broken image")
	}
	for jj := range dst {
		dst[jj] = float32(i)/10 + float32(jj)/100
	}
	return nil
}

// yieldIDs yields the next batch and returns the index of each image in it, recovered from its first pixel.
func yieldIDs(t *testing.T, l *Loader) ([]int, error) {
	_, inputs, labels, err := l.Yield()
	if err != nil {
		return nil, err
	}
	require.Len(t, inputs, 1)
	require.Same(t, inputs[0], labels[0])
	values := inputs[0].Value().([][][][]float32)
	ids := make([]int, len(values))
	for ii, img := range values {
		ids[ii] = int(img[0][0][0]*10 + 0.5)
	}
	return ids, nil
}

func TestLoaderBatches(t *testing.T) {
	l, err := NewLoader(&fakeSet{n: 5, failing: -1}, LoaderOptions{BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, "fake", l.Name())

	for epoch := range 2 {
		var all []int
		for _, wantSize := range []int{2, 2, 1} {
			ids, err := yieldIDs(t, l)
			require.NoError(t, err, "epoch %d", epoch)
			require.Len(t, ids, wantSize)
			all = append(all, ids...)
		}
		assert.Equal(t, []int{0, 1, 2, 3, 4}, all)
		_, err := yieldIDs(t, l)
		require.ErrorIs(t, err, io.EOF)
		l.Reset()
	}
}

func TestLoaderShuffle(t *testing.T) {
	l, err := NewLoader(&fakeSet{n: 16, failing: -1}, LoaderOptions{BatchSize: 16, Shuffle: true, Seed: 7})
	require.NoError(t, err)
	first, err := yieldIDs(t, l)
	require.NoError(t, err)
	l.Reset()
	second, err := yieldIDs(t, l)
	require.NoError(t, err)

	for _, ids := range [][]int{first, second} {
		sorted := append([]int(nil), ids...)
		sort.Ints(sorted)
		for ii, id := range sorted {
			require.Equal(t, ii, id)
		}
	}
	assert.NotEqual(t, first, second, "each epoch is reshuffled")
}

func TestLoaderNormalization(t *testing.T) {
	l, err := NewLoader(&fakeSet{n: 1, failing: -1}, LoaderOptions{
		BatchSize:     1,
		Normalization: &Normalization{Mean: 0.5, Std: 0.5},
	})
	require.NoError(t, err)
	_, inputs, _, err := l.Yield()
	require.NoError(t, err)
	values := inputs[0].Value().([][][][]float32)
	assert.InDelta(t, -1.0, values[0][0][0][0], 1e-6)
	assert.InDelta(t, -0.98, values[0][0][1][0], 1e-6)
}

func TestLoaderErrors(t *testing.T) {
	_, err := NewLoader(&fakeSet{n: 1, failing: -1}, LoaderOptions{BatchSize: 0})
	require.Error(t, err)
	_, err = NewLoader(&fakeSet{n: 0, failing: -1}, LoaderOptions{BatchSize: 1})
	require.Error(t, err)
	_, err = NewLoader(&fakeSet{n: 1, failing: -1}, LoaderOptions{BatchSize: 1, Normalization: &Normalization{}})
	require.Error(t, err)

	l, err := NewLoader(&fakeSet{n: 4, failing: 1}, LoaderOptions{BatchSize: 4})
	require.NoError(t, err)
	_, _, _, err = l.Yield()
	require.ErrorContains(t, err, "broken image")
}

func TestEstimatePixelVariance(t *testing.T) {
	set := &fakeSet{n: 6, failing: -1}
	var values []float64
	img := make([]float32, 4)
	for ii := range 4 {
		require.NoError(t, set.Image(ii, img))
		for _, v := range img {
			values = append(values, float64(v))
		}
	}
	got, err := EstimatePixelVariance(context.Background(), set, 4, 2)
	require.NoError(t, err)
	assert.InDelta(t, stat.PopVariance(values, nil), got, 1e-9)

	_, err = EstimatePixelVariance(context.Background(), &fakeSet{n: 3, failing: 2}, 10, 1)
	require.Error(t, err)
	_, err = EstimatePixelVariance(context.Background(), &fakeSet{n: 0}, 10, 1)
	require.Error(t, err)
}
