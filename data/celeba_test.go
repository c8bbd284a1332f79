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
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeCelebA writes numImages uniformly colored PNGs of 20x16 pixels, with the given partitions.
func writeFakeCelebA(t *testing.T, dir string, partitions []int, withIdentities bool) {
	t.Helper()
	baseDir := filepath.Join(dir, CelebASubDir)
	imagesDir := filepath.Join(baseDir, celebAImagesDir)
	require.NoError(t, os.MkdirAll(imagesDir, 0o755))

	var partitionLines, identityLines []string
	for ii, partition := range partitions {
		name := fmt.Sprintf("%06d.png", ii+1)
		img := image.NewRGBA(image.Rect(0, 0, 20, 16))
		for y := range 16 {
			for x := range 20 {
				img.Set(x, y, color.RGBA{R: 255, G: uint8(10 * ii), B: 0, A: 255})
			}
		}
		f, err := os.Create(filepath.Join(imagesDir, name))
		require.NoError(t, err)
		require.NoError(t, png.Encode(f, img))
		require.NoError(t, f.Close())
		partitionLines = append(partitionLines, fmt.Sprintf("%s %d", name, partition))
		identityLines = append(identityLines, fmt.Sprintf("%s %d", name, 100+ii))
	}
	require.NoError(t, os.WriteFile(filepath.Join(baseDir, celebAPartitionFile),
		[]byte(strings.Join(partitionLines, "\n")+"\n"), 0o644))
	if withIdentities {
		require.NoError(t, os.WriteFile(filepath.Join(baseDir, celebAIdentitiesFile),
			[]byte(strings.Join(identityLines, "\n")+"\n"), 0o644))
	}
}

func TestLoadCelebA(t *testing.T) {
	dir := t.TempDir()
	writeFakeCelebA(t, dir, []int{0, 0, 1, 2, 0}, true)

	train, validation, err := LoadCelebA(dir)
	require.NoError(t, err)
	require.Equal(t, 3, train.Len())
	require.Equal(t, 1, validation.Len())
	assert.Equal(t, "CELEBA-train", train.Name())
	assert.Equal(t, int32(104), train.Label(2))
	assert.Equal(t, int32(102), validation.Label(0))

	height, width, channels := train.Dims()
	require.Equal(t, []int{CelebAImageSize, CelebAImageSize, 3}, []int{height, width, channels})
	img := make([]float32, height*width*channels)
	require.NoError(t, validation.Image(0, img))
	// Uniform colors survive the resizing.
	for pos := 0; pos < len(img); pos += 3 {
		require.InDeltaSlice(t, []float32{1, 20.0 / 255, 0}, img[pos:pos+3], 1e-6)
	}
	require.Error(t, validation.Image(1, img))
	require.Error(t, validation.Image(0, img[:3]))
}

func TestLoadCelebAWithoutIdentities(t *testing.T) {
	dir := t.TempDir()
	writeFakeCelebA(t, dir, []int{0, 1}, false)
	train, _, err := LoadCelebA(dir)
	require.NoError(t, err)
	assert.Equal(t, int32(0), train.Label(0))
}

func TestLoadCelebAErrors(t *testing.T) {
	_, _, err := LoadCelebA(t.TempDir())
	require.Error(t, err)

	dir := t.TempDir()
	writeFakeCelebA(t, dir, []int{0}, false)
	require.NoError(t, os.WriteFile(filepath.Join(dir, CelebASubDir, celebAPartitionFile), []byte("000001.png zero\n"), 0o644))
	_, _, err = LoadCelebA(dir)
	require.Error(t, err)
}

func TestLoadDataAndLoadersCelebA(t *testing.T) {
	dir := t.TempDir()
	writeFakeCelebA(t, dir, []int{0, 0, 1}, true)
	splits, err := LoadDataAndLoaders(context.Background(), CELEBA, Options{Dir: dir, BatchSize: 2})
	require.NoError(t, err)
	assert.Equal(t, 2, splits.Train.Len())
	assert.Equal(t, 1, splits.Validation.Len())
	// The two training images differ only in the green channel: 0 and 10/255.
	assert.Greater(t, splits.PixelVariance, 0.0)

	_, inputs, _, err := splits.TrainLoader.Yield()
	require.NoError(t, err)
	assert.Equal(t, []int{2, CelebAImageSize, CelebAImageSize, 3}, inputs[0].Shape().Dimensions)
}
