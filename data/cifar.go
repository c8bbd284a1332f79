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
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
	"k8s.io/klog/v2"
)

const (
	// CIFARURL of the binary version of CIFAR-10.
	CIFARURL = "https://www.cs.toronto.edu/~kriz/cifar-10-binary.tar.gz"

	// CIFARSubDir created by the CIFAR-10 archive.
	CIFARSubDir = "cifar-10-batches-bin"

	CIFARImageSize = 32
	CIFARChannels  = 3

	// cifarRecordSize is one label byte followed by the red, green and blue 32x32 planes.
	cifarRecordSize = 1 + CIFARImageSize*CIFARImageSize*CIFARChannels
)

var (
	cifarTrainFiles = []string{
		"data_batch_1.bin", "data_batch_2.bin", "data_batch_3.bin", "data_batch_4.bin", "data_batch_5.bin",
	}
	cifarValidationFiles = []string{"test_batch.bin"}
)

// CIFAR holds one split of CIFAR-10 in memory, in its binary format.
type CIFAR struct {
	name   string
	labels []uint8

	// pixels holds the images back to back, each as 3 planes (red, green, blue) of 32x32 bytes.
	pixels []byte
}

// LoadCIFAR10 reads the training and validation (test) splits of CIFAR-10 from dir.
func LoadCIFAR10(dir string) (train, validation *CIFAR, err error) {
	batchesDir := filepath.Join(dir, CIFARSubDir)
	if train, err = loadCIFARFiles("CIFAR10-train", batchesDir, cifarTrainFiles); err != nil {
		return nil, nil, err
	}
	if validation, err = loadCIFARFiles("CIFAR10-validation", batchesDir, cifarValidationFiles); err != nil {
		return nil, nil, err
	}
	klog.V(1).Infof("Loaded CIFAR10: %d training and %d validation images", train.Len(), validation.Len())
	return train, validation, nil
}

func loadCIFARFiles(name, dir string, files []string) (*CIFAR, error) {
	set := &CIFAR{name: name}
	for _, file := range files {
		path := filepath.Join(dir, file)
		contents, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading CIFAR-10 file (was it downloaded?)")
		}
		if err := set.Append(contents); err != nil {
			return nil, errors.WithMessagef(err, "file %q", path)
		}
	}
	return set, nil
}

// Append records in the CIFAR-10 binary format to the set.
func (c *CIFAR) Append(records []byte) error {
	if len(records)%cifarRecordSize != 0 {
		return errors.Errorf("CIFAR-10 records take %d bytes each, got %d bytes", cifarRecordSize, len(records))
	}
	numRecords := len(records) / cifarRecordSize
	for ii := range numRecords {
		record := records[ii*cifarRecordSize : (ii+1)*cifarRecordSize]
		c.labels = append(c.labels, record[0])
		c.pixels = append(c.pixels, record[1:]...)
	}
	return nil
}

// Name implements ImageSet.
func (c *CIFAR) Name() string { return c.name }

// Len implements ImageSet.
func (c *CIFAR) Len() int { return len(c.labels) }

// Dims implements ImageSet.
func (c *CIFAR) Dims() (height, width, channels int) {
	return CIFARImageSize, CIFARImageSize, CIFARChannels
}

// Label implements ImageSet.
func (c *CIFAR) Label(i int) int32 { return int32(c.labels[i]) }

// Image implements ImageSet: the planes are interleaved to [height, width, channels].
func (c *CIFAR) Image(i int, dst []float32) error {
	const planeSize = CIFARImageSize * CIFARImageSize
	if i < 0 || i >= c.Len() {
		return errors.Errorf("%s: image %d out of range [0, %d)", c.name, i, c.Len())
	}
	if len(dst) != planeSize*CIFARChannels {
		return errors.Errorf("%s: destination has %d values, image has %d", c.name, len(dst), planeSize*CIFARChannels)
	}
	src := c.pixels[i*planeSize*CIFARChannels : (i+1)*planeSize*CIFARChannels]
	for pos := range planeSize {
		for ch := range CIFARChannels {
			dst[pos*CIFARChannels+ch] = float32(src[ch*planeSize+pos]) / 255.0
		}
	}
	return nil
}

// PixelVariance of all pixels of the set, scaled to [0, 1].
// It is computed from a histogram of the 256 pixel values.
func (c *CIFAR) PixelVariance() float64 {
	var values, counts [256]float64
	for ii := range values {
		values[ii] = float64(ii) / 255.0
	}
	for _, p := range c.pixels {
		counts[p]++
	}
	return stat.PopVariance(values[:], counts[:])
}

// String implements fmt.Stringer.
func (c *CIFAR) String() string {
	return fmt.Sprintf("%s (%d images)", c.name, c.Len())
}

// DownloadCIFAR10 downloads and extracts the binary CIFAR-10 into dir, unless it is already there.
func DownloadCIFAR10(ctx context.Context, dir string) error {
	if _, err := os.Stat(filepath.Join(dir, CIFARSubDir, cifarValidationFiles[0])); err == nil {
		return nil
	}
	return DownloadAndExtract(ctx, CIFARURL, dir)
}
