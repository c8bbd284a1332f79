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
	"bufio"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/image/draw"
	"k8s.io/klog/v2"
)

const (
	// CelebASubDir holds the CelebA files inside the data directory, laid out as distributed:
	// the aligned images in img_align_celeba/, the split of each image in list_eval_partition.txt and,
	// optionally, the identity of each image in identity_CelebA.txt.
	CelebASubDir = "celeba"

	// CelebAImageSize of the images after resizing.
	CelebAImageSize = 224

	celebAImagesDir      = "img_align_celeba"
	celebAPartitionFile  = "list_eval_partition.txt"
	celebAIdentitiesFile = "identity_CelebA.txt"

	celebAPartitionTrain      = 0
	celebAPartitionValidation = 1
)

// CelebA is one split of CelebA. Images are read from disk and resized when requested.
type CelebA struct {
	name       string
	dir        string
	files      []string
	identities []int32
	size       int
}

// LoadCelebA lists the training and validation splits of CelebA found in dir.
func LoadCelebA(dir string) (train, validation *CelebA, err error) {
	baseDir := filepath.Join(dir, CelebASubDir)
	identities, err := readCelebAIdentities(filepath.Join(baseDir, celebAIdentitiesFile))
	if err != nil {
		return nil, nil, err
	}
	imagesDir := filepath.Join(baseDir, celebAImagesDir)
	train = &CelebA{name: "CELEBA-train", dir: imagesDir, size: CelebAImageSize}
	validation = &CelebA{name: "CELEBA-validation", dir: imagesDir, size: CelebAImageSize}

	partitionPath := filepath.Join(baseDir, celebAPartitionFile)
	err = readCelebAColumns(partitionPath, func(file string, partition int) {
		var set *CelebA
		switch partition {
		case celebAPartitionTrain:
			set = train
		case celebAPartitionValidation:
			set = validation
		default:
			return
		}
		set.files = append(set.files, file)
		set.identities = append(set.identities, identities[file])
	})
	if err != nil {
		return nil, nil, errors.WithMessage(err, "CelebA partitions (the dataset must be placed manually)")
	}
	klog.V(1).Infof("Loaded CELEBA: %d training and %d validation images", train.Len(), validation.Len())
	return train, validation, nil
}

func readCelebAIdentities(path string) (map[string]int32, error) {
	identities := make(map[string]int32)
	err := readCelebAColumns(path, func(file string, identity int) {
		identities[file] = int32(identity)
	})
	if errors.Is(err, os.ErrNotExist) {
		klog.Warningf("CelebA identities file %q not found, all labels will be 0", path)
		return identities, nil
	}
	return identities, err
}

// readCelebAColumns parses files with lines "<image file> <integer>".
func readCelebAColumns(path string, fn func(file string, value int)) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening %q", path)
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		if len(fields) != 2 {
			return errors.Errorf("%s:%d: expected 2 columns, got %d", path, lineNum, len(fields))
		}
		value, err := strconv.Atoi(fields[1])
		if err != nil {
			return errors.Wrapf(err, "%s:%d", path, lineNum)
		}
		fn(fields[0], value)
	}
	return errors.Wrapf(scanner.Err(), "reading %q", path)
}

// Name implements ImageSet.
func (c *CelebA) Name() string { return c.name }

// Len implements ImageSet.
func (c *CelebA) Len() int { return len(c.files) }

// Dims implements ImageSet.
func (c *CelebA) Dims() (height, width, channels int) {
	return c.size, c.size, 3
}

// Label implements ImageSet: it returns the identity of the person.
func (c *CelebA) Label(i int) int32 { return c.identities[i] }

// Image implements ImageSet: it decodes image i and resizes it (without preserving the aspect ratio).
func (c *CelebA) Image(i int, dst []float32) error {
	if i < 0 || i >= c.Len() {
		return errors.Errorf("%s: image %d out of range [0, %d)", c.name, i, c.Len())
	}
	if len(dst) != c.size*c.size*3 {
		return errors.Errorf("%s: destination has %d values, image has %d", c.name, len(dst), c.size*c.size*3)
	}
	path := filepath.Join(c.dir, c.files[i])
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "%s: opening image", c.name)
	}
	defer func() { _ = f.Close() }()
	img, _, err := image.Decode(f)
	if err != nil {
		return errors.Wrapf(err, "%s: decoding %q", c.name, path)
	}
	resizeToFloats(img, c.size, dst)
	return nil
}

// resizeToFloats scales img to size x size and writes its RGB values in [0, 1] to dst.
func resizeToFloats(img image.Image, size int, dst []float32) {
	resized := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.BiLinear.Scale(resized, resized.Bounds(), img, img.Bounds(), draw.Src, nil)
	for pos := range size * size {
		for ch := range 3 {
			dst[pos*3+ch] = float32(resized.Pix[pos*4+ch]) / 255.0
		}
	}
}
