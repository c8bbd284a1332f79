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
	"archive/tar"
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxDownloadElapsedTime bounds the retries of a download.
var MaxDownloadElapsedTime = 5 * time.Minute

// DownloadAndExtract downloads the .tar.gz archive at url and extracts it into dir.
//
// The archive is first saved next to its destination, and failed downloads are retried with
// exponential backoff. Client errors (4xx) are not retried.
func DownloadAndExtract(ctx context.Context, url, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating data directory %q", dir)
	}
	archivePath := filepath.Join(dir, filepath.Base(url))

	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = MaxDownloadElapsedTime
	err := backoff.RetryNotify(func() error {
		return download(ctx, url, archivePath)
	}, backoff.WithContext(bo, ctx), func(err error, wait time.Duration) {
		klog.Warningf("Download of %q failed, retrying in %s: %v", url, wait, err)
	})
	if err != nil {
		return errors.WithMessagef(err, "downloading %q", url)
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return errors.Wrapf(err, "opening %q", archivePath)
	}
	defer func() { _ = f.Close() }()
	if err := ExtractTarGz(f, dir); err != nil {
		return errors.WithMessagef(err, "extracting %q", archivePath)
	}
	klog.Infof("Downloaded and extracted %q to %q", url, dir)
	return nil
}

func download(ctx context.Context, url, path string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		err = errors.Errorf("unexpected status %q", resp.Status)
		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return backoff.Permanent(err)
		}
		return err
	}

	tmpPath := path + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		return backoff.Permanent(errors.Wrapf(err, "creating %q", tmpPath))
	}
	if _, err = io.Copy(f, resp.Body); err != nil {
		_ = f.Close()
		return errors.Wrap(err, "reading response")
	}
	if err = f.Close(); err != nil {
		return backoff.Permanent(errors.Wrapf(err, "writing %q", tmpPath))
	}
	return backoff.Permanent(os.Rename(tmpPath, path))
}

// ExtractTarGz extracts the regular files and directories of a gzip compressed tar stream into dir.
// Entries that would escape dir are rejected.
func ExtractTarGz(r io.Reader, dir string) error {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return errors.Wrap(err, "reading gzip header")
	}
	defer func() { _ = gz.Close() }()

	tr := tar.NewReader(gz)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "reading tar entry")
		}
		target := filepath.Join(dir, header.Name)
		if target == filepath.Clean(dir) {
			continue
		}
		if !strings.HasPrefix(target, filepath.Clean(dir)+string(os.PathSeparator)) {
			return errors.Errorf("tar entry %q escapes the target directory", header.Name)
		}
		switch header.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, 0o755); err != nil {
				return errors.Wrapf(err, "creating %q", target)
			}
		case tar.TypeReg:
			if err := extractFile(tr, target); err != nil {
				return err
			}
		default:
			klog.V(2).Infof("Skipping tar entry %q of type %d", header.Name, header.Typeflag)
		}
	}
}

func extractFile(r io.Reader, target string) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return errors.Wrapf(err, "creating directory of %q", target)
	}
	f, err := os.Create(target)
	if err != nil {
		return errors.Wrapf(err, "creating %q", target)
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return errors.Wrapf(err, "writing %q", target)
	}
	return errors.Wrapf(f.Close(), "closing %q", target)
}
