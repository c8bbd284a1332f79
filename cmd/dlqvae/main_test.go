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

package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestInitAndInspect(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "model")
	configPath := filepath.Join(t.TempDir(), "small.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("image_size: 8\nhidden_dim: 16\n"), 0o644))

	_, err := runCmd(t, "init", "--checkpoint", dir, "--config", configPath,
		"--set", "latent_dim_encoder=6;latent_dim_quant=3;levels_per_dim=4")
	require.NoError(t, err)

	out, err := runCmd(t, "inspect", "--checkpoint", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "model_name: DLQVAE\n")
	assert.Contains(t, out, "levels_per_dim: 4\n")
	assert.Contains(t, out, "latent dimension 0: [-1.0000, -0.3333, 0.3333, 1.0000]\n")
	assert.Contains(t, out, "latent dimension 2: [-1.0000, -0.3333, 0.3333, 1.0000]\n")
	assert.NotContains(t, out, "latent dimension 3")

	_, err = runCmd(t, "init", "--checkpoint", dir)
	require.Error(t, err, "existing checkpoint")
}

func TestInitVAE(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "model")
	_, err := runCmd(t, "init", "--checkpoint", dir, "--set", "model=VAE;image_size=8;hidden_dim=16;latent_dim=2")
	require.NoError(t, err)
	out, err := runCmd(t, "inspect", "--checkpoint", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "model_name: VAE\n")
	assert.NotContains(t, out, "latent dimension")
}

func TestCommandErrors(t *testing.T) {
	_, err := runCmd(t, "init")
	require.Error(t, err, "missing --checkpoint")
	_, err = runCmd(t, "inspect", "--checkpoint", filepath.Join(t.TempDir(), "missing"))
	require.Error(t, err)
	_, err = runCmd(t, "init", "--checkpoint", t.TempDir(), "--set", "model=VQVAE")
	require.Error(t, err)
	_, err = runCmd(t, "variance", "--dataset", "MNIST", "--data", t.TempDir(), "--download=false")
	require.Error(t, err)
}
