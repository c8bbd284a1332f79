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
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/backends"
	_ "github.com/gomlx/gomlx/backends/default"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gomlx/types/tensors"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/willtop/vqvae-and-dlq/checkpoint"
	"github.com/willtop/vqvae-and-dlq/data"
	"github.com/willtop/vqvae-and-dlq/examples/dlqvae"
	"github.com/willtop/vqvae-and-dlq/models/vae"
	"k8s.io/klog/v2"
)

// buildContext returns the default context, updated with the --config file and then the --set settings.
func buildContext(opts *options) (*context.Context, error) {
	ctx := dlqvae.CreateDefaultContext()
	if opts.configPath != "" {
		hp, err := checkpoint.LoadHyperparameters(opts.configPath)
		if err != nil {
			return nil, err
		}
		hp.Apply(ctx)
	}
	paramsSet, err := commandline.ParseContextSettings(ctx, opts.settings)
	if err != nil {
		return nil, errors.WithMessage(err, "parsing --set")
	}
	klog.V(1).Infof("Hyperparameters set: %v", paramsSet)
	return ctx, nil
}

// rootParams returns the parameters of ctx's root scope.
func rootParams(ctx *context.Context) checkpoint.Hyperparameters {
	hp := checkpoint.Hyperparameters{}
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == context.RootScope {
			hp[key] = value
		}
	})
	return hp
}

// loadCheckpoint loads the --checkpoint model into a new context, which allows the variables to be reused.
func loadCheckpoint(opts *options) (*context.Context, checkpoint.Hyperparameters, error) {
	if opts.checkpointDir == "" {
		return nil, nil, errors.New("--checkpoint is required")
	}
	ctx := context.New().Checked(false)
	hp, err := checkpoint.Load(ctx, opts.checkpointDir)
	if err != nil {
		return nil, nil, err
	}
	return ctx, hp, nil
}

func newInitCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a model with freshly initialized weights and save it to --checkpoint",
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.checkpointDir == "" {
				return errors.New("--checkpoint is required")
			}
			ctx, err := buildContext(opts)
			if err != nil {
				return err
			}
			modelFn, err := dlqvae.ModelGraphFromContext(ctx)
			if err != nil {
				return err
			}
			modelName := context.GetParamOr(ctx, dlqvae.ParamModel, dlqvae.ModelDLQVAE)
			imageSize := context.GetParamOr(ctx, dlqvae.ParamImageSize, data.CIFARImageSize)

			// Building the graph once creates and initializes all the variables.
			err = exceptions.TryCatch[error](func() {
				backend := backends.New()
				exec := context.NewExec(backend, ctx, func(ctx *context.Context, images *Node) []*Node {
					return modelFn(ctx, nil, []*Node{images})
				})
				exec.Call(tensors.FromShape(shapes.Make(dtypes.Float32, 1, imageSize, imageSize, 3)))
			})
			if err != nil {
				return errors.WithMessagef(err, "initializing %s", modelName)
			}
			return checkpoint.SaveModelAndParameters(ctx, rootParams(ctx), opts.checkpointDir, modelName)
		},
	}
}

func newInspectCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "inspect",
		Short: "Print the hyperparameters of the --checkpoint model and, for a DLQVAE, its learned codebook",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, hp, err := loadCheckpoint(opts)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprint(out, hp.String())
			if context.GetParamOr(ctx, dlqvae.ParamModel, dlqvae.ModelDLQVAE) != dlqvae.ModelDLQVAE {
				return nil
			}
			model, err := dlqvae.DLQVAEFromContext(ctx)
			if err != nil {
				return err
			}
			levels, err := model.InspectCodebook(ctx.In(vae.BuildScope))
			if err != nil {
				return err
			}
			for dim, dimLevels := range levels {
				values := make([]string, len(dimLevels))
				for ii, v := range dimLevels {
					values[ii] = fmt.Sprintf("%.4f", v)
				}
				_, _ = fmt.Fprintf(out, "latent dimension %d: [%s]\n", dim, strings.Join(values, ", "))
			}
			return nil
		},
	}
}

func loadDataset(cmd *cobra.Command, opts *options, name string, batchSize int) (*data.Splits, error) {
	return data.LoadDataAndLoaders(cmd.Context(), name, data.Options{
		Dir:        opts.dataDir,
		BatchSize:  batchSize,
		Download:   opts.download,
		NumWorkers: opts.numWorkers,
	})
}

func newVarianceCmd(opts *options) *cobra.Command {
	var datasetName string
	cmd := &cobra.Command{
		Use:   "variance",
		Short: "Print the pixel variance of the training split of a dataset",
		RunE: func(cmd *cobra.Command, args []string) error {
			splits, err := loadDataset(cmd, opts, datasetName, 1)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s training images: %d, pixel variance: %g\n",
				datasetName, splits.Train.Len(), splits.PixelVariance)
			return err
		},
	}
	cmd.Flags().StringVar(&datasetName, "dataset", data.CIFAR10, "Dataset: CIFAR10 or CELEBA.")
	return cmd
}

func newEvalCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "eval",
		Short: "Evaluate the --checkpoint model on the validation split of the dataset it was configured with",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, _, err := loadCheckpoint(opts)
			if err != nil {
				return err
			}
			datasetName := context.GetParamOr(ctx, dlqvae.ParamDataset, data.CIFAR10)
			batchSize := context.GetParamOr(ctx, dlqvae.ParamBatchSize, 32)
			splits, err := loadDataset(cmd, opts, datasetName, batchSize)
			if err != nil {
				return err
			}
			var backend backends.Backend
			err = exceptions.TryCatch[error](func() { backend = backends.New() })
			if err != nil {
				return err
			}
			metrics, err := dlqvae.Evaluate(backend, ctx, splits.ValidationLoader, splits.PixelVariance)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "%s: %d examples, reconstruction loss %.5f, auxiliary loss %.5f\n",
				splits.Validation.Name(), metrics.NumExamples, metrics.ReconstructionLoss, metrics.AuxiliaryLoss)
			return err
		},
	}
}
