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

// dlqvae creates, inspects and evaluates the autoencoder models.
//
//	dlqvae init --checkpoint=/tmp/dlqvae --set="latent_dim_quant=8;levels_per_dim=32"
//	dlqvae inspect --checkpoint=/tmp/dlqvae
//	dlqvae variance --dataset=CIFAR10 --data=~/data
//	dlqvae eval --checkpoint=/tmp/dlqvae --data=~/data
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"k8s.io/klog/v2"
)

type options struct {
	dataDir       string
	checkpointDir string
	configPath    string
	settings      string
	download      bool
	numWorkers    int
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	rootCmd := &cobra.Command{
		Use:           "dlqvae",
		Short:         "Create, inspect and evaluate VAE, FactorVAE and DLQVAE models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.dataDir, "data", "data", "Directory where the datasets are stored.")
	flags.StringVar(&opts.checkpointDir, "checkpoint", "", "Directory of the model checkpoint.")
	flags.StringVar(&opts.configPath, "config", "", "Optional YAML file with hyperparameters, applied before --set.")
	flags.StringVar(&opts.settings, "set", "", "Hyperparameters to set, e.g. \"latent_dim_quant=8;levels_per_dim=32\".")
	flags.BoolVar(&opts.download, "download", true, "Download CIFAR-10 if it is missing.")
	flags.IntVar(&opts.numWorkers, "workers", 0, "Number of workers decoding images, defaults to the number of CPUs.")

	goFlags := flag.NewFlagSet("klog", flag.ExitOnError)
	klog.InitFlags(goFlags)
	flags.AddGoFlagSet(goFlags)

	rootCmd.AddCommand(
		newInitCmd(opts),
		newInspectCmd(opts),
		newVarianceCmd(opts),
		newEvalCmd(opts),
	)
	return rootCmd
}

func main() {
	defer klog.Flush()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %+v\n", err)
		stop()
		klog.Flush()
		os.Exit(1)
	}
}
