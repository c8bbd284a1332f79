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

// Package checkpoint saves a model (the variables of its context) together with the hyperparameters
// it was built with, and loads it back.
package checkpoint

import (
	"os"
	"sort"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/train/checkpoints"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
	"k8s.io/klog/v2"
)

const (
	// HyperparametersScope is the absolute scope where the hyperparameters are stored as context parameters.
	HyperparametersScope = "/hyperparameters"

	// ParamModelName is the hyperparameter holding the name of the saved model.
	ParamModelName = "model_name"
)

// Hyperparameters records the configuration a model was built with.
// Values must be strings, booleans, numbers or slices of those.
type Hyperparameters map[string]any

// LoadHyperparameters reads hyperparameters from a YAML file with one "key: value" entry per hyperparameter.
func LoadHyperparameters(path string) (Hyperparameters, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading hyperparameters file %q", path)
	}
	hp := Hyperparameters{}
	if err := yaml.Unmarshal(contents, &hp); err != nil {
		return nil, errors.Wrapf(err, "parsing hyperparameters file %q", path)
	}
	if err := hp.normalize(); err != nil {
		return nil, errors.WithMessagef(err, "hyperparameters file %q", path)
	}
	if err := hp.Validate(); err != nil {
		return nil, errors.WithMessagef(err, "hyperparameters file %q", path)
	}
	return hp, nil
}

// Validate that all values can be stored as context parameters.
func (hp Hyperparameters) Validate() error {
	for key, value := range hp {
		switch value.(type) {
		case string, bool, int, int32, int64, float32, float64,
			[]string, []bool, []int, []int64, []float64:
		default:
			return errors.Errorf("hyperparameter %q: unsupported value of type %T", key, value)
		}
	}
	return nil
}

// normalize converts the generic lists decoded from YAML to typed slices.
func (hp Hyperparameters) normalize() error {
	for key, value := range hp {
		list, ok := value.([]any)
		if !ok {
			continue
		}
		converted, err := typedSlice(list)
		if err != nil {
			return errors.WithMessagef(err, "hyperparameter %q", key)
		}
		hp[key] = converted
	}
	return nil
}

// typedSlice converts a list of strings, ints or numbers to []string, []int or []float64.
func typedSlice(list []any) (any, error) {
	var (
		strs             []string
		ints             []int
		floats           []float64
		allInts, allStrs = true, true
	)
	for _, elem := range list {
		switch v := elem.(type) {
		case string:
			allInts = false
			strs = append(strs, v)
		case int:
			allStrs = false
			ints = append(ints, v)
			floats = append(floats, float64(v))
		case float64:
			allStrs, allInts = false, false
			floats = append(floats, v)
		default:
			return nil, errors.Errorf("unsupported list element of type %T", elem)
		}
	}
	switch {
	case len(list) == 0:
		return []int{}, nil
	case allStrs:
		return strs, nil
	case allInts:
		return ints, nil
	case len(strs) == 0:
		return floats, nil
	default:
		return nil, errors.New("list mixes strings and numbers")
	}
}

// Apply sets the hyperparameters as parameters of ctx's current scope, so models built from
// ctx are configured by them.
func (hp Hyperparameters) Apply(ctx *context.Context) {
	for _, key := range hp.keys() {
		ctx.SetParam(key, hp[key])
	}
}

// keys in sorted order.
func (hp Hyperparameters) keys() []string {
	keys := make([]string, 0, len(hp))
	for key := range hp {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// String lists the hyperparameters, one per line.
func (hp Hyperparameters) String() string {
	var sb strings.Builder
	for _, key := range hp.keys() {
		_, _ = sb.WriteString(key)
		_, _ = sb.WriteString(": ")
		out, err := yaml.Marshal(hp[key])
		if err != nil {
			out = []byte("?\n")
		}
		_, _ = sb.Write(out)
	}
	return sb.String()
}

// HyperparametersFromContext returns the hyperparameters stored in ctx's HyperparametersScope.
func HyperparametersFromContext(ctx *context.Context) Hyperparameters {
	hp := Hyperparameters{}
	ctx.EnumerateParams(func(scope, key string, value any) {
		if scope == HyperparametersScope {
			hp[key] = value
		}
	})
	return hp
}

// SaveModelAndParameters saves the variables of ctx and the hyperparameters into the checkpoint
// directory dir. The hyperparameters, and the modelName, are stored under HyperparametersScope.
//
// dir must not exist or be empty: an existing checkpoint would be loaded into ctx first.
func SaveModelAndParameters(ctx *context.Context, hyperparameters Hyperparameters, dir, modelName string) error {
	if err := hyperparameters.Validate(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "reading checkpoint directory %q", dir)
	}
	if len(entries) > 0 {
		return errors.Errorf("checkpoint directory %q is not empty", dir)
	}
	err = exceptions.TryCatch[error](func() {
		handler, err := checkpoints.Build(ctx).Dir(dir).Keep(1).Done()
		if err != nil {
			panic(err)
		}
		hpCtx := ctx.InAbsPath(HyperparametersScope)
		hyperparameters.Apply(hpCtx)
		hpCtx.SetParam(ParamModelName, modelName)
		if err = handler.Save(); err != nil {
			panic(err)
		}
	})
	if err != nil {
		return errors.WithMessagef(err, "saving %s model to %q", modelName, dir)
	}
	klog.Infof("%s model saved successfully at: %s", modelName, dir)
	return nil
}

// Load restores the variables and the parameters saved in dir into ctx, and returns the saved
// hyperparameters.
//
// Variables are loaded immediately, so they can be inspected before any graph is built.
func Load(ctx *context.Context, dir string) (Hyperparameters, error) {
	if _, err := os.Stat(dir); err != nil {
		return nil, errors.Wrap(err, "checkpoint directory")
	}
	err := exceptions.TryCatch[error](func() {
		if _, err := checkpoints.Build(ctx).Dir(dir).Immediate().Done(); err != nil {
			panic(err)
		}
	})
	if err != nil {
		return nil, errors.WithMessagef(err, "loading checkpoint from %q", dir)
	}
	hp := HyperparametersFromContext(ctx)
	modelName, found := hp[ParamModelName]
	if !found {
		return nil, errors.Errorf("no model checkpoint found in %q", dir)
	}
	klog.V(1).Infof("Loaded %v model from %s", modelName, dir)
	return hp, nil
}
