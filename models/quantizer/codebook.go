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

package quantizer

import (
	"github.com/gomlx/exceptions"
	. "github.com/gomlx/gomlx/graph"
	"github.com/gomlx/gomlx/ml/context"
	"github.com/gomlx/gomlx/ml/context/initializers"
	"github.com/gomlx/gomlx/types/shapes"
	"github.com/gomlx/gopjrt/dtypes"
	"github.com/pkg/errors"
)

const (
	// ParamCodebookInit selects how the codebook levels are initialized: "linear" (default) spreads
	// the levels of every dimension evenly over [-1, 1]; "uniform" draws them at random from [-1, 1],
	// using the context's initializers.ParamInitialSeed.
	ParamCodebookInit = "dlq_codebook_init"

	// LevelsVariableName is the name of the codebook variable, created in the quantizer scope.
	LevelsVariableName = "levels"
)

// Codebook holds, for each of the latent dimensions, an independent sequence of learnable scalar
// levels. They are stored in one context variable shaped [latentDim, levelsPerDim].
//
// Levels are not required to be ordered: duplicates and crossings are allowed.
type Codebook struct {
	LatentDim, LevelsPerDim int

	variable *context.Variable
}

// NewCodebook creates (or reuses, if it was already created or loaded from a checkpoint) the codebook
// variable in the given context scope.
//
// It panics if latentDim or levelsPerDim is < 1.
func NewCodebook(ctx *context.Context, latentDim, levelsPerDim int) *Codebook {
	if latentDim < 1 {
		exceptions.Panicf("quantizer: codebook requires latentDim >= 1, got %d", latentDim)
	}
	if levelsPerDim < 1 {
		exceptions.Panicf("quantizer: codebook requires levelsPerDim >= 1, got %d", levelsPerDim)
	}
	cb := &Codebook{LatentDim: latentDim, LevelsPerDim: levelsPerDim}
	shape := shapes.Make(dtypes.Float32, latentDim, levelsPerDim)

	if v := ctx.InspectVariable(ctx.Scope(), LevelsVariableName); v != nil {
		if !v.Shape().Equal(shape) {
			exceptions.Panicf("quantizer: codebook variable %q has shape %s, expected %s",
				v.ScopeAndName(), v.Shape(), shape)
		}
		cb.variable = v
		return cb
	}

	initName := context.GetParamOr(ctx, ParamCodebookInit, "linear")
	switch initName {
	case "linear":
		cb.variable = ctx.VariableWithValue(LevelsVariableName, LinearLevels(latentDim, levelsPerDim))
	case "uniform":
		initialSeed := context.GetParamOr(ctx, initializers.ParamInitialSeed, initializers.NoSeed)
		uniformInitializer := func(graph *Graph, shape shapes.Shape) *Node {
			var v *Node
			initializers.UseRngState(graph, initialSeed, func(rngState *Node) (newRngState *Node) {
				newRngState, v = RandomUniform(rngState, shape)
				return newRngState
			})
			// [0, 1) -> [-1, 1)
			return AddScalar(MulScalar(v, 2.0), -1.0)
		}
		cb.variable = ctx.WithInitializer(uniformInitializer).VariableWithShape(LevelsVariableName, shape)
	default:
		exceptions.Panicf("quantizer: invalid codebook initialization %q for %q -- valid values are linear, uniform",
			initName, ParamCodebookInit)
	}
	if !cb.variable.Shape().Equal(shape) {
		exceptions.Panicf("quantizer: codebook variable %q has shape %s, expected %s -- was it loaded from a "+
			"checkpoint with different dimensions?", cb.variable.ScopeAndName(), cb.variable.Shape(), shape)
	}
	return cb
}

// LookupCodebook returns the codebook already present in ctx's current scope, created by a model or
// loaded from a checkpoint. It never creates variables: it returns an error if the variable is missing
// or its shape is not [latentDim, levelsPerDim].
func LookupCodebook(ctx *context.Context, latentDim, levelsPerDim int) (*Codebook, error) {
	v := ctx.InspectVariable(ctx.Scope(), LevelsVariableName)
	if v == nil {
		return nil, errors.Errorf("no codebook variable %q in scope %q", LevelsVariableName, ctx.Scope())
	}
	shape := shapes.Make(dtypes.Float32, latentDim, levelsPerDim)
	if !v.Shape().Equal(shape) {
		return nil, errors.Errorf("codebook variable %q has shape %s, expected %s", v.ScopeAndName(), v.Shape(), shape)
	}
	return &Codebook{LatentDim: latentDim, LevelsPerDim: levelsPerDim, variable: v}, nil
}

// LinearLevels returns levelsPerDim values evenly spaced over [-1, 1] for each of the latentDim
// dimensions. A single level sits at 0.
func LinearLevels(latentDim, levelsPerDim int) [][]float32 {
	levels := make([][]float32, latentDim)
	for d := range levels {
		levels[d] = make([]float32, levelsPerDim)
		if levelsPerDim == 1 {
			continue
		}
		for ii := range levels[d] {
			levels[d][ii] = 2.0*float32(ii)/float32(levelsPerDim-1) - 1.0
		}
	}
	return levels
}

// Variable returns the underlying context variable, shaped [LatentDim, LevelsPerDim].
func (cb *Codebook) Variable() *context.Variable {
	return cb.variable
}

// LevelsGraph returns the codebook levels in the graph, shaped [LatentDim, LevelsPerDim].
// Losses depending on selected levels back-propagate into the variable through this node.
func (cb *Codebook) LevelsGraph(g *Graph) *Node {
	return cb.variable.ValueGraph(g)
}

// DimLevelsGraph returns the levels of one latent dimension, shaped [LevelsPerDim].
func (cb *Codebook) DimLevelsGraph(g *Graph, dim int) *Node {
	if dim < 0 || dim >= cb.LatentDim {
		exceptions.Panicf("quantizer: dimension %d out of range [0, %d)", dim, cb.LatentDim)
	}
	levels := Slice(cb.LevelsGraph(g), AxisElem(dim), AxisRange())
	return Reshape(levels, cb.LevelsPerDim)
}

// All returns a copy of the current levels of every dimension.
//
// The variable must have been materialized: either it was created with "linear" initialization,
// or it was initialized by running a graph (or context.InitializeVariables) or loaded from a checkpoint.
func (cb *Codebook) All() ([][]float32, error) {
	t := cb.variable.Value()
	if t == nil {
		return nil, errors.Errorf("codebook variable %q not initialized yet", cb.variable.ScopeAndName())
	}
	values, ok := t.Value().([][]float32)
	if !ok {
		return nil, errors.Errorf("codebook variable %q holds %s, expected float32 levels",
			cb.variable.ScopeAndName(), t.Shape())
	}
	return values, nil
}

// Levels returns a copy of the current levels of dimension dim.
func (cb *Codebook) Levels(dim int) ([]float32, error) {
	if dim < 0 || dim >= cb.LatentDim {
		return nil, errors.Errorf("dimension %d out of range [0, %d)", dim, cb.LatentDim)
	}
	all, err := cb.All()
	if err != nil {
		return nil, err
	}
	return all[dim], nil
}
