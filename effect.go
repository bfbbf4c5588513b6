package vidfx

import "reflect"

// Effect is a value-comparable descriptor of one frame transformation.
// Effects are compared by value when a new stream registers, so two streams
// with structurally equal effect lists reuse the already-built stage chain.
type Effect interface {
	// NewStage builds the shader stage implementing this effect.
	NewStage(provider GPUObjectsProvider, ctx *GPUContext, useHDR bool) (ShaderStage, error)
}

// MatrixTransform applies a 4x4 transformation to frame geometry in
// normalized device coordinates. Matrices are column-major.
type MatrixTransform struct {
	Name   string
	Matrix [16]float32
}

// NewStage implements Effect.
func (m MatrixTransform) NewStage(provider GPUObjectsProvider, ctx *GPUContext, useHDR bool) (ShaderStage, error) {
	return newMatrixStage(provider, ctx, useHDR, []MatrixTransform{m}, nil)
}

// RGBMatrix applies a 4x4 matrix to each pixel's RGBA color. Matrices are
// column-major.
type RGBMatrix struct {
	Name   string
	Matrix [16]float32
}

// NewStage implements Effect.
func (m RGBMatrix) NewStage(provider GPUObjectsProvider, ctx *GPUContext, useHDR bool) (ShaderStage, error) {
	return newMatrixStage(provider, ctx, useHDR, nil, []RGBMatrix{m})
}

// identityMatrix is the 4x4 identity, column-major.
var identityMatrix = [16]float32{
	1, 0, 0, 0,
	0, 1, 0, 0,
	0, 0, 1, 0,
	0, 0, 0, 1,
}

// matMul returns a*b for column-major 4x4 matrices.
func matMul(a, b [16]float32) [16]float32 {
	var c [16]float32
	for col := 0; col < 4; col++ {
		for row := 0; row < 4; row++ {
			var sum float32
			for k := 0; k < 4; k++ {
				sum += a[k*4+row] * b[col*4+k]
			}
			c[col*4+row] = sum
		}
	}
	return c
}

// combineTransforms folds a sequence of geometric transforms, applied
// first-to-last, into a single matrix.
func combineTransforms(ms []MatrixTransform) [16]float32 {
	out := identityMatrix
	for _, m := range ms {
		out = matMul(m.Matrix, out)
	}
	return out
}

// combineRGBMatrices folds a sequence of color matrices, applied
// first-to-last, into a single matrix.
func combineRGBMatrices(ms []RGBMatrix) [16]float32 {
	out := identityMatrix
	for _, m := range ms {
		out = matMul(m.Matrix, out)
	}
	return out
}

// effectsEqual reports whether two effect lists are structurally equal.
func effectsEqual(a, b []Effect) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !reflect.DeepEqual(a[i], b[i]) {
			return false
		}
	}
	return true
}

// buildStageChain converts an effect list into shader stages, consolidating
// consecutive matrix and color-matrix effects into one combined stage.
// Chains of pure linear transforms compose algebraically, so one shader
// pass replaces one pass per effect.
func buildStageChain(provider GPUObjectsProvider, ctx *GPUContext, useHDR bool, effects []Effect) ([]ShaderStage, error) {
	var stages []ShaderStage
	var pendingTransforms []MatrixTransform
	var pendingRGB []RGBMatrix

	flushPending := func() error {
		if len(pendingTransforms) == 0 && len(pendingRGB) == 0 {
			return nil
		}
		stage, err := newMatrixStage(provider, ctx, useHDR, pendingTransforms, pendingRGB)
		if err != nil {
			return err
		}
		stages = append(stages, stage)
		pendingTransforms = nil
		pendingRGB = nil
		return nil
	}

	for _, e := range effects {
		switch m := e.(type) {
		case MatrixTransform:
			pendingTransforms = append(pendingTransforms, m)
		case RGBMatrix:
			pendingRGB = append(pendingRGB, m)
		default:
			if err := flushPending(); err != nil {
				releaseStages(stages)
				return nil, err
			}
			stage, err := e.NewStage(provider, ctx, useHDR)
			if err != nil {
				releaseStages(stages)
				return nil, err
			}
			stages = append(stages, stage)
		}
	}
	if err := flushPending(); err != nil {
		releaseStages(stages)
		return nil, err
	}
	return stages, nil
}

// releaseStages releases stages best-effort, logging failures.
func releaseStages(stages []ShaderStage) {
	for _, s := range stages {
		if err := s.Release(); err != nil {
			Logger().Warn("vidfx: stage release failed", "error", err)
		}
	}
}

// newMatrixStage builds one pooled stage running the combined matrix
// program for the given transform and color-matrix runs. Linear matrix math
// is range-agnostic, so the stage works unchanged on HDR streams.
// TODO: thread a float16 working-texture format through
// GPUObjectsProvider.CreateTextureBuffers so HDR intermediates keep more
// than 8 bits per channel.
func newMatrixStage(provider GPUObjectsProvider, ctx *GPUContext, _ bool, transforms []MatrixTransform, rgb []RGBMatrix) (ShaderStage, error) {
	program := newMatrixStageProgram(combineTransforms(transforms), combineRGBMatrices(rgb))
	return newPooledShaderStage("matrix", program, provider, ctx, defaultStageCapacity), nil
}
