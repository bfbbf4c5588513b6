package vidfx

import (
	"testing"
)

// testEffect is a non-matrix effect; it forces a chain break around any
// matrix consolidation run.
type testEffect struct {
	Name string
}

func (e testEffect) NewStage(provider GPUObjectsProvider, ctx *GPUContext, useHDR bool) (ShaderStage, error) {
	return newPooledShaderStage(e.Name, &fakeStageProgram{}, provider, ctx, defaultStageCapacity), nil
}

func translation(x, y float32) [16]float32 {
	m := identityMatrix
	m[12] = x
	m[13] = y
	return m
}

func TestMatMulIdentity(t *testing.T) {
	m := translation(3, 5)
	if got := matMul(identityMatrix, m); got != m {
		t.Errorf("I*m = %v, want %v", got, m)
	}
	if got := matMul(m, identityMatrix); got != m {
		t.Errorf("m*I = %v, want %v", got, m)
	}
}

func TestCombineTransformsAppliesFirstToLast(t *testing.T) {
	a := MatrixTransform{Name: "a", Matrix: translation(1, 0)}
	b := MatrixTransform{Name: "b", Matrix: translation(0, 2)}

	got := combineTransforms([]MatrixTransform{a, b})
	// Applying a then b translates by (1, 2).
	want := translation(1, 2)
	if got != want {
		t.Errorf("combined = %v, want %v", got, want)
	}
	if got := combineTransforms(nil); got != identityMatrix {
		t.Errorf("empty combine = %v, want identity", got)
	}
}

func TestEffectsEqualByValue(t *testing.T) {
	a := []Effect{MatrixTransform{Name: "x", Matrix: translation(1, 0)}, RGBMatrix{Name: "y"}}
	b := []Effect{MatrixTransform{Name: "x", Matrix: translation(1, 0)}, RGBMatrix{Name: "y"}}
	c := []Effect{MatrixTransform{Name: "x", Matrix: translation(2, 0)}, RGBMatrix{Name: "y"}}

	if !effectsEqual(a, b) {
		t.Error("structurally equal effect lists compared unequal")
	}
	if effectsEqual(a, c) {
		t.Error("differing effect lists compared equal")
	}
	if effectsEqual(a, a[:1]) {
		t.Error("lists of different length compared equal")
	}
	if !effectsEqual(nil, nil) {
		t.Error("two empty lists compared unequal")
	}
}

func TestBuildStageChainConsolidatesMatrixRuns(t *testing.T) {
	ctx, cleanup := createNoopDevice(t)
	defer cleanup()
	provider := &noopObjectsProvider{}

	effects := []Effect{
		MatrixTransform{Name: "t1", Matrix: translation(1, 0)},
		MatrixTransform{Name: "t2", Matrix: translation(0, 2)},
		RGBMatrix{Name: "c1", Matrix: identityMatrix},
		testEffect{Name: "custom"},
		MatrixTransform{Name: "t3", Matrix: translation(5, 0)},
	}
	stages, err := buildStageChain(provider, ctx, false, effects)
	if err != nil {
		t.Fatalf("buildStageChain failed: %v", err)
	}
	defer releaseStages(stages)

	// Consecutive matrix effects collapse into one stage: [t1 t2 c1],
	// [custom], [t3].
	if len(stages) != 3 {
		t.Fatalf("stage count = %d, want 3", len(stages))
	}

	first, ok := stages[0].(*pooledShaderStage)
	if !ok {
		t.Fatalf("stage 0 is %T, want *pooledShaderStage", stages[0])
	}
	program, ok := first.program.(*matrixStageProgram)
	if !ok {
		t.Fatalf("stage 0 program is %T, want *matrixStageProgram", first.program)
	}
	if want := translation(1, 2); program.transform != want {
		t.Errorf("consolidated transform = %v, want %v", program.transform, want)
	}

	last := stages[2].(*pooledShaderStage)
	if p := last.program.(*matrixStageProgram); p.transform != translation(5, 0) {
		t.Errorf("trailing transform = %v, want %v", p.transform, translation(5, 0))
	}
}

func TestBuildStageChainEmpty(t *testing.T) {
	ctx, cleanup := createNoopDevice(t)
	defer cleanup()

	stages, err := buildStageChain(&noopObjectsProvider{}, ctx, false, nil)
	if err != nil {
		t.Fatalf("buildStageChain failed: %v", err)
	}
	if len(stages) != 0 {
		t.Fatalf("stage count = %d, want 0", len(stages))
	}
}
