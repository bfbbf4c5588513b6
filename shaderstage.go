package vidfx

import "fmt"

// StageProgram is the leaf shader math of a pipelined stage: it draws one
// input texture into one output texture. Programs carry no queueing or
// capacity logic; that is the owning stage's job.
type StageProgram interface {
	// Configure reports the output dimensions for the given input
	// dimensions and prepares GPU state for them.
	Configure(ctx *GPUContext, inputWidth, inputHeight int) (Size, error)

	// Draw renders input into output.
	Draw(ctx *GPUContext, input, output TextureHandle, presentationTimeUs int64) error

	// Release destroys the program's GPU resources.
	Release(ctx *GPUContext) error
}

// defaultStageCapacity is the number of pooled output textures an
// intermediate stage buffers, and therefore its input credit.
const defaultStageCapacity = 1

// pooledShaderStage runs a StageProgram behind the ShaderStage contract. It
// owns a fixed pool of output textures; its input credit equals the pool's
// free-texture count, so backpressure is coupled directly to downstream
// release of its outputs.
type pooledShaderStage struct {
	label    string
	program  StageProgram
	provider GPUObjectsProvider
	ctx      *GPUContext

	pool       *TexturePool
	outputSize Size

	// credits counts readiness signals granted and not yet spent. Queueing
	// with none outstanding is a contract violation.
	credits int

	inputListener  InputListener
	outputListener OutputListener
	errListener    *errorForwarder
}

var _ ShaderStage = (*pooledShaderStage)(nil)

// newPooledShaderStage wraps program in a buffering stage with the given
// output-texture capacity.
func newPooledShaderStage(label string, program StageProgram, provider GPUObjectsProvider, ctx *GPUContext, capacity int) *pooledShaderStage {
	if capacity <= 0 {
		capacity = defaultStageCapacity
	}
	return &pooledShaderStage{
		label:    label,
		program:  program,
		provider: provider,
		ctx:      ctx,
		pool:     NewTexturePool(capacity),
	}
}

// SetInputListener implements ShaderStage. The new listener immediately
// receives one readiness credit per free output texture; credits granted to
// a previous listener are void.
func (s *pooledShaderStage) SetInputListener(l InputListener) {
	s.inputListener = l
	s.credits = 0
	if l == nil {
		return
	}
	s.grantFreeCredits()
}

// grantFreeCredits grants one readiness credit per free output texture.
func (s *pooledShaderStage) grantFreeCredits() {
	n := s.pool.FreeTextureCount()
	if !s.pool.IsConfigured() {
		n = s.pool.Capacity()
	}
	for i := 0; i < n; i++ {
		s.credits++
		s.inputListener.OnReadyToAcceptInputFrame()
	}
}

// SetOutputListener implements ShaderStage.
func (s *pooledShaderStage) SetOutputListener(l OutputListener) {
	s.outputListener = l
}

// SetErrorListener implements ShaderStage.
func (s *pooledShaderStage) SetErrorListener(ex Executor, fn func(error)) {
	s.errListener = &errorForwarder{ex: ex, fn: fn}
}

// QueueInputFrame implements ShaderStage.
func (s *pooledShaderStage) QueueInputFrame(tex TextureHandle, presentationTimeUs int64) {
	if s.credits == 0 {
		s.errListener.forward(fmt.Errorf("%s: %w", s.label, ErrNoInputCredit), presentationTimeUs)
		return
	}
	s.credits--
	if err := s.processFrame(tex, presentationTimeUs); err != nil {
		s.errListener.forward(err, presentationTimeUs)
	}
}

func (s *pooledShaderStage) processFrame(tex TextureHandle, presentationTimeUs int64) error {
	size, err := s.program.Configure(s.ctx, tex.Width, tex.Height)
	if err != nil {
		return fmt.Errorf("%s: configure: %w", s.label, err)
	}
	if err := s.pool.EnsureConfigured(s.provider, s.ctx, size.Width, size.Height); err != nil {
		return fmt.Errorf("%s: %w", s.label, err)
	}
	s.outputSize = size

	out, err := s.pool.UseTexture()
	if err != nil {
		return fmt.Errorf("%s: %w", s.label, err)
	}
	if err := s.program.Draw(s.ctx, tex, out, presentationTimeUs); err != nil {
		return fmt.Errorf("%s: draw: %w", s.label, err)
	}

	if s.inputListener != nil {
		s.inputListener.OnInputFrameProcessed(tex)
	}
	if s.outputListener != nil {
		s.outputListener.OnOutputFrameAvailable(out, presentationTimeUs)
	}
	return nil
}

// ReleaseOutputFrame implements ShaderStage. Returning an output texture
// frees one pool slot and therefore grants one new input credit.
func (s *pooledShaderStage) ReleaseOutputFrame(tex TextureHandle) {
	if err := s.pool.FreeTexture(tex); err != nil {
		s.errListener.forward(fmt.Errorf("%s: release output: %w", s.label, err), TimeUnset)
		return
	}
	if s.inputListener != nil {
		s.credits++
		s.inputListener.OnReadyToAcceptInputFrame()
	}
}

// SignalEndOfCurrentInputStream implements ShaderStage. This stage buffers
// no input, so the signal forwards immediately.
func (s *pooledShaderStage) SignalEndOfCurrentInputStream() {
	if s.outputListener != nil {
		s.outputListener.OnCurrentOutputStreamEnded()
	}
}

// Flush implements ShaderStage. All unreleased outputs return to the pool,
// the upstream stage is told to flush, and the full input credit is
// re-asserted.
func (s *pooledShaderStage) Flush() {
	s.pool.FreeAllTextures()
	s.credits = 0
	if s.inputListener == nil {
		return
	}
	s.inputListener.OnFlush()
	s.grantFreeCredits()
}

// Release implements ShaderStage.
func (s *pooledShaderStage) Release() error {
	s.pool.DeleteAll(s.ctx)
	if err := s.program.Release(s.ctx); err != nil {
		return fmt.Errorf("%s: release program: %w", s.label, err)
	}
	return nil
}
