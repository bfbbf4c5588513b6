package vidfx

import (
	"fmt"
	"sync"
)

// gatedChainingListener wraps a chaining listener with an activity gate.
// While inactive it silently swallows every forwarded event in both
// directions, so an idle input's internal activity never reaches the shared
// downstream stage and downstream signals never reach an idle input.
type gatedChainingListener struct {
	mu     sync.Mutex
	active bool
	inner  *chainingListener
}

var (
	_ InputListener  = (*gatedChainingListener)(nil)
	_ OutputListener = (*gatedChainingListener)(nil)
)

func newGatedChainingListener(inner *chainingListener) *gatedChainingListener {
	return &gatedChainingListener{inner: inner}
}

// setActive toggles the gate. Activation clears any capacity banked before
// deactivation; the downstream stage re-asserts its full credit when this
// listener is reinstalled.
func (g *gatedChainingListener) setActive(active bool) {
	g.mu.Lock()
	g.active = active
	g.mu.Unlock()
	if active {
		g.inner.mu.Lock()
		g.inner.capacity = 0
		g.inner.mu.Unlock()
	}
}

func (g *gatedChainingListener) isActive() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active
}

func (g *gatedChainingListener) OnReadyToAcceptInputFrame() {
	if g.isActive() {
		g.inner.OnReadyToAcceptInputFrame()
	}
}

func (g *gatedChainingListener) OnInputFrameProcessed(tex TextureHandle) {
	if g.isActive() {
		g.inner.OnInputFrameProcessed(tex)
	}
}

func (g *gatedChainingListener) OnFlush() {
	if g.isActive() {
		g.inner.OnFlush()
	}
}

func (g *gatedChainingListener) OnOutputFrameAvailable(tex TextureHandle, presentationTimeUs int64) {
	if g.isActive() {
		g.inner.OnOutputFrameAvailable(tex, presentationTimeUs)
	}
}

func (g *gatedChainingListener) OnCurrentOutputStreamEnded() {
	if g.isActive() {
		g.inner.OnCurrentOutputStreamEnded()
	}
}

// inputBinding is one registered modality: its texture manager, the
// sampling stage converting its frames to internal textures, and the gate
// connecting that stage to the shared downstream.
type inputBinding struct {
	manager  TextureManager
	sampling ShaderStage
	gate     *gatedChainingListener
}

// InputSwitcher owns one texture manager and sampling stage per registered
// input modality and redirects the pipeline's active input among them
// without tearing down idle ones.
type InputSwitcher struct {
	executor *gpuExecutor
	provider GPUObjectsProvider
	ctx      *GPUContext

	bindings   map[InputType]*inputBinding
	active     InputType
	downstream ShaderStage

	errEx Executor
	errFn func(error)
}

func newInputSwitcher(executor *gpuExecutor, provider GPUObjectsProvider, ctx *GPUContext) *InputSwitcher {
	return &InputSwitcher{
		executor: executor,
		provider: provider,
		ctx:      ctx,
		bindings: make(map[InputType]*inputBinding),
	}
}

func (s *InputSwitcher) setErrorListener(ex Executor, fn func(error)) {
	s.errEx = ex
	s.errFn = fn
	for _, b := range s.bindings {
		b.sampling.SetErrorListener(ex, fn)
	}
}

// registerInput creates the texture manager and sampling stage for a
// modality. Registering an already-registered modality is a no-op.
func (s *InputSwitcher) registerInput(inputType InputType) error {
	if _, ok := s.bindings[inputType]; ok {
		return nil
	}

	program := newMatrixStageProgram(identityMatrix, identityMatrix)
	sampling := newPooledShaderStage("sampling_"+inputType.String(), program, s.provider, s.ctx, defaultStageCapacity)
	if s.errFn != nil {
		sampling.SetErrorListener(s.errEx, s.errFn)
	}

	var (
		manager  TextureManager
		setStage func(ShaderStage)
	)
	switch inputType {
	case InputTypeSurface:
		m := newSurfaceTextureManager(s.executor, s.provider, s.ctx)
		manager, setStage = m, m.setSamplingStage
	case InputTypeBitmap:
		m := newBitmapTextureManager(s.executor, s.provider, s.ctx)
		manager, setStage = m, m.setSamplingStage
	case InputTypeTextureID:
		m := newTexIDTextureManager(s.executor)
		manager, setStage = m, m.setSamplingStage
	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedInput, inputType)
	}
	setStage(sampling)

	s.bindings[inputType] = &inputBinding{manager: manager, sampling: sampling}
	if s.downstream != nil {
		s.connectBinding(s.bindings[inputType])
	}
	return nil
}

// setDownstreamStage connects every registered sampling stage to the shared
// downstream stage through gated listeners.
func (s *InputSwitcher) setDownstreamStage(downstream ShaderStage) {
	s.downstream = downstream
	for _, b := range s.bindings {
		s.connectBinding(b)
	}
}

func (s *InputSwitcher) connectBinding(b *inputBinding) {
	b.gate = newGatedChainingListener(newChainingListener(s.executor, b.sampling, s.downstream))
	b.sampling.SetOutputListener(b.gate)
}

// switchToInput makes inputType the active modality and pushes desc into
// its manager. The previously active input stays initialized but its gate
// swallows all events.
func (s *InputSwitcher) switchToInput(inputType InputType, desc FrameDescriptor) error {
	target, ok := s.bindings[inputType]
	if !ok {
		return fmt.Errorf("%w: %v", ErrUnregisteredInput, inputType)
	}
	for t, b := range s.bindings {
		if b.gate != nil {
			b.gate.setActive(t == inputType)
		}
	}
	s.active = inputType
	s.downstream.SetInputListener(target.gate)
	target.manager.SetInputFrameInfo(desc)
	Logger().Info("vidfx: input switched", "type", inputType.String())
	return nil
}

// activeManager returns the manager application calls are routed to, or nil
// before the first switch.
func (s *InputSwitcher) activeManager() TextureManager {
	b, ok := s.bindings[s.active]
	if !ok {
		return nil
	}
	return b.manager
}

// signalEndOfInput forwards end-of-stream into the active manager.
func (s *InputSwitcher) signalEndOfInput() error {
	m := s.activeManager()
	if m == nil {
		return ErrUnregisteredInput
	}
	m.SignalEndOfCurrentInputStream()
	return nil
}

// release tears down all registered managers and sampling stages,
// continuing past individual failures.
func (s *InputSwitcher) release() error {
	var firstErr error
	for t, b := range s.bindings {
		if err := b.manager.Release(); err != nil {
			Logger().Warn("vidfx: texture manager release failed", "type", t.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
		if err := b.sampling.Release(); err != nil {
			Logger().Warn("vidfx: sampling stage release failed", "type", t.String(), "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	s.bindings = make(map[InputType]*inputBinding)
	return firstErr
}
