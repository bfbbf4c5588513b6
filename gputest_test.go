package vidfx

import (
	"sync"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal/noop"
)

// createNoopDevice opens a context on the noop hal backend and returns it
// with a cleanup function.
func createNoopDevice(t *testing.T) (*GPUContext, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	ctx := &GPUContext{Device: openDev.Device, Queue: openDev.Queue}
	ctx.fence, err = ctx.Device.CreateFence()
	if err != nil {
		openDev.Device.Destroy()
		instance.Destroy()
		t.Fatalf("CreateFence failed: %v", err)
	}
	cleanup := func() {
		ctx.Device.DestroyFence(ctx.fence)
		ctx.Device.Destroy()
		instance.Destroy()
	}
	return ctx, cleanup
}

// noopObjectsProvider is a GPUObjectsProvider backed by the noop hal
// backend. Texture and surface creation reuse the wgpu provider paths,
// which only touch the context's device.
type noopObjectsProvider struct {
	WGPUObjectsProvider
}

func (p *noopObjectsProvider) CreateContext() (*GPUContext, error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, err
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, err
	}
	ctx := &GPUContext{
		Device:  openDev.Device,
		Queue:   openDev.Queue,
		release: instance.Destroy,
	}
	if ctx.fence, err = ctx.Device.CreateFence(); err != nil {
		ctx.Device.Destroy()
		instance.Destroy()
		return nil, err
	}
	return ctx, nil
}

// drain blocks until every task submitted to e before the call has run.
func drain(t *testing.T, e *gpuExecutor) {
	t.Helper()
	if err := e.SubmitAndBlock(func() error { return nil }); err != nil {
		t.Fatalf("drain failed: %v", err)
	}
}

// fakeStageProgram is a StageProgram that records calls without touching
// the GPU.
type fakeStageProgram struct {
	configureCalls int
	drawPts        []int64
	released       bool

	outputSize Size
	drawErr    error
}

func (f *fakeStageProgram) Configure(ctx *GPUContext, inputWidth, inputHeight int) (Size, error) {
	f.configureCalls++
	if f.outputSize != (Size{}) {
		return f.outputSize, nil
	}
	return Size{Width: inputWidth, Height: inputHeight}, nil
}

func (f *fakeStageProgram) Draw(ctx *GPUContext, input, output TextureHandle, presentationTimeUs int64) error {
	if f.drawErr != nil {
		return f.drawErr
	}
	f.drawPts = append(f.drawPts, presentationTimeUs)
	return nil
}

func (f *fakeStageProgram) Release(ctx *GPUContext) error {
	f.released = true
	return nil
}

// stageEvent is one recorded call on a fakeShaderStage.
type stageEvent struct {
	kind string // "frame", "eos", "release", "flush"
	tex  TextureHandle
	pts  int64
}

// fakeShaderStage records the ShaderStage calls made on it. Safe for
// cross-goroutine use.
type fakeShaderStage struct {
	mu     sync.Mutex
	events []stageEvent

	inputListener  InputListener
	outputListener OutputListener
}

var _ ShaderStage = (*fakeShaderStage)(nil)

func (f *fakeShaderStage) record(ev stageEvent) {
	f.mu.Lock()
	f.events = append(f.events, ev)
	f.mu.Unlock()
}

func (f *fakeShaderStage) Events() []stageEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]stageEvent, len(f.events))
	copy(out, f.events)
	return out
}

func (f *fakeShaderStage) SetInputListener(l InputListener)   { f.inputListener = l }
func (f *fakeShaderStage) SetOutputListener(l OutputListener) { f.outputListener = l }
func (f *fakeShaderStage) SetErrorListener(Executor, func(error)) {}

func (f *fakeShaderStage) QueueInputFrame(tex TextureHandle, presentationTimeUs int64) {
	f.record(stageEvent{kind: "frame", tex: tex, pts: presentationTimeUs})
}

func (f *fakeShaderStage) ReleaseOutputFrame(tex TextureHandle) {
	f.record(stageEvent{kind: "release", tex: tex})
}

func (f *fakeShaderStage) SignalEndOfCurrentInputStream() {
	f.record(stageEvent{kind: "eos"})
}

func (f *fakeShaderStage) Flush() {
	f.record(stageEvent{kind: "flush"})
}

func (f *fakeShaderStage) Release() error { return nil }

// listenerRecorder records InputListener and OutputListener callbacks in
// arrival order.
type listenerRecorder struct {
	mu     sync.Mutex
	events []string
	frames []TextureHandle
	pts    []int64
}

var (
	_ InputListener  = (*listenerRecorder)(nil)
	_ OutputListener = (*listenerRecorder)(nil)
)

func (r *listenerRecorder) add(ev string) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *listenerRecorder) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	copy(out, r.events)
	return out
}

func (r *listenerRecorder) count(ev string) int {
	n := 0
	for _, e := range r.Events() {
		if e == ev {
			n++
		}
	}
	return n
}

func (r *listenerRecorder) OnReadyToAcceptInputFrame() { r.add("ready") }

func (r *listenerRecorder) OnInputFrameProcessed(tex TextureHandle) {
	r.mu.Lock()
	r.events = append(r.events, "processed")
	r.frames = append(r.frames, tex)
	r.mu.Unlock()
}

func (r *listenerRecorder) OnFlush() { r.add("flush") }

func (r *listenerRecorder) OnOutputFrameAvailable(tex TextureHandle, presentationTimeUs int64) {
	r.mu.Lock()
	r.events = append(r.events, "output")
	r.frames = append(r.frames, tex)
	r.pts = append(r.pts, presentationTimeUs)
	r.mu.Unlock()
}

func (r *listenerRecorder) OnCurrentOutputStreamEnded() { r.add("eos") }
