// Package vidfx provides a GPU video frame-processing pipeline for Go.
//
// # Overview
//
// vidfx ingests video frames from heterogeneous sources (decoder surfaces,
// bitmaps, raw GPU textures), runs them through a configurable chain of
// shader stages ("effects"), optionally composites multiple streams into
// one, and emits results to an output surface, an encoder surface, or as
// reusable GPU textures.
//
// # Quick Start
//
//	import "github.com/gogpu/vidfx"
//
//	provider := vidfx.NewWGPUObjectsProvider()
//	fp, err := vidfx.NewFrameProcessor(vidfx.Config{
//	    Provider:    provider,
//	    InputColor:  vidfx.ColorInfoSDRVideo,
//	    OutputColor: vidfx.ColorInfoSDRVideo,
//	}, vidfx.DirectExecutor, listener)
//	if err != nil { ... }
//	defer fp.Release()
//
//	fp.RegisterInputStream(vidfx.InputTypeBitmap, effects, frameInfo)
//	fp.QueueInputBitmap(img, []int64{0, 33_333, 66_666})
//	fp.SignalEndOfInput()
//
// # Architecture
//
// Exactly one goroutine owns the GPU context and executes all GPU work;
// public entry points marshal tasks onto that goroutine through a
// single-threaded task executor. Capacity signals flow backward through the
// stage chain (a downstream readiness credit authorizes exactly one frame
// submission), while end-of-stream and flush signals flow forward.
//
// The library is organized into:
//   - Public API: FrameProcessor, Compositor, Effect, input queueing
//   - Stage plumbing: ShaderStage, TexturePool, chaining listeners
//   - GPU integration: GPUObjectsProvider (default implementation on
//     gogpu/wgpu), StageProgram (leaf shader collaborator)
//
// # Threading
//
// All exported methods are safe to call from any goroutine unless noted
// otherwise. Listener callbacks are dispatched on the Executor supplied at
// construction, never on the GPU goroutine directly.
package vidfx
