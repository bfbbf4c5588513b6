package vidfx

import (
	"github.com/gogpu/wgpu/hal"
)

// GPUContext bundles the device and queue all pipeline stages share. One
// context serves the whole pipeline; every GPU operation goes through it on
// the GPU goroutine.
type GPUContext struct {
	// Device is the open GPU device.
	Device hal.Device

	// Queue is the device's submission queue.
	Queue hal.Queue

	// fence observes the queue's submission timeline. Waiting on it at a
	// submission index returned by Queue.Submit blocks until that
	// submission completes.
	fence hal.Fence

	// release tears down provider-owned bootstrap state (instance, adapter)
	// after the device is destroyed. Nil when the device is adopted from a
	// host application.
	release func()
}

// Surface is an opaque render target managed by a GPUObjectsProvider. The
// pipeline renders into the view returned by AcquireView and calls Present
// to make the result visible.
type Surface interface {
	// Size returns the surface dimensions in pixels.
	Size() Size

	// AcquireView returns the texture view to render the next frame into.
	AcquireView() (hal.TextureView, error)

	// Present makes the most recently rendered frame visible.
	Present() error
}

// OutputSurfaceTarget identifies where output frames should be presented.
// Target is a platform- or provider-specific handle (a window, an encoder
// input, or nil for an offscreen surface of the given size).
type OutputSurfaceTarget struct {
	Target any
	Width  int
	Height int
}

// GPUObjectsProvider creates and destroys the GPU primitives the pipeline
// builds on. The pipeline calls exactly these six operations; everything
// else it does with the context's device and queue directly.
//
// All methods are called on the GPU goroutine.
type GPUObjectsProvider interface {
	// CreateContext opens a GPU context (device + queue).
	CreateContext() (*GPUContext, error)

	// CreatePlaceholderSurface creates a minimal surface that makes the
	// context current before any real output surface exists.
	CreatePlaceholderSurface(ctx *GPUContext) (Surface, error)

	// CreateOutputSurface creates the surface output frames are presented
	// to.
	CreateOutputSurface(ctx *GPUContext, target OutputSurfaceTarget) (Surface, error)

	// CreateTextureBuffers allocates a 2D texture with a render-attachment
	// view of the given size.
	CreateTextureBuffers(ctx *GPUContext, width, height int) (TextureHandle, error)

	// DestroySurface releases a surface created by this provider.
	DestroySurface(ctx *GPUContext, s Surface) error

	// DestroyContext tears down the context. Must be called last, after all
	// textures and surfaces created from it are destroyed.
	DestroyContext(ctx *GPUContext) error
}
