package vidfx

import (
	"fmt"

	"github.com/gogpu/gpucontext"
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
)

// WGPUObjectsProvider is the default GPUObjectsProvider, built on the wgpu
// hal. It either opens its own standalone device or adopts a shared device
// from a host application's device provider.
type WGPUObjectsProvider struct {
	// shared, when non-nil, is the adopted host device provider. The
	// provider must expose HalDevice() any and HalQueue() any returning
	// hal.Device and hal.Queue.
	shared gpucontext.DeviceProvider
}

var _ GPUObjectsProvider = (*WGPUObjectsProvider)(nil)

// NewWGPUObjectsProvider returns a provider that opens a standalone Vulkan
// device on CreateContext.
func NewWGPUObjectsProvider() *WGPUObjectsProvider {
	return &WGPUObjectsProvider{}
}

// NewSharedDeviceProvider returns a provider that adopts the device and
// queue of an existing host application instead of opening its own.
func NewSharedDeviceProvider(shared gpucontext.DeviceProvider) *WGPUObjectsProvider {
	return &WGPUObjectsProvider{shared: shared}
}

// CreateContext implements GPUObjectsProvider.
func (p *WGPUObjectsProvider) CreateContext() (*GPUContext, error) {
	if p.shared != nil {
		return p.adoptSharedDevice()
	}

	backend, ok := hal.GetBackend(gputypes.BackendVulkan)
	if !ok {
		return nil, fmt.Errorf("vidfx: vulkan backend not available")
	}
	instance, err := backend.CreateInstance(&hal.InstanceDescriptor{Flags: 0})
	if err != nil {
		return nil, fmt.Errorf("vidfx: create instance: %w", err)
	}

	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, fmt.Errorf("vidfx: no GPU adapters found")
	}
	var selected *hal.ExposedAdapter
	for i := range adapters {
		if adapters[i].Info.DeviceType == gputypes.DeviceTypeDiscreteGPU ||
			adapters[i].Info.DeviceType == gputypes.DeviceTypeIntegratedGPU {
			selected = &adapters[i]
			break
		}
	}
	if selected == nil {
		selected = &adapters[0]
	}

	openDev, err := selected.Adapter.Open(gputypes.Features(0), gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, fmt.Errorf("vidfx: open device: %w", err)
	}

	ctx := &GPUContext{
		Device:  openDev.Device,
		Queue:   openDev.Queue,
		release: instance.Destroy,
	}
	if ctx.fence, err = ctx.Device.CreateFence(); err != nil {
		ctx.Device.Destroy()
		instance.Destroy()
		return nil, fmt.Errorf("vidfx: create fence: %w", err)
	}
	Logger().Info("vidfx: GPU context created", "adapter", selected.Info.Name)
	return ctx, nil
}

// adoptSharedDevice builds a context around a host-owned device. The
// context's release hook is nil so DestroyContext leaves the host device
// alive.
func (p *WGPUObjectsProvider) adoptSharedDevice() (*GPUContext, error) {
	hp, ok := p.shared.(interface {
		HalDevice() any
		HalQueue() any
	})
	if !ok {
		return nil, fmt.Errorf("vidfx: device provider does not expose hal accessors")
	}
	device, ok := hp.HalDevice().(hal.Device)
	if !ok {
		return nil, fmt.Errorf("vidfx: provider HalDevice is not hal.Device")
	}
	queue, ok := hp.HalQueue().(hal.Queue)
	if !ok {
		return nil, fmt.Errorf("vidfx: provider HalQueue is not hal.Queue")
	}

	ctx := &GPUContext{Device: device, Queue: queue}
	fence, err := device.CreateFence()
	if err != nil {
		return nil, fmt.Errorf("vidfx: create fence: %w", err)
	}
	ctx.fence = fence
	Logger().Info("vidfx: GPU context created (shared device)")
	return ctx, nil
}

// CreatePlaceholderSurface implements GPUObjectsProvider. The placeholder
// is a 1x1 offscreen target used until a real output surface is set.
func (p *WGPUObjectsProvider) CreatePlaceholderSurface(ctx *GPUContext) (Surface, error) {
	return p.newOffscreenSurface(ctx, 1, 1)
}

// CreateOutputSurface implements GPUObjectsProvider. A nil target yields an
// offscreen surface of the requested size; a Surface target is adopted
// as-is.
func (p *WGPUObjectsProvider) CreateOutputSurface(ctx *GPUContext, target OutputSurfaceTarget) (Surface, error) {
	if s, ok := target.Target.(Surface); ok {
		return s, nil
	}
	if target.Target != nil {
		return nil, fmt.Errorf("vidfx: unsupported output surface target %T", target.Target)
	}
	return p.newOffscreenSurface(ctx, target.Width, target.Height)
}

// CreateTextureBuffers implements GPUObjectsProvider.
func (p *WGPUObjectsProvider) CreateTextureBuffers(ctx *GPUContext, width, height int) (TextureHandle, error) {
	tex, err := ctx.Device.CreateTexture(&hal.TextureDescriptor{
		Label:         "vidfx_frame",
		Size:          hal.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Dimension:     gputypes.TextureDimension2D,
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Usage: gputypes.TextureUsageRenderAttachment |
			gputypes.TextureUsageTextureBinding |
			gputypes.TextureUsageCopySrc |
			gputypes.TextureUsageCopyDst,
	})
	if err != nil {
		return TextureHandle{}, fmt.Errorf("vidfx: create texture: %w", err)
	}
	view, err := ctx.Device.CreateTextureView(tex, &hal.TextureViewDescriptor{
		Label:         "vidfx_frame_view",
		Format:        gputypes.TextureFormatRGBA8Unorm,
		Dimension:     gputypes.TextureViewDimension2D,
		Aspect:        gputypes.TextureAspectAll,
		MipLevelCount: 1,
	})
	if err != nil {
		ctx.Device.DestroyTexture(tex)
		return TextureHandle{}, fmt.Errorf("vidfx: create texture view: %w", err)
	}
	return TextureHandle{Texture: tex, View: view, Width: width, Height: height}, nil
}

// DestroySurface implements GPUObjectsProvider.
func (p *WGPUObjectsProvider) DestroySurface(ctx *GPUContext, s Surface) error {
	if os, ok := s.(*offscreenSurface); ok {
		destroyTextureHandle(ctx, os.handle)
	}
	return nil
}

// DestroyContext implements GPUObjectsProvider.
func (p *WGPUObjectsProvider) DestroyContext(ctx *GPUContext) error {
	if ctx.fence != nil {
		ctx.Device.DestroyFence(ctx.fence)
		ctx.fence = nil
	}
	if ctx.release != nil {
		// Standalone device: destroy it, then the instance.
		ctx.Device.Destroy()
		ctx.release()
		ctx.release = nil
	}
	ctx.Device = nil
	ctx.Queue = nil
	return nil
}

func (p *WGPUObjectsProvider) newOffscreenSurface(ctx *GPUContext, width, height int) (Surface, error) {
	handle, err := p.CreateTextureBuffers(ctx, width, height)
	if err != nil {
		return nil, err
	}
	return &offscreenSurface{handle: handle}, nil
}

// offscreenSurface renders into a plain texture. Present is a no-op;
// consumers read the backing texture directly.
type offscreenSurface struct {
	handle TextureHandle
}

func (s *offscreenSurface) Size() Size {
	return Size{Width: s.handle.Width, Height: s.handle.Height}
}

func (s *offscreenSurface) AcquireView() (hal.TextureView, error) {
	return s.handle.View, nil
}

func (s *offscreenSurface) Present() error { return nil }
