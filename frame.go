package vidfx

import "github.com/gogpu/wgpu/hal"

// TimeUnset marks an unknown or unset timestamp.
const TimeUnset int64 = -9223372036854775807

// Render-time sentinels accepted by FrameProcessor.RenderOutputFrame.
const (
	// RenderImmediately renders the oldest buffered output frame at the
	// current time.
	RenderImmediately int64 = -1

	// DropFrame discards the oldest buffered output frame without
	// rendering it.
	DropFrame int64 = -2
)

// InputType identifies an input modality of the pipeline.
type InputType uint8

const (
	// InputTypeSurface receives frames through a platform surface fed by an
	// external producer such as a decoder.
	InputTypeSurface InputType = iota + 1

	// InputTypeBitmap expands a static image into multiple timestamped
	// frames.
	InputTypeBitmap

	// InputTypeTextureID receives already-existing GPU textures directly.
	InputTypeTextureID
)

// String returns a human-readable name for the input type.
func (t InputType) String() string {
	switch t {
	case InputTypeSurface:
		return "surface"
	case InputTypeBitmap:
		return "bitmap"
	case InputTypeTextureID:
		return "textureID"
	default:
		return "unknown"
	}
}

// TextureHandle identifies a GPU 2D texture together with its render-target
// view and dimensions. Handles are passed by value between stages but refer
// to a single GPU resource: exactly one consumer owns a handle at any
// instant, and ownership transfers only through an explicit release call.
type TextureHandle struct {
	// Texture is the underlying GPU texture.
	Texture hal.Texture

	// View is the texture's render-attachment/sampling view (the
	// framebuffer binding).
	View hal.TextureView

	// Width and Height are the texture dimensions in pixels.
	Width  int
	Height int

	// id distinguishes pool-managed handles whose hal textures may compare
	// equal on value-like backends. Zero for handles minted outside a pool.
	id uint64
}

// IsZero reports whether the handle refers to no texture.
func (t TextureHandle) IsZero() bool {
	return t.Texture == nil && t.View == nil
}

// FrameDescriptor carries the immutable metadata of an input stream
// registration. It is attached to every frame derived from that
// registration until the next one.
type FrameDescriptor struct {
	// Width and Height are the frame dimensions in pixels.
	Width  int
	Height int

	// PixelWidthHeightRatio is the width:height ratio of individual pixels.
	// 1 means square pixels.
	PixelWidthHeightRatio float64

	// StreamOffsetUs is the timestamp bias of this logical stream, added to
	// frame-relative timestamps to produce global presentation times.
	StreamOffsetUs int64
}

// scaledToSquarePixels expands the frame dimensions so that
// PixelWidthHeightRatio becomes 1, preserving the displayed aspect ratio.
func (f FrameDescriptor) scaledToSquarePixels() FrameDescriptor {
	switch {
	case f.PixelWidthHeightRatio > 1:
		f.Width = int(float64(f.Width) * f.PixelWidthHeightRatio)
	case f.PixelWidthHeightRatio != 0 && f.PixelWidthHeightRatio < 1:
		f.Height = int(float64(f.Height) / f.PixelWidthHeightRatio)
	}
	f.PixelWidthHeightRatio = 1
	return f
}

// Size holds integer pixel dimensions.
type Size struct {
	Width  int
	Height int
}
