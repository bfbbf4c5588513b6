package vidfx

import (
	"errors"
	"fmt"
)

// Contract-violation errors. These indicate a programming error in the
// caller and are never retried internally.
var (
	// ErrNoInputCredit is returned when QueueInputFrame is called without a
	// preceding OnReadyToAcceptInputFrame readiness signal.
	ErrNoInputCredit = errors.New("vidfx: input frame queued without readiness credit")

	// ErrPoolExhausted is returned by TexturePool.UseTexture when no free
	// texture slot exists. Callers must gate on FreeTextureCount.
	ErrPoolExhausted = errors.New("vidfx: texture pool exhausted")

	// ErrPoolNotConfigured is returned when a pool is used before
	// EnsureConfigured has allocated its textures.
	ErrPoolNotConfigured = errors.New("vidfx: texture pool not configured")

	// ErrTextureNotInUse is returned when releasing a texture the pool does
	// not track as in-use.
	ErrTextureNotInUse = errors.New("vidfx: texture not in use by pool")

	// ErrUnregisteredInput is returned when switching to or queueing into an
	// input modality that was never registered.
	ErrUnregisteredInput = errors.New("vidfx: input type not registered")

	// ErrUnsupportedInput is returned when a queue operation does not match
	// the active input modality (e.g. queueing a bitmap into a surface input).
	ErrUnsupportedInput = errors.New("vidfx: operation unsupported for this input type")

	// ErrStreamEnded is returned when input is queued after SignalEndOfInput.
	ErrStreamEnded = errors.New("vidfx: input stream already ended")

	// ErrReleased is returned when operating on a released pipeline.
	ErrReleased = errors.New("vidfx: instance has been released")

	// ErrMissingFrameInfo is returned when a frame is registered before
	// the stream's frame descriptor is set.
	ErrMissingFrameInfo = errors.New("vidfx: frame descriptor not set for stream")
)

// Unsupported-configuration errors, validated eagerly before any GPU
// resource is allocated.
var (
	// ErrInvalidColorInfo is returned for color configurations the pipeline
	// cannot represent.
	ErrInvalidColorInfo = errors.New("vidfx: invalid color info")

	// ErrUnsupportedColorCombination is returned for input/output color
	// space combinations with no supported conversion path.
	ErrUnsupportedColorCombination = errors.New("vidfx: unsupported color combination")

	// ErrMixedColorInfo is returned by the compositor when sources supply
	// differing color infos.
	ErrMixedColorInfo = errors.New("vidfx: mixing different color infos is not supported")

	// ErrHDRUnsupported is returned when HDR is requested without the
	// required capability.
	ErrHDRUnsupported = errors.New("vidfx: HDR is not supported in this configuration")
)

// ProcessingError wraps a GPU-operation failure that occurred while
// processing a frame. When the offending frame is known, PresentationTimeUs
// carries its presentation timestamp; otherwise it is TimeUnset.
//
// ProcessingErrors surface asynchronously through the error listener, since
// the failing operation runs on the GPU goroutine, detached from the call
// that triggered it.
type ProcessingError struct {
	// PresentationTimeUs is the timestamp of the frame being processed when
	// the error occurred, or TimeUnset if unknown.
	PresentationTimeUs int64

	// Err is the underlying failure.
	Err error
}

// Error implements the error interface.
func (e *ProcessingError) Error() string {
	if e.PresentationTimeUs == TimeUnset {
		return fmt.Sprintf("vidfx: frame processing failed: %v", e.Err)
	}
	return fmt.Sprintf("vidfx: frame processing failed at %dus: %v", e.PresentationTimeUs, e.Err)
}

// Unwrap returns the underlying error.
func (e *ProcessingError) Unwrap() error { return e.Err }

// newProcessingError wraps err with a presentation timestamp. A nil err
// yields a nil result so call sites can pass through directly.
func newProcessingError(err error, presentationTimeUs int64) error {
	if err == nil {
		return nil
	}
	var pe *ProcessingError
	if errors.As(err, &pe) {
		return err
	}
	return &ProcessingError{PresentationTimeUs: presentationTimeUs, Err: err}
}
