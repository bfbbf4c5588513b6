package vidfx

import "fmt"

// ColorSpace identifies the color primaries of a stream.
type ColorSpace uint8

const (
	// ColorSpaceBT709 is standard-definition/HD SDR video primaries.
	ColorSpaceBT709 ColorSpace = iota + 1

	// ColorSpaceBT2020 is wide-gamut primaries used by HDR video.
	ColorSpaceBT2020
)

// ColorTransfer identifies the opto-electronic transfer function of a
// stream.
type ColorTransfer uint8

const (
	// TransferSDR is the standard SDR video transfer (SMPTE 170M).
	TransferSDR ColorTransfer = iota + 1

	// TransferSRGB is the sRGB transfer used by bitmaps.
	TransferSRGB

	// TransferLinear is linear light. Used only for intermediate working
	// color, never for pipeline input or output.
	TransferLinear

	// TransferGamma22 is the gamma 2.2 transfer used when tone-mapping HDR
	// down to SDR.
	TransferGamma22

	// TransferHLG is the hybrid-log-gamma HDR transfer.
	TransferHLG

	// TransferST2084 is the PQ HDR transfer.
	TransferST2084
)

// ColorInfo describes the color space and transfer of a stream.
type ColorInfo struct {
	Space    ColorSpace
	Transfer ColorTransfer
}

// Common color configurations.
var (
	// ColorInfoSDRVideo is standard SDR video (BT.709, SMPTE 170M).
	ColorInfoSDRVideo = ColorInfo{Space: ColorSpaceBT709, Transfer: TransferSDR}

	// ColorInfoSRGB is the color of decoded bitmaps (BT.709, sRGB).
	ColorInfoSRGB = ColorInfo{Space: ColorSpaceBT709, Transfer: TransferSRGB}

	// ColorInfoHLG is BT.2020 HLG HDR video.
	ColorInfoHLG = ColorInfo{Space: ColorSpaceBT2020, Transfer: TransferHLG}

	// ColorInfoPQ is BT.2020 PQ HDR video.
	ColorInfoPQ = ColorInfo{Space: ColorSpaceBT2020, Transfer: TransferST2084}
)

// IsTransferHDR reports whether the transfer function is an HDR transfer.
func (c ColorInfo) IsTransferHDR() bool {
	return c.Transfer == TransferHLG || c.Transfer == TransferST2084
}

// isValid reports whether both fields are set.
func (c ColorInfo) isValid() bool {
	return c.Space != 0 && c.Transfer != 0
}

// validateColorConfiguration eagerly rejects color combinations the
// pipeline has no conversion path for. Tone mapping is only supported from
// BT.2020 HDR down to SDR gamma 2.2; everything else must keep input and
// output in the same space with matching dynamic range.
func validateColorConfiguration(input, output ColorInfo) error {
	if !input.isValid() || input.Transfer == TransferLinear {
		return fmt.Errorf("%w: input %+v", ErrInvalidColorInfo, input)
	}
	if !output.isValid() || output.Transfer == TransferLinear {
		return fmt.Errorf("%w: output %+v", ErrInvalidColorInfo, output)
	}
	if input.Space == output.Space && input.IsTransferHDR() == output.IsTransferHDR() {
		return nil
	}
	// HDR to SDR tone mapping path.
	if input.Space != ColorSpaceBT2020 || !input.IsTransferHDR() {
		return fmt.Errorf("%w: input %+v output %+v", ErrUnsupportedColorCombination, input, output)
	}
	if output.Space == ColorSpaceBT2020 || output.Transfer != TransferGamma22 {
		return fmt.Errorf("%w: input %+v output %+v", ErrUnsupportedColorCombination, input, output)
	}
	return nil
}
