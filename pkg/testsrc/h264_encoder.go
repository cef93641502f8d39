package testsrc

import (
	"fmt"
	"image"

	"github.com/bluenviron/mediacommon/v2/pkg/codecs/h264"
)

const (
	h264ProfileBaseline = 66
	h264Constraints     = 0xC0 // constraint_set0 and constraint_set1
	h264Level           = 40

	mbTypeIPCM   = 25
	sliceTypeAll = 7 // I, all slices of the picture have the same type

	maxFrameSize = 4096
)

// H264Encoder encodes frames into H264 Baseline access units made of
// I_PCM macroblocks. Every access unit is an IDR picture.
type H264Encoder struct {
	Width  int
	Height int

	// frame rate, used for the VUI timing info (optional).
	FPSNum int
	FPSDen int

	mbWidth  int
	mbHeight int
	sps      []byte
	pps      []byte
	idrPicID uint32
}

// Initialize initializes the encoder.
func (e *H264Encoder) Initialize() error {
	if e.Width <= 0 || e.Height <= 0 || e.Width > maxFrameSize || e.Height > maxFrameSize {
		return fmt.Errorf("invalid size %dx%d", e.Width, e.Height)
	}

	if (e.Width%2) != 0 || (e.Height%2) != 0 {
		return fmt.Errorf("width and height must be even")
	}

	if e.FPSNum < 0 || e.FPSDen < 0 {
		return fmt.Errorf("invalid frame rate %d/%d", e.FPSNum, e.FPSDen)
	}

	e.mbWidth = (e.Width + 15) / 16
	e.mbHeight = (e.Height + 15) / 16

	e.sps = e.marshalSPS()
	e.pps = e.marshalPPS()

	return nil
}

// SPS returns the sequence parameter set.
func (e *H264Encoder) SPS() []byte {
	return e.sps
}

// PPS returns the picture parameter set.
func (e *H264Encoder) PPS() []byte {
	return e.pps
}

func (e *H264Encoder) marshalSPS() []byte {
	w := newBitWriter(64)

	w.writeBits(uint64(h264.NALUTypeSPS)|(3<<5), 8)
	w.writeBits(h264ProfileBaseline, 8)
	w.writeBits(h264Constraints, 8)
	w.writeBits(h264Level, 8)

	w.writeGolombUnsigned(0) // seq_parameter_set_id
	w.writeGolombUnsigned(0) // log2_max_frame_num_minus4
	w.writeGolombUnsigned(2) // pic_order_cnt_type
	w.writeGolombUnsigned(1) // max_num_ref_frames
	w.writeFlag(false)       // gaps_in_frame_num_value_allowed_flag
	w.writeGolombUnsigned(uint32(e.mbWidth - 1))
	w.writeGolombUnsigned(uint32(e.mbHeight - 1))
	w.writeFlag(true) // frame_mbs_only_flag
	w.writeFlag(true) // direct_8x8_inference_flag

	cropRight := (e.mbWidth*16 - e.Width) / 2
	cropBottom := (e.mbHeight*16 - e.Height) / 2

	if cropRight != 0 || cropBottom != 0 {
		w.writeFlag(true)
		w.writeGolombUnsigned(0)
		w.writeGolombUnsigned(uint32(cropRight))
		w.writeGolombUnsigned(0)
		w.writeGolombUnsigned(uint32(cropBottom))
	} else {
		w.writeFlag(false)
	}

	if e.FPSNum > 0 && e.FPSDen > 0 {
		w.writeFlag(true)  // vui_parameters_present_flag
		w.writeFlag(false) // aspect_ratio_info_present_flag
		w.writeFlag(false) // overscan_info_present_flag
		w.writeFlag(false) // video_signal_type_present_flag
		w.writeFlag(false) // chroma_loc_info_present_flag
		w.writeFlag(true)  // timing_info_present_flag
		w.writeBits(uint64(e.FPSDen), 32)
		w.writeBits(uint64(e.FPSNum)*2, 32)
		w.writeFlag(true)  // fixed_frame_rate_flag
		w.writeFlag(false) // nal_hrd_parameters_present_flag
		w.writeFlag(false) // vcl_hrd_parameters_present_flag
		w.writeFlag(false) // pic_struct_present_flag
		w.writeFlag(false) // bitstream_restriction_flag
	} else {
		w.writeFlag(false)
	}

	w.writeTrailingBits()

	return emulationPreventionAdd(w.bytes())
}

func (e *H264Encoder) marshalPPS() []byte {
	w := newBitWriter(16)

	w.writeBits(uint64(h264.NALUTypePPS)|(3<<5), 8)

	w.writeGolombUnsigned(0) // pic_parameter_set_id
	w.writeGolombUnsigned(0) // seq_parameter_set_id
	w.writeFlag(false)       // entropy_coding_mode_flag (CAVLC)
	w.writeFlag(false)       // bottom_field_pic_order_in_frame_present_flag
	w.writeGolombUnsigned(0) // num_slice_groups_minus1
	w.writeGolombUnsigned(0) // num_ref_idx_l0_default_active_minus1
	w.writeGolombUnsigned(0) // num_ref_idx_l1_default_active_minus1
	w.writeFlag(false)       // weighted_pred_flag
	w.writeBits(0, 2)        // weighted_bipred_idc
	w.writeGolombSigned(0)   // pic_init_qp_minus26
	w.writeGolombSigned(0)   // pic_init_qs_minus26
	w.writeGolombSigned(0)   // chroma_qp_index_offset
	w.writeFlag(true)        // deblocking_filter_control_present_flag
	w.writeFlag(false)       // constrained_intra_pred_flag
	w.writeFlag(false)       // redundant_pic_cnt_present_flag

	w.writeTrailingBits()

	return emulationPreventionAdd(w.bytes())
}

func clampSample(v uint8) uint8 {
	// zero is not a valid PCM sample in early revisions of the standard
	if v == 0 {
		return 1
	}
	return v
}

func clampInt(v, max int) int {
	if v > max {
		return max
	}
	return v
}

// Encode encodes a frame into an access unit made of a single IDR slice.
// Parameter sets are not included and must be taken from SPS() and PPS().
func (e *H264Encoder) Encode(img *image.YCbCr) ([][]byte, error) {
	if img.SubsampleRatio != image.YCbCrSubsampleRatio420 {
		return nil, fmt.Errorf("unsupported subsample ratio %v", img.SubsampleRatio)
	}

	b := img.Rect
	if b.Dx() != e.Width || b.Dy() != e.Height {
		return nil, fmt.Errorf("frame size %dx%d doesn't match encoder size %dx%d",
			b.Dx(), b.Dy(), e.Width, e.Height)
	}

	mbCount := e.mbWidth * e.mbHeight
	w := newBitWriter(32 + mbCount*(2+384) + 16)

	w.writeBits(uint64(h264.NALUTypeIDR)|(3<<5), 8)

	w.writeGolombUnsigned(0)            // first_mb_in_slice
	w.writeGolombUnsigned(sliceTypeAll) // slice_type
	w.writeGolombUnsigned(0)            // pic_parameter_set_id
	w.writeBits(0, 4)                   // frame_num
	w.writeGolombUnsigned(e.idrPicID)   // idr_pic_id
	w.writeFlag(false)                  // no_output_of_prior_pics_flag
	w.writeFlag(false)                  // long_term_reference_flag
	w.writeGolombSigned(0)              // slice_qp_delta
	w.writeGolombUnsigned(1)            // disable_deblocking_filter_idc

	// consecutive IDR pictures must have different idr_pic_id
	e.idrPicID ^= 1

	var luma [256]byte
	var chroma [128]byte
	maxX, maxY := e.Width-1, e.Height-1
	maxCX, maxCY := (e.Width+1)/2-1, (e.Height+1)/2-1

	for mby := 0; mby < e.mbHeight; mby++ {
		for mbx := 0; mbx < e.mbWidth; mbx++ {
			w.writeGolombUnsigned(mbTypeIPCM)
			w.alignZero()

			// samples outside the picture replicate the edge
			for j := 0; j < 16; j++ {
				y := clampInt(mby*16+j, maxY)
				for i := 0; i < 16; i++ {
					x := clampInt(mbx*16+i, maxX)
					luma[j*16+i] = clampSample(img.Y[img.YOffset(b.Min.X+x, b.Min.Y+y)])
				}
			}
			w.writeAlignedBytes(luma[:])

			for j := 0; j < 8; j++ {
				cy := clampInt(mby*8+j, maxCY)
				for i := 0; i < 8; i++ {
					cx := clampInt(mbx*8+i, maxCX)
					off := img.COffset(b.Min.X+cx*2, b.Min.Y+cy*2)
					chroma[j*8+i] = clampSample(img.Cb[off])
					chroma[64+j*8+i] = clampSample(img.Cr[off])
				}
			}
			w.writeAlignedBytes(chroma[:])
		}
	}

	w.writeTrailingBits()

	return [][]byte{emulationPreventionAdd(w.bytes())}, nil
}
