package testsrc

import (
	"github.com/bluenviron/mediacommon/v2/pkg/bits"
)

// bitWriter writes a RBSP into a zeroed buffer.
type bitWriter struct {
	buf []byte
	pos int
}

func newBitWriter(size int) *bitWriter {
	return &bitWriter{buf: make([]byte, size)}
}

func (w *bitWriter) writeBits(v uint64, n int) {
	bits.WriteBitsUnsafe(w.buf, &w.pos, v, n)
}

func (w *bitWriter) writeFlag(v bool) {
	if v {
		w.writeBits(1, 1)
	} else {
		w.pos++
	}
}

// writeGolombUnsigned writes ue(v).
func (w *bitWriter) writeGolombUnsigned(v uint32) {
	code := uint64(v) + 1
	n := 0
	for tmp := code; tmp != 0; tmp >>= 1 {
		n++
	}
	w.writeBits(code, 2*n-1)
}

// writeGolombSigned writes se(v).
func (w *bitWriter) writeGolombSigned(v int32) {
	if v > 0 {
		w.writeGolombUnsigned(uint32(2*v - 1))
	} else {
		w.writeGolombUnsigned(uint32(-2 * v))
	}
}

func (w *bitWriter) alignZero() {
	w.pos = (w.pos + 7) &^ 7
}

// writeAlignedBytes copies bytes, the writer must be byte-aligned.
func (w *bitWriter) writeAlignedBytes(byts []byte) {
	copy(w.buf[w.pos>>3:], byts)
	w.pos += len(byts) * 8
}

// writeTrailingBits writes rbsp_trailing_bits().
func (w *bitWriter) writeTrailingBits() {
	w.writeBits(1, 1)
	w.alignZero()
}

func (w *bitWriter) bytes() []byte {
	return w.buf[:(w.pos+7)>>3]
}

// emulationPreventionAdd converts a RBSP into a NALU payload.
func emulationPreventionAdd(rbsp []byte) []byte {
	ret := make([]byte, 0, len(rbsp)+len(rbsp)/128+4)
	zeros := 0

	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			ret = append(ret, 3)
			zeros = 0
		}

		ret = append(ret, b)

		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}

	return ret
}
