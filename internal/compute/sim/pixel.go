package sim

import (
	"encoding/binary"
	"math"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
)

var order = binary.NativeEndian

// channels maps a channel order to indices into an RGBA color.
func channels(channelOrder uint32) []int {
	switch channelOrder {
	case cl.R, cl.Intensity, cl.Luminance:
		return []int{0}
	case cl.A:
		return []int{3}
	case cl.RG:
		return []int{0, 1}
	case cl.RA:
		return []int{0, 3}
	case cl.RGB:
		return []int{0, 1, 2}
	case cl.RGBA:
		return []int{0, 1, 2, 3}
	case cl.BGRA:
		return []int{2, 1, 0, 3}
	case cl.ARGB:
		return []int{3, 0, 1, 2}
	}
	return nil
}

// encodePixel converts a fill color into one pixel of format f. The color is
// four floats for normalized and float formats, four signed integers for
// signed formats and four unsigned integers otherwise.
func encodePixel(f compute.ImageFormat, color [16]byte) ([]byte, error) {
	idx := channels(f.ChannelOrder)
	size := compute.ElementSize(f)
	if idx == nil || size == 0 {
		return nil, cl.InvalidImageFormatDescriptor
	}
	word := func(i int) uint32 { return order.Uint32(color[4*i:]) }
	float := func(i int) float64 { return float64(math.Float32frombits(word(i))) }

	out := make([]byte, 0, size)
	for _, c := range idx {
		switch f.ChannelDataType {
		case cl.UNormInt8:
			out = append(out, uint8(math.Round(clamp(float(c), 0, 1)*math.MaxUint8)))
		case cl.SNormInt8:
			out = append(out, uint8(int8(math.Round(clamp(float(c), -1, 1)*math.MaxInt8))))
		case cl.UNormInt16:
			out = order.AppendUint16(out, uint16(math.Round(clamp(float(c), 0, 1)*math.MaxUint16)))
		case cl.SNormInt16:
			out = order.AppendUint16(out, uint16(int16(math.Round(clamp(float(c), -1, 1)*math.MaxInt16))))
		case cl.SignedInt8, cl.UnsignedInt8:
			out = append(out, uint8(word(c)))
		case cl.SignedInt16, cl.UnsignedInt16:
			out = order.AppendUint16(out, uint16(word(c)))
		case cl.SignedInt32, cl.UnsignedInt32, cl.Float:
			out = order.AppendUint32(out, word(c))
		case cl.HalfFloat:
			out = order.AppendUint16(out, halfBits(math.Float32frombits(word(c))))
		default:
			return nil, cl.ImageFormatNotSupported
		}
	}
	return out, nil
}

func clamp(v, lo, hi float64) float64 { return math.Max(lo, math.Min(hi, v)) }

// halfBits converts to IEEE 754 binary16 with round-to-nearest-even.
func halfBits(f float32) uint16 {
	b := math.Float32bits(f)
	sign := uint16(b>>16) & 0x8000
	exp := int32(b>>23&0xff) - 127 + 15
	mant := b & 0x7fffff

	switch {
	case b&0x7fffffff == 0:
		return sign
	case exp >= 0x1f:
		if b>>23&0xff == 0xff && mant != 0 {
			return sign | 0x7e00
		}
		return sign | 0x7c00
	case exp <= 0:
		if exp < -10 {
			return sign
		}
		mant |= 0x800000
		shift := uint32(14 - exp)
		half := mant >> shift
		rem := mant & (1<<shift - 1)
		mid := uint32(1) << (shift - 1)
		if rem > mid || rem == mid && half&1 == 1 {
			half++
		}
		return sign | uint16(half)
	}
	half := uint16(exp)<<10 | uint16(mant>>13)
	rem := mant & 0x1fff
	if rem > 0x1000 || rem == 0x1000 && half&1 == 1 {
		half++
	}
	return sign | half
}
