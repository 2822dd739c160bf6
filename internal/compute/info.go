package compute

import (
	"encoding/binary"

	"github.com/fxnlabs/ocland/internal/cl"
)

var order = binary.NativeEndian

func BytesInfo(b []byte) Info { return Info{Value: b} }

// StringInfo encodes s with its terminating NUL.
func StringInfo(s string) Info {
	b := make([]byte, len(s)+1)
	copy(b, s)
	return Info{Value: b}
}

func Uint32Info(v uint32) Info {
	b := make([]byte, 4)
	order.PutUint32(b, v)
	return Info{Value: b}
}

func Int32Info(v int32) Info { return Uint32Info(uint32(v)) }

func BoolInfo(v bool) Info {
	if v {
		return Uint32Info(1)
	}
	return Uint32Info(0)
}

// Uint64Info encodes cl_ulong, size_t and bitfield values.
func Uint64Info(v uint64) Info { return Uint64sInfo(v) }

func Uint64sInfo(vs ...uint64) Info {
	b := make([]byte, 8*len(vs))
	for i, v := range vs {
		order.PutUint64(b[8*i:], v)
	}
	return Info{Value: b}
}

func ObjectsInfo(objs ...Object) Info {
	if objs == nil {
		objs = []Object{}
	}
	return Info{Objects: objs}
}

func PropertiesInfo(props []ContextProperty) Info {
	if props == nil {
		props = []ContextProperty{}
	}
	return Info{Properties: props}
}

func BlobsInfo(blobs [][]byte) Info {
	if blobs == nil {
		blobs = [][]byte{}
	}
	return Info{Blobs: blobs}
}

// ImageFormatInfo encodes a format as two cl_uint values.
func ImageFormatInfo(f ImageFormat) Info {
	b := make([]byte, 8)
	order.PutUint32(b, f.ChannelOrder)
	order.PutUint32(b[4:], f.ChannelDataType)
	return Info{Value: b}
}

// ElementSize returns the bytes per pixel of f, or zero for an unknown
// format.
func ElementSize(f ImageFormat) uint64 {
	channels := channelCount(f.ChannelOrder)
	if channels == 0 {
		return 0
	}
	switch f.ChannelDataType {
	case cl.SNormInt8, cl.UNormInt8, cl.SignedInt8, cl.UnsignedInt8:
		return channels
	case cl.SNormInt16, cl.UNormInt16, cl.SignedInt16, cl.UnsignedInt16, cl.HalfFloat:
		return 2 * channels
	case cl.SignedInt32, cl.UnsignedInt32, cl.Float:
		return 4 * channels
	case cl.UNormShort565, cl.UNormShort555:
		if channels == 3 {
			return 2
		}
	case cl.UNormInt101010:
		if channels == 3 {
			return 4
		}
	}
	return 0
}

func channelCount(channelOrder uint32) uint64 {
	switch channelOrder {
	case cl.R, cl.A, cl.Intensity, cl.Luminance:
		return 1
	case cl.RG, cl.RA:
		return 2
	case cl.RGB:
		return 3
	case cl.RGBA, cl.BGRA, cl.ARGB:
		return 4
	}
	return 0
}
