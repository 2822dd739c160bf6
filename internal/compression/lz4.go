package compression

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"

	"github.com/fxnlabs/ocland/internal/metrics"
	"github.com/pierrec/lz4/v4"
)

const (
	// Magic opens every encoded payload.
	Magic = "LZ4C"
	// HeaderSize is magic(4) + mode(1) + original size(8) + crc32(4).
	HeaderSize = 17
)

// LZ4Codec encodes bulk payloads with an LZ4 block and a small header carrying
// the original size and its checksum.
type LZ4Codec struct {
	// MinSize is the smallest payload worth compressing. Smaller payloads are
	// stored raw.
	MinSize int
	// MaxSize bounds the decoded size. Zero means unbounded.
	MaxSize uint64
}

// NewLZ4Codec creates a codec that decodes payloads up to maxSize bytes.
func NewLZ4Codec(minSize int, maxSize uint64) *LZ4Codec {
	if minSize < 0 {
		minSize = 0
	}
	return &LZ4Codec{MinSize: minSize, MaxSize: maxSize}
}

// Encode compresses data. An empty input is valid and yields a bare header.
func (c *LZ4Codec) Encode(data []byte) ([]byte, error) {
	if c.MaxSize > 0 && uint64(len(data)) > c.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(data), c.MaxSize)
	}

	out := make([]byte, HeaderSize, HeaderSize+lz4.CompressBlockBound(len(data)))
	copy(out, Magic)
	binary.LittleEndian.PutUint64(out[5:13], uint64(len(data)))
	binary.LittleEndian.PutUint32(out[13:17], crc32.ChecksumIEEE(data))

	if len(data) > 0 && len(data) >= c.MinSize {
		body := out[HeaderSize:cap(out)]
		n, err := lz4.CompressBlock(data, body, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCompressFailed, err)
		}
		// n == 0 means the block did not shrink.
		if n > 0 && n < len(data) {
			out[4] = byte(ModeLZ4)
			return observe(data, out[:HeaderSize+n]), nil
		}
	}

	out[4] = byte(ModeRaw)
	return observe(data, append(out[:HeaderSize], data...)), nil
}

func observe(data, encoded []byte) []byte {
	mode, _ := ModeOf(encoded)
	metrics.PayloadRatio.WithLabelValues(mode.String()).Observe(float64(CompressionRatio(data, encoded)))
	return encoded
}

// Decode reverses Encode, verifying the original size and checksum.
func (c *LZ4Codec) Decode(data []byte) ([]byte, error) {
	size, err := OriginalSize(data)
	if err != nil {
		return nil, err
	}
	if c.MaxSize > 0 && size > c.MaxSize {
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, size, c.MaxSize)
	}
	expectedChecksum := binary.LittleEndian.Uint32(data[13:17])
	body := data[HeaderSize:]

	mode, err := ModeOf(data)
	if err != nil {
		return nil, err
	}
	var result []byte
	switch mode {
	case ModeRaw:
		if uint64(len(body)) != size {
			return nil, fmt.Errorf("%w: raw body is %d bytes, header says %d", ErrCorrupt, len(body), size)
		}
		result = make([]byte, size)
		copy(result, body)
	case ModeLZ4:
		result = make([]byte, size)
		n, err := lz4.UncompressBlock(body, result)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrDecompressFailed, err)
		}
		if uint64(n) != size {
			return nil, fmt.Errorf("%w: decoded %d bytes, header says %d", ErrCorrupt, n, size)
		}
	default:
		return nil, fmt.Errorf("%w: unknown mode %d", ErrCorrupt, data[4])
	}

	if crc32.ChecksumIEEE(result) != expectedChecksum {
		return nil, fmt.Errorf("%w: checksum mismatch", ErrCorrupt)
	}
	return result, nil
}

// OriginalSize returns the decoded size recorded in the header.
func OriginalSize(encoded []byte) (uint64, error) {
	if len(encoded) < HeaderSize {
		return 0, ErrInvalidInput
	}
	if string(encoded[:4]) != Magic {
		return 0, fmt.Errorf("%w: invalid magic", ErrCorrupt)
	}
	return binary.LittleEndian.Uint64(encoded[5:13]), nil
}

// ModeOf returns the body encoding recorded in the header.
func ModeOf(encoded []byte) (Mode, error) {
	if len(encoded) < HeaderSize {
		return 0, ErrInvalidInput
	}
	return Mode(encoded[4]), nil
}

// CompressionRatio is the original size over the encoded size, header
// included.
func CompressionRatio(original, encoded []byte) float32 {
	if len(encoded) == 0 {
		return 0
	}
	return float32(len(original)) / float32(len(encoded))
}
