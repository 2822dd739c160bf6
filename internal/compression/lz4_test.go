package compression

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/fxnlabs/ocland/internal/metrics"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLZ4Codec(t *testing.T) {
	codec := NewLZ4Codec(64, 0)

	testCases := []struct {
		name string
		data []byte
		mode Mode
	}{
		{"empty", []byte{}, ModeRaw},
		{"one byte", []byte{0x7f}, ModeRaw},
		{"below min size", bytes.Repeat([]byte{1}, 32), ModeRaw},
		{"zeros 1MB", make([]byte, 1<<20), ModeLZ4},
		{"pattern 64KB", bytes.Repeat([]byte("ocland"), 64*1024/6), ModeLZ4},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := codec.Encode(tc.data)
			require.NoError(t, err)

			mode, err := ModeOf(encoded)
			require.NoError(t, err)
			assert.Equal(t, tc.mode, mode)

			size, err := OriginalSize(encoded)
			require.NoError(t, err)
			assert.Equal(t, uint64(len(tc.data)), size)

			decoded, err := codec.Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, len(tc.data), len(decoded))
			assert.True(t, bytes.Equal(tc.data, decoded))
		})
	}

	t.Run("incompressible stored raw", func(t *testing.T) {
		data := make([]byte, 4096)
		rand.New(rand.NewSource(1)).Read(data)

		encoded, err := codec.Encode(data)
		require.NoError(t, err)
		mode, _ := ModeOf(encoded)
		assert.Equal(t, ModeRaw, mode)
		assert.Len(t, encoded, HeaderSize+len(data))

		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	})
}

func TestLZ4CodecErrors(t *testing.T) {
	codec := NewLZ4Codec(0, 1024)

	t.Run("short input", func(t *testing.T) {
		_, err := codec.Decode([]byte("LZ4"))
		assert.ErrorIs(t, err, ErrInvalidInput)
	})

	t.Run("bad magic", func(t *testing.T) {
		encoded, err := codec.Encode([]byte("hello"))
		require.NoError(t, err)
		encoded[0] = 'X'
		_, err = codec.Decode(encoded)
		assert.ErrorIs(t, err, ErrCorrupt)
	})

	t.Run("checksum mismatch", func(t *testing.T) {
		encoded, err := codec.Encode([]byte("hello world"))
		require.NoError(t, err)
		encoded[len(encoded)-1] ^= 0xff
		_, err = codec.Decode(encoded)
		assert.Error(t, err)
	})

	t.Run("encode over limit", func(t *testing.T) {
		_, err := codec.Encode(make([]byte, 1025))
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("decode over limit", func(t *testing.T) {
		encoded, err := NewLZ4Codec(0, 0).Encode(make([]byte, 2048))
		require.NoError(t, err)
		_, err = codec.Decode(encoded)
		assert.ErrorIs(t, err, ErrTooLarge)
	})

	t.Run("exactly at limit", func(t *testing.T) {
		data := bytes.Repeat([]byte{9}, 1024)
		encoded, err := codec.Encode(data)
		require.NoError(t, err)
		decoded, err := codec.Decode(encoded)
		require.NoError(t, err)
		assert.Equal(t, data, decoded)
	})
}

func TestCompressionRatio(t *testing.T) {
	assert.Equal(t, float32(0), CompressionRatio([]byte("abc"), nil))
	assert.Equal(t, float32(2), CompressionRatio(make([]byte, 10), make([]byte, 5)))

	t.Run("encode records the ratio per mode", func(t *testing.T) {
		codec := NewLZ4Codec(16, 0)
		_, err := codec.Encode(make([]byte, 4096))
		require.NoError(t, err)
		_, err = codec.Encode([]byte{1})
		require.NoError(t, err)
		assert.GreaterOrEqual(t, testutil.CollectAndCount(metrics.PayloadRatio), 2)
	})
}
