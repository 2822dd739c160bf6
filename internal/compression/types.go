package compression

import "errors"

// Errors
var (
	ErrInvalidInput     = errors.New("invalid input data")
	ErrCompressFailed   = errors.New("compression failed")
	ErrDecompressFailed = errors.New("decompression failed")
	ErrCorrupt          = errors.New("corrupt payload")
	ErrTooLarge         = errors.New("payload exceeds size limit")
)

// Mode tells how the body after the header is encoded.
type Mode uint8

const (
	ModeRaw Mode = 0
	ModeLZ4 Mode = 1
)

func (m Mode) String() string {
	switch m {
	case ModeRaw:
		return "raw"
	case ModeLZ4:
		return "lz4"
	}
	return "unknown"
}
